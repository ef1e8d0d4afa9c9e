package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeminiAdapter streams plain text completions from a Gemini model.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	retry        retrier
}

// NewGeminiAdapter builds the adapter. APIKey is required.
func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiAdapter{
		client:       client,
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) StreamGenerate(ctx context.Context, bundle PromptBundle, cfg GenerateConfig) (<-chan Fragment, error) {
	out := make(chan Fragment)

	model := cfg.ModelName
	if model == "" {
		model = a.defaultModel
	}

	contents := toGeminiContents(mapHistory(bundle.History))
	genConfig := &genai.GenerateContentConfig{}
	if bundle.System != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: bundle.System}},
		}
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		genConfig.Temperature = &t
	}
	if cfg.MaxOutputTokens > 0 {
		genConfig.MaxOutputTokens = int32(cfg.MaxOutputTokens)
	}

	go func() {
		defer close(out)

		err := a.retry.Do(ctx, isRetryableGeminiError, func() error {
			for resp, err := range a.client.Models.GenerateContentStream(ctx, model, contents, genConfig) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err != nil {
					return err
				}
				if resp == nil {
					continue
				}
				for _, candidate := range resp.Candidates {
					if candidate == nil || candidate.Content == nil {
						continue
					}
					for _, part := range candidate.Content.Parts {
						if part == nil || part.Text == "" {
							continue
						}
						select {
						case out <- Fragment{Text: part.Text}:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			}
			return nil
		})
		if err != nil {
			out <- Fragment{Err: fmt.Errorf("gemini: %w", err), Done: true}
			return
		}
		out <- Fragment{Done: true}
	}()

	return out, nil
}

func toGeminiContents(mapped []mappedMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(mapped))
	for _, m := range mapped {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Text}},
		})
	}
	return out
}

func isRetryableGeminiError(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}
