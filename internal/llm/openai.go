package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// OpenAIAdapter streams plain text completions from an OpenAI chat model.
type OpenAIAdapter struct {
	client       *openai.Client
	defaultModel string
	retry        retrier
}

// NewOpenAIAdapter builds the adapter. APIKey is required.
func NewOpenAIAdapter(cfg OpenAIConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *OpenAIAdapter) Name() string { return "openai" }

func (a *OpenAIAdapter) StreamGenerate(ctx context.Context, bundle PromptBundle, cfg GenerateConfig) (<-chan Fragment, error) {
	out := make(chan Fragment)

	model := cfg.ModelName
	if model == "" {
		model = a.defaultModel
	}

	messages := toOpenAIMessages(bundle.System, mapHistory(bundle.History))
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if cfg.MaxOutputTokens > 0 {
		req.MaxTokens = cfg.MaxOutputTokens
	}
	if cfg.Temperature != nil {
		req.Temperature = float32(*cfg.Temperature)
	}

	go func() {
		defer close(out)

		var stream *openai.ChatCompletionStream
		err := a.retry.Do(ctx, isRetryableOpenAIError, func() error {
			s, err := a.client.CreateChatCompletionStream(ctx, req)
			if err != nil {
				return err
			}
			stream = s
			return nil
		})
		if err != nil {
			out <- Fragment{Err: fmt.Errorf("openai: %w", err), Done: true}
			return
		}
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				out <- Fragment{Err: ctx.Err(), Done: true}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- Fragment{Done: true}
					return
				}
				out <- Fragment{Err: fmt.Errorf("openai: stream error: %w", err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				out <- Fragment{Text: text}
			}
		}
	}()

	return out, nil
}

func toOpenAIMessages(system string, mapped []mappedMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(mapped)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range mapped {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
