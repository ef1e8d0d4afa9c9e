package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicAdapter streams plain text completions from Claude. It never
// uses Anthropic's native tool-calling: the model is instructed, via the
// compiled system prompt, to emit ```tool blocks in its text instead, so
// this adapter's only job is turning history into Anthropic messages and
// forwarding text deltas.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
	retry        retrier
}

// NewAnthropicAdapter builds the adapter. APIKey is required.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) StreamGenerate(ctx context.Context, bundle PromptBundle, cfg GenerateConfig) (<-chan Fragment, error) {
	out := make(chan Fragment)

	model := cfg.ModelName
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := int64(cfg.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := toAnthropicMessages(mapHistory(bundle.History))
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if bundle.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: bundle.System}}
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}

	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := a.retry.Do(ctx, isRetryableHTTPError, func() error {
			stream = a.client.Messages.NewStreaming(ctx, params)
			return nil
		})
		if err != nil {
			out <- Fragment{Err: fmt.Errorf("anthropic: %w", err), Done: true}
			return
		}

		for stream.Next() {
			event := stream.Current()
			if event.Type == "content_block_delta" {
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					select {
					case out <- Fragment{Text: delta.Text}:
					case <-ctx.Done():
						out <- Fragment{Err: ctx.Err(), Done: true}
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Fragment{Err: fmt.Errorf("anthropic: stream error: %w", err), Done: true}
			return
		}
		out <- Fragment{Done: true}
	}()

	return out, nil
}

func toAnthropicMessages(mapped []mappedMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(mapped))
	for _, m := range mapped {
		block := anthropic.NewTextBlock(m.Text)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func isRetryableHTTPError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr interface{ StatusCode() int }
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}
