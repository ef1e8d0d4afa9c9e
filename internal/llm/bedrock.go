package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// BedrockAdapter streams plain text completions through Bedrock's Converse
// API, which gives a model-agnostic streaming surface over every model
// family Bedrock hosts (Claude, Titan, Llama, Mistral, ...).
type BedrockAdapter struct {
	client       *bedrockruntime.Client
	defaultModel string
	retry        retrier
}

// NewBedrockAdapter builds the adapter using either explicit static
// credentials or the default AWS credential chain.
func NewBedrockAdapter(ctx context.Context, cfg BedrockConfig) (*BedrockAdapter, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (a *BedrockAdapter) Name() string { return "bedrock" }

func (a *BedrockAdapter) StreamGenerate(ctx context.Context, bundle PromptBundle, cfg GenerateConfig) (<-chan Fragment, error) {
	out := make(chan Fragment)

	model := cfg.ModelName
	if model == "" {
		model = a.defaultModel
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: toBedrockMessages(mapHistory(bundle.History)),
	}
	if bundle.System != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: bundle.System}}
	}
	if cfg.MaxOutputTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(cfg.MaxOutputTokens))}
	}

	go func() {
		defer close(out)

		var stream *bedrockruntime.ConverseStreamOutput
		err := a.retry.Do(ctx, isRetryableBedrockError, func() error {
			s, err := a.client.ConverseStream(ctx, req)
			if err != nil {
				return err
			}
			stream = s
			return nil
		})
		if err != nil {
			out <- Fragment{Err: fmt.Errorf("bedrock: %w", err), Done: true}
			return
		}

		eventStream := stream.GetStream()
		defer eventStream.Close()

		for {
			select {
			case <-ctx.Done():
				out <- Fragment{Err: ctx.Err(), Done: true}
				return
			case event, ok := <-eventStream.Events():
				if !ok {
					if err := eventStream.Err(); err != nil {
						out <- Fragment{Err: fmt.Errorf("bedrock: stream error: %w", err), Done: true}
					} else {
						out <- Fragment{Done: true}
					}
					return
				}
				switch ev := event.(type) {
				case *types.ConverseStreamOutputMemberContentBlockDelta:
					if textDelta, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
						out <- Fragment{Text: textDelta.Value}
					}
				case *types.ConverseStreamOutputMemberMessageStop:
					out <- Fragment{Done: true}
					return
				}
			}
		}
	}()

	return out, nil
}

func toBedrockMessages(mapped []mappedMessage) []types.Message {
	out := make([]types.Message, 0, len(mapped))
	for _, m := range mapped {
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}},
		})
	}
	return out
}

func isRetryableBedrockError(err error) bool {
	var throttled *types.ThrottlingException
	var serverErr *types.InternalServerException
	return errors.As(err, &throttled) || errors.As(err, &serverErr)
}
