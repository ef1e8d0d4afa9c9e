package main

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/conduit/internal/config"
	"github.com/haasonsaas/conduit/internal/llm"
	"github.com/haasonsaas/conduit/internal/toolhost"
)

// buildLLMRegistry constructs one adapter per configured provider and
// registers it under its provider key, then applies DefaultProvider.
// Providers not present in cfg.Providers are simply not registered; a
// serve attempt against an unconfigured DefaultProvider fails fast here
// rather than surfacing mid-turn.
func buildLLMRegistry(ctx context.Context, cfg config.LLMConfig) (*llm.Registry, error) {
	reg := llm.NewRegistry()

	for name, p := range cfg.Providers {
		adapter, err := newAdapter(ctx, name, p)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		reg.Register(adapter)
	}

	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(cfg.DefaultProvider); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func newAdapter(ctx context.Context, name string, p config.LLMProviderConfig) (llm.Adapter, error) {
	switch name {
	case "anthropic":
		return llm.NewAnthropicAdapter(llm.AnthropicConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "openai":
		return llm.NewOpenAIAdapter(llm.OpenAIConfig{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			DefaultModel: p.DefaultModel,
		})
	case "gemini":
		return llm.NewGeminiAdapter(ctx, llm.GeminiConfig{
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
		})
	case "bedrock":
		return llm.NewBedrockAdapter(ctx, llm.BedrockConfig{
			Region:       p.Region,
			DefaultModel: p.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (expected anthropic, openai, gemini, or bedrock)", name)
	}
}

// loadToolFileConfig reads and parses the Tool Coordinator's configuration
// file from disk.
func loadToolFileConfig(path string) (*toolhost.FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return toolhost.LoadFileConfig(data)
}
