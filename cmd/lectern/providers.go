package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/lectern/internal/config"
	"github.com/kalambet/lectern/internal/provider"
	"github.com/kalambet/lectern/internal/provider/gemini"
	"github.com/kalambet/lectern/internal/provider/ollama"
	"github.com/kalambet/lectern/internal/provider/openai"
	"github.com/kalambet/lectern/internal/provider/openrouter"
)

// providerState reports whether a built-in provider is configured.
type providerState struct {
	Name         string
	Capabilities provider.Capability
	Enabled      bool
}

func providerStates(cfg config.Config) []providerState {
	return []providerState{
		{"gemini", provider.CapChat | provider.CapEmbedding, cfg.Providers.GeminiAPIKey != ""},
		{"openai", provider.CapChat | provider.CapEmbedding, cfg.Providers.OpenAIAPIKey != ""},
		{"openrouter", provider.CapChat, cfg.Providers.OpenRouterAPIKey != ""},
		{"ollama", provider.CapChat | provider.CapEmbedding, cfg.Ollama.BaseURL != ""},
	}
}

// buildOrchestrator registers every built-in provider, enabled or not, and
// returns the orchestrator with a cleanup func for clients holding
// connections. Ollama models are pulled on startup with progress written
// to w.
func buildOrchestrator(ctx context.Context, cfg config.Config, w io.Writer) (*provider.Orchestrator, func(), error) {
	lim := provider.NewLimiter(cfg.Providers.RequestsPerSecond)
	cleanup := func() {}

	regs := []provider.Registration{
		{Name: "gemini", Priority: provider.PriorityGemini, Capabilities: provider.CapChat | provider.CapEmbedding},
		{Name: "openai", Priority: provider.PriorityOpenAI, Capabilities: provider.CapChat | provider.CapEmbedding},
		{Name: "openrouter", Priority: provider.PriorityOpenRouter, Capabilities: provider.CapChat},
		{Name: "ollama", Priority: provider.PriorityOllama, Capabilities: provider.CapChat | provider.CapEmbedding},
	}

	if key := cfg.Providers.GeminiAPIKey; key != "" {
		g, err := gemini.New(ctx, key, cfg.Gemini.ChatModel, cfg.Gemini.EmbedModel)
		if err != nil {
			return nil, cleanup, fmt.Errorf("creating gemini client: %w", err)
		}
		cleanup = func() {
			if err := g.Close(); err != nil {
				slog.Warn("closing gemini client", "error", err)
			}
		}
		regs[0].Provider = provider.Paced(g, lim)
	}

	if key := cfg.Providers.OpenAIAPIKey; key != "" {
		regs[1].Provider = provider.Paced(openai.New(key, openai.Options{
			BaseURL:    cfg.OpenAI.BaseURL,
			ChatModel:  cfg.OpenAI.ChatModel,
			EmbedModel: cfg.OpenAI.EmbedModel,
			Timeout:    cfg.Providers.RequestTimeout,
		}), lim)
	}

	if key := cfg.Providers.OpenRouterAPIKey; key != "" {
		regs[2].Provider = provider.Paced(openrouter.NewClientWithBaseURL(key, cfg.OpenRouter.Model, cfg.OpenRouter.BaseURL), lim)
	}

	if cfg.Ollama.BaseURL != "" {
		o := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel)
		if err := ollama.EnsureReady(ctx, o, w); err != nil {
			slog.Warn("ollama not ready, leaving it out of the chain", "error", err)
		} else {
			regs[3].Provider = o
		}
	}

	orch := provider.NewOrchestrator(provider.NewChain(regs...), retryPolicy(cfg))
	orch.Preferred = cfg.Providers.Preferred

	for _, d := range orch.Chain().Descriptors() {
		slog.Info("provider registered", "name", d.Name, "enabled", d.Enabled, "capabilities", d.Capabilities.String())
	}
	return orch, cleanup, nil
}

// retryPolicy overlays the configured backoff settings on the default
// policy. Zero values keep the defaults.
func retryPolicy(cfg config.Config) provider.RetryPolicy {
	retry := provider.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Providers.MaxRetries
	if cfg.Providers.BaseDelay > 0 {
		retry.BaseDelay = cfg.Providers.BaseDelay
	}
	if cfg.Providers.MaxDelay > 0 {
		retry.MaxDelay = cfg.Providers.MaxDelay
	}
	if cfg.Providers.BackoffMultiplier >= 1 {
		retry.Multiplier = cfg.Providers.BackoffMultiplier
	}
	if cfg.Providers.RequestTimeout > 0 {
		retry.AttemptTimeout = cfg.Providers.RequestTimeout
	}
	return retry
}
