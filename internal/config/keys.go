package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "LECTERN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "LECTERN_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "server.api_token", typ: kString, env: "LECTERN_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "LECTERN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "LECTERN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "providers.preferred", typ: kString, env: "LECTERN_PROVIDERS_PREFERRED",
		apply:   func(cfg *Config, v any) { cfg.Providers.Preferred = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Preferred },
	},
	{
		key: "providers.gemini_api_key", typ: kString, env: "LECTERN_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiAPIKey },
	},
	{
		key: "providers.openai_api_key", typ: kString, env: "LECTERN_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenAIAPIKey },
	},
	{
		key: "providers.openrouter_api_key", typ: kString, env: "LECTERN_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OpenRouterAPIKey },
	},
	{
		key: "providers.request_timeout", typ: kDuration, env: "LECTERN_PROVIDERS_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Providers.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Providers.RequestTimeout },
	},
	{
		key: "providers.max_retries", typ: kInt, env: "LECTERN_PROVIDERS_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Providers.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Providers.MaxRetries },
	},
	{
		key: "providers.base_delay", typ: kDuration, env: "LECTERN_PROVIDERS_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Providers.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Providers.BaseDelay },
	},
	{
		key: "providers.max_delay", typ: kDuration, env: "LECTERN_PROVIDERS_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Providers.MaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Providers.MaxDelay },
	},
	{
		key: "providers.backoff_multiplier", typ: kFloat, env: "LECTERN_PROVIDERS_BACKOFF_MULTIPLIER",
		apply:   func(cfg *Config, v any) { cfg.Providers.BackoffMultiplier = v.(float64) },
		extract: func(cfg Config) any { return cfg.Providers.BackoffMultiplier },
	},
	{
		key: "providers.requests_per_second", typ: kFloat, env: "LECTERN_PROVIDERS_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Providers.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Providers.RequestsPerSecond },
	},
	{
		key: "gemini.chat_model", typ: kString, env: "LECTERN_GEMINI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.ChatModel },
	},
	{
		key: "gemini.embed_model", typ: kString, env: "LECTERN_GEMINI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedModel },
	},
	{
		key: "openai.base_url", typ: kString, env: "LECTERN_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "LECTERN_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.embed_model", typ: kString, env: "LECTERN_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "LECTERN_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.model", typ: kString, env: "LECTERN_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "LECTERN_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "LECTERN_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "LECTERN_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ratelimit.max_requests", typ: kInt, env: "LECTERN_RATELIMIT_MAX_REQUESTS",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.MaxRequests = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.MaxRequests },
	},
	{
		key: "ratelimit.window", typ: kDuration, env: "LECTERN_RATELIMIT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RateLimit.Window },
	},
	{
		key: "chunking.size", typ: kInt, env: "LECTERN_CHUNKING_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Size },
	},
	{
		key: "chunking.overlap", typ: kInt, env: "LECTERN_CHUNKING_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunking.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.Overlap },
	},
	{
		key: "chunking.max_chunks", typ: kInt, env: "LECTERN_CHUNKING_MAX_CHUNKS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MaxChunks = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MaxChunks },
	},
	{
		key: "chunking.max_chars", typ: kInt, env: "LECTERN_CHUNKING_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MaxChars },
	},
	{
		key: "ingest.workers", typ: kInt, env: "LECTERN_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "LECTERN_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "ingest.batch_pause", typ: kDuration, env: "LECTERN_INGEST_BATCH_PAUSE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchPause = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchPause },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "LECTERN_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.preview_chars", typ: kInt, env: "LECTERN_RETRIEVAL_PREVIEW_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.PreviewChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.PreviewChars },
	},
	{
		key: "composer.max_context_tokens", typ: kInt, env: "LECTERN_COMPOSER_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Composer.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Composer.MaxContextTokens },
	},
}

// parseValue converts a raw string into the Go type expected by typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
