package config

import (
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Storage    StorageConfig
	Providers  ProvidersConfig
	Gemini     GeminiConfig
	OpenAI     OpenAIConfig
	OpenRouter OpenRouterConfig
	Ollama     OllamaConfig
	RateLimit  RateLimitConfig
	Chunking   ChunkingConfig
	Ingest     IngestConfig
	Retrieval  RetrievalConfig
	Composer   ComposerConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
	APIToken   string
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

// ProvidersConfig holds the settings shared by every upstream AI provider.
// An empty API key disables the corresponding provider.
type ProvidersConfig struct {
	Preferred         string
	GeminiAPIKey      string
	OpenAIAPIKey      string
	OpenRouterAPIKey  string
	RequestTimeout    time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RequestsPerSecond float64
}

type GeminiConfig struct {
	ChatModel  string
	EmbedModel string
}

type OpenAIConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type OpenRouterConfig struct {
	BaseURL string
	Model   string
}

// OllamaConfig configures a local Ollama backend. It is disabled while
// BaseURL is empty.
type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

type ChunkingConfig struct {
	Size      int
	Overlap   int
	MaxChunks int
	MaxChars  int
}

type IngestConfig struct {
	Workers    int
	BatchSize  int
	BatchPause time.Duration
}

type RetrievalConfig struct {
	TopK         int
	PreviewChars int
}

type ComposerConfig struct {
	MaxContextTokens int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Providers: ProvidersConfig{
			RequestTimeout:    30 * time.Second,
			MaxRetries:        2,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			BackoffMultiplier: 2,
			RequestsPerSecond: 4,
		},
		Gemini: GeminiConfig{
			ChatModel:  "gemini-2.5-flash",
			EmbedModel: "text-embedding-004",
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			ChatModel:  "llama3.2",
			EmbedModel: "nomic-embed-text",
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 10,
			Window:      60 * time.Second,
		},
		Chunking: ChunkingConfig{
			Size:      1000,
			Overlap:   200,
			MaxChunks: 100,
			MaxChars:  100000,
		},
		Ingest: IngestConfig{
			Workers:    2,
			BatchSize:  10,
			BatchPause: 100 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			PreviewChars: 200,
		},
		Composer: ComposerConfig{
			MaxContextTokens: 4000,
		},
	}
}

// Load reads configuration from the TOML config file, environment
// variables, and the local secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/lectern/config.toml. Secrets that
// are still empty after the file and the environment are read from
// $XDG_DATA_HOME/lectern/secrets.json.
//
// Environment variables (LECTERN_*) override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{})
}

// loadFromPath is Load with an explicit config file path.
func loadFromPath(path string, ss secretStore) (Config, error) {
	return loadWith(newFileBackend(path), ss)
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := ss.Get(secretService, s.key); err == nil && v != "" {
			s.apply(&cfg, strings.TrimSpace(v))
		}
	}

	return cfg, nil
}
