package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Search    SearchConfig
	Reader    ReaderConfig
	Cache     CacheConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Chat      ChatConfig
	Validator ValidatorConfig
	API       APIConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
	// DatabaseURL selects the Postgres record sink when set.
	DatabaseURL string
}

type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExtractModel string
}

type SearchConfig struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	TTL        time.Duration
	Timeout    time.Duration
}

type ReaderConfig struct {
	Provider string // "jina" or "direct"
	BaseURL  string
	APIKey   string
	TTL      time.Duration
	Timeout  time.Duration
	MaxChars int
}

type CacheConfig struct {
	MaxEntries int
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type ChatConfig struct {
	KeepFirst   int
	KeepRecent  int
	MaxSteps    int
	TurnTimeout time.Duration
	LeadFlow    bool
}

type ValidatorConfig struct {
	RulesFile string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-4o-mini",
			ExtractModel: "gpt-4o-mini",
		},
		Search: SearchConfig{
			BaseURL:    "https://api.tavily.com",
			MaxResults: 5,
			TTL:        time.Hour,
			Timeout:    10 * time.Second,
		},
		Reader: ReaderConfig{
			Provider: "jina",
			BaseURL:  "https://r.jina.ai",
			TTL:      24 * time.Hour,
			Timeout:  10 * time.Second,
			MaxChars: 12000,
		},
		Cache: CacheConfig{
			MaxEntries: 500,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		RateLimit: RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		},
		Chat: ChatConfig{
			KeepFirst:   3,
			KeepRecent:  12,
			MaxSteps:    5,
			TurnTimeout: 90 * time.Second,
		},
	}
}

// Load reads configuration from the JSON config file, a .env file in the
// working directory and the process environment, in increasing precedence.
//
// The config file lives at $XDG_CONFIG_HOME/chatcommerce/config.json.
// Secrets (API keys, database URL, API token) are only read from the
// environment. Missing secrets are not an error: the components that need
// them run in a degraded mode.
func Load() (Config, error) {
	loadDotEnv(".env")
	return loadWith(newFileBackend(configFilePath()))
}

// loadDotEnv populates the environment from path without overriding
// variables that are already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		warnf("could not load env file %s: %v", path, err)
	}
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return cfg, nil
}

// normalize replaces out-of-range values with defaults.
func normalize(cfg *Config) {
	d := defaults()
	if cfg.Retry.MaxAttempts < 1 {
		warnf("retry.max_attempts must be >= 1, using %d", d.Retry.MaxAttempts)
		cfg.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if cfg.RateLimit.Limit < 1 {
		warnf("ratelimit.limit must be >= 1, using %d", d.RateLimit.Limit)
		cfg.RateLimit.Limit = d.RateLimit.Limit
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = d.RateLimit.Window
	}
	if cfg.Chat.MaxSteps < 1 {
		cfg.Chat.MaxSteps = d.Chat.MaxSteps
	}
	if cfg.Cache.MaxEntries < 1 {
		cfg.Cache.MaxEntries = d.Cache.MaxEntries
	}
	if cfg.Reader.Provider != "jina" && cfg.Reader.Provider != "direct" {
		warnf("unknown reader.provider %q, using %q", cfg.Reader.Provider, d.Reader.Provider)
		cfg.Reader.Provider = d.Reader.Provider
	}
}
