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
	kDuration
)

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
		key: "server.host", typ: kString, env: "CHATCOMMERCE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CHATCOMMERCE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "CHATCOMMERCE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CHATCOMMERCE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.database_url", typ: kString, env: "DATABASE_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DatabaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DatabaseURL },
	},
	{
		key: "llm.base_url", typ: kString, env: "OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.model", typ: kString, env: "CHATCOMMERCE_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.extract_model", typ: kString, env: "CHATCOMMERCE_LLM_EXTRACT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ExtractModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ExtractModel },
	},
	{
		key: "search.base_url", typ: kString, env: "CHATCOMMERCE_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "search.api_key", typ: kString, env: "TAVILY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.APIKey },
	},
	{
		key: "search.max_results", typ: kInt, env: "CHATCOMMERCE_SEARCH_MAX_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.MaxResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.MaxResults },
	},
	{
		key: "search.ttl", typ: kDuration, env: "CHATCOMMERCE_SEARCH_TTL",
		apply:   func(cfg *Config, v any) { cfg.Search.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.TTL },
	},
	{
		key: "search.timeout", typ: kDuration, env: "CHATCOMMERCE_SEARCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Search.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Search.Timeout },
	},
	{
		key: "reader.provider", typ: kString, env: "CHATCOMMERCE_READER_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Reader.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Reader.Provider },
	},
	{
		key: "reader.base_url", typ: kString, env: "CHATCOMMERCE_READER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Reader.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reader.BaseURL },
	},
	{
		key: "reader.api_key", typ: kString, env: "JINA_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Reader.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Reader.APIKey },
	},
	{
		key: "reader.ttl", typ: kDuration, env: "CHATCOMMERCE_READER_TTL",
		apply:   func(cfg *Config, v any) { cfg.Reader.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reader.TTL },
	},
	{
		key: "reader.timeout", typ: kDuration, env: "CHATCOMMERCE_READER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reader.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Reader.Timeout },
	},
	{
		key: "reader.max_chars", typ: kInt, env: "CHATCOMMERCE_READER_MAX_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Reader.MaxChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Reader.MaxChars },
	},
	{
		key: "cache.max_entries", typ: kInt, env: "CHATCOMMERCE_CACHE_MAX_ENTRIES",
		apply:   func(cfg *Config, v any) { cfg.Cache.MaxEntries = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.MaxEntries },
	},
	{
		key: "retry.max_attempts", typ: kInt, env: "CHATCOMMERCE_RETRY_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.MaxAttempts },
	},
	{
		key: "retry.base_delay", typ: kDuration, env: "CHATCOMMERCE_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Retry.BaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.BaseDelay },
	},
	{
		key: "ratelimit.limit", typ: kInt, env: "CHATCOMMERCE_RATELIMIT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.Limit },
	},
	{
		key: "ratelimit.window", typ: kDuration, env: "CHATCOMMERCE_RATELIMIT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.RateLimit.Window },
	},
	{
		key: "chat.keep_first", typ: kInt, env: "CHATCOMMERCE_CHAT_KEEP_FIRST",
		apply:   func(cfg *Config, v any) { cfg.Chat.KeepFirst = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.KeepFirst },
	},
	{
		key: "chat.keep_recent", typ: kInt, env: "CHATCOMMERCE_CHAT_KEEP_RECENT",
		apply:   func(cfg *Config, v any) { cfg.Chat.KeepRecent = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.KeepRecent },
	},
	{
		key: "chat.max_steps", typ: kInt, env: "CHATCOMMERCE_CHAT_MAX_STEPS",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxSteps = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxSteps },
	},
	{
		key: "chat.turn_timeout", typ: kDuration, env: "CHATCOMMERCE_CHAT_TURN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Chat.TurnTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.TurnTimeout },
	},
	{
		key: "chat.lead_flow", typ: kBool, env: "CHATCOMMERCE_CHAT_LEAD_FLOW",
		apply:   func(cfg *Config, v any) { cfg.Chat.LeadFlow = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chat.LeadFlow },
	},
	{
		key: "validator.rules_file", typ: kString, env: "CHATCOMMERCE_VALIDATOR_RULES_FILE",
		apply:   func(cfg *Config, v any) { cfg.Validator.RulesFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Validator.RulesFile },
	},
	{
		key: "api.token", typ: kString, env: "CHATCOMMERCE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					warnf("could not parse bool from config key %s=%q: %v. Using default value.", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					warnf("could not parse duration from config key %s=%q: %v. Using default value.", s.key, v, err)
				}
			}
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
		if v, err := parseValue(s.typ, raw); err == nil {
			s.apply(cfg, v)
		} else {
			warnf("could not parse env var %s=%q: %v. Using default value.", s.env, raw, err)
		}
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
