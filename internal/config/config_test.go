package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("Search.MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
	if cfg.Search.TTL != time.Hour {
		t.Errorf("Search.TTL = %v, want 1h", cfg.Search.TTL)
	}
	if cfg.Reader.TTL != 24*time.Hour {
		t.Errorf("Reader.TTL = %v, want 24h", cfg.Reader.TTL)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Retry = %+v, want 3 attempts / 1s", cfg.Retry)
	}
	if cfg.RateLimit.Limit != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %+v, want 10 / 1m", cfg.RateLimit)
	}
	if cfg.Chat.KeepFirst != 3 || cfg.Chat.KeepRecent != 12 || cfg.Chat.MaxSteps != 5 {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Chat.LeadFlow {
		t.Error("Chat.LeadFlow should default to false")
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}

func TestMissingSecretsDoNotFail(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err != nil {
		t.Fatalf("Load with no secrets should succeed, got %v", err)
	}
	if cfg.Search.APIKey != "" || cfg.LLM.APIKey != "" || cfg.Storage.DatabaseURL != "" {
		t.Errorf("expected empty secrets, got %+v", cfg)
	}
}

func TestFileValues(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.port": 5000,
  "search.ttl": "30m",
  "chat.lead_flow": "true",
  "reader.provider": "direct",
  "llm.model": "gpt-4.1-mini"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Search.TTL != 30*time.Minute {
		t.Errorf("Search.TTL = %v, want 30m", cfg.Search.TTL)
	}
	if !cfg.Chat.LeadFlow {
		t.Error("Chat.LeadFlow = false, want true")
	}
	if cfg.Reader.Provider != "direct" {
		t.Errorf("Reader.Provider = %q", cfg.Reader.Provider)
	}
	if cfg.LLM.Model != "gpt-4.1-mini" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}

func TestFileIgnoresSecrets(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"search.api_key": "from-file"}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Search.APIKey != "" {
		t.Errorf("secret read from file: %q", cfg.Search.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 5000}`)

	t.Setenv("CHATCOMMERCE_SERVER_PORT", "6000")
	t.Setenv("TAVILY_API_KEY", "tvly-test")
	t.Setenv("CHATCOMMERCE_RATELIMIT_WINDOW", "2m")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Search.APIKey != "tvly-test" {
		t.Errorf("Search.APIKey = %q", cfg.Search.APIKey)
	}
	if cfg.RateLimit.Window != 2*time.Minute {
		t.Errorf("RateLimit.Window = %v", cfg.RateLimit.Window)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATCOMMERCE_RETRY_MAX_ATTEMPTS", "many")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want default 3", cfg.Retry.MaxAttempts)
	}
}

func TestNormalizeOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATCOMMERCE_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("CHATCOMMERCE_READER_PROVIDER", "carrier-pigeon")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Reader.Provider != "jina" {
		t.Errorf("Reader.Provider = %q, want jina", cfg.Reader.Provider)
	}
}

func TestDotEnvDoesNotOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TAVILY_API_KEY=from-dotenv\nJINA_API_KEY=jina-from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TAVILY_API_KEY", "from-process")
	os.Unsetenv("JINA_API_KEY")
	t.Cleanup(func() { os.Unsetenv("JINA_API_KEY") })

	loadDotEnv(path)

	if got := os.Getenv("TAVILY_API_KEY"); got != "from-process" {
		t.Errorf("TAVILY_API_KEY = %q, want process value", got)
	}
	if got := os.Getenv("JINA_API_KEY"); got != "jina-from-dotenv" {
		t.Errorf("JINA_API_KEY = %q, want dotenv value", got)
	}
}

func TestSetKey(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	if err := setKeyIn(b, "search.max_results", "3"); err != nil {
		t.Fatalf("setKeyIn int: %v", err)
	}
	if err := setKeyIn(b, "ratelimit.window", "90s"); err != nil {
		t.Fatalf("setKeyIn duration: %v", err)
	}
	if err := setKeyIn(b, "ratelimit.window", "soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKeyIn(b, "search.api_key", "x"); err == nil || !strings.Contains(err.Error(), "TAVILY_API_KEY") {
		t.Errorf("expected secret rejection naming env var, got %v", err)
	}
	if err := setKeyIn(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(b.path))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Search.MaxResults != 3 {
		t.Errorf("Search.MaxResults = %d, want 3", cfg.Search.MaxResults)
	}
	if cfg.RateLimit.Window != 90*time.Second {
		t.Errorf("RateLimit.Window = %v, want 90s", cfg.RateLimit.Window)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-secret"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-secret") {
			t.Fatalf("secret leaked in %s", k.Key)
		}
		if k.Key == "llm.api_key" && k.Value != "(set)" {
			t.Errorf("llm.api_key = %q, want (set)", k.Value)
		}
	}
}
