package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LLM.Provider != ProviderGemini {
		t.Errorf("expected default provider %q, got %q", ProviderGemini, cfg.LLM.Provider)
	}
	if cfg.Platform.Mode != ModeDemo {
		t.Errorf("expected demo mode, got %q", cfg.Platform.Mode)
	}
	if cfg.Session.HistoryLimit != 20 {
		t.Errorf("expected history limit 20, got %d", cfg.Session.HistoryLimit)
	}
	if cfg.SessionTimeout().Seconds() != 3600 {
		t.Errorf("expected session timeout 3600s, got %v", cfg.SessionTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	original := DefaultConfig()
	original.LLM.Provider = ProviderOpenAI
	original.LLM.Model = "gpt-4o"
	original.Platform.Mode = ModeLive
	original.Platform.BaseURL = "https://bms.example.com/api"
	original.Session.HistoryLimit = 50
	original.Server.AllowedOrigins = []string{"https://ops.example.com"}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != ProviderOpenAI || loaded.LLM.Model != "gpt-4o" {
		t.Errorf("llm: got %+v", loaded.LLM)
	}
	if loaded.Platform.BaseURL != original.Platform.BaseURL {
		t.Errorf("base_url: got %q", loaded.Platform.BaseURL)
	}
	if loaded.Session.HistoryLimit != 50 {
		t.Errorf("history_limit: got %d", loaded.Session.HistoryLimit)
	}
	if len(loaded.Server.AllowedOrigins) != 1 || loaded.Server.AllowedOrigins[0] != "https://ops.example.com" {
		t.Errorf("allowed_origins: got %v", loaded.Server.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	data := "llm:\n  provider: openrouter\nsession:\n  history_limit: 5\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "openai/gpt-4o-mini" {
		t.Errorf("expected openrouter default model, got %q", cfg.LLM.Model)
	}
	if cfg.Session.HistoryLimit != 5 || cfg.Session.TimeoutSeconds != 3600 {
		t.Errorf("session: got %+v", cfg.Session)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BMSASSIST_PLATFORM__MODE", "live")
	t.Setenv("BMSASSIST_PLATFORM__BASE_URL", "https://tb.example.com/api")
	t.Setenv("BMSASSIST_SERVER__PORT", "9090")
	t.Setenv("BMSASSIST_DATA_DIR", "/var/lib/bmsassist")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Platform.Mode != ModeLive || cfg.Platform.BaseURL != "https://tb.example.com/api" {
		t.Errorf("platform: got %+v", cfg.Platform)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.DataDir != "/var/lib/bmsassist" {
		t.Errorf("data_dir: got %q", cfg.DataDir)
	}
	if !strings.HasSuffix(cfg.DBPath(), "bmsassist.db") {
		t.Errorf("db path: got %q", cfg.DBPath())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BMSASSIST_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BMSASSIST_TEST_DOTENV", "")
	os.Unsetenv("BMSASSIST_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("BMSASSIST_TEST_DOTENV"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "llm.provider"},
		{"bad embedder", func(c *Config) { c.Embedding.Provider = "ollama" }, "embedding.provider"},
		{"bad mode", func(c *Config) { c.Platform.Mode = "cloud" }, "platform.mode"},
		{"live without url", func(c *Config) { c.Platform.Mode = ModeLive }, "base_url"},
		{"zero history", func(c *Config) { c.Session.HistoryLimit = 0 }, "history_limit"},
		{"negative timeout", func(c *Config) { c.Session.TimeoutSeconds = -1 }, "timeouts"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("expected error containing %q, got %v", tt.errSub, err)
			}
		})
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	if APIKeyEnvVar(ProviderGemini) != "GOOGLE_API_KEY" {
		t.Error("gemini should use GOOGLE_API_KEY")
	}
	if APIKeyEnvVar(ProviderNone) != "" {
		t.Error("none should need no key")
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example.com , ,https://b.example.com")
	if len(got) != 2 || got[1] != "https://b.example.com" {
		t.Errorf("unexpected split %v", got)
	}
	if validatePort("0") == nil || validatePort("8080") != nil {
		t.Error("port validation mismatch")
	}
}
