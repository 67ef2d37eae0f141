package config

import (
	"path/filepath"
	"time"
)

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderNone       ProviderType = "none"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderGemini     ProviderType = "gemini"
)

// EmbedderType identifies the embedding backend of the fault knowledge base.
type EmbedderType string

const (
	EmbedderHash   EmbedderType = "hash"
	EmbedderOpenAI EmbedderType = "openai"
)

// PlatformMode selects the building platform backend.
type PlatformMode string

const (
	ModeDemo PlatformMode = "demo"
	ModeLive PlatformMode = "live"
)

// Config is the top-level configuration, corresponding to .bmsassist.yml.
type Config struct {
	LLM       LLMConfig       `yaml:"llm" koanf:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Platform  PlatformConfig  `yaml:"platform" koanf:"platform"`
	Session   SessionConfig   `yaml:"session" koanf:"session"`
	Server    ServerConfig    `yaml:"server" koanf:"server"`
	DataDir   string          `yaml:"data_dir" koanf:"data_dir"`
}

// LLMConfig configures the free-text fallback and alarm summaries.
type LLMConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// EmbeddingConfig configures the fault knowledge base embedder.
type EmbeddingConfig struct {
	Provider   EmbedderType `yaml:"provider" koanf:"provider"`
	Model      string       `yaml:"model" koanf:"model"`
	Dimensions int          `yaml:"dimensions" koanf:"dimensions"`
}

// PlatformConfig points at the IoT platform REST API.
type PlatformConfig struct {
	Mode           PlatformMode `yaml:"mode" koanf:"mode"`
	BaseURL        string       `yaml:"base_url" koanf:"base_url"`
	Token          string       `yaml:"token,omitempty" koanf:"token"`
	TimeoutSeconds int          `yaml:"timeout_seconds" koanf:"timeout_seconds"`
	MaxRetries     int          `yaml:"max_retries" koanf:"max_retries"`
	Fixture        string       `yaml:"fixture,omitempty" koanf:"fixture"`
}

// SessionConfig holds conversational memory settings.
type SessionConfig struct {
	HistoryLimit         int  `yaml:"history_limit" koanf:"history_limit"`
	TimeoutSeconds       int  `yaml:"timeout_seconds" koanf:"timeout_seconds"`
	SweepIntervalSeconds int  `yaml:"sweep_interval_seconds" koanf:"sweep_interval_seconds"`
	Persist              bool `yaml:"persist" koanf:"persist"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port" koanf:"port"`
	AllowAllOrigins bool     `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty" koanf:"allowed_origins"`
}

// PlatformTimeout is the per-request timeout of the platform client.
func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.Platform.TimeoutSeconds) * time.Second
}

// SessionTimeout is the idle time after which a session is evicted. Zero
// disables eviction.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

// SweepInterval is how often idle sessions are swept.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Session.SweepIntervalSeconds) * time.Second
}

// DBPath returns the sqlite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "bmsassist.db")
}
