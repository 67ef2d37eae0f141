package config

// FileName is the default configuration file name.
const FileName = ".bmsassist.yml"

// EnvPrefix prefixes every environment override. A double underscore
// separates nested keys: BMSASSIST_PLATFORM__BASE_URL sets platform.base_url.
const EnvPrefix = "BMSASSIST_"

// defaultModels maps each provider to the model used when none is set.
var defaultModels = map[ProviderType]string{
	ProviderOpenAI:     "gpt-4o-mini",
	ProviderOpenRouter: "openai/gpt-4o-mini",
	ProviderGemini:     "gemini-2.0-flash",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          ProviderGemini,
			RequestsPerMinute: 30,
		},
		Embedding: EmbeddingConfig{
			Provider:   EmbedderHash,
			Dimensions: 256,
		},
		Platform: PlatformConfig{
			Mode:           ModeDemo,
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Session: SessionConfig{
			HistoryLimit:         20,
			TimeoutSeconds:       3600,
			SweepIntervalSeconds: 300,
			Persist:              true,
		},
		Server: ServerConfig{
			Port:            8080,
			AllowAllOrigins: true,
		},
		DataDir: ".bmsassist",
	}
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(p ProviderType) string {
	return defaultModels[p]
}
