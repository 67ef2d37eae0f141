package llm

import (
	"context"
	"fmt"
	"os"
)

// Default models per provider, used when the configuration leaves model empty.
var defaultModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
	"gemini":     "gemini-2.0-flash",
}

// APIKeyEnvVar returns the environment variable holding the key for provider.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	case "gemini", "google":
		return "GOOGLE_API_KEY"
	}
	return ""
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	if provider == "google" {
		provider = "gemini"
	}
	return defaultModels[provider]
}

// NewProvider creates a new LLM provider based on the given provider type and model.
// Supported provider types: "openai", "openrouter", "gemini" (alias "google").
func NewProvider(ctx context.Context, providerType string, model string) (Provider, error) {
	envVar := APIKeyEnvVar(providerType)
	if envVar == "" {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable is not set", envVar)
	}
	if model == "" {
		model = DefaultModel(providerType)
	}

	switch providerType {
	case "openai":
		return NewOpenAIProvider(apiKey, model), nil
	case "openrouter":
		return NewOpenAICompatibleProvider("openrouter", apiKey, OpenRouterBaseURL, model), nil
	default:
		return NewGeminiProvider(ctx, apiKey, model)
	}
}
