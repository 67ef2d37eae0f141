package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to bmsassist! Let's connect your building.")
	fmt.Println()

	cfg := DefaultConfig()

	modePrompt := promptui.Select{
		Label: "Platform",
		Items: []string{
			"demo - built-in sample building",
			"live - ThingsBoard-compatible REST API",
		},
	}
	modeIdx, _, err := modePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("platform selection: %w", err)
	}
	if modeIdx == 1 {
		cfg.Platform.Mode = ModeLive

		urlPrompt := promptui.Prompt{
			Label:    "Platform API base URL",
			Default:  "https://demo.thingsboard.io/api",
			Validate: requireNonEmpty,
		}
		if cfg.Platform.BaseURL, err = urlPrompt.Run(); err != nil {
			return nil, fmt.Errorf("base url: %w", err)
		}

		tokenPrompt := promptui.Prompt{
			Label: "Platform JWT (leave blank to use BMSASSIST_PLATFORM__TOKEN)",
			Mask:  '*',
		}
		if cfg.Platform.Token, err = tokenPrompt.Run(); err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
	}

	providerPrompt := promptui.Select{
		Label: "LLM provider for free-text questions",
		Items: []string{string(ProviderGemini), string(ProviderOpenAI), string(ProviderOpenRouter), string(ProviderNone)},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.LLM.Provider = ProviderType(providerStr)
	cfg.LLM.Model = DefaultModel(cfg.LLM.Provider)

	portPrompt := promptui.Prompt{
		Label:    "HTTP port",
		Default:  strconv.Itoa(cfg.Server.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	originsPrompt := promptui.Prompt{
		Label: "Allowed CORS origins (comma-separated, blank allows all)",
	}
	originsStr, err := originsPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("origins: %w", err)
	}
	if origins := splitAndTrim(originsStr); len(origins) > 0 {
		cfg.Server.AllowAllOrigins = false
		cfg.Server.AllowedOrigins = origins
	}

	if envVar := APIKeyEnvVar(cfg.LLM.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: set %s in your environment or .env file before starting the server.\n", envVar)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func requireNonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("value is required")
	}
	return nil
}

func validatePort(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("enter a port between 1 and 65535")
	}
	return nil
}

// splitAndTrim splits a comma-separated string and drops empty entries.
func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
