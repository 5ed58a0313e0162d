package llm

import (
	"fmt"
	"strings"
	"time"
)

// Providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Config contains configuration for the text-generation backends.
type Config struct {
	// Provider selects the live backend: openrouter or gemini
	Provider string

	// APIKey is the OpenRouter API key
	APIKey string

	// BaseURL is the OpenRouter API base URL
	// Default: https://openrouter.ai/api/v1
	BaseURL string

	// DefaultModel is the OpenRouter model identifier
	// Example: anthropic/claude-3.5-sonnet
	DefaultModel string

	// GeminiAPIKey enables the Gemini backend
	GeminiAPIKey string

	// GeminiModel is the Gemini model name
	// Default: gemini-2.5-flash
	GeminiModel string

	// Timeout bounds a single HTTP stream
	// Default: 3 minutes
	Timeout time.Duration
}

// HasCredential reports whether the selected provider can be called.
func (c *Config) HasCredential() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	default:
		return c.APIKey != ""
	}
}

// Validate checks that the configuration is usable. Missing credentials are
// not an error: the pipeline runs degraded without them.
func (c *Config) Validate() error {
	switch c.Provider {
	case "", ProviderOpenRouter, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http") {
		return fmt.Errorf("BaseURL must be an http(s) URL")
	}
	return nil
}

// SetDefaults fills in default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderOpenRouter
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "anthropic/claude-3.5-sonnet"
	}
	if c.GeminiModel == "" {
		c.GeminiModel = "gemini-2.5-flash"
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Minute
	}
}

// ModelName is the genkit model name for the selected provider.
func (c *Config) ModelName() string {
	if c.Provider == ProviderGemini {
		return "googleai/" + c.GeminiModel
	}
	return "openrouter/" + c.DefaultModel
}
