package core

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mudd00/sensorgamehub-sub001/internal/llm"
	"github.com/mudd00/sensorgamehub-sub001/internal/repository"
)

// Config holds the application configuration.
type Config struct {
	LogLevel string // debug, info, warn, error
	Port     string

	// LLM selects and authenticates the text-generation backend. Missing
	// credentials are fine: generation runs degraded.
	LLM llm.Config

	MaxRetries        int
	GenerationTimeout time.Duration
	MaxOutputTokens   int
	Temperature       float64

	SessionIdleTTL time.Duration
	SweepInterval  time.Duration

	DocsDBPath    string // reference documents; empty uses the built-in context only
	ArchiveDBPath string // finished sessions; empty disables archiving
	ArtifactDir   string
	PublicBaseURL string

	// S3 replaces the artifact directory when S3.Endpoint is set
	S3 repository.S3Config
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	env := &envReader{}

	logLevel := env.text("LOG_LEVEL", "info")
	// DEBUG flag overrides log level
	if os.Getenv("DEBUG") == "1" {
		logLevel = "debug"
	}

	cfg := &Config{
		LogLevel: strings.ToLower(logLevel),
		Port:     env.text("PORT", "8080"),
		LLM: llm.Config{
			Provider:     env.text("LLM_PROVIDER", llm.ProviderOpenRouter),
			APIKey:       os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:      env.text("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			DefaultModel: env.text("DEFAULT_MODEL", "anthropic/claude-3.5-sonnet"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  env.text("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		MaxRetries:        env.integer("MAX_RETRIES", 3),
		GenerationTimeout: env.dur("GENERATION_TIMEOUT", 3*time.Minute),
		MaxOutputTokens:   env.integer("MAX_OUTPUT_TOKENS", 16000),
		Temperature:       env.number("TEMPERATURE", 0.4),
		SessionIdleTTL:    env.dur("SESSION_IDLE_TTL", 30*time.Minute),
		SweepInterval:     env.dur("SWEEP_INTERVAL", time.Minute),
		DocsDBPath:        env.text("DOCS_DB_PATH", "./data/docs.db"),
		ArchiveDBPath:     env.text("ARCHIVE_DB_PATH", "./data/sessions.db"),
		ArtifactDir:       env.text("ARTIFACT_DIR", "./data/artifacts"),
		PublicBaseURL:     os.Getenv("PUBLIC_BASE_URL"),
		S3: repository.S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    env.text("S3_BUCKET", "sensor-games"),
			Region:    env.text("S3_REGION", "us-east-1"),
			UseSSL:    env.flag("S3_USE_SSL", true),
		},
	}
	cfg.LLM.Timeout = cfg.GenerationTimeout
	cfg.S3.PublicBase = cfg.PublicBaseURL

	if err := errors.Join(env.errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "LOG_LEVEL", Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}
	if c.Port == "" {
		return &ValidationError{Field: "PORT", Message: "cannot be empty"}
	}
	if err := c.LLM.Validate(); err != nil {
		return &ValidationError{Field: "LLM_PROVIDER", Message: err.Error(), Err: err}
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return &ValidationError{Field: "MAX_RETRIES", Message: "must be between 0 and 10"}
	}
	if c.GenerationTimeout <= 0 {
		return &ValidationError{Field: "GENERATION_TIMEOUT", Message: "must be positive"}
	}
	if c.MaxOutputTokens <= 0 {
		return &ValidationError{Field: "MAX_OUTPUT_TOKENS", Message: "must be positive"}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return &ValidationError{Field: "TEMPERATURE", Message: "must be between 0 and 2"}
	}
	if c.SessionIdleTTL <= 0 {
		return &ValidationError{Field: "SESSION_IDLE_TTL", Message: "must be positive"}
	}
	if c.SweepInterval <= 0 {
		return &ValidationError{Field: "SWEEP_INTERVAL", Message: "must be positive"}
	}
	if c.S3.Endpoint == "" && c.ArtifactDir == "" {
		return &ValidationError{Field: "ARTIFACT_DIR", Message: "required when S3_ENDPOINT is not set"}
	}
	return nil
}

// UseS3 reports whether artifacts go to object storage.
func (c *Config) UseS3() bool {
	return c.S3.Endpoint != ""
}

// envReader reads typed environment values and collects parse failures.
type envReader struct {
	errs []error
}

func (r *envReader) text(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		r.errs = append(r.errs, &ValidationError{Field: key, Message: "not an integer", Err: err})
		return fallback
	}
	return n
}

func (r *envReader) number(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		r.errs = append(r.errs, &ValidationError{Field: key, Message: "not a number", Err: err})
		return fallback
	}
	return f
}

func (r *envReader) dur(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		r.errs = append(r.errs, &ValidationError{Field: key, Message: "not a duration", Err: err})
		return fallback
	}
	return d
}

func (r *envReader) flag(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
