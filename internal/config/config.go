// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the process needs at startup.
type Config struct {
	Port             string
	ProcessorBaseURL string
	ProcessorAPIKey  string
	ProcessorTimeout time.Duration
	TracingEnabled   bool
	UseMockProcessor bool
}

// Load reads the configuration from environment variables. Missing required
// keys are an error, not a fallback.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getOptionalEnv("PORT", "8080"),
		ProcessorBaseURL: getOptionalEnv("PROCESSOR_BASE_URL", ""),
		ProcessorAPIKey:  os.Getenv("PROCESSOR_API_KEY"),
		TracingEnabled:   getOptionalEnv("TRACING_ENABLED", "false") == "true",
		UseMockProcessor: getOptionalEnv("USE_MOCK_PROCESSOR", "false") == "true",
	}

	timeoutMs, err := strconv.Atoi(getOptionalEnv("PROCESSOR_TIMEOUT_MS", "10000"))
	if err != nil || timeoutMs <= 0 {
		return nil, fmt.Errorf("invalid PROCESSOR_TIMEOUT_MS: %q", getOptionalEnv("PROCESSOR_TIMEOUT_MS", "10000"))
	}
	cfg.ProcessorTimeout = time.Duration(timeoutMs) * time.Millisecond

	if !cfg.UseMockProcessor && cfg.ProcessorAPIKey == "" {
		return nil, errors.New("PROCESSOR_API_KEY is required unless USE_MOCK_PROCESSOR=true")
	}
	return cfg, nil
}

func getOptionalEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
