package resilientcall

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must not be negative")
	}
	if cfg.BaseRetryDelayMs < 0 || cfg.MaxRetryDelayMs < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if cfg.BaseRetryDelayMs > 0 && cfg.MaxRetryDelayMs > 0 && cfg.BaseRetryDelayMs > cfg.MaxRetryDelayMs {
		return fmt.Errorf("base_retry_delay_ms (%d) exceeds max_retry_delay_ms (%d)", cfg.BaseRetryDelayMs, cfg.MaxRetryDelayMs)
	}

	for _, status := range cfg.RetryStatuses {
		if status < 100 || status > 599 {
			return fmt.Errorf("retry status %d is not a valid HTTP status", status)
		}
	}

	if cfg.Breaker.FailureThreshold < 0 || cfg.Breaker.SuccessThreshold < 0 ||
		cfg.Breaker.ResetTimeoutMs < 0 || cfg.Breaker.HalfOpenProbes < 0 {
		return fmt.Errorf("breaker settings must not be negative")
	}

	if cfg.Cache.DefaultTTLMs < 0 || cfg.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache settings must not be negative")
	}

	if cfg.Auth != nil {
		if cfg.Auth.TokenURL == "" || cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "" {
			return fmt.Errorf("auth requires token_url, client_id, and client_secret")
		}
	}

	return nil
}
