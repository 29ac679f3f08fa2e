package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// backend.base_url is required.
	if c.Backend.BaseURL == "" {
		errs = append(errs, fmt.Errorf("backend.base_url is required"))
	}

	// backend.timeout must fit the per-attempt window.
	if c.Backend.Timeout < time.Second || c.Backend.Timeout > 600*time.Second {
		errs = append(errs, fmt.Errorf("backend.timeout must be between 1s and 600s, got %s", c.Backend.Timeout))
	}

	// server.port must be a valid TCP port.
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be > 0, got %d", c.Server.MaxBodyBytes))
	}

	// Both size classes need a backend model.
	if c.Models.Big == "" {
		errs = append(errs, fmt.Errorf("models.big is required"))
	}
	if c.Models.Small == "" {
		errs = append(errs, fmt.Errorf("models.small is required"))
	}

	if c.Models.MaxTokensLimit < 1 || c.Models.MaxTokensLimit > 100000 {
		errs = append(errs, fmt.Errorf("models.max_tokens_limit must be between 1 and 100000, got %d", c.Models.MaxTokensLimit))
	}

	// streaming.retry_budget of 0 is valid and disables mid-stream retry.
	if c.Streaming.RetryBudget < 0 || c.Streaming.RetryBudget > 50 {
		errs = append(errs, fmt.Errorf("streaming.retry_budget must be between 0 and 50, got %d", c.Streaming.RetryBudget))
	}

	if c.Streaming.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("streaming.idle_timeout must be > 0, got %s", c.Streaming.IdleTimeout))
	}

	if c.Health.Interval < time.Second {
		errs = append(errs, fmt.Errorf("health.interval must be at least 1s, got %s", c.Health.Interval))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("health.failure_threshold must be at least 1, got %d", c.Health.FailureThreshold))
	}
	if c.Health.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("health.probe_timeout must be > 0, got %s", c.Health.ProbeTimeout))
	}
	if c.Health.RestartInitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("health.restart_initial_backoff must be > 0, got %s", c.Health.RestartInitialBackoff))
	}
	if c.Health.RestartMaxBackoff < c.Health.RestartInitialBackoff {
		errs = append(errs, fmt.Errorf("health.restart_max_backoff must be >= health.restart_initial_backoff"))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres", "none":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\", \"postgres\", or \"none\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "apikey" && len(c.Auth.APIKeys) == 0 {
		errs = append(errs, fmt.Errorf("auth.api_keys must contain at least one entry when auth.type is \"apikey\""))
	}

	if c.Auth.Type == "jwt" {
		if c.Auth.JWT.Issuer == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.issuer is required when auth.type is \"jwt\""))
		}
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	}

	if c.Auth.RateLimit.Enabled && c.Auth.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must be at least 1, got %d", c.Auth.RateLimit.RequestsPerMinute))
	}

	// logging.level must be a known value.
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}
