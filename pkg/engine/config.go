package engine

import (
	"time"

	"github.com/wandlerhq/wandler/pkg/api"
)

// Config holds configuration for the core engine.
type Config struct {
	// MaxTokensLimit caps the max_tokens a request may carry before it is
	// clamped. Zero or negative means use the default of 4096.
	MaxTokensLimit int

	// StreamRetryBudget is the number of reconnect attempts allowed after
	// a recoverable mid-stream failure. Zero means the first failure is
	// terminal.
	StreamRetryBudget int

	// StreamIdleTimeout bounds the wait for the next backend chunk within
	// a streaming attempt. A stalled attempt counts as a recoverable
	// failure. Zero means the default of 90 seconds.
	StreamIdleTimeout time.Duration

	// StreamingDisabled forces every backend call to be non-streaming,
	// even when the client requested a stream. The client then receives
	// one complete response envelope.
	StreamingDisabled bool

	// Validation overrides the request validation limits. The zero value
	// selects the defaults.
	Validation api.ValidationConfig
}

// maxTokensLimit returns the effective cap, defaulting to 4096.
func (c Config) maxTokensLimit() int {
	if c.MaxTokensLimit <= 0 {
		return 4096
	}
	return c.MaxTokensLimit
}

// streamIdleTimeout returns the effective idle window, defaulting to 90s.
func (c Config) streamIdleTimeout() time.Duration {
	if c.StreamIdleTimeout <= 0 {
		return 90 * time.Second
	}
	return c.StreamIdleTimeout
}

// validation returns the effective validation limits.
func (c Config) validation() api.ValidationConfig {
	if c.Validation == (api.ValidationConfig{}) {
		return api.DefaultValidationConfig()
	}
	return c.Validation
}
