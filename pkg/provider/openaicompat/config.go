package openaicompat

import "time"

// Config holds the connection settings for an OpenAI-compatible backend.
type Config struct {
	// BaseURL is the backend endpoint, e.g. "http://localhost:8000".
	// A trailing "/v1" is accepted and stripped; the provider always
	// addresses the versioned routes itself.
	BaseURL string

	// APIKey is sent as a bearer token when non-empty. Local backends
	// typically run without authentication.
	APIKey string

	// Timeout bounds a single non-streaming call and, for streaming
	// calls, the wait for response headers. It never bounds the body
	// read of an established stream.
	Timeout time.Duration
}

// DefaultConfig returns a Config with defaults suitable for a local backend.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 120 * time.Second,
	}
}
