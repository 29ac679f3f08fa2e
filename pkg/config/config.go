// Package config provides unified configuration for the wandler gateway
// and its supervisor.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. JSON config file (optional override layer)
//  4. .env file (KEY=VALUE pairs, same names as the env overrides)
//  5. Environment variable overrides (WANDLER_ prefix)
//  6. File reference resolution (_file suffix fields)
//  7. Validation
//
// Later layers win. Duration fields accept Go duration strings ("90s");
// the env layers additionally accept bare integers meaning seconds.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the wandler gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Backend   BackendConfig   `yaml:"backend" json:"backend"`
	Models    ModelsConfig    `yaml:"models" json:"models"`
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`
	Health    HealthConfig    `yaml:"health" json:"health"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`                         // default: "0.0.0.0"
	Port            int           `yaml:"port" json:"port"`                         // default: 8082
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`     // default: 10 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"` // default: 30s
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig holds the Chat Completions backend settings.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"` // required
	APIKey     string        `yaml:"api_key" json:"api_key"`
	APIKeyFile string        `yaml:"api_key_file" json:"api_key_file"` // _file variant for api_key
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`           // per attempt, default: 90s
}

// ModelsConfig holds model mapping settings.
type ModelsConfig struct {
	Big            string            `yaml:"big" json:"big"`                           // large-class default
	Small          string            `yaml:"small" json:"small"`                       // small-class default
	Aliases        map[string]string `yaml:"aliases" json:"aliases"`                   // exact alias -> backend model
	MaxTokensLimit int               `yaml:"max_tokens_limit" json:"max_tokens_limit"` // default: 8192
}

// StreamingConfig holds streaming behavior settings. Two distinct
// switches disable streaming: ForceDisable lives in config files,
// EmergencyDisable only ever comes from the environment so operators
// can flip it without touching files.
type StreamingConfig struct {
	ForceDisable     bool          `yaml:"force_disable" json:"force_disable"`
	EmergencyDisable bool          `yaml:"-" json:"-"`
	RetryBudget      int           `yaml:"retry_budget" json:"retry_budget"` // default: 12
	IdleTimeout      time.Duration `yaml:"idle_timeout" json:"idle_timeout"` // default: 90s
}

// Disabled reports whether backend streaming is switched off by either
// switch.
func (s StreamingConfig) Disabled() bool {
	return s.ForceDisable || s.EmergencyDisable
}

// HealthConfig holds the supervisor's monitoring settings.
type HealthConfig struct {
	// ServerURL is the probe target. Empty means derive it from the
	// server host/port on the loopback interface.
	ServerURL string `yaml:"server_url" json:"server_url"`

	Interval         time.Duration `yaml:"interval" json:"interval"`                   // default: 30s
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"` // default: 3
	ProbeTimeout     time.Duration `yaml:"probe_timeout" json:"probe_timeout"`         // default: 10s

	// CheckBackend additionally probes /test-connection each interval.
	CheckBackend bool `yaml:"check_backend" json:"check_backend"`

	RestartInitialBackoff time.Duration `yaml:"restart_initial_backoff" json:"restart_initial_backoff"` // default: 30s
	RestartMaxBackoff     time.Duration `yaml:"restart_max_backoff" json:"restart_max_backoff"`         // default: 5m
}

// ProbeURL returns the effective probe target.
func (h HealthConfig) ProbeURL(serverPort int) string {
	if h.ServerURL != "" {
		return h.ServerURL
	}
	return fmt.Sprintf("http://127.0.0.1:%d", serverPort)
}

// StorageConfig holds exchange/health ledger settings.
type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`         // "memory", "postgres", or "none", default: "memory"
	MaxSize  int            `yaml:"max_size" json:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn" json:"dsn"`
	DSNFile        string `yaml:"dsn_file" json:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns" json:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start" json:"migrate_on_start"`
}

// AuthConfig holds inbound authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type" json:"type"` // "none", "apikey", or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys" json:"api_keys"`
	JWT       JWTConfig       `yaml:"jwt" json:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
}

// JWTConfig holds JWT validation settings for auth.type=jwt.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer" json:"issuer"`
	Audience    string        `yaml:"audience" json:"audience"`
	JWKSURL     string        `yaml:"jwks_url" json:"jwks_url"`
	UserClaim   string        `yaml:"user_claim" json:"user_claim"`
	ScopesClaim string        `yaml:"scopes_claim" json:"scopes_claim"`
	TierClaim   string        `yaml:"tier_claim" json:"tier_claim"` // claim mapped to the rate-limit tier
	CacheTTL    time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// RateLimitConfig holds the in-process request limiter settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" json:"requests_per_minute"` // default: 60

	// Tiers overrides the limit per service tier (tier name to requests
	// per minute; 0 means unlimited for that tier). Callers land in a
	// tier through their API key entry or the JWT tier claim.
	Tiers map[string]int `yaml:"tiers" json:"tiers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error; default: "info"

	// Debug enables per-category debug logging, comma-separated
	// (e.g. "streaming,supervisor" or "all").
	Debug string `yaml:"debug" json:"debug"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8082,
			MaxBodyBytes:    10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Timeout: 90 * time.Second,
		},
		Models: ModelsConfig{
			Big:            "gpt-4.1",
			Small:          "gpt-4.1-mini",
			MaxTokensLimit: 8192,
		},
		Streaming: StreamingConfig{
			RetryBudget: 12,
			IdleTimeout: 90 * time.Second,
		},
		Health: HealthConfig{
			Interval:              30 * time.Second,
			FailureThreshold:      3,
			ProbeTimeout:          10 * time.Second,
			RestartInitialBackoff: 30 * time.Second,
			RestartMaxBackoff:     5 * time.Minute,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
