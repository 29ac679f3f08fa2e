package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, WANDLER_CONFIG env, ./wandler.yaml, /etc/wandler/config.yaml)
//  3. JSON config file (WANDLER_CONFIG_JSON env, ./wandler.json)
//  4. .env file (WANDLER_ENV_FILE env, ./.env)
//  5. Environment variable overrides
//  6. File reference resolution (_file suffix)
//  7. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadConfigFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Load the JSON override layer on top.
	jsonPath := discoverJSONFile()
	if jsonPath != "" {
		if err := loadConfigFile(jsonPath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", jsonPath, err)
		}
	}

	// Load the .env file. Process environment shadows it per key.
	envFile, err := loadEnvFile()
	if err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return envFile[key]
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg, lookup)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// ResolveConfigPath reports which configuration file Load would read:
// the explicit path when given, else WANDLER_CONFIG, else the first
// discovery candidate that exists. The boolean is false when no file
// would be read. Used by the supervisor to know which file to watch.
func ResolveConfigPath(configPath string) (string, bool) {
	path := discoverConfigFile(configPath)
	return path, path != ""
}

// discoverConfigFile finds the YAML config file path using the discovery order:
// 1. Explicit configPath argument
// 2. WANDLER_CONFIG environment variable
// 3. ./wandler.yaml in the current directory
// 4. /etc/wandler/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check WANDLER_CONFIG env var.
	if envPath := os.Getenv("WANDLER_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"wandler.yaml",
		"/etc/wandler/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// discoverJSONFile finds the optional JSON override file:
// 1. WANDLER_CONFIG_JSON environment variable
// 2. ./wandler.json in the current directory
func discoverJSONFile() string {
	if envPath := os.Getenv("WANDLER_CONFIG_JSON"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("wandler.json"); err == nil {
		return "wandler.json"
	}
	return ""
}

// loadConfigFile reads and parses a config file into the Config struct.
// JSON is a subset of YAML, so one decoder covers both file layers.
// Fields not present in the file retain their current values.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadEnvFile reads the optional .env file into a key/value map:
// 1. WANDLER_ENV_FILE environment variable
// 2. ./.env in the current directory
//
// An explicitly named file must be readable; the default path is
// skipped silently when absent.
func loadEnvFile() (map[string]string, error) {
	path := os.Getenv("WANDLER_ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil, nil
		}
		path = ".env"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseEnvFile(string(data)), nil
}

// parseEnvFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped; matching single or double quotes around values are stripped.
func parseEnvFile(content string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			first, last := value[0], value[len(value)-1]
			if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		if key != "" {
			vars[key] = value
		}
	}
	return vars
}

// applyEnvOverrides maps environment variables to config fields. lookup
// resolves a key against the process environment and the .env file.
// Unparseable values are ignored; validation catches what remains.
func applyEnvOverrides(cfg *Config, lookup func(string) string) {
	// Server.
	if v := lookup("WANDLER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := lookup("WANDLER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Backend. The OPENAI_* names work as fallbacks so existing
	// Chat Completions client environments carry over unchanged.
	if v := lookup("WANDLER_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	} else if v := lookup("OPENAI_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := lookup("WANDLER_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	} else if v := lookup("OPENAI_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := lookup("WANDLER_API_KEY_FILE"); v != "" {
		cfg.Backend.APIKeyFile = v
	}
	if v := lookup("WANDLER_REQUEST_TIMEOUT"); v != "" {
		if d, ok := parseDurationValue(v); ok {
			cfg.Backend.Timeout = d
		}
	}

	// Models.
	if v := lookup("WANDLER_BIG_MODEL"); v != "" {
		cfg.Models.Big = v
	}
	if v := lookup("WANDLER_SMALL_MODEL"); v != "" {
		cfg.Models.Small = v
	}
	if v := lookup("WANDLER_MODEL_ALIASES"); v != "" {
		if aliases, err := parseAliasesJSON(v); err == nil {
			if cfg.Models.Aliases == nil {
				cfg.Models.Aliases = make(map[string]string, len(aliases))
			}
			for alias, model := range aliases {
				cfg.Models.Aliases[alias] = model
			}
		}
	}
	if v := lookup("WANDLER_MAX_TOKENS_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Models.MaxTokensLimit = limit
		}
	}

	// Streaming.
	if v := lookup("WANDLER_FORCE_DISABLE_STREAMING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Streaming.ForceDisable = b
		}
	}
	if v := lookup("WANDLER_EMERGENCY_DISABLE_STREAMING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Streaming.EmergencyDisable = b
		}
	}
	if v := lookup("WANDLER_MAX_STREAMING_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Streaming.RetryBudget = n
		}
	}
	if v := lookup("WANDLER_STREAM_IDLE_TIMEOUT"); v != "" {
		if d, ok := parseDurationValue(v); ok {
			cfg.Streaming.IdleTimeout = d
		}
	}

	// Health.
	if v := lookup("WANDLER_HEALTH_URL"); v != "" {
		cfg.Health.ServerURL = v
	}
	if v := lookup("WANDLER_HEALTH_INTERVAL"); v != "" {
		if d, ok := parseDurationValue(v); ok {
			cfg.Health.Interval = d
		}
	}
	if v := lookup("WANDLER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.FailureThreshold = n
		}
	}
	if v := lookup("WANDLER_CHECK_BACKEND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Health.CheckBackend = b
		}
	}

	// Storage.
	if v := lookup("WANDLER_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := lookup("WANDLER_STORAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Storage.MaxSize = size
		}
	}
	if v := lookup("WANDLER_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}

	// Auth.
	if v := lookup("WANDLER_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}

	// WANDLER_API_KEYS: JSON array of API key configs.
	if v := lookup("WANDLER_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	// Logging.
	if v := lookup("WANDLER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := lookup("WANDLER_DEBUG"); v != "" {
		cfg.Logging.Debug = v
	}
}

// parseDurationValue accepts Go duration strings ("90s") and bare
// integers meaning seconds, the form the legacy env files used.
func parseDurationValue(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

// parseAliasesJSON parses a JSON object mapping alias to backend model.
func parseAliasesJSON(jsonStr string) (map[string]string, error) {
	var aliases map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &aliases); err != nil {
		return nil, fmt.Errorf("parsing model aliases JSON: %w", err)
	}
	return aliases, nil
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// backend.api_key_file -> backend.api_key
	if cfg.Backend.APIKeyFile != "" && cfg.Backend.APIKey == "" {
		val, err := readSecretFile(cfg.Backend.APIKeyFile)
		if err != nil {
			return fmt.Errorf("backend.api_key_file: %w", err)
		}
		cfg.Backend.APIKey = val
	}

	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
