// Command server runs the wandler translation gateway.
//
// Configuration is layered from built-in defaults, an optional YAML or
// JSON config file, an optional .env file, and WANDLER_* environment
// variables (see pkg/config for the full list). The most common settings:
//
//	WANDLER_BACKEND_URL  - Chat Completions backend URL (required)
//	WANDLER_API_KEY      - Backend bearer token (optional)
//	WANDLER_PORT         - Listen port (default: 8082)
//	WANDLER_BIG_MODEL    - Backend model for large-class identifiers
//	WANDLER_SMALL_MODEL  - Backend model for small-class identifiers
//
// Usage:
//
//	server [config.yaml]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/wandlerhq/wandler/pkg/auth"
	"github.com/wandlerhq/wandler/pkg/auth/apikey"
	authjwt "github.com/wandlerhq/wandler/pkg/auth/jwt"
	"github.com/wandlerhq/wandler/pkg/auth/noop"
	"github.com/wandlerhq/wandler/pkg/config"
	"github.com/wandlerhq/wandler/pkg/debug"
	"github.com/wandlerhq/wandler/pkg/engine"
	"github.com/wandlerhq/wandler/pkg/modelmap"
	"github.com/wandlerhq/wandler/pkg/provider/openaicompat"
	"github.com/wandlerhq/wandler/pkg/storage"
	"github.com/wandlerhq/wandler/pkg/storage/memory"
	"github.com/wandlerhq/wandler/pkg/storage/postgres"
	transporthttp "github.com/wandlerhq/wandler/pkg/transport/http"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)

	// Create provider.
	prov, err := openaicompat.New(openaicompat.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}
	defer prov.Close()

	// Create model mapper.
	mapper, err := modelmap.New(modelmap.Config{
		BigModel:   cfg.Models.Big,
		SmallModel: cfg.Models.Small,
		Aliases:    cfg.Models.Aliases,
	})
	if err != nil {
		return fmt.Errorf("creating model mapper: %w", err)
	}

	// Create exchange ledger.
	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	// Create engine.
	eng, err := engine.New(prov, mapper, store, engine.Config{
		MaxTokensLimit:    cfg.Models.MaxTokensLimit,
		StreamRetryBudget: cfg.Streaming.RetryBudget,
		StreamIdleTimeout: cfg.Streaming.IdleTimeout,
		StreamingDisabled: cfg.Streaming.Disabled(),
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	// Create client auth middleware.
	middleware, err := newAuthMiddleware(cfg)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	srv := transporthttp.NewServer(eng, store,
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodyBytes),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithServiceInfo(version, cfg.Models.Big, cfg.Models.Small),
		transporthttp.WithHTTPMiddleware(middleware),
	)

	slog.Info("wandler starting",
		"version", version,
		"backend", prov.BaseURL(),
		"big_model", cfg.Models.Big,
		"small_model", cfg.Models.Small,
		"auth", cfg.Auth.Type,
		"streaming_disabled", cfg.Streaming.Disabled())

	return srv.ListenAndServe()
}

// newStore builds the exchange ledger from configuration. "none" disables
// the ledger entirely; the engine and endpoints handle a nil store.
func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	case "none":
		slog.Info("storage disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// newAuthMiddleware builds the client auth chain from configuration. With
// auth.type "none" every request is admitted under an anonymous identity;
// the middleware is still installed so rate limiting applies uniformly.
func newAuthMiddleware(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	chain := &auth.Chain{DefaultDecision: auth.No}

	switch cfg.Auth.Type {
	case "none":
		chain.Authenticators = []auth.Authenticator{&noop.Authenticator{}}
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for i, k := range cfg.Auth.APIKeys {
			subject := k.Subject
			if subject == "" {
				subject = fmt.Sprintf("apikey-%d", i+1)
			}
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     subject,
					ServiceTier: k.ServiceTier,
				},
			})
		}
		chain.Authenticators = []auth.Authenticator{apikey.New(entries)}
	case "jwt":
		chain.Authenticators = []auth.Authenticator{authjwt.New(authjwt.Config{
			Issuer:      cfg.Auth.JWT.Issuer,
			Audience:    cfg.Auth.JWT.Audience,
			JWKSURL:     cfg.Auth.JWT.JWKSURL,
			UserClaim:   cfg.Auth.JWT.UserClaim,
			ScopesClaim: cfg.Auth.JWT.ScopesClaim,
			TierClaim:   cfg.Auth.JWT.TierClaim,
			CacheTTL:    cfg.Auth.JWT.CacheTTL,
		})}
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	var limiter auth.RateLimiter
	if cfg.Auth.RateLimit.Enabled {
		tiers := make(map[string]auth.TierConfig, len(cfg.Auth.RateLimit.Tiers))
		for name, rpm := range cfg.Auth.RateLimit.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, cfg.Auth.RateLimit.RequestsPerMinute)
		slog.Info("rate limiting enabled",
			"requests_per_minute", cfg.Auth.RateLimit.RequestsPerMinute,
			"tiers", len(tiers))
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}
