// Command supervisor runs the out-of-band health monitor for a wandler
// server. It launches the server command given after "--", probes its
// /health endpoint (and optionally /test-connection) on an interval,
// and restarts the process when probes keep failing or when the
// configuration file changes on disk.
//
// Usage:
//
//	supervisor [config.yaml] -- command [args...]
//
// For example:
//
//	supervisor wandler.yaml -- ./server wandler.yaml
//
// The configuration file and WANDLER_* environment supply the probe
// target and the health tuning. Probe and restart history is persisted
// to the postgres ledger when storage.type is "postgres".
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wandlerhq/wandler/pkg/config"
	"github.com/wandlerhq/wandler/pkg/debug"
	"github.com/wandlerhq/wandler/pkg/storage"
	"github.com/wandlerhq/wandler/pkg/storage/postgres"
	"github.com/wandlerhq/wandler/pkg/supervisor"
)

func main() {
	if err := run(); err != nil {
		slog.Error("supervisor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath, command, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)

	// Give SIGTERM slightly longer than the server's own shutdown
	// timeout before escalating to SIGKILL.
	proc, err := supervisor.NewExecController(command, cfg.Server.ShutdownTimeout+5*time.Second)
	if err != nil {
		return err
	}

	store, err := newHealthLedger(cfg)
	if err != nil {
		return fmt.Errorf("opening health ledger: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	monitor, err := supervisor.New(supervisor.Config{
		ServerURL:             cfg.Health.ProbeURL(cfg.Server.Port),
		Interval:              cfg.Health.Interval,
		FailureThreshold:      cfg.Health.FailureThreshold,
		ProbeTimeout:          cfg.Health.ProbeTimeout,
		CheckBackend:          cfg.Health.CheckBackend,
		RestartInitialBackoff: cfg.Health.RestartInitialBackoff,
		RestartMaxBackoff:     cfg.Health.RestartMaxBackoff,
	}, proc, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("supervisor starting",
		"command", command,
		"probe_url", cfg.Health.ProbeURL(cfg.Server.Port),
		"interval", cfg.Health.Interval,
		"failure_threshold", cfg.Health.FailureThreshold)

	if err := proc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// The signal context is already done here; stopping the child
		// needs its own deadline.
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+10*time.Second)
		defer cancel()
		if err := proc.Stop(stopCtx); err != nil {
			slog.Warn("stopping server process", "error", err)
		}
	}()

	if path, ok := config.ResolveConfigPath(configPath); ok {
		watcher, err := supervisor.NewConfigWatcher(path, 0)
		if err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		go func() {
			err := watcher.Watch(ctx, func() {
				monitor.RequestRestart("configuration file changed")
			})
			if err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	return monitor.Run(ctx)
}

// parseArgs splits the command line at "--": an optional configuration
// file path before it, the server command after it.
func parseArgs(args []string) (configPath string, command []string, err error) {
	sep := -1
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep < 0 {
		return "", nil, errors.New("usage: supervisor [config.yaml] -- command [args...]")
	}
	head, tail := args[:sep], args[sep+1:]
	if len(tail) == 0 {
		return "", nil, errors.New("no server command given after --")
	}
	switch len(head) {
	case 0:
	case 1:
		configPath = head[0]
	default:
		return "", nil, fmt.Errorf("unexpected arguments before --: %v", head[1:])
	}
	return configPath, tail, nil
}

// newHealthLedger opens the shared postgres ledger when configured.
// The memory store lives inside a single process, so a supervisor-local
// one would record history nobody else can read; without postgres the
// monitor runs ledger-less and probe history surfaces through logs and
// metrics only.
func newHealthLedger(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Type != "postgres" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return postgres.New(ctx, postgres.Config{
		DSN:            cfg.Storage.Postgres.DSN,
		MaxConns:       cfg.Storage.Postgres.MaxConns,
		MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
	})
}
