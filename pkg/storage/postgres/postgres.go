// Package postgres provides a PostgreSQL implementation of storage.Store
// for deployments that want the exchange and health ledgers to survive
// restarts. It uses pgx/v5 for connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wandlerhq/wandler/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is a PostgreSQL-backed ledger.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveExchange persists one completed exchange. An empty ID is filled
// with a fresh UUID; a zero CreatedAt is filled with the current time.
func (s *Store) SaveExchange(ctx context.Context, rec *storage.ExchangeRecord) error {
	if rec.ID == "" {
		rec.ID = storage.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO exchanges (
			id, created_at, client_model, backend_model,
			stream, retries, input_tokens, output_tokens,
			duration_ms, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID, rec.CreatedAt, rec.ClientModel, rec.BackendModel,
		rec.Stream, rec.Retries, rec.InputTokens, rec.OutputTokens,
		rec.Duration.Milliseconds(), string(rec.Status),
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting exchange: %w", err)
	}

	return nil
}

// GetExchange retrieves one exchange row by ID.
func (s *Store) GetExchange(ctx context.Context, id string) (*storage.ExchangeRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, client_model, backend_model,
		       stream, retries, input_tokens, output_tokens,
		       duration_ms, status
		FROM exchanges
		WHERE id = $1
	`, id)

	rec, err := scanExchange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange: %w", err)
	}

	return rec, nil
}

// ListExchanges returns up to limit rows, newest first.
func (s *Store) ListExchanges(ctx context.Context, limit int) ([]*storage.ExchangeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, client_model, backend_model,
		       stream, retries, input_tokens, output_tokens,
		       duration_ms, status
		FROM exchanges
		ORDER BY created_at DESC, id
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var out []*storage.ExchangeRecord
	for rows.Next() {
		rec, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

// ExchangeStats aggregates totals over all exchange rows.
func (s *Store) ExchangeStats(ctx context.Context) (*storage.ExchangeStats, error) {
	var stats storage.ExchangeStats

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'failed'),
		       count(*) FILTER (WHERE status = 'canceled'),
		       count(*) FILTER (WHERE stream),
		       COALESCE(sum(retries), 0),
		       COALESCE(sum(input_tokens), 0),
		       COALESCE(sum(output_tokens), 0)
		FROM exchanges
	`).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.Canceled,
		&stats.Streamed, &stats.Retries, &stats.InputTokens, &stats.OutputTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating exchanges: %w", err)
	}

	return &stats, nil
}

// SaveHealthEvent persists one probe or restart outcome.
func (s *Store) SaveHealthEvent(ctx context.Context, ev *storage.HealthEvent) error {
	if ev.ID == "" {
		ev.ID = storage.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO health_events (
			id, created_at, kind, ok, consecutive_failures, detail
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		ev.ID, ev.CreatedAt, string(ev.Kind), ev.OK, ev.ConsecutiveFailures, ev.Detail,
	)

	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting health event: %w", err)
	}

	return nil
}

// ListHealthEvents returns up to limit events, newest first.
func (s *Store) ListHealthEvents(ctx context.Context, limit int) ([]*storage.HealthEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, kind, ok, consecutive_failures, detail
		FROM health_events
		ORDER BY created_at DESC, id
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying health events: %w", err)
	}
	defer rows.Close()

	var out []*storage.HealthEvent
	for rows.Next() {
		var ev storage.HealthEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.CreatedAt, &kind, &ev.OK, &ev.ConsecutiveFailures, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scanning health event: %w", err)
		}
		ev.Kind = storage.HealthEventKind(kind)
		out = append(out, &ev)
	}

	return out, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanExchange reads one exchange row from a pgx row or rows cursor.
func scanExchange(row pgx.Row) (*storage.ExchangeRecord, error) {
	var rec storage.ExchangeRecord
	var durationMS int64
	var status string

	err := row.Scan(
		&rec.ID, &rec.CreatedAt, &rec.ClientModel, &rec.BackendModel,
		&rec.Stream, &rec.Retries, &rec.InputTokens, &rec.OutputTokens,
		&durationMS, &status,
	)
	if err != nil {
		return nil, err
	}

	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.Status = storage.ExchangeStatus(status)
	return &rec, nil
}

// isDuplicateKey checks for a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
