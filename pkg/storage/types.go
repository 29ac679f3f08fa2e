package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExchangeStatus is the terminal outcome of a proxied exchange.
type ExchangeStatus string

const (
	// ExchangeCompleted means the backend call finished and the full
	// response (or stream) reached the client.
	ExchangeCompleted ExchangeStatus = "completed"

	// ExchangeFailed means the exchange ended with an error surfaced to
	// the client, including exhausted stream retries.
	ExchangeFailed ExchangeStatus = "failed"

	// ExchangeCanceled means the client went away before completion.
	ExchangeCanceled ExchangeStatus = "canceled"
)

// ExchangeRecord is one ledger row per proxied request. The engine
// writes it after the exchange reaches a terminal state.
type ExchangeRecord struct {
	// ID is a UUID assigned by the store if left empty.
	ID string

	CreatedAt time.Time

	// ClientModel is the model string the client sent; BackendModel is
	// what the mapper resolved it to.
	ClientModel  string
	BackendModel string

	// Stream records whether the client asked for a streaming response.
	Stream bool

	// Retries is the number of stream reconnection attempts consumed,
	// zero for batch exchanges and uninterrupted streams.
	Retries int

	InputTokens  int
	OutputTokens int

	Duration time.Duration

	Status ExchangeStatus
}

// HealthEventKind distinguishes monitor probe outcomes from restart
// actions in the health ledger.
type HealthEventKind string

const (
	HealthEventProbe   HealthEventKind = "probe"
	HealthEventRestart HealthEventKind = "restart"
)

// HealthEvent is one ledger row per supervisor probe or restart.
type HealthEvent struct {
	// ID is a UUID assigned by the store if left empty.
	ID string

	CreatedAt time.Time

	Kind HealthEventKind

	// OK is true for successful probes and successful restarts.
	OK bool

	// ConsecutiveFailures is the monitor's failure counter after this
	// event was applied.
	ConsecutiveFailures int

	// Detail carries the probe error or restart reason, empty on success.
	Detail string
}

// ExchangeStats are running totals over all recorded exchanges. Unlike
// listings, totals are never truncated by store bounds.
type ExchangeStats struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Canceled  int64 `json:"canceled"`

	// Streamed counts exchanges the client requested as streams.
	Streamed int64 `json:"streamed"`

	// Retries is the sum of stream reconnection attempts across all
	// exchanges.
	Retries int64 `json:"retries"`

	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Store is the ledger contract implemented by memory and postgres.
// List methods return newest rows first; a limit <= 0 selects the
// implementation default, and implementations may cap large limits.
type Store interface {
	SaveExchange(ctx context.Context, rec *ExchangeRecord) error
	GetExchange(ctx context.Context, id string) (*ExchangeRecord, error)
	ListExchanges(ctx context.Context, limit int) ([]*ExchangeRecord, error)
	ExchangeStats(ctx context.Context) (*ExchangeStats, error)

	SaveHealthEvent(ctx context.Context, ev *HealthEvent) error
	ListHealthEvents(ctx context.Context, limit int) ([]*HealthEvent, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// NewID returns a random UUID string for ledger rows.
func NewID() string {
	return uuid.NewString()
}
