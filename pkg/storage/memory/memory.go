// Package memory provides an in-memory storage.Store. It is the
// default ledger: nothing to provision, bounded, and fast enough to
// sit on the request path.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/wandlerhq/wandler/pkg/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is an in-memory ledger. Exchange rows are kept newest-first up
// to maxSize; running totals are never truncated by eviction.
type Store struct {
	mu sync.RWMutex

	exchanges map[string]*list.Element
	order     *list.List // front = newest
	maxSize   int        // 0 = unlimited

	stats storage.ExchangeStats

	health    []*storage.HealthEvent // oldest first
	maxHealth int
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an in-memory store. If maxSize is 0, exchange rows are
// kept without limit; otherwise the oldest row is dropped when the
// bound is reached. Health events share the same bound.
func New(maxSize int) *Store {
	return &Store{
		exchanges: make(map[string]*list.Element),
		order:     list.New(),
		maxSize:   maxSize,
		maxHealth: maxSize,
	}
}

// SaveExchange records one completed exchange. An empty ID is filled
// with a fresh UUID; a zero CreatedAt is filled with the current time.
func (s *Store) SaveExchange(ctx context.Context, rec *storage.ExchangeRecord) error {
	if rec.ID == "" {
		rec.ID = storage.NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exchanges[rec.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && s.order.Len() >= s.maxSize {
		s.evictOldest()
	}

	cp := *rec
	s.exchanges[rec.ID] = s.order.PushFront(&cp)
	s.applyStats(&cp)

	return nil
}

// GetExchange retrieves one exchange row by ID.
func (s *Store) GetExchange(ctx context.Context, id string) (*storage.ExchangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elem, ok := s.exchanges[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := *elem.Value.(*storage.ExchangeRecord)
	return &cp, nil
}

// ListExchanges returns up to limit rows, newest first.
func (s *Store) ListExchanges(ctx context.Context, limit int) ([]*storage.ExchangeRecord, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.ExchangeRecord, 0, min(limit, s.order.Len()))
	for elem := s.order.Front(); elem != nil && len(out) < limit; elem = elem.Next() {
		cp := *elem.Value.(*storage.ExchangeRecord)
		out = append(out, &cp)
	}

	return out, nil
}

// ExchangeStats returns running totals over all saved exchanges,
// including rows that have since been evicted.
func (s *Store) ExchangeStats(ctx context.Context) (*storage.ExchangeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.stats
	return &cp, nil
}

// SaveHealthEvent records one probe or restart outcome.
func (s *Store) SaveHealthEvent(ctx context.Context, ev *storage.HealthEvent) error {
	if ev.ID == "" {
		ev.ID = storage.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.health = append(s.health, &cp)
	if s.maxHealth > 0 && len(s.health) > s.maxHealth {
		s.health = s.health[len(s.health)-s.maxHealth:]
	}

	return nil
}

// ListHealthEvents returns up to limit events, newest first.
func (s *Store) ListHealthEvents(ctx context.Context, limit int) ([]*storage.HealthEvent, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.HealthEvent, 0, min(limit, len(s.health)))
	for i := len(s.health) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.health[i]
		out = append(out, &cp)
	}

	return out, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recent exchange row. Caller must hold
// the write lock.
func (s *Store) evictOldest() {
	back := s.order.Back()
	if back == nil {
		return
	}
	rec := back.Value.(*storage.ExchangeRecord)
	delete(s.exchanges, rec.ID)
	s.order.Remove(back)
}

// applyStats folds one record into the running totals. Caller must
// hold the write lock.
func (s *Store) applyStats(rec *storage.ExchangeRecord) {
	s.stats.Total++
	switch rec.Status {
	case storage.ExchangeCompleted:
		s.stats.Completed++
	case storage.ExchangeFailed:
		s.stats.Failed++
	case storage.ExchangeCanceled:
		s.stats.Canceled++
	}
	if rec.Stream {
		s.stats.Streamed++
	}
	s.stats.Retries += int64(rec.Retries)
	s.stats.InputTokens += int64(rec.InputTokens)
	s.stats.OutputTokens += int64(rec.OutputTokens)
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
