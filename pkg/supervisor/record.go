package supervisor

import (
	"sync"
	"time"
)

// State is the monitor's position in the Healthy/Degraded/Restarting
// cycle. Stopped is terminal and entered only on shutdown or a fatal
// restart failure.
type State string

const (
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// HealthRecord is the process-wide health state. The monitor loop is
// the only writer; everyone else reads a consistent copy via Snapshot.
type HealthRecord struct {
	mu sync.RWMutex
	s  Snapshot
}

// Snapshot is one consistent view of the health record.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastProbe           time.Time
	LastSuccess         time.Time
	Restarts            int

	// RestartHold is the backoff interval armed by the most recent
	// restart. Zero once a probe succeeds.
	RestartHold time.Duration

	// LastError is the most recent probe or restart failure, empty
	// while healthy.
	LastError string
}

// NewHealthRecord returns a record in the optimistic initial state; the
// first probe corrects it if the server is not actually up.
func NewHealthRecord() *HealthRecord {
	return &HealthRecord{s: Snapshot{State: StateHealthy}}
}

// Snapshot returns a copy of the current record.
func (r *HealthRecord) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

func (r *HealthRecord) recordSuccess(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.State = StateHealthy
	r.s.ConsecutiveFailures = 0
	r.s.LastProbe = at
	r.s.LastSuccess = at
	r.s.RestartHold = 0
	r.s.LastError = ""
}

// recordFailure bumps the consecutive-failure counter and returns the
// new value. A restart in progress keeps its state; otherwise the
// record degrades.
func (r *HealthRecord) recordFailure(at time.Time, detail string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.ConsecutiveFailures++
	r.s.LastProbe = at
	r.s.LastError = detail
	if r.s.State != StateRestarting {
		r.s.State = StateDegraded
	}
	return r.s.ConsecutiveFailures
}

func (r *HealthRecord) recordRestart(hold time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.State = StateRestarting
	r.s.Restarts++
	r.s.RestartHold = hold
}

func (r *HealthRecord) setState(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.State = st
}
