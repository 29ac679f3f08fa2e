package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wandlerhq/wandler/pkg/storage"
	"github.com/wandlerhq/wandler/pkg/storage/memory"
)

// fakeController records lifecycle calls without touching any real
// process.
type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	running  bool
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{running: true}
}

func (c *fakeController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.starts++
	c.running = true
	return nil
}

func (c *fakeController) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.running = false
	return nil
}

func (c *fakeController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *fakeController) restarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// scriptedServer stands in for the supervised server, with health and
// backend probe outcomes flippable per test.
type scriptedServer struct {
	mu      sync.Mutex
	healthy bool
	backend bool
}

func newScriptedServer(t *testing.T) (*scriptedServer, *httptest.Server) {
	t.Helper()
	s := &scriptedServer{healthy: true, backend: true}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.healthy
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("GET /test-connection", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ok := s.backend
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"connected"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *scriptedServer) setHealthy(ok bool) {
	s.mu.Lock()
	s.healthy = ok
	s.mu.Unlock()
}

func (s *scriptedServer) setBackend(ok bool) {
	s.mu.Lock()
	s.backend = ok
	s.mu.Unlock()
}

func newTestMonitor(t *testing.T, cfg Config, proc ProcessController, store storage.Store) *Monitor {
	t.Helper()
	m, err := New(cfg, proc, store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{ServerURL: "http://localhost"}, nil, nil); err == nil {
		t.Error("expected error for nil process controller")
	}
	if _, err := New(Config{}, newFakeController(), nil); err == nil {
		t.Error("expected error for empty server URL")
	}
}

func TestMonitor_HealthyProbe(t *testing.T) {
	_, srv := newScriptedServer(t)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL}, proc, nil)

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	snap := m.Record().Snapshot()
	if snap.State != StateHealthy {
		t.Errorf("state = %s, want healthy", snap.State)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", snap.ConsecutiveFailures)
	}
	if snap.LastSuccess.IsZero() {
		t.Error("last success time not recorded")
	}
	if proc.restarts() != 0 {
		t.Errorf("healthy server restarted %d times", proc.restarts())
	}
}

func TestMonitor_RestartAtThreshold(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setHealthy(false)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 3}, proc, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := m.tick(ctx); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
	}
	if proc.restarts() != 0 {
		t.Fatalf("restarted before the threshold: %d", proc.restarts())
	}
	if snap := m.Record().Snapshot(); snap.State != StateDegraded {
		t.Errorf("state below threshold = %s, want degraded", snap.State)
	}

	if err := m.tick(ctx); err != nil {
		t.Fatalf("threshold tick failed: %v", err)
	}
	if proc.restarts() != 1 {
		t.Fatalf("restarts = %d, want exactly 1", proc.restarts())
	}
	snap := m.Record().Snapshot()
	if snap.State != StateRestarting {
		t.Errorf("state = %s, want restarting", snap.State)
	}
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("failures = %d, want 3 (restart must not reset the counter)", snap.ConsecutiveFailures)
	}
}

func TestMonitor_InterspersedSuccessPreventsRestart(t *testing.T) {
	script, srv := newScriptedServer(t)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 3}, proc, nil)

	ctx := context.Background()
	for _, healthy := range []bool{false, false, true, false, false, true} {
		script.setHealthy(healthy)
		if err := m.tick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}

	if proc.restarts() != 0 {
		t.Errorf("restarts = %d, want 0 for interspersed failures", proc.restarts())
	}
	snap := m.Record().Snapshot()
	if snap.State != StateHealthy || snap.ConsecutiveFailures != 0 {
		t.Errorf("final record = %+v, want healthy with zero failures", snap)
	}
}

func TestMonitor_CounterResetsOnProbeSuccessOnly(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setHealthy(false)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 2}, proc, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := m.tick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}
	if proc.restarts() != 1 {
		t.Fatalf("restarts = %d, want 1", proc.restarts())
	}

	// Still failing after the restart: the counter keeps growing and
	// the pending hold suppresses an immediate second restart.
	if err := m.tick(ctx); err != nil {
		t.Fatalf("post-restart tick failed: %v", err)
	}
	snap := m.Record().Snapshot()
	if snap.ConsecutiveFailures != 3 {
		t.Errorf("failures after restart = %d, want 3", snap.ConsecutiveFailures)
	}
	if proc.restarts() != 1 {
		t.Errorf("restarts = %d, want still 1 during hold", proc.restarts())
	}

	script.setHealthy(true)
	if err := m.tick(ctx); err != nil {
		t.Fatalf("recovery tick failed: %v", err)
	}
	snap = m.Record().Snapshot()
	if snap.State != StateHealthy || snap.ConsecutiveFailures != 0 {
		t.Errorf("record after recovery = %+v, want healthy with zero failures", snap)
	}
}

func TestMonitor_BackoffHoldSuppressesRestart(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setHealthy(false)
	proc := newFakeController()
	m := newTestMonitor(t, Config{
		ServerURL:             srv.URL,
		FailureThreshold:      1,
		RestartInitialBackoff: time.Hour,
	}, proc, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.tick(ctx); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
	}

	if proc.restarts() != 1 {
		t.Errorf("restarts = %d, want 1 while the hold is pending", proc.restarts())
	}
}

func TestMonitor_BackoffGrowsPerRestart(t *testing.T) {
	_, srv := newScriptedServer(t)
	proc := newFakeController()
	m := newTestMonitor(t, Config{
		ServerURL:             srv.URL,
		RestartInitialBackoff: time.Second,
		RestartMaxBackoff:     5 * time.Second,
	}, proc, nil)

	ctx := context.Background()
	var holds []time.Duration
	for i := 0; i < 4; i++ {
		if err := m.restart(ctx, "test"); err != nil {
			t.Fatalf("restart failed: %v", err)
		}
		holds = append(holds, m.Record().Snapshot().RestartHold)
	}

	for i := 1; i < len(holds); i++ {
		if holds[i] < holds[i-1] {
			t.Errorf("hold %d = %v, shrank from %v", i, holds[i], holds[i-1])
		}
	}
	if holds[0] != time.Second {
		t.Errorf("first hold = %v, want 1s", holds[0])
	}
	if last := holds[len(holds)-1]; last > 5*time.Second {
		t.Errorf("hold %v exceeds the cap", last)
	}
}

func TestMonitor_RestartFailureIsFatal(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setHealthy(false)
	proc := newFakeController()
	proc.startErr = errors.New("exec format error")
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 1}, proc, nil)

	err := m.tick(context.Background())
	if !errors.Is(err, ErrRestartFailed) {
		t.Fatalf("tick error = %v, want ErrRestartFailed", err)
	}
}

func TestMonitor_DeadProcessCountsAsFailure(t *testing.T) {
	_, srv := newScriptedServer(t) // healthy endpoint, but process gone
	proc := newFakeController()
	proc.running = false
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 3}, proc, nil)

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	snap := m.Record().Snapshot()
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("failures = %d, want 1 for a dead process", snap.ConsecutiveFailures)
	}
}

func TestMonitor_BackendProbeDegrades(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setBackend(false)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, CheckBackend: true}, proc, nil)

	outcome, err := m.probe(context.Background())
	if err == nil {
		t.Fatal("expected backend probe failure")
	}
	if outcome != "degraded" {
		t.Errorf("outcome = %q, want degraded", outcome)
	}

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if snap := m.Record().Snapshot(); snap.State != StateDegraded {
		t.Errorf("state = %s, want degraded", snap.State)
	}
}

func TestMonitor_BackendProbeSkippedWhenOff(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setBackend(false)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL}, proc, nil)

	if outcome, err := m.probe(context.Background()); err != nil || outcome != "success" {
		t.Errorf("probe = (%q, %v), want success with backend checks off", outcome, err)
	}
}

func TestMonitor_LedgerRecordsProbesAndRestarts(t *testing.T) {
	script, srv := newScriptedServer(t)
	script.setHealthy(false)
	proc := newFakeController()
	store := memory.New(100)
	m := newTestMonitor(t, Config{ServerURL: srv.URL, FailureThreshold: 1}, proc, store)

	ctx := context.Background()
	if err := m.tick(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	events, err := store.ListHealthEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListHealthEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want probe + restart", len(events))
	}
	// Newest first: the restart follows the failed probe.
	if events[0].Kind != storage.HealthEventRestart || !events[0].OK {
		t.Errorf("newest event = %+v, want successful restart", events[0])
	}
	if events[1].Kind != storage.HealthEventProbe || events[1].OK {
		t.Errorf("oldest event = %+v, want failed probe", events[1])
	}
	if events[1].ConsecutiveFailures != 1 {
		t.Errorf("probe event failures = %d, want 1", events[1].ConsecutiveFailures)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	_, srv := newScriptedServer(t)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, Interval: time.Hour}, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on shutdown, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if snap := m.Record().Snapshot(); snap.State != StateStopped {
		t.Errorf("state = %s, want stopped", snap.State)
	}
}

func TestMonitor_ConfigRestartRequest(t *testing.T) {
	_, srv := newScriptedServer(t)
	proc := newFakeController()
	m := newTestMonitor(t, Config{ServerURL: srv.URL, Interval: time.Hour}, proc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.RequestRestart("configuration changed")

	deadline := time.After(2 * time.Second)
	for proc.restarts() == 0 {
		select {
		case <-deadline:
			t.Fatal("requested restart never happened")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
