package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wandlerhq/wandler/pkg/debug"
	"github.com/wandlerhq/wandler/pkg/observability"
	"github.com/wandlerhq/wandler/pkg/storage"
)

// ErrRestartFailed means the process controller could not bring the
// server back up. The monitor loop halts on it: when self-healing
// itself is broken, automatic retry cannot help and an operator has
// to intervene.
var ErrRestartFailed = errors.New("supervisor: server restart failed")

// ProcessController manages the supervised server process. The monitor
// decides when to restart; the controller knows how. Stop must be a
// no-op when the process is not running, and Start returns once the
// process is launched, not necessarily once it is serving.
type ProcessController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Config carries the monitor's tuning knobs. Zero values select the
// defaults noted per field.
type Config struct {
	// ServerURL is the base URL of the supervised server, probed at
	// /health and optionally /test-connection.
	ServerURL string

	// Interval between probes. Default 30s.
	Interval time.Duration

	// FailureThreshold is the consecutive-failure count that triggers
	// a restart. Default 3.
	FailureThreshold int

	// ProbeTimeout bounds one probe round trip. Default 10s.
	ProbeTimeout time.Duration

	// CheckBackend additionally probes /test-connection, so a dead
	// backend shows up as degraded before clients notice.
	CheckBackend bool

	// RestartInitialBackoff and RestartMaxBackoff bound the hold-off
	// between consecutive restarts. Defaults 30s and 5m. The hold-off
	// doubles per restart and resets on the next successful probe.
	RestartInitialBackoff time.Duration
	RestartMaxBackoff     time.Duration
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return 30 * time.Second
	}
	return c.Interval
}

func (c Config) failureThreshold() int {
	if c.FailureThreshold <= 0 {
		return 3
	}
	return c.FailureThreshold
}

func (c Config) probeTimeout() time.Duration {
	if c.ProbeTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ProbeTimeout
}

func (c Config) initialBackoff() time.Duration {
	if c.RestartInitialBackoff <= 0 {
		return 30 * time.Second
	}
	return c.RestartInitialBackoff
}

func (c Config) maxBackoff() time.Duration {
	if c.RestartMaxBackoff <= 0 {
		return 5 * time.Minute
	}
	return c.RestartMaxBackoff
}

// Monitor is the out-of-band health loop. It owns the server process
// lifecycle and shares nothing with request handling; probe outcomes
// and restarts surface through logs, metrics, and the health ledger.
type Monitor struct {
	cfg   Config
	proc  ProcessController
	store storage.Store // optional ledger, nil disables persistence

	client     *http.Client
	healthURL  string
	backendURL string // empty when backend probing is off

	record    *HealthRecord
	backoff   *backoff.ExponentialBackOff
	holdUntil time.Time // failure-driven restarts wait this out
	restartCh chan string
}

// New creates a monitor for the server at cfg.ServerURL, restarting it
// through proc when probes keep failing.
func New(cfg Config, proc ProcessController, store storage.Store) (*Monitor, error) {
	if proc == nil {
		return nil, errors.New("supervisor: process controller is required")
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("supervisor: server URL is required")
	}

	base := strings.TrimRight(cfg.ServerURL, "/")
	m := &Monitor{
		cfg:       cfg,
		proc:      proc,
		store:     store,
		client:    &http.Client{},
		healthURL: base + "/health",
		record:    NewHealthRecord(),
		backoff:   newRestartBackoff(cfg.initialBackoff(), cfg.maxBackoff()),
		restartCh: make(chan string, 1),
	}
	if cfg.CheckBackend {
		m.backendURL = base + "/test-connection"
	}
	return m, nil
}

// newRestartBackoff builds the capped exponential hold-off schedule.
// Randomization is disabled so consecutive holds are reproducible and
// never shrink.
func newRestartBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // the monitor never gives up
	bo.Reset()
	return bo
}

// Record exposes the health record for observers.
func (m *Monitor) Record() *HealthRecord {
	return m.record
}

// RequestRestart asks the loop for an out-of-cycle restart, used when
// the configuration file changes. Requests collapse while one is
// already pending.
func (m *Monitor) RequestRestart(reason string) {
	select {
	case m.restartCh <- reason:
	default:
	}
}

// Run probes on the configured interval until ctx is done. It returns
// nil on shutdown and ErrRestartFailed when the controller cannot
// restart the server.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("health monitor started",
		"interval", m.cfg.interval(),
		"failure_threshold", m.cfg.failureThreshold(),
		"backend_probe", m.backendURL != "")

	ticker := time.NewTicker(m.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.record.setState(StateStopped)
			slog.Info("health monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.record.setState(StateStopped)
				return err
			}
		case reason := <-m.restartCh:
			if err := m.restart(ctx, reason); err != nil {
				m.record.setState(StateStopped)
				return err
			}
		}
	}
}

// tick runs one probe cycle and restarts the server once the failure
// threshold is reached and no backoff hold is pending.
func (m *Monitor) tick(ctx context.Context) error {
	var outcome string
	var err error
	if !m.proc.Running() {
		// No point probing a process that is already gone.
		outcome, err = "unhealthy", errors.New("server process is not running")
	} else {
		outcome, err = m.probe(ctx)
	}

	now := time.Now()
	if err == nil {
		m.record.recordSuccess(now)
		m.backoff.Reset()
		m.holdUntil = time.Time{}
		observability.ConsecutiveFailures.Set(0)
		observability.HealthProbesTotal.WithLabelValues("success").Inc()
		m.logEvent(ctx, &storage.HealthEvent{Kind: storage.HealthEventProbe, OK: true})
		debug.Log("supervisor", "probe succeeded")
		return nil
	}

	failures := m.record.recordFailure(now, err.Error())
	observability.ConsecutiveFailures.Set(float64(failures))
	observability.HealthProbesTotal.WithLabelValues(outcome).Inc()
	m.logEvent(ctx, &storage.HealthEvent{
		Kind:                storage.HealthEventProbe,
		ConsecutiveFailures: failures,
		Detail:              err.Error(),
	})
	slog.Warn("health probe failed",
		"outcome", outcome,
		"consecutive_failures", failures,
		"threshold", m.cfg.failureThreshold(),
		"error", err)

	if failures < m.cfg.failureThreshold() {
		return nil
	}
	if now.Before(m.holdUntil) {
		slog.Info("restart held back by backoff", "until", m.holdUntil)
		return nil
	}
	return m.restart(ctx, fmt.Sprintf("%d consecutive probe failures", failures))
}

// restart stops and relaunches the server. Each restart arms the next
// hold-off; only a successful probe afterwards resets the schedule, so
// a server that keeps coming up sick is restarted at growing intervals
// instead of in a tight loop.
func (m *Monitor) restart(ctx context.Context, reason string) error {
	m.record.setState(StateRestarting)
	hold := m.backoff.NextBackOff()
	m.holdUntil = time.Now().Add(hold)
	slog.Warn("restarting server", "reason", reason, "next_attempt_hold", hold)

	err := m.proc.Stop(ctx)
	if err == nil {
		err = m.proc.Start(ctx)
	}
	if err != nil {
		observability.RestartsTotal.WithLabelValues("error").Inc()
		m.logEvent(ctx, &storage.HealthEvent{
			Kind:                storage.HealthEventRestart,
			ConsecutiveFailures: m.record.Snapshot().ConsecutiveFailures,
			Detail:              err.Error(),
		})
		slog.Error("server restart failed, monitor halting", "error", err)
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	m.record.recordRestart(hold)
	observability.RestartsTotal.WithLabelValues("success").Inc()
	m.logEvent(ctx, &storage.HealthEvent{
		Kind:                storage.HealthEventRestart,
		OK:                  true,
		ConsecutiveFailures: m.record.Snapshot().ConsecutiveFailures,
		Detail:              reason,
	})
	slog.Info("server restarted", "reason", reason)
	return nil
}

// logEvent appends one row to the health ledger. Ledger failures are
// logged and dropped; the monitor never fails because bookkeeping did.
func (m *Monitor) logEvent(ctx context.Context, ev *storage.HealthEvent) {
	if m.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.store.SaveHealthEvent(sctx, ev); err != nil {
		slog.Warn("health ledger write failed", "kind", ev.Kind, "error", err)
	}
}
