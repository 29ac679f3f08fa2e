package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExecController runs the supervised server as a child process. Stop
// sends SIGTERM first so the server can drain in-flight requests, then
// kills after the grace period. Stdout and stderr are inherited so the
// server's logs interleave with the supervisor's.
type ExecController struct {
	command []string
	grace   time.Duration

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{} // closed when Wait returns
}

// NewExecController creates a controller for the given command line.
// A zero grace period defaults to 35 seconds, slightly past the
// server's default shutdown timeout.
func NewExecController(command []string, grace time.Duration) (*ExecController, error) {
	if len(command) == 0 {
		return nil, errors.New("supervisor: server command is required")
	}
	if grace <= 0 {
		grace = 35 * time.Second
	}
	return &ExecController{command: command, grace: grace}, nil
}

// Start launches the server process. It returns once the process is
// running, not once it is serving; the monitor's probes cover the rest.
func (c *ExecController) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runningLocked() {
		return errors.New("supervisor: server process already running")
	}

	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", c.command[0], err)
	}

	done := make(chan struct{})
	c.cmd, c.done = cmd, done
	slog.Info("server process started", "pid", cmd.Process.Pid, "command", c.command[0])

	// Reap the process whenever it exits, expected or not. Running()
	// flips to false at that moment and the next probe cycle reacts.
	go func() {
		err := cmd.Wait()
		close(done)
		if err != nil {
			slog.Warn("server process exited", "pid", cmd.Process.Pid, "error", err)
			return
		}
		slog.Info("server process exited", "pid", cmd.Process.Pid)
	}()
	return nil
}

// Stop terminates the server process: SIGTERM, wait out the grace
// period, SIGKILL if it is still up. A process that is not running is
// left alone.
func (c *ExecController) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd, done := c.cmd, c.done
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	slog.Info("stopping server process", "pid", pid, "grace", c.grace)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Exited between the check and the signal.
		return nil
	}

	timer := time.NewTimer(c.grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
		slog.Warn("server process ignored SIGTERM, killing", "pid", pid)
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing server process %d: %w", pid, err)
	}
	<-done
	return nil
}

// Running reports whether the server process is currently alive.
func (c *ExecController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

func (c *ExecController) runningLocked() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
