package supervisor

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func newSleepController(t *testing.T, grace time.Duration) *ExecController {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX signal handling")
	}
	c, err := NewExecController([]string{"sleep", "60"}, grace)
	if err != nil {
		t.Fatalf("NewExecController failed: %v", err)
	}
	return c
}

func TestExecController_EmptyCommand(t *testing.T) {
	if _, err := NewExecController(nil, 0); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestExecController_StartStop(t *testing.T) {
	c := newSleepController(t, 5*time.Second)
	ctx := context.Background()

	if c.Running() {
		t.Error("Running() = true before Start")
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Stop(context.Background()) })

	if !c.Running() {
		t.Error("Running() = false after Start")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if c.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestExecController_StartWhileRunning(t *testing.T) {
	c := newSleepController(t, 5*time.Second)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Stop(context.Background()) })

	if err := c.Start(ctx); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestExecController_StopWithoutStart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX signal handling")
	}
	c, err := NewExecController([]string{"sleep", "60"}, time.Second)
	if err != nil {
		t.Fatalf("NewExecController failed: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop on a never-started controller: %v", err)
	}
}

func TestExecController_KillAfterGrace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX signal handling")
	}
	// The child ignores SIGTERM, forcing the kill path.
	c, err := NewExecController([]string{"sh", "-c", `trap "" TERM; sleep 60`}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewExecController failed: %v", err)
	}
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Stop took %v, the kill path should be fast", elapsed)
	}
	if c.Running() {
		t.Error("Running() = true after kill")
	}
}

func TestExecController_DetectsExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX signal handling")
	}
	c, err := NewExecController([]string{"sh", "-c", "exit 0"}, time.Second)
	if err != nil {
		t.Fatalf("NewExecController failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for c.Running() {
		select {
		case <-deadline:
			t.Fatal("Running() never flipped after the process exited")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A clean restart is possible after an exit.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart after exit failed: %v", err)
	}
	c.Stop(context.Background())
}
