package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/obslabs/migverify/internal/cleanup"
	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/logscan"
)

func newTestSupervisor(interval, maxWait, grace time.Duration) (*Supervisor, *cleanup.Coordinator) {
	log := logging.New(logging.ERROR)
	coord := cleanup.New(log, 5*time.Second)
	return New(log, coord, logscan.Default(), interval, maxWait, grace), coord
}

// TestStartRegistersTeardown tests that termination is registered at
// acquisition time, before any readiness wait
func TestStartRegistersTeardown(t *testing.T) {
	sup, coord := newTestSupervisor(10*time.Millisecond, time.Second, 100*time.Millisecond)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "sleep 10")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop(context.Background(), handle)

	if coord.Len() != 1 {
		t.Errorf("Expected 1 registered teardown, got %d", coord.Len())
	}
	if handle.State() != StateStarting {
		t.Errorf("Expected starting state, got %s", handle.State())
	}
	if handle.PID <= 0 {
		t.Errorf("Expected recorded pid, got %d", handle.PID)
	}
}

// TestWaitReadyFindsMarker tests readiness detection on the growing log
func TestWaitReadyFindsMarker(t *testing.T) {
	sup, _ := newTestSupervisor(10*time.Millisecond, 5*time.Second, 100*time.Millisecond)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "echo 'booting'; sleep 0.1; echo 'starting HTTP server at 0.0.0.0:5080'; sleep 10")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop(context.Background(), handle)

	if err := sup.WaitReady(context.Background(), handle); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if handle.State() != StateReady {
		t.Errorf("Expected ready state, got %s", handle.State())
	}
}

// TestWaitReadyTimesOut tests the bounded wait with log tail diagnostics
func TestWaitReadyTimesOut(t *testing.T) {
	sup, _ := newTestSupervisor(10*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "echo 'still booting'; sleep 10")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sup.Stop(context.Background(), handle)

	err = sup.WaitReady(context.Background(), handle)
	if err == nil {
		t.Fatal("Expected startup timeout, got nil")
	}
	var timeoutErr *StartupTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected StartupTimeoutError, got %T", err)
	}
	if handle.State() != StateTimedOut {
		t.Errorf("Expected timed_out state, got %s", handle.State())
	}
}

// TestWaitReadyDetectsEarlyExit tests that a subject dying before the
// marker surfaces instead of waiting out the full bound
func TestWaitReadyDetectsEarlyExit(t *testing.T) {
	sup, _ := newTestSupervisor(10*time.Millisecond, 10*time.Second, 100*time.Millisecond)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "echo 'fatal: bad config'; exit 1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	err = sup.WaitReady(context.Background(), handle)
	if err == nil {
		t.Fatal("Expected error for subject that exited before readiness")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected early-exit detection well before the bound, took %v", elapsed)
	}
}

// TestStopGraceful tests SIGTERM termination within the grace window
func TestStopGraceful(t *testing.T) {
	sup, _ := newTestSupervisor(10*time.Millisecond, time.Second, 2*time.Second)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "sleep 30")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := sup.Stop(context.Background(), handle); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if handle.State() != StateTerminated {
		t.Errorf("Expected terminated state, got %s", handle.State())
	}
	if !handle.Exited() {
		t.Error("Expected process to have exited")
	}
}

// TestStopAlreadyExited tests that stopping a dead process is not an error
func TestStopAlreadyExited(t *testing.T) {
	sup, _ := newTestSupervisor(10*time.Millisecond, time.Second, 100*time.Millisecond)
	dir := t.TempDir()

	handle, err := sup.Start(context.Background(), dir, filepath.Join(dir, "subject.log"), nil,
		"sh", "-c", "exit 0")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let it exit
	<-handle.done

	if err := sup.Stop(context.Background(), handle); err != nil {
		t.Errorf("Expected already-exited process to be tolerated, got %v", err)
	}

	// Second stop is a no-op
	if err := sup.Stop(context.Background(), handle); err != nil {
		t.Errorf("Expected repeated stop to be a no-op, got %v", err)
	}
}

// TestSortedEnv tests deterministic env flattening
func TestSortedEnv(t *testing.T) {
	pairs := sortedEnv(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if len(pairs) != len(want) {
		t.Fatalf("Expected %d pairs, got %d", len(want), len(pairs))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("Expected pair %d to be %s, got %s", i, want[i], pairs[i])
		}
	}
}
