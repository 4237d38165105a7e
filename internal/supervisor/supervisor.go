package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/obslabs/migverify/internal/cleanup"
	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/logscan"
)

// Handle tracks a spawned subject process. Owned by the Supervisor;
// other components treat it as read-only.
type Handle struct {
	PID       int
	LogPath   string
	StartedAt time.Time

	mu      sync.Mutex
	state   ProcessState
	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
	waitErr error
}

// State returns the current readiness state
func (h *Handle) State() ProcessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) transition(to ProcessState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ValidateTransition(h.state, to); err != nil {
		return err
	}
	h.state = to
	return nil
}

// Exited reports whether the process has exited
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// StartupTimeoutError is returned when the readiness marker never
// appeared within the wait bound. LogTail carries the end of the
// subject's output for diagnostics.
type StartupTimeoutError struct {
	Waited  time.Duration
	LogPath string
	LogTail string
}

func (e *StartupTimeoutError) Error() string {
	return fmt.Sprintf("subject not ready after %v (log: %s)", e.Waited, e.LogPath)
}

// Supervisor launches and monitors the subject process
type Supervisor struct {
	log      *logging.Logger
	coord    *cleanup.Coordinator
	scan     logscan.Scanner
	interval time.Duration
	maxWait  time.Duration
	grace    time.Duration
}

// New creates a supervisor. interval is the readiness poll period,
// maxWait bounds the readiness wait, grace bounds the SIGTERM-to-SIGKILL
// escalation window.
func New(log *logging.Logger, coord *cleanup.Coordinator, scan logscan.Scanner, interval, maxWait, grace time.Duration) *Supervisor {
	return &Supervisor{
		log:      log,
		coord:    coord,
		scan:     scan,
		interval: interval,
		maxWait:  maxWait,
		grace:    grace,
	}
}

// Start spawns the subject with env merged over the harness
// environment, redirecting combined output to the log artifact at
// logPath. A termination teardown action is registered immediately, so
// any later failure or interrupt still stops the process.
func (s *Supervisor) Start(ctx context.Context, dir, logPath string, env map[string]string, name string, args ...string) (*Handle, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create subject log %s: %w", logPath, err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), sortedEnv(env)...)
	// Own process group so Stop can signal the subject and any children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start subject: %w", err)
	}

	handle := &Handle{
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		StartedAt: time.Now(),
		state:     StateStarting,
		cmd:       cmd,
		logFile:   logFile,
		done:      make(chan struct{}),
	}
	go func() {
		handle.waitErr = cmd.Wait()
		close(handle.done)
	}()

	s.log.Info("subject started", map[string]interface{}{"pid": handle.PID, "log": logPath})

	s.coord.Register("stop subject process", func(ctx context.Context) error {
		return s.Stop(ctx, handle)
	})
	return handle, nil
}

// WaitReady polls the growing log artifact at a fixed interval for the
// readiness marker. A single bounded wait is definitive: on exceeding
// the bound the state becomes timed-out and the log tail is surfaced
// for diagnostics. There is no retry.
func (s *Supervisor) WaitReady(ctx context.Context, handle *Handle) error {
	deadline := time.Now().Add(s.maxWait)

	for {
		content, err := os.ReadFile(handle.LogPath)
		if err == nil && s.containsReadyMarker(string(content)) {
			if err := handle.transition(StateReady); err != nil {
				return err
			}
			s.log.Info("subject ready", map[string]interface{}{
				"pid":     handle.PID,
				"elapsed": time.Since(handle.StartedAt).Round(time.Millisecond).String(),
			})
			return nil
		}

		if handle.Exited() {
			handle.transition(StateTerminated)
			return &StartupTimeoutError{
				Waited:  time.Since(handle.StartedAt),
				LogPath: handle.LogPath,
				LogTail: tail(string(content), 200),
			}
		}

		if time.Now().After(deadline) {
			handle.transition(StateTimedOut)
			return &StartupTimeoutError{
				Waited:  s.maxWait,
				LogPath: handle.LogPath,
				LogTail: tail(string(content), 200),
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness wait cancelled: %w", ctx.Err())
		case <-time.After(s.interval):
		}
	}
}

func (s *Supervisor) containsReadyMarker(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if s.scan.IsReady(line) {
			return true
		}
	}
	return false
}

// IsRunning reports whether the subject process still exists
func (s *Supervisor) IsRunning(handle *Handle) bool {
	exists, err := process.PidExists(int32(handle.PID))
	return err == nil && exists
}

// Stop requests graceful termination, waits a bounded grace interval
// and escalates to a forced kill. A process that has already exited is
// not an error.
func (s *Supervisor) Stop(ctx context.Context, handle *Handle) error {
	if handle.State() == StateTerminated {
		handle.logFile.Close()
		return nil
	}
	defer func() {
		handle.transition(StateTerminated)
		handle.logFile.Close()
	}()

	if handle.Exited() || !s.IsRunning(handle) {
		return nil
	}

	// Signal the whole process group
	if err := syscall.Kill(-handle.PID, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("failed to signal subject (pid %d): %w", handle.PID, err)
	}

	select {
	case <-handle.done:
		s.log.Info("subject exited gracefully", map[string]interface{}{"pid": handle.PID})
		return nil
	case <-time.After(s.grace):
	}

	s.log.Warn("subject did not exit within grace period, killing", map[string]interface{}{"pid": handle.PID})
	if err := syscall.Kill(-handle.PID, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill subject (pid %d): %w", handle.PID, err)
	}

	select {
	case <-handle.done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for subject to die: %w", ctx.Err())
	}
	return nil
}

// sortedEnv flattens an env map into KEY=value pairs in key order
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return pairs
}

// tail returns the last n lines of content
func tail(content string, n int) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
