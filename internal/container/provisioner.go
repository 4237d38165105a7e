package container

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/obslabs/migverify/internal/cleanup"
	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/retry"
)

// State represents the container lifecycle state
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateStopped  State = "stopped"
)

// Spec describes the ephemeral database container
type Spec struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Env           map[string]string
}

// Handle identifies a started container. Owned by the Provisioner.
type Handle struct {
	Name  string
	ID    string
	state State
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	return h.state
}

// TimeoutError is returned when the database never became reachable
// within the readiness ceiling.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("database in container %s not reachable after %v: %v", e.Name, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Runner executes an external command and returns its combined output.
// Abstracted so the docker argument plumbing is testable without docker.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Provisioner manages the ephemeral database container through the
// docker CLI.
type Provisioner struct {
	log   *logging.Logger
	coord *cleanup.Coordinator
	run   Runner
}

// New creates a provisioner backed by the local docker CLI
func New(log *logging.Logger, coord *cleanup.Coordinator) *Provisioner {
	return NewWithRunner(log, coord, execRunner)
}

// NewWithRunner creates a provisioner with a custom command runner
func NewWithRunner(log *logging.Logger, coord *cleanup.Coordinator, run Runner) *Provisioner {
	return &Provisioner{log: log, coord: coord, run: run}
}

// Ensure starts a fresh container for spec. A pre-existing container
// with the same name, in any state, is removed first, which makes
// repeated harness invocations idempotent. The teardown action is
// registered as soon as the start succeeds, before any readiness wait,
// so an interrupt during the wait still removes the container.
func (p *Provisioner) Ensure(ctx context.Context, spec Spec) (*Handle, error) {
	out, err := p.run(ctx, "docker", "ps", "-aq", "--filter", "name=^/"+spec.Name+"$")
	if err != nil {
		return nil, fmt.Errorf("failed to query existing containers: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	if strings.TrimSpace(string(out)) != "" {
		p.log.Info("removing stale container", map[string]interface{}{"name": spec.Name})
		if out, err := p.run(ctx, "docker", "rm", "-f", spec.Name); err != nil {
			return nil, fmt.Errorf("failed to remove stale container %s: %w (%s)", spec.Name, err, strings.TrimSpace(string(out)))
		}
	}

	args := runArgs(spec)
	out, err = p.run(ctx, "docker", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w (%s)", spec.Name, err, strings.TrimSpace(string(out)))
	}

	handle := &Handle{
		Name:  spec.Name,
		ID:    strings.TrimSpace(string(out)),
		state: StateStarting,
	}
	p.log.Info("container started", map[string]interface{}{"name": handle.Name, "id": handle.ID})

	p.coord.Register("remove container "+handle.Name, func(ctx context.Context) error {
		return p.Teardown(ctx, handle)
	})
	return handle, nil
}

// runArgs builds the docker run invocation for spec. Env keys are
// sorted so the invocation is deterministic.
func runArgs(spec Spec) []string {
	containerPort := spec.ContainerPort
	if containerPort == 0 {
		containerPort = 5432
	}
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, containerPort),
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	return append(args, spec.Image)
}

// WaitReady probes the SQL endpoint at a fixed interval until it
// answers or the ceiling is exceeded.
func (p *Provisioner) WaitReady(ctx context.Context, handle *Handle, dsn string, cfg retry.Config) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	err = retry.Poll(ctx, cfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Interval)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		return &TimeoutError{Name: handle.Name, Timeout: cfg.Timeout, Err: err}
	}

	handle.state = StateReady
	p.log.Info("database ready", map[string]interface{}{"name": handle.Name})
	return nil
}

// Teardown stops and removes the container. An already-absent container
// is not an error; teardown may run after a partial failure.
func (p *Provisioner) Teardown(ctx context.Context, handle *Handle) error {
	out, err := p.run(ctx, "docker", "rm", "-f", handle.Name)
	if err != nil {
		combined := err.Error() + " " + string(out)
		if strings.Contains(combined, "No such container") {
			handle.state = StateAbsent
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w (%s)", handle.Name, err, strings.TrimSpace(string(out)))
	}
	handle.state = StateStopped
	return nil
}
