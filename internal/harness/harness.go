package harness

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"

	_ "github.com/lib/pq"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/obslabs/migverify/internal/build"
	"github.com/obslabs/migverify/internal/cleanup"
	"github.com/obslabs/migverify/internal/config"
	"github.com/obslabs/migverify/internal/container"
	"github.com/obslabs/migverify/internal/envfile"
	"github.com/obslabs/migverify/internal/fixtures"
	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/logscan"
	"github.com/obslabs/migverify/internal/privilege"
	"github.com/obslabs/migverify/internal/retry"
	"github.com/obslabs/migverify/internal/supervisor"
	"github.com/obslabs/migverify/internal/verify"
)

// Harness wires the full verification pipeline: privilege guard,
// database provisioning, fixture seeding, config emission, subject
// build, subject supervision, migration verification. Every acquired
// resource registers its teardown with the cleanup coordinator at
// acquisition time; the caller owns running the coordinator on every
// exit path.
type Harness struct {
	cfg   config.Config
	log   *logging.Logger
	coord *cleanup.Coordinator
}

// New creates a harness
func New(cfg config.Config, log *logging.Logger, coord *cleanup.Coordinator) *Harness {
	return &Harness{cfg: cfg, log: log, coord: coord}
}

// Run executes the pipeline sequentially. It returns whatever
// verification results were produced (possibly none) and the first
// fatal error. It never runs cleanup itself.
func (h *Harness) Run(ctx context.Context) ([]verify.Result, error) {
	if err := privilege.Check(); err != nil {
		return nil, err
	}
	h.logHostInfo()

	if err := h.prepareDirs(); err != nil {
		return nil, err
	}

	prov := container.New(h.log, h.coord)
	handle, err := prov.Ensure(ctx, container.Spec{
		Name:     h.cfg.ContainerName,
		Image:    h.cfg.ContainerImage,
		HostPort: h.cfg.PostgresPort,
		Env:      h.cfg.ContainerEnv(),
	})
	if err != nil {
		return nil, err
	}
	if err := prov.WaitReady(ctx, handle, h.cfg.DSN(), retry.Config{
		Interval: h.cfg.ProvisionInterval,
		Timeout:  h.cfg.ProvisionTimeout,
	}); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", h.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	h.coord.Register("close database handle", func(context.Context) error {
		return db.Close()
	})

	seeded, err := h.seedFixtures(ctx, db)
	if err != nil {
		return nil, err
	}

	if err := h.emitConfig(); err != nil {
		return nil, err
	}

	if err := h.buildSubject(ctx); err != nil {
		return nil, err
	}

	if err := h.startSubject(ctx); err != nil {
		return nil, err
	}

	results, err := verify.New(db, h.log).Run(ctx, h.cfg.FixtureModule, seeded)
	if err != nil {
		return results, err
	}

	h.log.Info("migration verified", map[string]interface{}{"checks": len(results)})
	return results, nil
}

// logHostInfo prints a short banner about the machine the run executes
// on; useful when operators paste harness output into bug reports.
func (h *Harness) logHostInfo() {
	fields := map[string]interface{}{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if counts, err := cpu.Counts(true); err == nil {
		fields["cpus"] = counts
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["ram_gb"] = fmt.Sprintf("%.1f", float64(vm.Total)/(1<<30))
	}
	h.log.Info("host", fields)
}

func (h *Harness) prepareDirs() error {
	for _, dir := range []string{h.cfg.ArtifactDir, h.cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	h.coord.Register("remove artifact directory", func(context.Context) error {
		return os.RemoveAll(h.cfg.ArtifactDir)
	})
	h.coord.Register("remove data directory", func(context.Context) error {
		return os.RemoveAll(h.cfg.DataDir)
	})
	return nil
}

func (h *Harness) seedFixtures(ctx context.Context, db *sql.DB) ([]fixtures.Session, error) {
	if err := fixtures.EnsureMetaTable(ctx, db); err != nil {
		return nil, err
	}
	seeded := fixtures.Generate(h.cfg.FixtureCount)
	if err := fixtures.Seed(ctx, db, h.cfg.FixtureModule, seeded); err != nil {
		return nil, err
	}
	h.log.Info("fixtures seeded", map[string]interface{}{
		"module": h.cfg.FixtureModule,
		"rows":   len(seeded),
	})
	return seeded, nil
}

func (h *Harness) emitConfig() error {
	path := h.cfg.EnvFilePath()
	if err := envfile.Write(path, h.cfg.SubjectEnv()); err != nil {
		return err
	}
	h.log.Info("config emitted", map[string]interface{}{"path": path})
	return nil
}

func (h *Harness) buildSubject(ctx context.Context) error {
	ctrl := build.New(h.log, logscan.Default())
	cmd := h.cfg.BuildCommand
	report, err := ctrl.Run(ctx, h.cfg.SubjectDir, h.cfg.BuildLogPath(), cmd[0], cmd[1:]...)
	if err != nil {
		return err
	}
	if !report.Success {
		return &build.FailureError{
			ExitCode:   report.ExitCode,
			ErrorLines: report.ErrorLines,
			LogPath:    report.LogPath,
		}
	}
	return nil
}

func (h *Harness) startSubject(ctx context.Context) error {
	sup := supervisor.New(h.log, h.coord, logscan.Default(),
		h.cfg.StartupInterval, h.cfg.StartupTimeout, h.cfg.StopGrace)
	cmd := h.cfg.SubjectCommand
	handle, err := sup.Start(ctx, h.cfg.SubjectDir, h.cfg.SubjectLogPath(), h.cfg.SubjectEnv(), cmd[0], cmd[1:]...)
	if err != nil {
		return err
	}
	return sup.WaitReady(ctx, handle)
}
