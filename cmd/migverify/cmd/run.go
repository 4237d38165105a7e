package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/obslabs/migverify/internal/build"
	"github.com/obslabs/migverify/internal/cleanup"
	"github.com/obslabs/migverify/internal/config"
	"github.com/obslabs/migverify/internal/harness"
	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/report"
	"github.com/obslabs/migverify/internal/supervisor"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision, build, start and verify in one shot",
	Long: `Runs the full verification pipeline. The harness is single-shot: it
is not retried on failure, but resource provisioning is idempotent so
re-invoking it after a failure is always safe.`,
	RunE: runHarness,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runHarness(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log := logging.New(logging.ParseLevel(cfg.LogLevel))
	coord := cleanup.New(log, 30*time.Second)

	// An operator interrupt unwinds exactly the same teardown stack as
	// a failure, then exits with the conventional interrupt code.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn("interrupted, unwinding", map[string]interface{}{"signal": sig.String()})
		coord.RunAll()
		os.Exit(130)
	}()

	results, err := harness.New(cfg, log, coord).Run(cmd.Context())

	signal.Stop(sigCh)
	coord.RunAll()

	if len(results) > 0 {
		if renderErr := report.Render(os.Stdout, outputFormat, results); renderErr != nil {
			log.Error("failed to render results", map[string]interface{}{"error": renderErr.Error()})
		}
	}
	if err != nil {
		printDiagnostics(err)
		return err
	}
	return nil
}

// printDiagnostics surfaces the payload carried by typed failures:
// matched error lines for a failed build, the log tail for a subject
// that never became ready.
func printDiagnostics(err error) {
	var buildErr *build.FailureError
	if errors.As(err, &buildErr) && len(buildErr.ErrorLines) > 0 {
		fmt.Fprintln(os.Stderr, "build errors:")
		for _, line := range buildErr.ErrorLines {
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
		return
	}
	var startErr *supervisor.StartupTimeoutError
	if errors.As(err, &startErr) && startErr.LogTail != "" {
		fmt.Fprintln(os.Stderr, "subject output:")
		fmt.Fprintln(os.Stderr, startErr.LogTail)
	}
}
