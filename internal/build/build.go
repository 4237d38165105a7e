package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/logscan"
)

// Report summarizes a build attempt. The full log stays on disk as an
// artifact until cleanup; ErrorLines carries the display subset.
type Report struct {
	Success    bool
	ExitCode   int
	ErrorLines []string
	LogPath    string
}

// FailureError is returned when the build exited non-zero or emitted
// error-marker lines despite a zero exit.
type FailureError struct {
	ExitCode   int
	ErrorLines []string
	LogPath    string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("build failed (exit=%d, %d error lines, log: %s)", e.ExitCode, len(e.ErrorLines), e.LogPath)
}

// Controller runs the subject's build and classifies the outcome
type Controller struct {
	log  *logging.Logger
	scan logscan.Scanner
}

// New creates a build controller
func New(log *logging.Logger, scan logscan.Scanner) *Controller {
	return &Controller{log: log, scan: scan}
}

// Run executes the build command in dir, streaming combined
// stdout/stderr into the log artifact at logPath while filtering
// progress and error lines for display. Success requires both a zero
// exit status and zero error-marker lines: some build tooling exits
// zero while still printing embedded error text.
func (c *Controller) Run(ctx context.Context, dir, logPath string, name string, args ...string) (*Report, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create build log %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	c.log.Info("building subject", map[string]interface{}{"command": strings.Join(append([]string{name}, args...), " ")})

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start build: %w", err)
	}

	var errorLines []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(logFile, line)
			switch {
			case c.scan.IsError(line):
				errorLines = append(errorLines, line)
				c.log.Error(line)
			case c.scan.IsProgress(line):
				c.log.Info(line)
			}
		}
	}()

	waitErr := cmd.Wait()
	pw.Close()
	<-done

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("build did not run: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	report := &Report{
		Success:    exitCode == 0 && len(errorLines) == 0,
		ExitCode:   exitCode,
		ErrorLines: errorLines,
		LogPath:    logPath,
	}
	return report, nil
}
