package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/obslabs/migverify/internal/logging"
	"github.com/obslabs/migverify/internal/logscan"
)

func newTestController() *Controller {
	return New(logging.New(logging.ERROR), logscan.Default())
}

// TestRunSuccess tests a clean build: exit zero and no error lines
func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "build.log")

	report, err := newTestController().Run(context.Background(), dir, logPath,
		"sh", "-c", "echo '   Compiling subject v1.0.0'; echo '    Finished release'")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Success {
		t.Errorf("Expected success, got exit=%d errors=%v", report.ExitCode, report.ErrorLines)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read build log: %v", err)
	}
	if !strings.Contains(string(content), "Compiling subject") {
		t.Errorf("Expected combined output in log artifact, got %q", string(content))
	}
}

// TestRunNonZeroExit tests that a failing exit status fails the build
func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()

	report, err := newTestController().Run(context.Background(), dir, filepath.Join(dir, "build.log"),
		"sh", "-c", "echo 'error: linking failed' >&2; exit 1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Success {
		t.Error("Expected failure on non-zero exit")
	}
	if report.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", report.ExitCode)
	}
	if len(report.ErrorLines) != 1 {
		t.Fatalf("Expected 1 captured error line, got %d", len(report.ErrorLines))
	}
	if !strings.Contains(report.ErrorLines[0], "linking failed") {
		t.Errorf("Expected matched error line, got %q", report.ErrorLines[0])
	}
}

// TestRunZeroExitWithErrorLines tests that embedded error text fails the
// build even when the tool exits zero
func TestRunZeroExitWithErrorLines(t *testing.T) {
	dir := t.TempDir()

	report, err := newTestController().Run(context.Background(), dir, filepath.Join(dir, "build.log"),
		"sh", "-c", "echo 'error[E0432]: unresolved import'; exit 0")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Success {
		t.Error("Expected failure despite zero exit status")
	}
	if report.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", report.ExitCode)
	}
}

// TestRunMissingCommand tests that an unstartable build surfaces as an error
func TestRunMissingCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := newTestController().Run(context.Background(), dir, filepath.Join(dir, "build.log"),
		"definitely-not-a-real-binary-xyz")
	if err == nil {
		t.Error("Expected error for missing build command, got nil")
	}
}
