package harness

import (
	"errors"

	"github.com/obslabs/migverify/internal/build"
	"github.com/obslabs/migverify/internal/container"
	"github.com/obslabs/migverify/internal/privilege"
	"github.com/obslabs/migverify/internal/supervisor"
)

// Exit codes for fatal conditions. 1 also covers verification failure
// and anything unclassified.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitPrivilege      = 2
	ExitProvision      = 3
	ExitBuild          = 4
	ExitStartupTimeout = 5
)

// ExitCode maps a pipeline error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var privErr *privilege.ViolationError
	if errors.As(err, &privErr) {
		return ExitPrivilege
	}
	var provErr *container.TimeoutError
	if errors.As(err, &provErr) {
		return ExitProvision
	}
	var buildErr *build.FailureError
	if errors.As(err, &buildErr) {
		return ExitBuild
	}
	var startErr *supervisor.StartupTimeoutError
	if errors.As(err, &startErr) {
		return ExitStartupTimeout
	}
	return ExitFailure
}
