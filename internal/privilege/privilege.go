package privilege

import (
	"fmt"
	"os"
)

// ViolationError is returned when the harness is invoked with elevated
// privileges. It fires before any resource is acquired, so there is
// nothing to unwind on this path.
type ViolationError struct {
	UID         int
	Remediation string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("refusing to run with elevated privileges (euid=%d): %s", e.UID, e.Remediation)
}

// Check inspects the effective execution identity. The harness creates
// containers, spawns the subject and deletes directories; doing any of
// that as root turns a harness bug into a system-wide problem.
func Check() error {
	euid := os.Geteuid()
	if euid == 0 {
		return &ViolationError{
			UID:         euid,
			Remediation: "re-run as a regular user with docker group membership",
		}
	}
	return nil
}
