package supervisor

import "fmt"

// ProcessState tracks the subject through its readiness lifecycle
type ProcessState string

const (
	StateUnstarted  ProcessState = "unstarted"
	StateStarting   ProcessState = "starting"
	StateReady      ProcessState = "ready"
	StateTimedOut   ProcessState = "timed_out"
	StateTerminated ProcessState = "terminated"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[ProcessState]map[ProcessState]bool{
	StateUnstarted: {
		StateStarting: true, // Unstarted → Starting (process spawned)
	},
	StateStarting: {
		StateReady:      true, // Starting → Ready (readiness marker observed)
		StateTimedOut:   true, // Starting → TimedOut (marker never observed within bound)
		StateTerminated: true, // Starting → Terminated (stopped before readiness)
	},
	StateReady: {
		StateTerminated: true, // Ready → Terminated (graceful or forced stop)
	},
	StateTimedOut: {
		StateTerminated: true, // TimedOut → Terminated (teardown after diagnosis)
	},
	// Terminal state
	StateTerminated: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to ProcessState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
