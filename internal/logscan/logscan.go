package logscan

import "strings"

// Markers for the subject's combined output. Readiness is an untyped
// substring match against unstructured text; the subject exposes no
// structured health signal, so the literal line it prints once its
// listener is bound is the only contract available.
const (
	// ReadyMarker is emitted by the subject once its HTTP listener is up
	ReadyMarker = "starting HTTP server at"
)

var defaultErrorMarkers = []string{
	"error[",
	"error:",
	"panicked at",
}

var defaultProgressMarkers = []string{
	"Compiling",
	"Building",
	"Finished",
}

// Scanner classifies individual output lines. Keeping the predicates
// here, away from process spawning, makes the matching logic testable
// on plain strings.
type Scanner struct {
	ReadyMarker     string
	ErrorMarkers    []string
	ProgressMarkers []string
}

// Default returns a scanner configured for the subject's build tool and
// server output.
func Default() Scanner {
	return Scanner{
		ReadyMarker:     ReadyMarker,
		ErrorMarkers:    defaultErrorMarkers,
		ProgressMarkers: defaultProgressMarkers,
	}
}

// IsReady reports whether line contains the readiness marker
func (s Scanner) IsReady(line string) bool {
	return s.ReadyMarker != "" && strings.Contains(line, s.ReadyMarker)
}

// IsError reports whether line matches any error marker
func (s Scanner) IsError(line string) bool {
	for _, m := range s.ErrorMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// IsProgress reports whether line matches any progress marker
func (s Scanner) IsProgress(line string) bool {
	for _, m := range s.ProgressMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
