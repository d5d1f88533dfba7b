package emit

import (
	"errors"
	"fmt"

	"github.com/roach88/kiln/internal/diag"
)

// EmissionError is a backend-reported emission failure. Partial is set
// when the backend offered a usable partial artifact.
type EmissionError struct {
	Backend string
	Node    string
	Partial *Artifact
	Err     error
}

func (e *EmissionError) Error() string {
	msg := "emission failed in " + e.Backend
	if e.Node != "" {
		msg += fmt.Sprintf(" at node %s", e.Node)
	}
	if e.Partial != nil {
		msg += " (partial artifact offered)"
	}
	return msg + ": " + e.Err.Error()
}

func (e *EmissionError) Unwrap() error { return e.Err }

// DiagCode implements diag.Coded.
func (e *EmissionError) DiagCode() diag.Code { return diag.EmissionError }

// Usable reports whether the run may continue with the partial artifact.
func (e *EmissionError) Usable() bool { return e.Partial != nil && e.Partial.Size > 0 }

// IsEmissionError reports whether err is or wraps an EmissionError.
func IsEmissionError(err error) bool {
	var ee *EmissionError
	return errors.As(err, &ee)
}
