package fit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
)

// ErrStrategiesExhausted is the cause of a failure report when no strategy
// applies to the remaining violations.
var ErrStrategiesExhausted = errors.New("no applicable strategy left")

// FailureReport is returned when no attempt fits. Violations are those of
// the best attempt, with signed margins.
type FailureReport struct {
	Target     string
	Summary    ir.FitSummary
	Violations []Violation
	Cause      error
}

func (e *FailureReport) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "resource fit failed for %s after %d attempt(s)", e.Target, e.Summary.Attempts)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %s", v)
	}
	return b.String()
}

func (e *FailureReport) Unwrap() error { return e.Cause }

// DiagCode implements diag.Coded.
func (e *FailureReport) DiagCode() diag.Code { return diag.ResourceFitFailure }

// IsFailureReport reports whether err is or wraps a FailureReport.
func IsFailureReport(err error) bool {
	var fr *FailureReport
	return errors.As(err, &fr)
}
