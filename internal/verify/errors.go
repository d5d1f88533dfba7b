package verify

import (
	"fmt"
	"strings"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
)

// GateError halts a run: some non-waived obligations are not verified.
type GateError struct {
	Round    ir.Round
	Failures []ir.ObligationReport
}

func (e *GateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "round %s gate: %d obligation(s) not verified", e.Round, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s %s [%s] %s", ir.Short(f.ID), f.Kind, f.Status, f.Predicate)
		if f.Context != "" {
			fmt.Fprintf(&b, " at %s", f.Context)
		}
		if f.Counterexample != "" {
			fmt.Fprintf(&b, "\n    counterexample: %s", f.Counterexample)
		}
	}
	return b.String()
}

// DiagCode implements diag.Coded. A gate that fails only because critical
// obligations ran out of time reports a timeout.
func (e *GateError) DiagCode() diag.Code {
	timeout := false
	for _, f := range e.Failures {
		switch {
		case f.Status == ir.ResultFailed:
			return diag.ObligationFailure
		case f.Status == ir.ResultInconclusiveTimeout && f.Critical:
			timeout = true
		}
	}
	if timeout {
		return diag.Timeout
	}
	return diag.ObligationFailure
}

// WaiverPolicyError reports malformed or duplicate waivers, a waiver budget
// overrun, or obligations that failed after their waiver expired.
type WaiverPolicyError struct {
	Problems []string
	Expired  []ir.Waiver
	Failures []ir.ObligationReport
}

func (e *WaiverPolicyError) Error() string {
	msgs := append([]string(nil), e.Problems...)
	for _, w := range e.Expired {
		msgs = append(msgs, fmt.Sprintf("waiver for %s by %s expired %s",
			ir.Short(w.Obligation), w.Author, w.Expires.UTC().Format("2006-01-02")))
	}
	return "waiver policy violation: " + strings.Join(msgs, "; ")
}

// DiagCode implements diag.Coded.
func (e *WaiverPolicyError) DiagCode() diag.Code { return diag.WaiverPolicyViolation }
