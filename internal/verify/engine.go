// Package verify discharges proof obligations.
//
// A Dispatcher runs each obligation through an ordered chain of engines,
// cheapest first, and stops at the first definitive answer:
//
//	structural -> interval -> solver -> explore -> timing
//
// Engines never report success they cannot back with evidence. A panic,
// fault or timeout inside an engine becomes an inconclusive outcome and the
// chain escalates to the next engine.
package verify

import (
	"context"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Engine decides obligations of the kinds it accepts.
type Engine interface {
	Name() string
	Version() string
	Accepts(o *ir.Obligation) bool
	Attempt(ctx context.Context, o *ir.Obligation) Outcome
}

// OutcomeKind classifies an engine attempt.
type OutcomeKind int

const (
	OutcomeInconclusive OutcomeKind = iota
	OutcomeProven
	OutcomeDisproven
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeProven:
		return "proven"
	case OutcomeDisproven:
		return "disproven"
	}
	return "inconclusive"
}

// Outcome is the result of one engine attempt.
type Outcome struct {
	Kind           OutcomeKind
	Evidence       ir.IRObject
	Counterexample ir.Counterexample
	Reason         string
	TimedOut       bool
}

// Proven returns a proof outcome carrying evidence.
func Proven(evidence ir.IRObject) Outcome {
	return Outcome{Kind: OutcomeProven, Evidence: evidence}
}

// Disproven returns a refutation.
func Disproven(c ir.Counterexample) Outcome {
	return Outcome{Kind: OutcomeDisproven, Counterexample: c}
}

// Inconclusive returns an outcome that lets the chain escalate.
func Inconclusive(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeInconclusive, Reason: fmt.Sprintf(format, args...)}
}

// Definitive reports whether the outcome settles the obligation.
func (o Outcome) Definitive() bool { return o.Kind != OutcomeInconclusive }

// verdict returns the witness verdict and evidence for a definitive outcome.
func (o Outcome) verdict() (ir.Verdict, ir.IRObject) {
	if o.Kind == OutcomeDisproven {
		return ir.VerdictDisproven, o.Counterexample.Evidence()
	}
	ev := o.Evidence
	if ev == nil {
		ev = ir.IRObject{}
	}
	return ir.VerdictProven, ev
}
