package verify

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Gate decides whether a run may continue after a verification round. It
// counts waivers across the rounds of one run.
type Gate struct {
	maxWaivers int
	used       int
}

// NewGate returns a gate allowing at most maxWaivers waiver uses per run.
func NewGate(maxWaivers int) *Gate {
	return &Gate{maxWaivers: maxWaivers}
}

// Used returns the waivers used so far.
func (g *Gate) Used() int { return g.used }

// Check returns nil when every obligation of the round is verified or
// waived within the waiver budget.
func (g *Gate) Check(round ir.Round, res *Result) error {
	g.used += len(res.Waivers)
	if g.used > g.maxWaivers {
		return &WaiverPolicyError{Problems: []string{
			fmt.Sprintf("%d waivers used, the rigor profile allows %d", g.used, g.maxWaivers),
		}}
	}

	failures := res.Failures()
	if len(failures) == 0 {
		return nil
	}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.ID] = true
	}
	var expired []ir.Waiver
	for _, w := range res.Expired {
		if failed[w.Obligation] {
			expired = append(expired, w)
		}
	}
	if len(expired) > 0 {
		return &WaiverPolicyError{Expired: expired, Failures: failures}
	}
	return &GateError{Round: round, Failures: failures}
}

// ValidateWaivers rejects waivers missing a justification, author, approver
// or expiry, and duplicate waivers for one obligation. It runs before any
// verification.
func ValidateWaivers(ws []ir.Waiver) error {
	var problems []string
	seen := map[string]bool{}
	for i, w := range ws {
		for _, p := range w.Problems() {
			problems = append(problems, fmt.Sprintf("waiver %d (%s): %s", i, ir.Short(w.Obligation), p))
		}
		if w.Obligation == "" {
			continue
		}
		if seen[w.Obligation] {
			problems = append(problems, fmt.Sprintf("waiver %d: duplicate waiver for %s", i, ir.Short(w.Obligation)))
		}
		seen[w.Obligation] = true
	}
	if len(problems) > 0 {
		return &WaiverPolicyError{Problems: problems}
	}
	return nil
}
