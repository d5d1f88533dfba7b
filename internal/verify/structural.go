package verify

import (
	"context"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Structural settles obligations that need no arithmetic reasoning: use
// counts, static iteration bounds, ground goals, and goals already among
// the assumptions.
type Structural struct{}

func (Structural) Name() string    { return "structural" }
func (Structural) Version() string { return "1" }

// Accepts everything except protocol and resource obligations, which need
// exploration or a layout.
func (Structural) Accepts(o *ir.Obligation) bool {
	return o.Kind != ir.ObProtocol && o.Kind != ir.ObResource
}

func (Structural) Attempt(_ context.Context, o *ir.Obligation) Outcome {
	switch o.Kind {
	case ir.ObLinearity:
		ok, err := evalBool(o.Goal, map[string]int64{"uses": int64(o.Uses)})
		if err != nil {
			return Inconclusive("linearity goal: %v", err)
		}
		if ok {
			return Proven(ir.IRObject{"method": ir.IRString("use-count"), "uses": ir.IRInt(o.Uses)})
		}
		return Disproven(ir.Counterexample{
			Assignment: map[string]int64{"uses": int64(o.Uses)},
			Note:       string(o.Linearity) + " value consumed " + plural(o.Uses),
		})
	case ir.ObTermination:
		if o.StaticBound > 0 {
			return Proven(ir.IRObject{"method": ir.IRString("static-bound"), "bound": ir.IRInt(o.StaticBound)})
		}
	}

	switch o.Goal.Op {
	case ir.OpTrue:
		return Proven(ir.IRObject{"method": ir.IRString("tautology")})
	case ir.OpFalse:
		if len(o.Assumptions) == 0 {
			note := "goal is false"
			if o.Kind == ir.ObTermination {
				note = "no termination bound or decreasing metric declared"
			}
			return Disproven(ir.Counterexample{Note: note})
		}
	}

	for _, a := range o.Assumptions {
		for _, c := range a.Conjuncts() {
			if c.Equal(o.Goal) {
				return Proven(ir.IRObject{"method": ir.IRString("assumption")})
			}
		}
	}

	if len(o.Goal.Vars()) == 0 && len(o.Assumptions) == 0 {
		ok, err := evalBool(o.Goal, nil)
		if err != nil {
			return Inconclusive("ground goal: %v", err)
		}
		if ok {
			return Proven(ir.IRObject{"method": ir.IRString("ground")})
		}
		return Disproven(ir.Counterexample{Note: "ground goal " + o.Goal.String() + " is false"})
	}
	return Inconclusive("not structurally decidable")
}

func plural(n int) string {
	if n == 1 {
		return "1 time"
	}
	return fmt.Sprintf("%d times", n)
}
