package verify

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Remediate suggests fixes for an obligation that did not verify. The
// waiver suggestion always comes last.
func Remediate(o ir.Obligation, status ir.ResultStatus) []string {
	var out []string
	where := o.Context.String()
	switch o.Kind {
	case ir.ObRefinement:
		out = append(out,
			fmt.Sprintf("strengthen the precondition of %s so its output satisfies %s", where, o.Goal),
			fmt.Sprintf("clamp the value to satisfy %s before it flows on", o.Goal))
	case ir.ObPrecondition:
		out = append(out,
			fmt.Sprintf("strengthen the producer's postcondition to establish %s", o.Goal),
			fmt.Sprintf("insert a clamp or verify node before %s", where))
	case ir.ObPostcondition:
		out = append(out,
			fmt.Sprintf("weaken the postcondition %s", o.Goal),
			fmt.Sprintf("strengthen the precondition of %s", where))
	case ir.ObResource:
		out = append(out,
			fmt.Sprintf("reduce resource usage: %s must stay within %d", o.Measure, o.Bound),
			"select a smaller or faster variant, or relax the bound")
	case ir.ObLinearity:
		out = append(out,
			fmt.Sprintf("consume the %s value exactly as its linearity allows (currently %s)", o.Linearity, plural(o.Uses)))
	case ir.ObTermination:
		out = append(out, "declare an iteration bound or a metric that decreases every iteration")
	case ir.ObProtocol:
		out = append(out, "remove the transitions that reach bad or dead states")
	}
	if status == ir.ResultInconclusive || status == ir.ResultInconclusiveTimeout {
		out = append(out, "raise the engine time budget or add assumptions that make the goal decidable")
	}
	return append(out, "waive with justification, author, approver and expiry")
}
