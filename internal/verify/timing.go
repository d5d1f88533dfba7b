package verify

import (
	"context"
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// Timing decides resource obligations once they are bound to a layout.
// The layout's estimate for the measure is compared to the bound.
type Timing struct{}

func (Timing) Name() string    { return "timing" }
func (Timing) Version() string { return "1" }

func (Timing) Accepts(o *ir.Obligation) bool {
	return o.Kind == ir.ObResource
}

func (Timing) Attempt(_ context.Context, o *ir.Obligation) Outcome {
	v, ok := o.Facts[string(o.Measure)]
	if !ok {
		return Inconclusive("%s not bound to a layout", o.Measure)
	}
	margin := o.Bound - v
	if margin >= 0 {
		return Proven(ir.IRObject{
			"method":  ir.IRString("layout-estimate"),
			"measure": ir.IRString(o.Measure),
			"value":   ir.IRInt(v),
			"bound":   ir.IRInt(o.Bound),
			"margin":  ir.IRInt(margin),
		})
	}
	return Disproven(ir.Counterexample{
		Assignment: map[string]int64{string(o.Measure): v},
		Note:       fmt.Sprintf("exceeds bound %d by %d", o.Bound, -margin),
	})
}
