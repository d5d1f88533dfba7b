package fit

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
)

// Class groups constraints that the same strategies relieve.
type Class string

const (
	ClassTiming Class = "timing"
	ClassMemory Class = "memory"
	ClassStack  Class = "stack"
	ClassCode   Class = "code"
	ClassIO     Class = "io"
	ClassEnergy Class = "energy"
)

// DefaultPriority orders classes from most to least important when
// attempts are compared.
var DefaultPriority = []Class{ClassTiming, ClassMemory, ClassStack, ClassCode, ClassIO, ClassEnergy}

// ClassOf maps a resource measure to its class.
func ClassOf(m ir.Measure) Class {
	switch m {
	case ir.MeasureWCET:
		return ClassTiming
	case ir.MeasureStack:
		return ClassStack
	case ir.MeasureEnergy:
		return ClassEnergy
	}
	return ClassMemory
}

// Violation is one exceeded constraint.
type Violation struct {
	Class    Class  `json:"class"`
	Resource string `json:"resource"`
	// Section names the critical section of a timing violation.
	Section    string `json:"section,omitempty"`
	Obligation string `json:"obligation,omitempty"`
	Used       int64  `json:"used"`
	Limit      int64  `json:"limit"`
}

// Margin is Limit - Used: negative for a violation.
func (v Violation) Margin() int64 { return v.Limit - v.Used }

// Record converts v for the report.
func (v Violation) Record() ir.FitViolation {
	return ir.FitViolation{
		Class:      string(v.Class),
		Resource:   v.Resource,
		Section:    v.Section,
		Obligation: v.Obligation,
		Used:       v.Used,
		Limit:      v.Limit,
		Margin:     v.Margin(),
	}
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: used %d, limit %d, margin %d", v.Class, v.Resource, v.Used, v.Limit, v.Margin())
}

// Check compares a transformation's estimates with the target's budgets.
func Check(tir *transform.TargetIR) []Violation {
	var out []Violation
	est, env := tir.Estimates, tir.Target.Env
	add := func(c Class, resource string, used, limit int64) {
		if limit > 0 && used > limit {
			out = append(out, Violation{Class: c, Resource: resource, Used: used, Limit: limit})
		}
	}
	for _, s := range est.Sections {
		if s.BudgetNS > 0 && s.WCETNS > s.BudgetNS {
			out = append(out, Violation{Class: ClassTiming, Resource: "section " + s.Name, Section: s.Name,
				Used: s.WCETNS, Limit: s.BudgetNS})
		}
	}
	add(ClassMemory, "ram", est.RAMBytes(), env.RAMBytes)
	add(ClassStack, "stack", est.StackBytes, env.MaxStackBytes)
	add(ClassStack, "call_depth", int64(est.CallDepth), int64(env.MaxCallDepth))
	add(ClassCode, "flash", est.FlashBytes(), env.FlashBytes)
	add(ClassIO, "io", est.IORequired, env.IOBytesPerSec)
	return out
}

// Usage lists the budget lines of a transformation for the report.
func Usage(tir *transform.TargetIR) []ir.ResourceUsage {
	est, env := tir.Estimates, tir.Target.Env
	out := []ir.ResourceUsage{
		ir.NewResourceUsage("flash", est.FlashBytes(), env.FlashBytes),
		ir.NewResourceUsage("ram", est.RAMBytes(), env.RAMBytes),
		ir.NewResourceUsage("stack", est.StackBytes, env.MaxStackBytes),
		ir.NewResourceUsage("call_depth", int64(est.CallDepth), int64(env.MaxCallDepth)),
	}
	if est.IORequired > 0 {
		out = append(out, ir.NewResourceUsage("io", est.IORequired, env.IOBytesPerSec))
	}
	return out
}

// Timing lists the critical sections of a transformation for the report.
func Timing(tir *transform.TargetIR) []ir.SectionTiming {
	out := make([]ir.SectionTiming, 0, len(tir.Estimates.Sections))
	for _, s := range tir.Estimates.Sections {
		st := ir.SectionTiming{Section: s.Name, WCETNS: s.WCETNS, BudgetNS: s.BudgetNS, MarginNS: s.MarginNS(), Source: "estimate"}
		if _, ok := tir.Graph.Node(s.Name); ok {
			st.Node = s.Name
		}
		out = append(out, st)
	}
	return out
}

// Bind attaches a transformation's measurements to round-B resource
// obligations. Obligations whose context the transformation cannot measure
// are returned unbound; the timing engine reports them inconclusive.
func Bind(obs []ir.Obligation, tir *transform.TargetIR) ([]ir.Obligation, error) {
	out := make([]ir.Obligation, 0, len(obs))
	for _, o := range obs {
		if o.Kind != ir.ObResource {
			out = append(out, o)
			continue
		}
		v, ok := tir.Measure(o.Context, o.Measure)
		if !ok {
			out = append(out, o)
			continue
		}
		b, err := o.Bind(map[string]int64{string(o.Measure): v})
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", ir.Short(o.ID), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// FromObligation describes a failed bound resource obligation as a
// violation.
func FromObligation(o ir.Obligation) Violation {
	v := Violation{
		Class:      ClassOf(o.Measure),
		Resource:   fmt.Sprintf("%s at %s", o.Measure, o.Context),
		Section:    o.Context.Section,
		Obligation: o.ID,
		Used:       o.Facts[string(o.Measure)],
		Limit:      o.Bound,
	}
	if v.Class == ClassTiming && v.Section == "" {
		v.Section = o.Context.Region
		if v.Section == "" {
			v.Section = o.Context.Node
		}
	}
	return v
}
