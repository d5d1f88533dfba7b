package fit

import (
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
)

// Strategy is one backtracking move. Apply derives new hints from the
// current ones and the attempt being repaired; ok is false when the move
// changes nothing.
type Strategy interface {
	Name() string
	Helps(c Class) bool
	Apply(h transform.Hints, tir *transform.TargetIR, vs []Violation) (next transform.Hints, ok bool)
}

// DefaultStrategies is the bounded, ordered strategy list. priority
// steers shift-speed-size; nil means DefaultPriority.
func DefaultStrategies(priority []Class) []Strategy {
	return []Strategy{SmallerVariants{}, ReduceInlining{}, ShiftSpeedSize{Priority: priority}, SplitTimeWindows{}}
}

// SmallerVariants steps every multi-variant kind in use to its next
// smaller variant.
type SmallerVariants struct{}

func (SmallerVariants) Name() string { return "smaller-variants" }

func (SmallerVariants) Helps(c Class) bool {
	return c == ClassCode || c == ClassMemory || c == ClassStack
}

func (SmallerVariants) Apply(h transform.Hints, tir *transform.TargetIR, _ []Violation) (transform.Hints, bool) {
	next := h.Clone()
	if next.Variants == nil {
		next.Variants = map[ir.Kind]string{}
	}
	changed := false
	seen := map[ir.Kind]bool{}
	for _, f := range tir.Fragments {
		if seen[f.Kind] {
			continue
		}
		seen[f.Kind] = true
		if v, ok := transform.Smaller(f.Kind, f.Variant); ok {
			next.Variants[f.Kind] = v
			changed = true
		}
	}
	return next, changed
}

// ReduceInlining drops inlining to minimal, or from minimal to none.
// Fewer inlined copies shrink code and keep hot code inside the fetch
// buffer.
type ReduceInlining struct{}

func (ReduceInlining) Name() string { return "reduce-inlining" }

func (ReduceInlining) Helps(c Class) bool { return c == ClassCode || c == ClassTiming }

func (ReduceInlining) Apply(h transform.Hints, tir *transform.TargetIR, _ []Violation) (transform.Hints, bool) {
	next := h.Clone()
	switch cur := tir.Settings.Inlining; {
	case cur.Level() > ir.InlineMinimal.Level():
		next.Inlining = ir.InlineMinimal
	case cur == ir.InlineMinimal:
		next.Inlining = ir.InlineNone
	default:
		return h, false
	}
	return next, true
}

// ShiftSpeedSize moves the strategy one step toward speed when timing is
// the most important violated class, and toward size otherwise.
type ShiftSpeedSize struct {
	// Priority decides which violated class sets the direction. Nil means
	// DefaultPriority.
	Priority []Class
}

func (ShiftSpeedSize) Name() string { return "shift-speed-size" }

func (ShiftSpeedSize) Helps(c Class) bool {
	return c == ClassTiming || c == ClassCode || c == ClassMemory || c == ClassStack
}

var (
	towardSpeed = map[ir.Strategy]ir.Strategy{
		ir.StrategySize:           ir.StrategyBalanced,
		ir.StrategyBalanced:       ir.StrategySpeed,
		ir.StrategyPredictability: ir.StrategySpeed,
	}
	towardSize = map[ir.Strategy]ir.Strategy{
		ir.StrategySpeed:          ir.StrategyBalanced,
		ir.StrategyBalanced:       ir.StrategySize,
		ir.StrategyPredictability: ir.StrategyBalanced,
	}
)

func (s ShiftSpeedSize) Apply(h transform.Hints, tir *transform.TargetIR, vs []Violation) (transform.Hints, bool) {
	priority := s.Priority
	if priority == nil {
		priority = DefaultPriority
	}
	step := towardSize
	if top, ok := topClass(vs, priority); ok && top == ClassTiming {
		step = towardSpeed
	}
	to, ok := step[tir.Settings.Strategy]
	if !ok {
		return h, false
	}
	next := h.Clone()
	next.Strategy = to
	// Variant hints would pin the old trade point.
	next.Variants = nil
	return next, true
}

// maxWindows caps how far a critical section is split.
const maxWindows = 4

// SplitTimeWindows doubles the time windows of every late critical section
// that has enough nodes to split.
type SplitTimeWindows struct{}

func (SplitTimeWindows) Name() string { return "split-time-windows" }

func (SplitTimeWindows) Helps(c Class) bool { return c == ClassTiming }

func (SplitTimeWindows) Apply(h transform.Hints, tir *transform.TargetIR, vs []Violation) (transform.Hints, bool) {
	next := h.Clone()
	if next.Windows == nil {
		next.Windows = map[string]int{}
	}
	changed := false
	for _, v := range vs {
		if v.Class != ClassTiming || v.Section == "" {
			continue
		}
		s, ok := tir.Section(v.Section)
		if !ok {
			continue
		}
		cur := max(next.Windows[s.Name], 1)
		if cur >= maxWindows || len(s.Nodes) <= cur {
			continue
		}
		next.Windows[s.Name] = cur * 2
		changed = true
	}
	return next, changed
}

// topClass is the most important violated class.
func topClass(vs []Violation, priority []Class) (Class, bool) {
	for _, c := range priority {
		if slices.ContainsFunc(vs, func(v Violation) bool { return v.Class == c }) {
			return c, true
		}
	}
	return "", false
}

// violated is the set of classes in vs.
func violated(vs []Violation) map[Class]bool {
	out := map[Class]bool{}
	for _, v := range vs {
		out[v.Class] = true
	}
	return out
}

func helpsAny(s Strategy, classes map[Class]bool) bool {
	for _, c := range slices.Sorted(maps.Keys(classes)) {
		if s.Helps(c) {
			return true
		}
	}
	return false
}
