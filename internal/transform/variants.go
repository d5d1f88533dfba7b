package transform

import (
	"math/bits"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Variant is one implementation of a node kind. Costs are functions of the
// element count n the node processes.
type Variant struct {
	Name string
	// Code is the size of one copy for n elements and unroll factor u.
	Code func(n, u int64) int64
	// Work is the cycle count for n elements, before vectorization.
	Work func(n int64) int64
	// ROData is a constant table shared by every use of the variant.
	ROData int64
	// Scratch is temporary storage for n elements of size elem.
	Scratch func(n, elem int64) int64
	// Loop variants iterate over elements and can be unrolled.
	Loop         bool
	Vectorizable bool
	BranchFree   bool
	Branches     int
}

func fixed(c int64) func(n, u int64) int64 { return func(int64, int64) int64 { return c } }

func loop(base, perElem int64) func(n, u int64) int64 {
	return func(_, u int64) int64 { return base + perElem*u }
}

func constant(c int64) func(int64) int64 { return func(int64) int64 { return c } }

func linear(base, perElem int64) func(int64) int64 {
	return func(n int64) int64 { return base + perElem*n }
}

func log2Ceil(n int64) int64 {
	if n <= 1 {
		return 0
	}
	return int64(bits.Len64(uint64(n - 1)))
}

// comparators is the size of a bitonic sorting network.
func comparators(n int64) int64 {
	l := log2Ceil(n)
	return (n * l * (l + 1)) / 4
}

// catalog lists the variants of every kind, fastest first and smallest
// last. Kinds with one variant have nothing to trade.
var catalog = map[ir.Kind][]Variant{
	ir.KindInput:   {{Name: "direct", Code: fixed(0), Work: constant(0)}},
	ir.KindLiteral: {{Name: "direct", Code: fixed(4), Work: constant(1)}},
	ir.KindAdd:     {{Name: "direct", Code: fixed(4), Work: constant(1), BranchFree: true}},
	ir.KindSub:     {{Name: "direct", Code: fixed(4), Work: constant(1), BranchFree: true}},
	ir.KindMul:     {{Name: "direct", Code: fixed(4), Work: constant(3), BranchFree: true}},
	ir.KindDiv:     {{Name: "direct", Code: fixed(4), Work: constant(12), BranchFree: true}},
	ir.KindNeg:     {{Name: "direct", Code: fixed(4), Work: constant(1), BranchFree: true}},
	ir.KindMin:     {{Name: "direct", Code: fixed(4), Work: constant(1), BranchFree: true}},
	ir.KindMax:     {{Name: "direct", Code: fixed(4), Work: constant(1), BranchFree: true}},
	ir.KindClamp:   {{Name: "direct", Code: fixed(8), Work: constant(2), BranchFree: true}},

	ir.KindConstruct:   {{Name: "direct", Code: loop(0, 4), Work: linear(0, 1), Loop: true}},
	ir.KindDestructure: {{Name: "direct", Code: loop(0, 4), Work: linear(0, 1), Loop: true}},
	ir.KindIndex:       {{Name: "direct", Code: fixed(12), Work: constant(3), Branches: 1}},
	ir.KindSort: {
		{Name: "network", Code: func(n, _ int64) int64 { return 24 + 12*comparators(n) },
			Work: func(n int64) int64 { return 8 + 4*comparators(n) }, BranchFree: true},
		{Name: "merge", Code: fixed(280), Work: func(n int64) int64 { return 20 + 6*n*max(log2Ceil(n), 1) },
			Scratch: func(n, elem int64) int64 { return n * elem }, Branches: 1},
		{Name: "insertion", Code: fixed(64), Work: func(n int64) int64 { return 10 + 3*n*n/2 }, Branches: 1},
	},
	ir.KindSearch: {
		{Name: "binary", Code: fixed(72), Work: func(n int64) int64 { return 6 + 8*max(log2Ceil(n+1), 1) }, Branches: 1},
		{Name: "linear", Code: loop(28, 6), Work: linear(4, 4), Loop: true, Branches: 1},
	},
	ir.KindChecksum: {
		{Name: "table", Code: loop(40, 8), Work: linear(6, 3), ROData: 1024, Loop: true, BranchFree: true},
		{Name: "bitwise", Code: loop(32, 12), Work: linear(6, 24), Loop: true, BranchFree: true},
	},
	ir.KindFilter: {{Name: "direct", Code: loop(24, 12), Work: linear(4, 5), Loop: true, Vectorizable: true, Branches: 1}},
	ir.KindReduce: {{Name: "direct", Code: loop(16, 8), Work: linear(4, 3), Loop: true, Vectorizable: true}},

	ir.KindSelect:   {{Name: "direct", Code: fixed(12), Work: constant(2), Branches: 1}},
	ir.KindIterate:  {{Name: "direct", Code: fixed(24), Work: constant(3)}},
	ir.KindRecurse:  {{Name: "direct", Code: fixed(24), Work: constant(4)}},
	ir.KindFixpoint: {{Name: "direct", Code: fixed(32), Work: constant(5), Branches: 1}},
	ir.KindCall:     {{Name: "direct", Code: fixed(16), Work: constant(8)}},

	ir.KindRead:      {{Name: "direct", Code: fixed(16), Work: constant(10)}},
	ir.KindWrite:     {{Name: "direct", Code: fixed(16), Work: constant(10)}},
	ir.KindAlloc:     {{Name: "direct", Code: fixed(24), Work: constant(40)}},
	ir.KindFree:      {{Name: "direct", Code: fixed(24), Work: constant(40)}},
	ir.KindSyscall:   {{Name: "direct", Code: fixed(12), Work: constant(150)}},
	ir.KindFFICall:   {{Name: "direct", Code: fixed(8), Work: constant(50)}},
	ir.KindInterrupt: {{Name: "direct", Code: fixed(16), Work: constant(12)}},

	ir.KindVerify:   {{Name: "direct", Code: fixed(8), Work: constant(2), Branches: 1}},
	ir.KindAssume:   {{Name: "erased", Code: fixed(0), Work: constant(0)}},
	ir.KindAnnotate: {{Name: "erased", Code: fixed(0), Work: constant(0)}},

	ir.KindSample:      {{Name: "direct", Code: fixed(24), Work: constant(20)}},
	ir.KindApproximate: {{Name: "direct", Code: fixed(16), Work: constant(8)}},
}

// Variants returns the variant names of a kind, fastest first.
func Variants(k ir.Kind) []string {
	vs := catalog[k]
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// Smaller returns the next smaller variant of k after name.
func Smaller(k ir.Kind, name string) (string, bool) {
	names := Variants(k)
	i := slices.Index(names, name)
	if i < 0 || i+1 >= len(names) {
		return "", false
	}
	return names[i+1], true
}

// selectVariant picks the variant for kind k: a hinted name first, then the
// strategy's preference.
func selectVariant(k ir.Kind, s Settings, h Hints) (Variant, bool) {
	vs := catalog[k]
	if len(vs) == 0 {
		return Variant{}, false
	}
	if name, ok := h.Variants[k]; ok {
		for _, v := range vs {
			if v.Name == name {
				return v, true
			}
		}
	}
	switch s.Strategy {
	case ir.StrategySize:
		return vs[len(vs)-1], true
	case ir.StrategyPredictability:
		for _, v := range vs {
			if v.BranchFree {
				return v, true
			}
		}
		return vs[0], true
	case ir.StrategyBalanced:
		return vs[(len(vs)-1)/2], true
	}
	return vs[0], true
}

// routineKinds are emitted as shared out-of-line routines unless inlined.
var routineKinds = map[ir.Kind]bool{
	ir.KindSort: true, ir.KindSearch: true, ir.KindChecksum: true,
	ir.KindFilter: true, ir.KindReduce: true,
	ir.KindIterate: true, ir.KindRecurse: true, ir.KindFixpoint: true, ir.KindCall: true,
	ir.KindSample: true,
}

// runtimeKinds always call into the runtime or a driver.
var runtimeKinds = map[ir.Kind]bool{
	ir.KindRead: true, ir.KindWrite: true, ir.KindAlloc: true, ir.KindFree: true,
	ir.KindSyscall: true, ir.KindFFICall: true, ir.KindInterrupt: true,
}

// inlineLimit is the largest routine body inlined at each level.
func inlineLimit(l ir.Inlining) int64 {
	switch l {
	case ir.InlineNone:
		return -1
	case ir.InlineMinimal:
		return 16
	case ir.InlineSelective:
		return 64
	case ir.InlineModerate:
		return 256
	}
	return 1 << 62
}

// unrollFactor is the loop unroll factor for n elements.
func unrollFactor(u ir.Unrolling, n int64) int64 {
	switch u {
	case ir.UnrollSelective:
		return min(2, max(n, 1))
	case ir.UnrollFull:
		if n <= 16 {
			return max(n, 1)
		}
		return 4
	case ir.UnrollAggressive:
		return min(8, max(n, 1))
	}
	return 1
}

// vectorLanes is the SIMD width available for byte-sized elements.
func vectorLanes(t ir.Target, v ir.Vectorization, n int64) int64 {
	if v == ir.VectorNone {
		return 1
	}
	lanes := int64(1)
	switch {
	case t.HasFeature("avx2"):
		lanes = 8
	case t.HasFeature("sse2"), t.HasFeature("neon"):
		lanes = 4
	case t.HasFeature("dsp"):
		lanes = 2
	}
	if v == ir.VectorFixedLength && n%lanes != 0 {
		return 1
	}
	return lanes
}
