package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

// =============================================================================
// Valid graphs
// =============================================================================

func TestValidateFixtures(t *testing.T) {
	for _, g := range []*ir.Graph{
		testutil.NonNegIncrement(),
		testutil.SharedNegation(),
		testutil.Pipeline(),
	} {
		t.Run(g.Name, func(t *testing.T) {
			assert.Empty(t, Validate(g))
		})
	}
}

func TestValidateShareableValueCrossesWithoutPort(t *testing.T) {
	g := testutil.NewGraph("crossing").
		Input("a", testutil.I32()).
		Op("n", ir.KindNeg, testutil.I32(), "a").
		Op("m", ir.KindNeg, testutil.I32(), "n").
		Region("r", ir.RegionSequential, "", "n").
		Build()

	assert.Empty(t, Validate(g))
}

func TestValidateCrossingThroughPort(t *testing.T) {
	g := testutil.NewGraph("ported").
		Input("raw", testutil.I32()).
		Op("rd", ir.KindRead, testutil.I32(), "raw").
		Effects("rd", ir.EffectIO).
		Op("use", ir.KindNeg, testutil.I32(), "rd").
		Region("io", ir.RegionSequential, "", "rd").
		Build()
	g.Regions[0].Ports = []ir.Port{{Name: "sample", Direction: ir.DirOut, Type: testutil.I32()}}
	g.Edges[1].Via = "sample"

	assert.Empty(t, Validate(g))
}

// =============================================================================
// Violations
// =============================================================================

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name  string
		graph func() *ir.Graph
		code  string
	}{
		{"unknown kind", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("x", ir.Kind("teleport"), testutil.I32(), "a").
				Build()
		}, ErrUnknownKind},
		{"duplicate node", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Input("a", testutil.I32()).
				Build()
		}, ErrDuplicateNode},
		{"literal without constant", func() *ir.Graph {
			return testutil.NewGraph("g").
				Literal("k", 1, testutil.I32()).
				With("k", func(n *ir.Node) { n.Const = nil }).
				Build()
		}, ErrMissingConst},
		{"iterate without body", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("loop", ir.KindIterate, testutil.I32(), "a").
				Build()
		}, ErrMissingBody},
		{"body key not present", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("loop", ir.KindIterate, testutil.I32(), "a").
				With("loop", func(n *ir.Node) { n.Body = "missing" }).
				Build()
		}, ErrMissingBody},
		{"unresolved module", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("c", ir.KindCall, testutil.I32(), "a").
				With("c", func(n *ir.Node) { n.Module = "lib/filter" }).
				Build()
		}, ErrUnresolvedModule},
		{"dangling edge", func() *ir.Graph {
			g := testutil.NewGraph("g").Input("a", testutil.I32()).Build()
			g.Edges = append(g.Edges, ir.Edge{From: ir.PortRef{Node: "ghost"}, To: ir.PortRef{Node: "a"}})
			return g
		}, ErrDanglingEdge},
		{"port driven twice", func() *ir.Graph {
			g := testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Input("b", testutil.I32()).
				Op("n", ir.KindNeg, testutil.I32(), "a").
				Build()
			g.Edges = append(g.Edges, ir.Edge{From: ir.PortRef{Node: "b"}, To: ir.PortRef{Node: "n"}})
			return g
		}, ErrDuplicatePort},
		{"input port without edge", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("s", ir.KindAdd, testutil.I32(), "a").
				With("s", func(n *ir.Node) { n.Sig.Inputs = append(n.Sig.Inputs, testutil.I32()) }).
				Build()
		}, ErrMissingPort},
		{"port outside signature", func() *ir.Graph {
			g := testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("n", ir.KindNeg, testutil.I32(), "a").
				Build()
			g.Edges = append(g.Edges, ir.Edge{From: ir.PortRef{Node: "a"}, To: ir.PortRef{Node: "n", Port: 5}})
			return g
		}, ErrPortRange},
		{"type mismatch", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("n", ir.KindNeg, testutil.I32(), "a").
				With("n", func(n *ir.Node) { n.Sig.Inputs[0] = testutil.U8() }).
				Build()
		}, ErrTypeMismatch},
		{"effectful value crosses region", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("raw", testutil.I32()).
				Op("rd", ir.KindRead, testutil.I32(), "raw").
				Effects("rd", ir.EffectIO).
				Op("use", ir.KindNeg, testutil.I32(), "rd").
				Region("io", ir.RegionSequential, "", "rd").
				Build()
		}, ErrRegionCrossing},
		{"cycle through plain edges", func() *ir.Graph {
			g := testutil.NewGraph("g").
				Input("i", testutil.I32()).
				Op("a", ir.KindAdd, testutil.I32(), "i").
				Op("b", ir.KindNeg, testutil.I32(), "a").
				With("a", func(n *ir.Node) { n.Sig.Inputs = append(n.Sig.Inputs, testutil.I32()) }).
				Build()
			g.Edges = append(g.Edges, ir.Edge{From: ir.PortRef{Node: "b"}, To: ir.PortRef{Node: "a", Port: 1}})
			return g
		}, ErrCycle},
		{"linear value consumed twice", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("tok", testutil.I32().WithLinearity(ir.Linear)).
				Op("x", ir.KindNeg, testutil.I32(), "tok").
				Op("y", ir.KindNeg, testutil.I32(), "tok").
				Build()
		}, ErrLinearity},
		{"linear value dropped", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("tok", testutil.I32().WithLinearity(ir.Linear)).
				Build()
		}, ErrLinearity},
		{"read without io effect", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("raw", testutil.I32()).
				Op("rd", ir.KindRead, testutil.I32(), "raw").
				Build()
		}, ErrMissingEffect},
		{"pure with io", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Op("n", ir.KindNeg, testutil.I32(), "a").
				Effects("n", ir.EffectPure, ir.EffectIO).
				Build()
		}, ErrEffectConflict},
		{"alloc inside atomic region", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("size", testutil.I32()).
				Op("buf", ir.KindAlloc, testutil.I32(), "size").
				Effects("buf", ir.EffectAlloc).
				Op("n", ir.KindNeg, testutil.I32(), "buf").
				Region("crit", ir.RegionAtomic, "", "buf", "n").
				Build()
		}, ErrAtomicEffect},
		{"duplicate region", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Region("r", ir.RegionSequential, "", "a").
				Region("r", ir.RegionParallel, "", "a").
				Build()
		}, ErrDuplicateRegion},
		{"unknown parent", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Region("r", ir.RegionSequential, "nowhere", "a").
				Build()
		}, ErrUnknownParent},
		{"region parent loop", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Region("r1", ir.RegionSequential, "r2", "a").
				Region("r2", ir.RegionSequential, "r1").
				Build()
		}, ErrRegionCycle},
		{"unknown region member", func() *ir.Graph {
			return testutil.NewGraph("g").
				Input("a", testutil.I32()).
				Region("r", ir.RegionSequential, "", "a", "b").
				Build()
		}, ErrRegionMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations := Validate(tt.graph())
			require.NotEmpty(t, violations)
			codes := make([]string, len(violations))
			for i, v := range violations {
				codes[i] = v.Code
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	g := testutil.NewGraph("many").
		Input("a", testutil.I32()).
		Op("x", ir.Kind("teleport"), testutil.I32(), "a").
		Op("rd", ir.KindRead, testutil.I32(), "a").
		Literal("k", 0, testutil.I32()).
		With("k", func(n *ir.Node) { n.Const = nil }).
		Build()

	violations := Validate(g)
	require.Len(t, violations, 3)
	assert.Equal(t, ErrUnknownKind, violations[0].Code)
	assert.Equal(t, ErrMissingConst, violations[1].Code)
	assert.Equal(t, ErrMissingEffect, violations[2].Code)
}

func TestViolationError(t *testing.T) {
	v := Violation{Code: ErrTypeMismatch, Edge: "a:0->b:0", Message: "producer yields i32, consumer expects u8"}
	assert.Equal(t, "[E214] edge a:0->b:0: producer yields i32, consumer expects u8", v.Error())

	bare := Violation{Code: ErrCycle, Message: "loop"}
	assert.Equal(t, "[E216] loop", bare.Error())
}
