package obligation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

func generate(t *testing.T, g *ir.Graph, opts Options) *Set {
	t.Helper()
	set, err := Generate(g, opts)
	require.NoError(t, err)
	return set
}

func strs(es []ir.Expr) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String()
	}
	return out
}

func only(t *testing.T, set *Set, kind ir.ObligationKind) ir.Obligation {
	t.Helper()
	var found []ir.Obligation
	for _, o := range set.Obligations {
		if o.Kind == kind {
			found = append(found, o)
		}
	}
	require.Len(t, found, 1, "want exactly one %s obligation", kind)
	return found[0]
}

func TestGenerateNonNegIncrement(t *testing.T) {
	set := generate(t, testutil.NonNegIncrement(), Options{})

	require.Equal(t, 1, set.Len())
	o := set.Obligations[0]
	assert.Equal(t, ir.ObPostcondition, o.Kind)
	assert.Equal(t, ir.RoundA, o.Round)
	assert.Equal(t, "y", o.Context.Node)
	assert.Equal(t, "out > 0", o.Goal.String())

	assumptions := strs(o.Assumptions)
	assert.Contains(t, assumptions, "out == in0 + in1")
	assert.Contains(t, assumptions, "in0 >= 0")
	assert.Contains(t, assumptions, "in1 == 1")
	assert.Len(t, o.ID, 64)
	assert.Contains(t, o.Vars, "in0")
}

func TestGenerateDeterministic(t *testing.T) {
	g := testutil.Pipeline()

	a := generate(t, g, Options{})
	b := generate(t, g.Clone(), Options{})

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("generation not deterministic (-a +b):\n%s", diff)
	}
	for i := 1; i < len(a.Obligations); i++ {
		assert.Less(t, a.Obligations[i-1].ID, a.Obligations[i].ID)
	}
}

func TestGenerateRefinementAtProductionSite(t *testing.T) {
	g := testutil.NewGraph("refined").
		Input("x", testutil.NonNegI32()).
		Literal("k", 3, testutil.I32()).
		Op("y", ir.KindAdd, testutil.I32().Refined(ir.MustParseExpr("value >= 3")), "x", "k").
		Build()

	set := generate(t, g, Options{})

	o := only(t, set, ir.ObRefinement)
	assert.Equal(t, "y", o.Context.Node)
	assert.Equal(t, "out >= 3", o.Goal.String())
}

func TestGenerateInputRefinementIsTrusted(t *testing.T) {
	g := testutil.NewGraph("trusted").Input("x", testutil.NonNegI32()).Build()

	set := generate(t, g, Options{})

	assert.Zero(t, set.Len())
}

func TestGeneratePreconditionWithPropagatedFacts(t *testing.T) {
	g := testutil.NewGraph("pre").
		Input("x", testutil.NonNegI32()).
		Op("n", ir.KindNeg, testutil.I32(), "x").
		Op("m", ir.KindNeg, testutil.I32(), "n").
		Pre("m", "in0 <= 0").
		Post("m", "out >= 0").
		Build()

	set := generate(t, g, Options{})

	pre := only(t, set, ir.ObPrecondition)
	assert.Equal(t, "in0 <= 0", pre.Goal.String())
	assumptions := strs(pre.Assumptions)
	assert.Contains(t, assumptions, "in0 == -in0.in0")
	assert.Contains(t, assumptions, "in0.in0 >= 0")
	assert.NotContains(t, assumptions, "in0 <= 0", "a precondition is not its own assumption")

	post := only(t, set, ir.ObPostcondition)
	assert.Contains(t, strs(post.Assumptions), "in0 <= 0", "postconditions assume the node's preconditions")
}

func TestGenerateImplicitPreconditions(t *testing.T) {
	g := testutil.NewGraph("unsafe").
		Input("a", testutil.I32()).
		Input("b", testutil.I32()).
		Input("buf", testutil.ArrayOf(8, testutil.U8())).
		Op("q", ir.KindDiv, testutil.I32(), "a", "b").
		Op("at", ir.KindIndex, testutil.U8(), "buf", "a").
		Build()

	set := generate(t, g, Options{})

	var goals []string
	for _, o := range set.Round(ir.RoundA) {
		require.Equal(t, ir.ObPrecondition, o.Kind)
		goals = append(goals, o.Goal.String())
	}
	assert.ElementsMatch(t, []string{"in1 != 0", "in1 >= 0 && in1 < 8"}, goals)
}

func TestGeneratePortRefinementIsPrecondition(t *testing.T) {
	g := testutil.NewGraph("port").
		Input("a", testutil.I32()).
		Op("n", ir.KindNeg, testutil.I32(), "a").
		With("n", func(n *ir.Node) {
			n.Sig.Inputs[0] = testutil.I32().Refined(ir.MustParseExpr("value < 100"))
		}).
		Build()

	set := generate(t, g, Options{})

	o := only(t, set, ir.ObPrecondition)
	assert.Equal(t, "in0 < 100", o.Goal.String())
}

func TestGenerateSharedProducerEquatesPorts(t *testing.T) {
	g := testutil.NewGraph("square").
		Input("a", testutil.I32()).
		Op("sq", ir.KindMul, testutil.I32(), "a", "a").
		Post("sq", "out >= 0").
		Build()

	o := only(t, generate(t, g, Options{}), ir.ObPostcondition)

	assert.Contains(t, strs(o.Assumptions), "in1 == in0")
}

func TestGenerateAssumeNodeIntroducesFacts(t *testing.T) {
	g := testutil.NewGraph("assume").
		Input("a", testutil.I32()).
		Op("as", ir.KindAssume, testutil.I32(), "a").
		Post("as", "out > 10").
		Op("n", ir.KindNeg, testutil.I32(), "as").
		Post("n", "out < -10").
		Build()

	set := generate(t, g, Options{})

	o := only(t, set, ir.ObPostcondition)
	assert.Equal(t, "n", o.Context.Node)
	assert.Contains(t, strs(o.Assumptions), "in0 > 10")
}

func TestGenerateLinearity(t *testing.T) {
	g := testutil.NewGraph("linear").
		Input("tok", testutil.I32().WithLinearity(ir.Linear)).
		Op("use", ir.KindNeg, testutil.I32(), "tok").
		Build()

	o := only(t, generate(t, g, Options{}), ir.ObLinearity)

	assert.Equal(t, "tok", o.Context.Node)
	assert.Equal(t, ir.Linear, o.Linearity)
	assert.Equal(t, 1, o.Uses)
	assert.Equal(t, "uses == 1", o.Goal.String())
}

func TestGenerateTermination(t *testing.T) {
	tests := []struct {
		name  string
		term  *ir.Termination
		goal  string
		bound int64
	}{
		{"static bound", &ir.Termination{Bound: 64}, "i <= 64", 64},
		{"decreasing metric", &ir.Termination{Metric: ptr(ir.MustParseExpr("n - i"))}, "10 - (i + 1) < 10 - i", 0},
		{"missing argument", nil, "false", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testutil.NewGraph("loop").
				Input("a", testutil.I32()).
				Op("it", ir.KindIterate, testutil.I32(), "a").
				With("it", func(n *ir.Node) {
					n.Body = "body"
					n.Params = map[string]int64{"n": 10}
					n.Contract.Termination = tt.term
				}).
				Build()

			o := only(t, generate(t, g, Options{}), ir.ObTermination)

			assert.Equal(t, tt.goal, o.Goal.String())
			assert.Equal(t, tt.bound, o.StaticBound)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestGenerateResourceTemplates(t *testing.T) {
	set := generate(t, testutil.Pipeline(), Options{})

	deferred := set.Round(ir.RoundB)
	require.Len(t, deferred, 1)
	o := deferred[0]
	assert.Equal(t, ir.ObResource, o.Kind)
	assert.Equal(t, ir.MeasureWCET, o.Measure)
	assert.Equal(t, int64(200_000), o.Bound)
	assert.Equal(t, "control", o.Context.Section)
	assert.True(t, o.Critical)
	assert.Empty(t, o.Facts)

	bound, err := o.Bind(map[string]int64{string(ir.MeasureWCET): 150_000})
	require.NoError(t, err)
	assert.NotEqual(t, o.ID, bound.ID)
}

func TestGenerateRegionConstraints(t *testing.T) {
	g := testutil.NewGraph("budgeted").
		Input("a", testutil.I32()).
		Op("n", ir.KindNeg, testutil.I32(), "a").
		Region("r", ir.RegionAtomic, "", "n").
		Build()
	g.Regions[0].Constraints = ir.RegionConstraints{MaxTimeNS: 5000, MaxMemory: 1024}

	set := generate(t, g, Options{})

	deferred := set.Round(ir.RoundB)
	require.Len(t, deferred, 2)
	for _, o := range deferred {
		assert.Equal(t, "r", o.Context.Region)
		assert.True(t, o.Critical, "atomic region bounds are critical")
	}
}

func TestGenerateProtocol(t *testing.T) {
	proto := &ir.Protocol{
		States:      []string{"idle", "busy"},
		Initial:     "idle",
		Final:       []string{"idle"},
		Transitions: []ir.Transition{{From: "idle", To: "busy"}, {From: "busy", To: "idle"}},
	}
	g := testutil.NewGraph("proto").
		Input("raw", testutil.I32()).
		Op("rd", ir.KindRead, testutil.I32(), "raw").
		Effects("rd", ir.EffectIO).
		With("rd", func(n *ir.Node) { n.Contract.Protocol = proto }).
		Build()

	o := only(t, generate(t, g, Options{}), ir.ObProtocol)

	require.NotNil(t, o.Protocol)
	assert.Equal(t, "idle", o.Protocol.Initial)
}

func TestGenerateEdgeNarrowing(t *testing.T) {
	g := testutil.NewGraph("narrow").
		Input("a", testutil.NonNegI32()).
		Op("n", ir.KindNeg, testutil.I32(), "a").
		Op("m", ir.KindNeg, testutil.I32(), "n").
		Build()
	g.Edges[1].Type = testutil.I32().Refined(ir.MustParseExpr("value <= 0"))

	o := only(t, generate(t, g, Options{}), ir.ObRefinement)

	assert.Equal(t, "n", o.Context.Node)
	assert.Equal(t, "n:0->m:0", o.Context.Edge)
	assert.Equal(t, "out <= 0", o.Goal.String())
}

func TestGeneratePropagationDepth(t *testing.T) {
	b := testutil.NewGraph("chain").Input("x", testutil.NonNegI32())
	prev := "x"
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		b.Op(id, ir.KindNeg, testutil.I32(), prev)
		prev = id
	}
	g := b.Post(prev, "out != 1").Build()

	shallow := only(t, generate(t, g, Options{PropagationDepth: 1}), ir.ObPostcondition)
	deep := only(t, generate(t, g, Options{PropagationDepth: 6}), ir.ObPostcondition)

	assert.Less(t, len(shallow.Assumptions), len(deep.Assumptions))
	assert.Contains(t, strs(deep.Assumptions), "in0.in0.in0.in0.in0.in0 >= 0")
	assert.NotEqual(t, shallow.ID, deep.ID)
}

func TestSetAccessors(t *testing.T) {
	set := generate(t, testutil.Pipeline(), Options{})
	require.NotZero(t, set.Len())

	first := set.Obligations[0]
	got, ok := set.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, first.ID, got.ID)

	_, ok = set.Get("missing")
	assert.False(t, ok)

	touching := set.Touching(map[string]bool{"total": true})
	require.Len(t, touching, 1)
	assert.Equal(t, ir.ObResource, touching[0].Kind)
}
