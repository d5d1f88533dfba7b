package canon

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

func canonicalize(t *testing.T, g *ir.Graph, opts ...Option) *Result {
	t.Helper()
	res, err := New(opts...).Canonicalize(context.Background(), g)
	require.NoError(t, err)
	return res
}

func TestCanonicalizeDeduplicatesIdenticalNodes(t *testing.T) {
	res := canonicalize(t, testutil.SharedNegation())

	assert.Equal(t, 6, res.Stats.InitialNodes)
	assert.Equal(t, 5, res.Stats.FinalNodes)
	assert.Equal(t, 1, res.Stats.Deduplicated)
	require.Len(t, res.Graph.Nodes, 5)

	var neg ir.Node
	for _, n := range res.Graph.Nodes {
		if n.Kind == ir.KindNeg {
			neg = n
		}
	}
	require.NotEmpty(t, neg.ID)
	consumers := res.Graph.Consumers(neg.ID)
	assert.Len(t, consumers, 2, "the shared negation feeds both the sum and the product")
}

func TestCanonicalizeKeepsInputsDistinct(t *testing.T) {
	g := testutil.NewGraph("difference").
		Input("a", testutil.I32()).
		Input("b", testutil.I32()).
		Op("d", ir.KindSub, testutil.I32(), "a", "b").
		Build()

	res := canonicalize(t, g)

	assert.Equal(t, 3, res.Stats.FinalNodes)
	assert.Zero(t, res.Stats.Deduplicated)

	var sub ir.Node
	for _, n := range res.Graph.Nodes {
		if n.Kind == ir.KindSub {
			sub = n
		}
	}
	inputs := res.Graph.Inputs(sub.ID)
	require.Len(t, inputs, 2)
	assert.NotEqual(t, inputs[0].From.Node, inputs[1].From.Node, "a - b must not become a - a")

	again := canonicalize(t, res.Graph)
	assert.Equal(t, res.RootHash, again.RootHash)
}

func TestCanonicalizeIDsAreContentHashes(t *testing.T) {
	res := canonicalize(t, testutil.NonNegIncrement())

	for _, n := range res.Graph.Nodes {
		assert.Len(t, n.ID, 64)
	}
	for _, e := range res.Graph.Edges {
		_, ok := res.Graph.Node(e.From.Node)
		assert.True(t, ok)
		_, ok = res.Graph.Node(e.To.Node)
		assert.True(t, ok)
	}
	assert.Len(t, res.RootHash, 64)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for _, g := range []*ir.Graph{
		testutil.NonNegIncrement(),
		testutil.SharedNegation(),
		testutil.Pipeline(),
		effectfulTwins(),
		nestedRegions(),
	} {
		t.Run(g.Name, func(t *testing.T) {
			first := canonicalize(t, g)
			second := canonicalize(t, first.Graph)

			assert.Equal(t, first.RootHash, second.RootHash)
			if diff := cmp.Diff(first.Graph, second.Graph); diff != "" {
				t.Errorf("re-canonicalization changed the graph (-first +second):\n%s", diff)
			}
			assert.Zero(t, second.Stats.Deduplicated)
			assert.Zero(t, second.Stats.Inlined)
			assert.Zero(t, second.Stats.Flattened)
		})
	}
}

func TestCanonicalizeDoesNotMutateInput(t *testing.T) {
	g := testutil.SharedNegation()
	before := g.Clone()

	canonicalize(t, g)

	if diff := cmp.Diff(before, g); diff != "" {
		t.Errorf("input graph mutated (-before +after):\n%s", diff)
	}
}

func TestCanonicalizeIgnoresLocalNamesAndOrder(t *testing.T) {
	a := testutil.NewGraph("one").
		Input("x", testutil.I32()).
		Literal("k", 1, testutil.I32()).
		Op("y", ir.KindAdd, testutil.I32(), "x", "k").
		Build()
	b := testutil.NewGraph("two").
		Literal("const1", 1, testutil.I32()).
		Input("in", testutil.I32()).
		Op("sum", ir.KindAdd, testutil.I32(), "in", "const1").
		Build()
	b.Nodes[0], b.Nodes[2] = b.Nodes[2], b.Nodes[0]

	ra := canonicalize(t, a)
	rb := canonicalize(t, b)

	assert.Equal(t, ra.RootHash, rb.RootHash)
}

func TestCanonicalizeDistinguishesPortOrder(t *testing.T) {
	a := testutil.NewGraph("g").
		Input("x", testutil.I32()).
		Literal("k", 1, testutil.I32()).
		Op("d", ir.KindSub, testutil.I32(), "x", "k").
		Build()
	b := testutil.NewGraph("g").
		Input("x", testutil.I32()).
		Literal("k", 1, testutil.I32()).
		Op("d", ir.KindSub, testutil.I32(), "k", "x").
		Build()

	assert.NotEqual(t, canonicalize(t, a).RootHash, canonicalize(t, b).RootHash)
}

func TestCanonicalizeStatusDoesNotChangeIdentity(t *testing.T) {
	g := testutil.NonNegIncrement()
	verified := g.Clone()
	for i := range verified.Nodes {
		verified.Nodes[i].Contract.Status = ir.StatusVerified
	}

	assert.Equal(t, canonicalize(t, g).RootHash, canonicalize(t, verified).RootHash)
}

// effectfulTwins has two identical allocations. They must stay distinct.
func effectfulTwins() *ir.Graph {
	return testutil.NewGraph("effectful-twins").
		Input("size", testutil.I32()).
		Op("buf1", ir.KindAlloc, testutil.I32(), "size").
		Effects("buf1", ir.EffectAlloc).
		Op("buf2", ir.KindAlloc, testutil.I32(), "size").
		Effects("buf2", ir.EffectAlloc).
		Op("sum", ir.KindAdd, testutil.I32(), "buf1", "buf2").
		Build()
}

func TestCanonicalizeKeepsEffectfulDuplicates(t *testing.T) {
	res := canonicalize(t, effectfulTwins())

	assert.Zero(t, res.Stats.Deduplicated)
	allocs := 0
	for _, n := range res.Graph.Nodes {
		if n.Kind == ir.KindAlloc {
			allocs++
		}
	}
	assert.Equal(t, 2, allocs)

	var sum ir.Node
	for _, n := range res.Graph.Nodes {
		if n.Kind == ir.KindAdd {
			sum = n
		}
	}
	inputs := res.Graph.Inputs(sum.ID)
	require.Len(t, inputs, 2)
	assert.NotEqual(t, inputs[0].From.Node, inputs[1].From.Node)
}

func nestedRegions() *ir.Graph {
	return testutil.NewGraph("nested-regions").
		Input("a", testutil.I32()).
		Op("n1", ir.KindNeg, testutil.I32(), "a").
		Op("n2", ir.KindNeg, testutil.I32(), "n1").
		Op("n3", ir.KindNeg, testutil.I32(), "n2").
		Op("n4", ir.KindNeg, testutil.I32(), "n3").
		Region("outer", ir.RegionSequential, "", "n1").
		Region("inner", ir.RegionSequential, "outer", "n2", "n3").
		Region("solo", ir.RegionParallel, "outer", "n4").
		Region("lock", ir.RegionAtomic, "", "a").
		Build()
}

func TestCanonicalizeNormalizesRegions(t *testing.T) {
	res := canonicalize(t, nestedRegions())

	assert.Equal(t, 1, res.Stats.Inlined, "single-node parallel region is inlined")
	assert.Equal(t, 1, res.Stats.Flattened, "sequential child of a sequential parent is flattened")

	require.Len(t, res.Graph.Regions, 2)
	ids := []string{res.Graph.Regions[0].ID, res.Graph.Regions[1].ID}
	assert.ElementsMatch(t, []string{"outer", "lock"}, ids)

	outer, ok := res.Graph.Region("outer")
	require.True(t, ok)
	assert.Len(t, outer.Nodes, 4)

	lock, ok := res.Graph.Region("lock")
	require.True(t, ok)
	assert.Len(t, lock.Nodes, 1, "atomic regions are never inlined")
}

func TestCanonicalizeKeepsDifferentKindNesting(t *testing.T) {
	g := testutil.NewGraph("par-in-seq").
		Input("a", testutil.I32()).
		Op("n1", ir.KindNeg, testutil.I32(), "a").
		Op("n2", ir.KindNeg, testutil.I32(), "n1").
		Op("n3", ir.KindNeg, testutil.I32(), "n2").
		Region("seq", ir.RegionSequential, "", "n3").
		Region("par", ir.RegionParallel, "seq", "n1", "n2").
		Build()

	res := canonicalize(t, g)

	assert.Zero(t, res.Stats.Flattened)
	assert.Len(t, res.Graph.Regions, 2)
}

func TestCanonicalizeResolvesModules(t *testing.T) {
	body := testutil.NonNegIncrement()
	g := testutil.NewGraph("caller").
		Input("a", testutil.NonNegI32()).
		Op("inc", ir.KindCall, testutil.I32(), "a").
		With("inc", func(n *ir.Node) { n.Module = "lib/increment" }).
		Build()

	res := canonicalize(t, g, WithResolver(MapResolver{"lib/increment": body}))

	assert.Equal(t, 1, res.Stats.ResolvedModules)
	require.Len(t, res.Graph.Nodes, 2)
	var call ir.Node
	for _, n := range res.Graph.Nodes {
		if n.Kind == ir.KindCall {
			call = n
		}
	}
	bodyRoot := canonicalize(t, body).RootHash
	assert.Equal(t, bodyRoot, call.Body)
	require.Contains(t, res.Graph.Bodies, bodyRoot)
	assert.Len(t, res.Graph.Bodies[bodyRoot].Nodes, 3)
}

func TestCanonicalizeUnresolvedModule(t *testing.T) {
	g := testutil.NewGraph("caller").
		Input("a", testutil.I32()).
		Op("inc", ir.KindCall, testutil.I32(), "a").
		With("inc", func(n *ir.Node) { n.Module = "lib/missing" }).
		Build()

	_, err := New(WithResolver(MapResolver{})).Canonicalize(context.Background(), g)
	require.Error(t, err)

	var wf *WellFormednessError
	require.True(t, errors.As(err, &wf))
	assert.True(t, wf.Has(ErrUnresolvedModule))
	assert.Contains(t, err.Error(), "lib/missing")
	assert.Equal(t, diag.WellFormedness, diag.CodeOf(err))
}

func TestCanonicalizeBodyViolationsSurface(t *testing.T) {
	bad := testutil.NewGraph("bad-body").
		Input("raw", testutil.I32()).
		Op("rd", ir.KindRead, testutil.I32(), "raw").
		Build()
	g := testutil.NewGraph("loop").
		Input("a", testutil.I32()).
		Op("it", ir.KindIterate, testutil.I32(), "a").
		With("it", func(n *ir.Node) { n.Body = "step" }).
		Body("step", bad).
		Build()

	_, err := Canonicalize(context.Background(), g)

	var wf *WellFormednessError
	require.ErrorAs(t, err, &wf)
	assert.True(t, wf.Has(ErrMissingEffect))
	assert.Contains(t, err.Error(), "body step")
}

func TestCanonicalizeDropsUnreferencedBodies(t *testing.T) {
	g := testutil.NewGraph("loose").
		Input("a", testutil.I32()).
		Body("unused", testutil.NonNegIncrement()).
		Build()

	res := canonicalize(t, g)

	assert.Empty(t, res.Graph.Bodies)
}

func TestCanonicalizeRejectsMalformedGraph(t *testing.T) {
	g := testutil.NewGraph("broken").
		Input("a", testutil.I32()).
		Input("a", testutil.I32()).
		Build()

	_, err := Canonicalize(context.Background(), g)

	var wf *WellFormednessError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, "broken", wf.Graph)
	assert.True(t, wf.Has(ErrDuplicateNode))
}

func TestCanonicalizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Canonicalize(ctx, testutil.NonNegIncrement())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestCanonicalizeNilGraph(t *testing.T) {
	_, err := Canonicalize(context.Background(), nil)
	assert.Error(t, err)
}

func TestResultUses(t *testing.T) {
	res := canonicalize(t, testutil.SharedNegation())

	uses := res.Uses()
	// a->neg, b->sum, b->prod, neg->sum, neg->prod
	assert.Len(t, uses, 5)
	for i := 1; i < len(uses); i++ {
		prev, cur := uses[i-1], uses[i]
		assert.True(t, prev.Consumer < cur.Consumer ||
			(prev.Consumer == cur.Consumer && prev.Producer < cur.Producer))
	}
}
