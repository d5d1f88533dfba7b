package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func i32() Type { return Int(32, true) }

func diamond() *Graph {
	c := int64(7)
	return &Graph{
		Name: "diamond",
		Nodes: []Node{
			{ID: "sum", Kind: KindAdd, Sig: Signature{Inputs: []Type{i32(), i32()}, Output: i32()}},
			{ID: "a", Kind: KindInput, Sig: Signature{Output: i32()}},
			{ID: "k", Kind: KindLiteral, Const: &c, Sig: Signature{Output: i32()}},
			{ID: "neg", Kind: KindNeg, Sig: Signature{Inputs: []Type{i32()}, Output: i32()}},
		},
		Edges: []Edge{
			{From: PortRef{"neg", 0}, To: PortRef{"sum", 1}, Type: i32()},
			{From: PortRef{"a", 0}, To: PortRef{"sum", 0}, Type: i32()},
			{From: PortRef{"k", 0}, To: PortRef{"neg", 0}, Type: i32()},
		},
		Regions: []Region{
			{ID: "outer", Kind: RegionSequential, Nodes: []string{"a", "k", "neg", "sum"}},
			{ID: "inner", Kind: RegionParallel, Parent: "outer", Nodes: []string{"neg"}},
		},
	}
}

func TestTopoOrder(t *testing.T) {
	g := diamond()
	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "k", "neg", "sum"}, order)

	g.Edges = append(g.Edges, Edge{From: PortRef{"sum", 0}, To: PortRef{"k", 0}})
	_, err = g.TopoOrder()
	assert.ErrorContains(t, err, "cycle")
}

func TestGraphLookups(t *testing.T) {
	g := diamond()

	in := g.Inputs("sum")
	require.Len(t, in, 2)
	assert.Equal(t, "a", in[0].From.Node)
	assert.Equal(t, "neg", in[1].From.Node)

	assert.Len(t, g.Consumers("k"), 1)
	assert.Equal(t, "inner", g.RegionOf("neg"))
	assert.Equal(t, "outer", g.RegionOf("sum"))
	assert.Equal(t, "", g.RegionOf("missing"))

	_, ok := g.Node("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, g.Index()["k"])
	assert.Equal(t, "neg:0->sum:1", g.Edges[0].Key())
}

func TestCloneIsDeep(t *testing.T) {
	g := diamond()
	g.Nodes[0].Params = map[string]int64{"p": 1}
	g.Bodies = map[string]*Graph{"b": {Name: "body"}}

	c := g.Clone()
	*c.Nodes[2].Const = 99
	c.Nodes[0].Params["p"] = 2
	c.Regions[0].Nodes[0] = "zzz"
	c.Bodies["b"].Name = "changed"

	assert.Equal(t, int64(7), *g.Nodes[2].Const)
	assert.Equal(t, int64(1), g.Nodes[0].Params["p"])
	assert.Equal(t, "a", g.Regions[0].Nodes[0])
	assert.Equal(t, "body", g.Bodies["b"].Name)
	assert.Nil(t, (*Graph)(nil).Clone())
}

func TestNodeIdentity(t *testing.T) {
	g := diamond()
	n, _ := g.Node("sum")

	base := MustHash(DomainNode, n.Identity([]string{"x:0", "y:0"}))
	assert.NotEqual(t, base, MustHash(DomainNode, n.Identity([]string{"y:0", "x:0"})), "input order matters")

	n.Provenance = &Provenance{Author: "someone"}
	n.Contract.Status = StatusVerified
	n.Annotations = map[string]string{"note": "x"}
	assert.Equal(t, base, MustHash(DomainNode, n.Identity([]string{"x:0", "y:0"})))

	n.Contract.Post = []Expr{MustParseExpr("out == in0 + in1")}
	assert.NotEqual(t, base, MustHash(DomainNode, n.Identity([]string{"x:0", "y:0"})))
}

func TestKinds(t *testing.T) {
	assert.Equal(t, ClassEffect, KindSyscall.Class())
	assert.True(t, KindClamp.Known())
	assert.False(t, Kind("teleport").Known())
	assert.True(t, KindFixpoint.Designated())
	assert.False(t, KindCall.Designated())

	eff, ok := KindAlloc.RequiredEffect()
	assert.True(t, ok)
	assert.Equal(t, EffectAlloc, eff)
	_, ok = KindAdd.RequiredEffect()
	assert.False(t, ok)
}
