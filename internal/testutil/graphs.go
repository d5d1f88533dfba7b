package testutil

import (
	"fmt"

	"github.com/roach88/kiln/internal/ir"
)

// I32 is the signed 32-bit integer type.
func I32() ir.Type { return ir.Int(32, true) }

// U8 is the unsigned 8-bit integer type.
func U8() ir.Type { return ir.Int(8, false) }

// NonNegI32 is i32 refined by value >= 0.
func NonNegI32() ir.Type { return I32().Refined(ir.MustParseExpr("value >= 0")) }

// ArrayOf returns a fixed-length array type. A zero length is generic until
// specialization.
func ArrayOf(n int64, elem ir.Type) ir.Type {
	return ir.Type{Base: ir.BaseArray, Len: n, Elem: &elem}
}

// GraphBuilder assembles graphs for tests using local node names. Inputs
// are wired in order: the i-th producer drives input port i, and the
// consumer's input types are taken from the producers' outputs.
//
// Builder methods panic on misuse; they are meant for fixtures.
type GraphBuilder struct {
	g *ir.Graph
}

// NewGraph starts a graph.
func NewGraph(name string) *GraphBuilder {
	return &GraphBuilder{g: &ir.Graph{Name: name}}
}

// Input adds a graph input.
func (b *GraphBuilder) Input(id string, t ir.Type) *GraphBuilder {
	b.g.Nodes = append(b.g.Nodes, ir.Node{ID: id, Kind: ir.KindInput, Sig: ir.Signature{Output: t}})
	return b
}

// Literal adds a constant.
func (b *GraphBuilder) Literal(id string, v int64, t ir.Type) *GraphBuilder {
	b.g.Nodes = append(b.g.Nodes, ir.Node{ID: id, Kind: ir.KindLiteral, Const: &v, Sig: ir.Signature{Output: t}})
	return b
}

// Op adds a node of the given kind fed by inputs.
func (b *GraphBuilder) Op(id string, kind ir.Kind, out ir.Type, inputs ...string) *GraphBuilder {
	n := ir.Node{ID: id, Kind: kind, Sig: ir.Signature{Output: out}}
	for port, src := range inputs {
		p := b.node(src)
		n.Sig.Inputs = append(n.Sig.Inputs, p.Sig.Output.Shape())
		b.g.Edges = append(b.g.Edges, ir.Edge{
			From: ir.PortRef{Node: src},
			To:   ir.PortRef{Node: id, Port: port},
			Type: p.Sig.Output,
		})
	}
	b.g.Nodes = append(b.g.Nodes, n)
	return b
}

// With mutates a node in place.
func (b *GraphBuilder) With(id string, fn func(n *ir.Node)) *GraphBuilder {
	fn(b.node(id))
	return b
}

// Pre adds parsed preconditions to a node.
func (b *GraphBuilder) Pre(id string, preds ...string) *GraphBuilder {
	n := b.node(id)
	for _, p := range preds {
		n.Contract.Pre = append(n.Contract.Pre, ir.MustParseExpr(p))
	}
	return b
}

// Post adds parsed postconditions to a node.
func (b *GraphBuilder) Post(id string, preds ...string) *GraphBuilder {
	n := b.node(id)
	for _, p := range preds {
		n.Contract.Post = append(n.Contract.Post, ir.MustParseExpr(p))
	}
	return b
}

// Time sets a node's WCET bound and critical section.
func (b *GraphBuilder) Time(id string, wcetNS int64, section string) *GraphBuilder {
	b.node(id).Contract.Time = &ir.TimeBound{WCETNS: wcetNS, Section: section, Critical: section != ""}
	return b
}

// Effects declares a node's effects.
func (b *GraphBuilder) Effects(id string, effects ...ir.Effect) *GraphBuilder {
	b.node(id).Contract.Effects = effects
	return b
}

// Region adds a region over nodes.
func (b *GraphBuilder) Region(id string, kind ir.RegionKind, parent string, nodes ...string) *GraphBuilder {
	b.g.Regions = append(b.g.Regions, ir.Region{ID: id, Kind: kind, Parent: parent, Nodes: nodes})
	return b
}

// Body registers a body subgraph under key.
func (b *GraphBuilder) Body(key string, body *ir.Graph) *GraphBuilder {
	if b.g.Bodies == nil {
		b.g.Bodies = map[string]*ir.Graph{}
	}
	b.g.Bodies[key] = body
	return b
}

// Build returns a copy of the graph.
func (b *GraphBuilder) Build() *ir.Graph {
	return b.g.Clone()
}

func (b *GraphBuilder) node(id string) *ir.Node {
	for i := range b.g.Nodes {
		if b.g.Nodes[i].ID == id {
			return &b.g.Nodes[i]
		}
	}
	panic(fmt.Sprintf("testutil: node %q not defined", id))
}

// NonNegIncrement is x: i32 where value >= 0, y = x + 1 with post y > 0.
// It verifies without the solver.
func NonNegIncrement() *ir.Graph {
	return NewGraph("non-neg-increment").
		Input("x", NonNegI32()).
		Literal("one", 1, I32()).
		Op("y", ir.KindAdd, I32(), "x", "one").
		Post("y", "out > 0").
		Build()
}

// SharedNegation has two identical negations of one input feeding
// unrelated consumers. Canonicalization collapses the negations.
func SharedNegation() *ir.Graph {
	return NewGraph("shared-negation").
		Input("a", I32()).
		Input("b", I32()).
		Op("neg1", ir.KindNeg, I32(), "a").
		Op("neg2", ir.KindNeg, I32(), "a").
		Op("sum", ir.KindAdd, I32(), "neg1", "b").
		Op("prod", ir.KindMul, I32(), "b", "neg2").
		Build()
}

// Pipeline is a small mixed graph: a sensor read feeds a clamp and a
// checksum over a buffer, combined by an add. It exercises effect,
// data and primitive kinds.
func Pipeline() *ir.Graph {
	buf := ArrayOf(64, U8())
	return NewGraph("pipeline").
		Input("raw", I32()).
		Input("buffer", buf).
		Literal("lo", 0, I32()).
		Literal("hi", 1000, I32()).
		Op("sample", ir.KindRead, I32(), "raw").
		Effects("sample", ir.EffectIO).
		Op("level", ir.KindClamp, I32().Refined(ir.MustParseExpr("value >= 0 && value <= 1000")), "sample", "lo", "hi").
		Op("crc", ir.KindChecksum, I32(), "buffer").
		Op("total", ir.KindAdd, I32(), "level", "crc").
		Time("total", 200_000, "control").
		Region("main", ir.RegionSequential, "", "sample", "level", "crc", "total").
		Build()
}

// ControlLoop checksums eighteen sensor frames and sums the results under
// a critical 50µs section. Each input carries its port number as a
// parameter.
//
// On stm32f407 with aggressive inlining the inlined checksums overflow the
// 1 KiB fetch buffer and miss the deadline; one shared checksum routine
// meets it.
func ControlLoop() *ir.Graph {
	frame := ArrayOf(64, U8())
	b := NewGraph("control-loop")
	for i := range 18 {
		id := fmt.Sprintf("frame%02d", i)
		b.Input(id, frame).With(id, func(n *ir.Node) { n.Params = map[string]int64{"port": int64(i)} })
		b.Op(fmt.Sprintf("crc%02d", i), ir.KindChecksum, I32(), id)
	}
	prev := "crc00"
	for i := 1; i < 18; i++ {
		id := fmt.Sprintf("sum%02d", i)
		b.Op(id, ir.KindAdd, I32(), prev, fmt.Sprintf("crc%02d", i))
		prev = id
	}
	return b.Time(prev, 50_000, "control").Build()
}
