package ir

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Kind is a node kind tag.
type Kind string

const (
	// primitive
	KindInput   Kind = "input"
	KindLiteral Kind = "literal"
	KindAdd     Kind = "add"
	KindSub     Kind = "sub"
	KindMul     Kind = "mul"
	KindDiv     Kind = "div"
	KindNeg     Kind = "neg"
	KindMin     Kind = "min"
	KindMax     Kind = "max"
	KindClamp   Kind = "clamp"

	// data
	KindConstruct   Kind = "construct"
	KindDestructure Kind = "destructure"
	KindIndex       Kind = "index"
	KindSort        Kind = "sort"
	KindSearch      Kind = "search"
	KindChecksum    Kind = "checksum"
	KindFilter      Kind = "filter"
	KindReduce      Kind = "reduce"

	// control
	KindSelect   Kind = "select"
	KindIterate  Kind = "iterate"
	KindRecurse  Kind = "recurse"
	KindFixpoint Kind = "fixpoint"
	KindCall     Kind = "call"

	// effect
	KindRead      Kind = "read"
	KindWrite     Kind = "write"
	KindAlloc     Kind = "alloc"
	KindFree      Kind = "free"
	KindSyscall   Kind = "syscall"
	KindFFICall   Kind = "ffi_call"
	KindInterrupt Kind = "interrupt"

	// meta
	KindVerify   Kind = "verify"
	KindAssume   Kind = "assume"
	KindAnnotate Kind = "annotate"

	// probabilistic
	KindSample      Kind = "sample"
	KindApproximate Kind = "approximate"
)

// Class groups kinds.
type Class string

const (
	ClassPrimitive     Class = "primitive"
	ClassData          Class = "data"
	ClassControl       Class = "control"
	ClassEffect        Class = "effect"
	ClassMeta          Class = "meta"
	ClassProbabilistic Class = "probabilistic"
)

var kindClass = map[Kind]Class{
	KindInput: ClassPrimitive, KindLiteral: ClassPrimitive, KindAdd: ClassPrimitive,
	KindSub: ClassPrimitive, KindMul: ClassPrimitive, KindDiv: ClassPrimitive,
	KindNeg: ClassPrimitive, KindMin: ClassPrimitive, KindMax: ClassPrimitive,
	KindClamp: ClassPrimitive,

	KindConstruct: ClassData, KindDestructure: ClassData, KindIndex: ClassData,
	KindSort: ClassData, KindSearch: ClassData, KindChecksum: ClassData,
	KindFilter: ClassData, KindReduce: ClassData,

	KindSelect: ClassControl, KindIterate: ClassControl, KindRecurse: ClassControl,
	KindFixpoint: ClassControl, KindCall: ClassControl,

	KindRead: ClassEffect, KindWrite: ClassEffect, KindAlloc: ClassEffect,
	KindFree: ClassEffect, KindSyscall: ClassEffect, KindFFICall: ClassEffect,
	KindInterrupt: ClassEffect,

	KindVerify: ClassMeta, KindAssume: ClassMeta, KindAnnotate: ClassMeta,

	KindSample: ClassProbabilistic, KindApproximate: ClassProbabilistic,
}

// Class returns the kind's class, or "" for unknown kinds.
func (k Kind) Class() Class { return kindClass[k] }

// Known reports whether k is a defined kind.
func (k Kind) Known() bool {
	_, ok := kindClass[k]
	return ok
}

// Designated reports whether k may carry a cycle, expressed as a body
// reference rather than a back-edge.
func (k Kind) Designated() bool {
	return k == KindIterate || k == KindRecurse || k == KindFixpoint
}

// RequiredEffect returns the effect an effect-class kind must declare.
func (k Kind) RequiredEffect() (Effect, bool) {
	switch k {
	case KindRead, KindWrite, KindSyscall, KindInterrupt:
		return EffectIO, true
	case KindAlloc, KindFree:
		return EffectAlloc, true
	case KindFFICall:
		return EffectFFI, true
	}
	return "", false
}

// PortRef names one port of one node.
type PortRef struct {
	Node string `json:"node" yaml:"node"`
	Port int    `json:"port" yaml:"port"`
}

func (p PortRef) String() string { return p.Node + ":" + strconv.Itoa(p.Port) }

// LifetimeKind says how long an edge's value stays valid.
type LifetimeKind string

const (
	LifetimeRegion  LifetimeKind = "region"
	LifetimeStatic  LifetimeKind = "static"
	LifetimeManual  LifetimeKind = "manual"
	LifetimeBounded LifetimeKind = "bounded"
)

// Lifetime is an edge's validity lifetime.
type Lifetime struct {
	Kind    LifetimeKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Region  string       `json:"region,omitempty" yaml:"region,omitempty"`
	BoundNS int64        `json:"bound_ns,omitempty" yaml:"bound_ns,omitempty"`
}

// Bandwidth constrains the data rate carried by an edge.
type Bandwidth struct {
	MinBytesPerSec int64 `json:"min_bytes_per_sec,omitempty" yaml:"min_bytes_per_sec,omitempty"`
	MaxBytesPerSec int64 `json:"max_bytes_per_sec" yaml:"max_bytes_per_sec"`
}

// Edge carries a value from an output port to an input port. An edge that
// crosses a region boundary names the interface port it passes through.
type Edge struct {
	From      PortRef    `json:"from" yaml:"from"`
	To        PortRef    `json:"to" yaml:"to"`
	Type      Type       `json:"type" yaml:"type"`
	Lifetime  Lifetime   `json:"lifetime,omitempty" yaml:"lifetime,omitempty"`
	Bandwidth *Bandwidth `json:"bandwidth,omitempty" yaml:"bandwidth,omitempty"`
	Via       string     `json:"via,omitempty" yaml:"via,omitempty"`
}

// Key identifies an edge by its endpoints.
func (e Edge) Key() string { return e.From.String() + "->" + e.To.String() }

// RegionKind is a region's execution discipline.
type RegionKind string

const (
	RegionSequential  RegionKind = "sequential"
	RegionParallel    RegionKind = "parallel"
	RegionConditional RegionKind = "conditional"
	RegionIterative   RegionKind = "iterative"
	RegionAtomic      RegionKind = "atomic"
)

// Direction of an interface port.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Port is an externally visible region port.
type Port struct {
	Name      string    `json:"name" yaml:"name"`
	Direction Direction `json:"direction" yaml:"direction"`
	Index     int       `json:"index" yaml:"index"`
	Type      Type      `json:"type" yaml:"type"`
}

// RegionConstraints are resource and timing limits for a region.
type RegionConstraints struct {
	MaxTimeNS   int64 `json:"max_time_ns,omitempty" yaml:"max_time_ns,omitempty"`
	MaxMemory   int64 `json:"max_memory,omitempty" yaml:"max_memory,omitempty"`
	MaxEnergyNJ int64 `json:"max_energy_nj,omitempty" yaml:"max_energy_nj,omitempty"`
}

// Empty reports whether no constraint is set.
func (c RegionConstraints) Empty() bool {
	return c.MaxTimeNS == 0 && c.MaxMemory == 0 && c.MaxEnergyNJ == 0
}

// Region is a scope over a set of nodes.
type Region struct {
	ID          string            `json:"id" yaml:"id"`
	Kind        RegionKind        `json:"kind" yaml:"kind"`
	Parent      string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Nodes       []string          `json:"nodes" yaml:"nodes"`
	Constraints RegionConstraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Ports       []Port            `json:"ports,omitempty" yaml:"ports,omitempty"`
}

// Port returns the interface port with the given name.
func (r Region) Port(name string) (Port, bool) {
	for _, p := range r.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Provenance records where a node came from. Never hashed.
type Provenance struct {
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Node is one vertex of the program graph. Before canonicalization ID is a
// builder-assigned local name; afterwards it is the content hash.
type Node struct {
	ID          string            `json:"id" yaml:"id"`
	Kind        Kind              `json:"kind" yaml:"kind"`
	Sig         Signature         `json:"sig" yaml:"sig"`
	Contract    Contract          `json:"contract,omitempty" yaml:"contract,omitempty"`
	Const       *int64            `json:"const,omitempty" yaml:"const,omitempty"`
	Params      map[string]int64  `json:"params,omitempty" yaml:"params,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	Module      string            `json:"module,omitempty" yaml:"module,omitempty"`
	Provenance  *Provenance       `json:"provenance,omitempty" yaml:"provenance,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// Param returns a parameter or def when absent.
func (n Node) Param(name string, def int64) int64 {
	if v, ok := n.Params[name]; ok {
		return v
	}
	return def
}

// Identity returns the content that determines a node's hash, given the
// ordered references of its inputs ("producer-id:port").
func (n Node) Identity(inputs []string) IRObject {
	obj := IRObject{
		"kind":     IRString(n.Kind),
		"sig":      n.Sig.Canonical(),
		"contract": n.Contract.Canonical(),
		"inputs":   Strings(inputs),
	}
	if n.Const != nil {
		obj["const"] = IRInt(*n.Const)
	}
	if len(n.Params) > 0 {
		obj["params"] = Ints(n.Params)
	}
	if n.Body != "" {
		obj["body"] = IRString(n.Body)
	}
	if n.Module != "" {
		obj["module"] = IRString(n.Module)
	}
	return obj
}

// Graph is the program graph. Nodes form an arena addressed by ID; Bodies
// holds the separately addressed subgraphs of designated-cycle nodes.
type Graph struct {
	Name    string            `json:"name" yaml:"name"`
	Nodes   []Node            `json:"nodes" yaml:"nodes"`
	Edges   []Edge            `json:"edges" yaml:"edges"`
	Regions []Region          `json:"regions,omitempty" yaml:"regions,omitempty"`
	Bodies  map[string]*Graph `json:"bodies,omitempty" yaml:"bodies,omitempty"`
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Index maps node IDs to positions in Nodes.
func (g *Graph) Index() map[string]int {
	idx := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		idx[n.ID] = i
	}
	return idx
}

// Inputs returns the edges into node id ordered by port.
func (g *Graph) Inputs(id string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To.Node == id {
			in = append(in, e)
		}
	}
	slices.SortFunc(in, func(a, b Edge) int { return a.To.Port - b.To.Port })
	return in
}

// Consumers returns the edges out of node id.
func (g *Graph) Consumers(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From.Node == id {
			out = append(out, e)
		}
	}
	return out
}

// RegionOf returns the innermost region containing node id, or "".
// Regions deeper in the parent chain win.
func (g *Graph) RegionOf(id string) string {
	best, bestDepth := "", -1
	for _, r := range g.Regions {
		if slices.Contains(r.Nodes, id) {
			if d := g.regionDepth(r.ID); d > bestDepth {
				best, bestDepth = r.ID, d
			}
		}
	}
	return best
}

func (g *Graph) regionDepth(id string) int {
	depth := 0
	seen := map[string]bool{}
	for id != "" && !seen[id] {
		seen[id] = true
		r, ok := g.Region(id)
		if !ok {
			break
		}
		id = r.Parent
		depth++
	}
	return depth
}

// Region returns the region with the given ID.
func (g *Graph) Region(id string) (Region, bool) {
	for _, r := range g.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}

// TopoOrder returns node IDs in a deterministic topological order (Kahn's
// algorithm, ties broken by ID). It fails if edges form a cycle.
func (g *Graph) TopoOrder() ([]string, error) {
	indeg := make(map[string]int, len(g.Nodes))
	succ := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := indeg[e.To.Node]; !ok {
			continue
		}
		if _, ok := indeg[e.From.Node]; !ok {
			continue
		}
		indeg[e.To.Node]++
		succ[e.From.Node] = append(succ[e.From.Node], e.To.Node)
	}
	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)
	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var next []string
		for _, s := range succ[id] {
			indeg[s]--
			if indeg[s] == 0 {
				next = append(next, s)
			}
		}
		if len(next) > 0 {
			ready = append(ready, next...)
			slices.Sort(ready)
		}
	}
	if len(order) != len(indeg) {
		return nil, fmt.Errorf("graph %q has a cycle outside designated nodes", g.Name)
	}
	return order, nil
}

// Clone returns a deep copy of g. Canonicalization works on clones so the
// input graph is never mutated.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	out := &Graph{Name: g.Name}
	out.Nodes = make([]Node, len(g.Nodes))
	for i, n := range g.Nodes {
		out.Nodes[i] = cloneNode(n)
	}
	out.Edges = make([]Edge, len(g.Edges))
	for i, e := range g.Edges {
		out.Edges[i] = e
		if e.Bandwidth != nil {
			bw := *e.Bandwidth
			out.Edges[i].Bandwidth = &bw
		}
	}
	if g.Regions != nil {
		out.Regions = make([]Region, len(g.Regions))
		for i, r := range g.Regions {
			out.Regions[i] = r
			out.Regions[i].Nodes = slices.Clone(r.Nodes)
			out.Regions[i].Ports = slices.Clone(r.Ports)
		}
	}
	if g.Bodies != nil {
		out.Bodies = make(map[string]*Graph, len(g.Bodies))
		for k, b := range g.Bodies {
			out.Bodies[k] = b.Clone()
		}
	}
	return out
}

func cloneNode(n Node) Node {
	c := n
	if n.Const != nil {
		v := *n.Const
		c.Const = &v
	}
	c.Params = maps.Clone(n.Params)
	c.Annotations = maps.Clone(n.Annotations)
	c.Sig.Inputs = slices.Clone(n.Sig.Inputs)
	c.Contract.Pre = slices.Clone(n.Contract.Pre)
	c.Contract.Post = slices.Clone(n.Contract.Post)
	c.Contract.Effects = slices.Clone(n.Contract.Effects)
	c.Contract.Failures = slices.Clone(n.Contract.Failures)
	if n.Provenance != nil {
		p := *n.Provenance
		c.Provenance = &p
	}
	return c
}
