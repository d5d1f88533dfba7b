// Package obligation derives proof obligations from a canonical graph.
//
// Each node is viewed locally: its output is "out" and its input ports are
// "in0", "in1", ... Facts about producers are renamed into the consumer's
// view ("in0" for the producer's output, "in0.in1" for the producer's second
// input) and followed backwards to a bounded depth.
package obligation

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// DefaultPropagationDepth is the number of producer levels whose facts are
// carried into an obligation.
const DefaultPropagationDepth = 4

// Options control generation.
type Options struct {
	// PropagationDepth bounds backward fact propagation. Zero means
	// DefaultPropagationDepth.
	PropagationDepth int
}

// Set is the obligation set of one graph, sorted by ID. The same graph
// under the same options always yields the same set.
type Set struct {
	Graph       string
	Obligations []ir.Obligation
}

// Len returns the number of obligations.
func (s *Set) Len() int { return len(s.Obligations) }

// Round returns the obligations of one round.
func (s *Set) Round(r ir.Round) []ir.Obligation {
	var out []ir.Obligation
	for _, o := range s.Obligations {
		if o.Round == r {
			out = append(out, o)
		}
	}
	return out
}

// Get returns the obligation with the given ID.
func (s *Set) Get(id string) (ir.Obligation, bool) {
	i, ok := slices.BinarySearchFunc(s.Obligations, id, func(o ir.Obligation, id string) int {
		return cmp.Compare(o.ID, id)
	})
	if !ok {
		return ir.Obligation{}, false
	}
	return s.Obligations[i], true
}

// Touching returns the obligations whose context node is in nodes.
func (s *Set) Touching(nodes map[string]bool) []ir.Obligation {
	var out []ir.Obligation
	for _, o := range s.Obligations {
		if nodes[o.Context.Node] {
			out = append(out, o)
		}
	}
	return out
}

// Generate walks g in topological order and emits its obligations:
// refinements at production sites, preconditions at consumption sites,
// postconditions at producing nodes, linearity invariants, termination
// metrics, protocol machines, and resource bounds deferred to round B.
func Generate(g *ir.Graph, opts Options) (*Set, error) {
	if opts.PropagationDepth <= 0 {
		opts.PropagationDepth = DefaultPropagationDepth
	}
	order, err := g.TopoOrder()
	if err != nil {
		return nil, fmt.Errorf("generate obligations: %w", err)
	}
	gen := &generator{
		g:     g,
		depth: opts.PropagationDepth,
		nodes: make(map[string]ir.Node, len(g.Nodes)),
		memo:  map[memoKey]view{},
	}
	for _, n := range g.Nodes {
		gen.nodes[n.ID] = n
	}
	for _, id := range order {
		gen.node(gen.nodes[id])
	}
	for _, e := range g.Edges {
		gen.edge(e)
	}
	for _, r := range g.Regions {
		gen.region(r)
	}
	if gen.err != nil {
		return nil, gen.err
	}

	slices.SortFunc(gen.out, func(a, b ir.Obligation) int { return cmp.Compare(a.ID, b.ID) })
	gen.out = slices.CompactFunc(gen.out, func(a, b ir.Obligation) bool { return a.ID == b.ID })
	return &Set{Graph: g.Name, Obligations: gen.out}, nil
}

type memoKey struct {
	id    string
	depth int
}

// view is what is known about one node's variables.
type view struct {
	facts []ir.Expr
	vars  map[string]ir.Type
}

func (v *view) add(facts ...ir.Expr) {
	for _, f := range facts {
		if f.Op == ir.OpTrue {
			continue
		}
		v.facts = append(v.facts, f)
	}
}

type generator struct {
	g     *ir.Graph
	depth int
	nodes map[string]ir.Node
	memo  map[memoKey]view
	out   []ir.Obligation
	err   error
}

func (gen *generator) emit(o ir.Obligation) {
	if gen.err != nil {
		return
	}
	o.Assumptions = dedupe(o.Assumptions)
	if err := o.Seal(); err != nil {
		gen.err = err
		return
	}
	gen.out = append(gen.out, o)
}

// known returns the facts about a producer: its definition, refinement,
// contract, and its own inputs while depth remains.
func (gen *generator) known(id string, depth int) view {
	key := memoKey{id, depth}
	if v, ok := gen.memo[key]; ok {
		return v
	}
	n := gen.nodes[id]
	v := view{vars: map[string]ir.Type{varOut: n.Sig.Output}}
	v.add(define(n)...)
	if r, ok := refinement(n.Sig.Output, varOut); ok {
		v.add(r)
	}
	v.add(n.Contract.Post...)
	v.add(n.Contract.Pre...)
	if depth > 0 {
		in := gen.inputs(n, depth-1)
		v.add(in.facts...)
		for k, t := range in.vars {
			v.vars[k] = t
		}
	}
	gen.memo[key] = v
	return v
}

// inputs returns the facts about n's inputs, renamed into n's view.
func (gen *generator) inputs(n ir.Node, depth int) view {
	v := view{vars: map[string]ir.Type{}}
	seen := map[ir.PortRef]string{}
	for _, e := range gen.g.Inputs(n.ID) {
		name := inVar(e.To.Port)
		p, ok := gen.nodes[e.From.Node]
		if !ok {
			continue
		}
		v.vars[name] = p.Sig.Output
		if prev, ok := seen[e.From]; ok {
			v.add(ir.Eq(ir.Var(name), ir.Var(prev)))
			continue
		}
		seen[e.From] = name

		pv := gen.known(p.ID, depth)
		for _, f := range pv.facts {
			v.add(prefix(f, name))
		}
		for k, t := range pv.vars {
			v.vars[scoped(name, k)] = t
		}
	}
	return v
}

func scoped(name, v string) string {
	if v == varOut {
		return name
	}
	return name + "." + v
}

func prefix(e ir.Expr, name string) ir.Expr {
	m := map[string]string{}
	for _, v := range e.Vars() {
		m[v] = scoped(name, v)
	}
	return e.Rename(m)
}

// local returns n's own view: definition plus input facts.
func (gen *generator) local(n ir.Node) view {
	v := view{vars: map[string]ir.Type{varOut: n.Sig.Output}}
	v.add(define(n)...)
	in := gen.inputs(n, gen.depth-1)
	v.add(in.facts...)
	for k, t := range in.vars {
		v.vars[k] = t
	}
	return v
}

func (gen *generator) node(n ir.Node) {
	loc := gen.local(n)
	ctx := ir.ObligationContext{Node: n.ID}
	critical := n.Contract.Time != nil && n.Contract.Time.Critical
	withPre := append(slices.Clone(loc.facts), n.Contract.Pre...)

	// Inputs are trusted: their refinement is what the environment promises.
	if r, ok := refinement(n.Sig.Output, varOut); ok && n.Kind != ir.KindInput {
		gen.emit(ir.Obligation{
			Kind: ir.ObRefinement, Round: ir.RoundA, Context: ctx,
			Goal: r, Assumptions: withPre, Vars: loc.vars, Critical: critical,
			Description: fmt.Sprintf("%s output satisfies %s", n.Kind, n.Sig.Output.Refinement),
		})
	}

	pres := append(implicitPre(n), n.Contract.Pre...)
	for port, t := range n.Sig.Inputs {
		if r, ok := refinement(t, inVar(port)); ok {
			pres = append(pres, r)
		}
	}
	for _, pre := range pres {
		gen.emit(ir.Obligation{
			Kind: ir.ObPrecondition, Round: ir.RoundA, Context: ctx,
			Goal: pre, Assumptions: loc.facts, Vars: loc.vars, Critical: critical,
			Description: fmt.Sprintf("%s precondition %s", n.Kind, pre),
		})
	}

	// Assume nodes introduce facts; everything else must prove its posts.
	if n.Kind != ir.KindAssume {
		for _, post := range n.Contract.Post {
			gen.emit(ir.Obligation{
				Kind: ir.ObPostcondition, Round: ir.RoundA, Context: ctx,
				Goal: post, Assumptions: withPre, Vars: loc.vars, Critical: critical,
				Description: fmt.Sprintf("%s postcondition %s", n.Kind, post),
			})
		}
	}

	gen.linearity(n, critical)
	gen.termination(n, critical)
	if p := n.Contract.Protocol; p != nil {
		proto := *p
		gen.emit(ir.Obligation{
			Kind: ir.ObProtocol, Round: ir.RoundA, Context: ctx,
			Goal: ir.True(), Protocol: &proto, Critical: critical,
			Description: fmt.Sprintf("%s follows its protocol from %q", n.Kind, p.Initial),
		})
	}
	gen.resources(n, critical)
}

func (gen *generator) linearity(n ir.Node, critical bool) {
	lin := n.Sig.Output.Linearity
	if lin == ir.Unrestricted {
		return
	}
	uses := len(gen.g.Consumers(n.ID))
	goal := ir.Eq(ir.Var("uses"), ir.Const(1))
	if lin == ir.Affine {
		goal = ir.Le(ir.Var("uses"), ir.Const(1))
	}
	gen.emit(ir.Obligation{
		Kind: ir.ObLinearity, Round: ir.RoundA, Context: ir.ObligationContext{Node: n.ID},
		Goal:        goal,
		Assumptions: []ir.Expr{ir.Eq(ir.Var("uses"), ir.Const(int64(uses)))},
		Vars:        map[string]ir.Type{"uses": ir.Int(64, true)},
		Linearity:   lin, Uses: uses, Critical: critical,
		Description: fmt.Sprintf("%s value consumed %d times", lin, uses),
	})
}

// termination requires a static bound or a metric over the iteration index
// that strictly decreases while it is non-negative. Parameters referenced
// by the metric are substituted by their values.
func (gen *generator) termination(n ir.Node, critical bool) {
	if !n.Kind.Designated() {
		return
	}
	o := ir.Obligation{
		Kind: ir.ObTermination, Round: ir.RoundA, Context: ir.ObligationContext{Node: n.ID},
		Vars:     map[string]ir.Type{varIter: ir.Int(64, true)},
		Critical: critical,
	}
	term := n.Contract.Termination
	switch {
	case term != nil && term.Bound > 0:
		o.StaticBound = term.Bound
		o.Goal = ir.Le(ir.Var(varIter), ir.Const(term.Bound))
		o.Description = fmt.Sprintf("%s bounded by %d iterations", n.Kind, term.Bound)
	case term != nil && term.Metric != nil:
		params := make(map[string]ir.Expr, len(n.Params))
		for k, v := range n.Params {
			params[k] = ir.Const(v)
		}
		m := term.Metric.Subst(params)
		next := m.Subst(map[string]ir.Expr{varIter: ir.Add(ir.Var(varIter), ir.Const(1))})
		o.Goal = ir.Lt(next, m)
		o.Assumptions = []ir.Expr{ir.Ge(ir.Var(varIter), ir.Const(0)), ir.Ge(m, ir.Const(0))}
		o.Description = fmt.Sprintf("%s metric %s decreases", n.Kind, m)
	default:
		o.Goal = ir.False()
		o.Description = fmt.Sprintf("%s declares no termination argument", n.Kind)
	}
	gen.emit(o)
}

// resources emits the deferred round-B templates for a node's bounds.
func (gen *generator) resources(n ir.Node, critical bool) {
	c := n.Contract
	if c.Time != nil {
		gen.emit(resource(ir.ObligationContext{Node: n.ID, Section: c.Time.Section},
			ir.MeasureWCET, c.Time.WCETNS, c.Time.Critical || critical))
	}
	if c.Memory != nil {
		gen.emit(resource(ir.ObligationContext{Node: n.ID}, ir.MeasureMemory, c.Memory.MaxBytes, critical))
	}
	if c.Energy != nil {
		gen.emit(resource(ir.ObligationContext{Node: n.ID}, ir.MeasureEnergy, c.Energy.MaxNJ, critical))
	}
	if c.Stack != nil {
		gen.emit(resource(ir.ObligationContext{Node: n.ID}, ir.MeasureStack, c.Stack.MaxBytes, critical))
	}
}

func (gen *generator) region(r ir.Region) {
	ctx := ir.ObligationContext{Region: r.ID}
	atomic := r.Kind == ir.RegionAtomic
	if r.Constraints.MaxTimeNS > 0 {
		gen.emit(resource(ctx, ir.MeasureWCET, r.Constraints.MaxTimeNS, atomic))
	}
	if r.Constraints.MaxMemory > 0 {
		gen.emit(resource(ctx, ir.MeasureMemory, r.Constraints.MaxMemory, atomic))
	}
	if r.Constraints.MaxEnergyNJ > 0 {
		gen.emit(resource(ctx, ir.MeasureEnergy, r.Constraints.MaxEnergyNJ, atomic))
	}
}

func resource(ctx ir.ObligationContext, m ir.Measure, bound int64, critical bool) ir.Obligation {
	return ir.Obligation{
		Kind: ir.ObResource, Round: ir.RoundB, Context: ctx,
		Goal:        ir.Le(ir.Var(string(m)), ir.Const(bound)),
		Vars:        map[string]ir.Type{string(m): ir.Int(64, true)},
		Measure:     m,
		Bound:       bound,
		Critical:    critical,
		Description: fmt.Sprintf("%s <= %d", m, bound),
	}
}

// edge emits a refinement obligation when an edge narrows the producer's
// output type.
func (gen *generator) edge(e ir.Edge) {
	r, ok := refinement(e.Type, varOut)
	if !ok {
		return
	}
	p, ok := gen.nodes[e.From.Node]
	if !ok {
		return
	}
	if pr := p.Sig.Output.Refinement; pr != nil && pr.Equal(*e.Type.Refinement) {
		return
	}
	v := gen.known(p.ID, gen.depth-1)
	gen.emit(ir.Obligation{
		Kind: ir.ObRefinement, Round: ir.RoundA,
		Context: ir.ObligationContext{Node: p.ID, Edge: e.Key()},
		Goal:    r, Assumptions: v.facts, Vars: v.vars,
		Description: fmt.Sprintf("edge %s carries %s", e.Key(), e.Type),
	})
}

// dedupe drops repeated assumptions, keeping first occurrences.
func dedupe(es []ir.Expr) []ir.Expr {
	seen := map[string]bool{}
	out := make([]ir.Expr, 0, len(es))
	for _, e := range es {
		if e.Op == ir.OpTrue {
			continue
		}
		k := e.String()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
