package canon

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/ir"
)

// maxBodyDepth bounds nesting of bodies and resolved modules.
const maxBodyDepth = 32

// Result is a canonical graph plus its root content hash.
type Result struct {
	Graph    *ir.Graph
	RootHash string
	Stats    ir.CanonStats
}

// Use is one consumer -> producer dependency between canonical nodes.
type Use struct {
	Consumer string
	Producer string
}

// Uses lists the distinct dependencies of the canonical graph, sorted.
func (r *Result) Uses() []Use {
	seen := map[Use]bool{}
	var out []Use
	for _, e := range r.Graph.Edges {
		u := Use{Consumer: e.To.Node, Producer: e.From.Node}
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	slices.SortFunc(out, func(a, b Use) int {
		return cmp.Or(cmp.Compare(a.Consumer, b.Consumer), cmp.Compare(a.Producer, b.Producer))
	})
	return out
}

// Canonicalizer normalizes graphs: module resolution, validation,
// content hashing, deduplication and region normalization.
type Canonicalizer struct {
	resolver ModuleResolver
	logger   *zap.Logger
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithResolver sets the resolver used for external module references.
// Without one, unresolved module references are violations.
func WithResolver(r ModuleResolver) Option {
	return func(c *Canonicalizer) { c.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Canonicalizer) { c.logger = l }
}

// New creates a Canonicalizer.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Canonicalize canonicalizes g with default options.
func Canonicalize(ctx context.Context, g *ir.Graph) (*Result, error) {
	return New().Canonicalize(ctx, g)
}

// Canonicalize returns the canonical form of g. The input is never mutated.
//
// The result is deterministic and idempotent: canonicalizing a canonical
// graph yields the same graph and root hash. Any well-formedness violation
// fails with *WellFormednessError.
func (c *Canonicalizer) Canonicalize(ctx context.Context, g *ir.Graph) (*Result, error) {
	if g == nil {
		return nil, errors.New("canonicalize: nil graph")
	}
	stats := ir.CanonStats{InitialNodes: len(g.Nodes)}
	out, root, err := c.canonicalize(ctx, g.Clone(), &stats, 0)
	if err != nil {
		return nil, err
	}
	stats.FinalNodes = len(out.Nodes)

	c.logger.Debug("graph canonicalized",
		zap.String("graph", g.Name),
		zap.String("root", ir.Short(root)),
		zap.Int("nodes", stats.FinalNodes),
		zap.Int("deduplicated", stats.Deduplicated),
		zap.Int("inlined", stats.Inlined),
		zap.Int("flattened", stats.Flattened))

	return &Result{Graph: out, RootHash: root, Stats: stats}, nil
}

// canonicalize works in place on a private clone.
func (c *Canonicalizer) canonicalize(ctx context.Context, g *ir.Graph, stats *ir.CanonStats, depth int) (*ir.Graph, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if depth > maxBodyDepth {
		return nil, "", &WellFormednessError{Graph: g.Name, Violations: []Violation{{
			Code: ErrMissingBody, Message: fmt.Sprintf("bodies nested deeper than %d", maxBodyDepth),
		}}}
	}

	violations := c.resolveModules(ctx, g, stats)

	bodyViolations, err := c.canonicalizeBodies(ctx, g, stats, depth)
	if err != nil {
		return nil, "", err
	}
	violations = append(violations, bodyViolations...)
	violations = append(violations, Validate(g)...)
	if len(violations) > 0 {
		return nil, "", &WellFormednessError{Graph: g.Name, Violations: violations}
	}

	hashes, err := hashNodes(g)
	if err != nil {
		return nil, "", err
	}
	dedup(g, hashes, stats)
	normalizeRegions(g, stats)
	sortGraph(g)

	root, err := ir.Hash(ir.DomainGraph, canonicalForm(g))
	if err != nil {
		return nil, "", err
	}
	return g, root, nil
}

// resolveModules attaches resolved module subgraphs as bodies.
func (c *Canonicalizer) resolveModules(ctx context.Context, g *ir.Graph, stats *ir.CanonStats) []Violation {
	var out []Violation
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Module == "" || (n.Body != "" && g.Bodies[n.Body] != nil) || c.resolver == nil {
			continue
		}
		sub, err := c.resolver.Resolve(ctx, n.Module)
		if err != nil {
			out = append(out, Violation{Code: ErrUnresolvedModule, Node: n.ID, Message: err.Error()})
			continue
		}
		if g.Bodies == nil {
			g.Bodies = map[string]*ir.Graph{}
		}
		key := "module:" + n.Module
		g.Bodies[key] = sub.Clone()
		n.Body = key
		stats.ResolvedModules++
	}
	return out
}

// canonicalizeBodies canonicalizes every referenced body and re-keys it by
// its root hash. Unreferenced bodies are dropped.
func (c *Canonicalizer) canonicalizeBodies(ctx context.Context, g *ir.Graph, stats *ir.CanonStats, depth int) ([]Violation, error) {
	if len(g.Bodies) == 0 {
		return nil, nil
	}
	referenced := map[string]bool{}
	for _, n := range g.Nodes {
		if n.Body != "" {
			referenced[n.Body] = true
		}
	}
	keys := make([]string, 0, len(g.Bodies))
	for k := range g.Bodies {
		if referenced[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var violations []Violation
	rekey := map[string]string{}
	bodies := map[string]*ir.Graph{}
	for _, k := range keys {
		body, root, err := c.canonicalize(ctx, g.Bodies[k], stats, depth+1)
		var wf *WellFormednessError
		if errors.As(err, &wf) {
			for _, v := range wf.Violations {
				v.Message = fmt.Sprintf("body %s: %s", k, v.Message)
				violations = append(violations, v)
			}
			bodies[k] = g.Bodies[k]
			continue
		}
		if err != nil {
			return nil, err
		}
		rekey[k] = root
		bodies[root] = body
	}
	for i := range g.Nodes {
		if r, ok := rekey[g.Nodes[i].Body]; ok {
			g.Nodes[i].Body = r
		}
	}
	g.Bodies = bodies
	return violations, nil
}

// shareable reports whether identical copies of n may collapse into one
// node and flow freely across region boundaries: pure, deterministic and
// unrestricted values.
func shareable(n ir.Node) bool {
	switch n.Kind.Class() {
	case ir.ClassEffect, ir.ClassProbabilistic:
		return false
	}
	return n.Contract.Pure() && n.Sig.Output.Linearity == ir.Unrestricted
}

// mergeable reports whether identical copies of n collapse into one node.
// Graph inputs never do: two inputs of the same type are two values.
func mergeable(n ir.Node) bool {
	return n.Kind != ir.KindInput && shareable(n)
}

// hashNodes computes content hashes bottom-up. A node's identity covers its
// content and the ordered hashes of its inputs.
//
// Nodes that are not mergeable must stay distinct even when their content is
// identical (two allocations are two allocations). Members of such a group
// receive occurrence-salted hashes assigned in the order of their current
// ids, which makes the assignment a fixed point under re-canonicalization.
// Group members always share a topological level, so groups are resolved
// level by level.
func hashNodes(g *ir.Graph) (map[string]string, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	inputs := map[string][]ir.Edge{}
	for _, e := range g.Edges {
		inputs[e.To.Node] = append(inputs[e.To.Node], e)
	}
	for id := range inputs {
		slices.SortFunc(inputs[id], func(a, b ir.Edge) int { return a.To.Port - b.To.Port })
	}

	level := make(map[string]int, len(order))
	maxLevel := 0
	for _, id := range order {
		l := 0
		for _, e := range inputs[id] {
			l = max(l, level[e.From.Node]+1)
		}
		level[id] = l
		maxLevel = max(maxLevel, l)
	}
	idx := g.Index()
	levels := make([][]ir.Node, maxLevel+1)
	for _, id := range order {
		levels[level[id]] = append(levels[level[id]], g.Nodes[idx[id]])
	}

	hashes := make(map[string]string, len(g.Nodes))
	for _, nodes := range levels {
		slices.SortFunc(nodes, func(a, b ir.Node) int { return cmp.Compare(a.ID, b.ID) })
		groups := map[string][]string{}
		var groupOrder []string
		for _, n := range nodes {
			refs := make([]string, len(inputs[n.ID]))
			for i, e := range inputs[n.ID] {
				refs[i] = hashes[e.From.Node] + ":" + strconv.Itoa(e.From.Port)
			}
			base, err := ir.Hash(ir.DomainNode, n.Identity(refs))
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", n.ID, err)
			}
			if mergeable(n) {
				hashes[n.ID] = base
				continue
			}
			if _, ok := groups[base]; !ok {
				groupOrder = append(groupOrder, base)
			}
			groups[base] = append(groups[base], n.ID)
		}
		for _, base := range groupOrder {
			members := groups[base]
			if len(members) == 1 {
				hashes[members[0]] = base
				continue
			}
			salted := make([]string, len(members))
			for k := range members {
				salted[k] = ir.MustHash(ir.DomainNode, ir.IRObject{
					"base":       ir.IRString(base),
					"occurrence": ir.IRInt(k),
				})
			}
			slices.Sort(salted)
			for r, id := range members {
				hashes[id] = salted[r]
			}
		}
	}
	return hashes, nil
}

// dedup renames nodes to their hashes, collapses identical nodes and
// re-points edges and region memberships.
func dedup(g *ir.Graph, hashes map[string]string, stats *ir.CanonStats) {
	outputs := make(map[string]ir.Type, len(g.Nodes))
	sorted := slices.Clone(g.Nodes)
	slices.SortFunc(sorted, func(a, b ir.Node) int { return cmp.Compare(a.ID, b.ID) })
	seen := map[string]bool{}
	nodes := make([]ir.Node, 0, len(sorted))
	for _, n := range sorted {
		h := hashes[n.ID]
		if seen[h] {
			stats.Deduplicated++
			continue
		}
		seen[h] = true
		outputs[h] = n.Sig.Output
		n.ID = h
		nodes = append(nodes, n)
	}
	g.Nodes = nodes

	edges := make([]ir.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		e.From.Node = hashes[e.From.Node]
		e.To.Node = hashes[e.To.Node]
		if e.Type.Base == "" {
			e.Type = outputs[e.From.Node]
		}
		edges = append(edges, e)
	}
	slices.SortStableFunc(edges, compareEdges)
	g.Edges = slices.CompactFunc(edges, func(a, b ir.Edge) bool { return a.Key() == b.Key() })

	for i := range g.Regions {
		members := make([]string, 0, len(g.Regions[i].Nodes))
		for _, id := range g.Regions[i].Nodes {
			members = append(members, hashes[id])
		}
		slices.Sort(members)
		g.Regions[i].Nodes = slices.Compact(members)
	}
}

func compareEdges(a, b ir.Edge) int {
	return cmp.Or(
		cmp.Compare(a.From.Node, b.From.Node),
		cmp.Compare(a.From.Port, b.From.Port),
		cmp.Compare(a.To.Node, b.To.Node),
		cmp.Compare(a.To.Port, b.To.Port),
		cmp.Compare(a.Via, b.Via),
	)
}

// normalizeRegions inlines single-node regions and flattens same-kind
// nesting until nothing changes, then drops interface-port references on
// edges that no longer cross any boundary.
//
// Atomic and iterative regions are never inlined: the region itself carries
// semantics. Regions with constraints or ports are kept as well.
func normalizeRegions(g *ir.Graph, stats *ir.CanonStats) {
	for {
		slices.SortFunc(g.Regions, func(a, b ir.Region) int { return cmp.Compare(a.ID, b.ID) })
		if !normalizeOnce(g, stats) {
			break
		}
	}

	contains := membership(g)
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Via == "" {
			continue
		}
		crosses := false
		for _, r := range g.Regions {
			if contains[r.ID][e.From.Node] != contains[r.ID][e.To.Node] {
				crosses = true
				break
			}
		}
		if !crosses {
			e.Via = ""
		}
	}
}

func normalizeOnce(g *ir.Graph, stats *ir.CanonStats) bool {
	children := map[string]int{}
	for _, r := range g.Regions {
		if r.Parent != "" {
			children[r.Parent]++
		}
	}
	for i, r := range g.Regions {
		if inlinable(r) && children[r.ID] == 0 {
			if p := regionIndex(g, r.Parent); p >= 0 {
				g.Regions[p].Nodes = mergeMembers(g.Regions[p].Nodes, r.Nodes)
			}
			removeRegion(g, i, r.Parent)
			stats.Inlined++
			return true
		}
		p := regionIndex(g, r.Parent)
		if p >= 0 && flattenable(g.Regions[p], r) {
			g.Regions[p].Nodes = mergeMembers(g.Regions[p].Nodes, r.Nodes)
			removeRegion(g, i, r.Parent)
			stats.Flattened++
			return true
		}
	}
	return false
}

func inlinable(r ir.Region) bool {
	if r.Kind == ir.RegionAtomic || r.Kind == ir.RegionIterative {
		return false
	}
	return len(r.Nodes) == 1 && r.Constraints.Empty() && len(r.Ports) == 0
}

func flattenable(parent, child ir.Region) bool {
	if parent.Kind != child.Kind || !child.Constraints.Empty() {
		return false
	}
	return child.Kind == ir.RegionSequential || child.Kind == ir.RegionParallel
}

func regionIndex(g *ir.Graph, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(g.Regions, func(r ir.Region) bool { return r.ID == id })
}

// removeRegion deletes region i and re-parents its children.
func removeRegion(g *ir.Graph, i int, parent string) {
	id := g.Regions[i].ID
	g.Regions = slices.Delete(g.Regions, i, i+1)
	for j := range g.Regions {
		if g.Regions[j].Parent == id {
			g.Regions[j].Parent = parent
		}
	}
}

func mergeMembers(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func sortGraph(g *ir.Graph) {
	slices.SortFunc(g.Nodes, func(a, b ir.Node) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortStableFunc(g.Edges, compareEdges)
	slices.SortFunc(g.Regions, func(a, b ir.Region) int { return cmp.Compare(a.ID, b.ID) })
	for i := range g.Regions {
		slices.Sort(g.Regions[i].Nodes)
		slices.SortFunc(g.Regions[i].Ports, func(a, b ir.Port) int {
			return cmp.Or(cmp.Compare(a.Direction, b.Direction), cmp.Compare(a.Index, b.Index), cmp.Compare(a.Name, b.Name))
		})
	}
}

// canonicalForm is the hashed form of a canonical graph. The graph name is
// a label and is excluded.
func canonicalForm(g *ir.Graph) ir.IRObject {
	nodes := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = n.ID
	}
	edges := make(ir.IRArray, len(g.Edges))
	for i, e := range g.Edges {
		obj := ir.IRObject{
			"from": ir.IRString(e.From.String()),
			"to":   ir.IRString(e.To.String()),
			"type": e.Type.Canonical(),
			"lifetime": ir.IRObject{
				"kind":     ir.IRString(e.Lifetime.Kind),
				"region":   ir.IRString(e.Lifetime.Region),
				"bound_ns": ir.IRInt(e.Lifetime.BoundNS),
			},
			"via": ir.IRString(e.Via),
		}
		if e.Bandwidth != nil {
			obj["bandwidth"] = ir.Ints(map[string]int64{
				"min": e.Bandwidth.MinBytesPerSec,
				"max": e.Bandwidth.MaxBytesPerSec,
			})
		}
		edges[i] = obj
	}
	regions := make(ir.IRArray, len(g.Regions))
	for i, r := range g.Regions {
		ports := make(ir.IRArray, len(r.Ports))
		for j, p := range r.Ports {
			ports[j] = ir.IRObject{
				"name":      ir.IRString(p.Name),
				"direction": ir.IRString(p.Direction),
				"index":     ir.IRInt(p.Index),
				"type":      p.Type.Canonical(),
			}
		}
		regions[i] = ir.IRObject{
			"id":     ir.IRString(r.ID),
			"kind":   ir.IRString(r.Kind),
			"parent": ir.IRString(r.Parent),
			"nodes":  ir.Strings(r.Nodes),
			"constraints": ir.Ints(map[string]int64{
				"max_time_ns":   r.Constraints.MaxTimeNS,
				"max_memory":    r.Constraints.MaxMemory,
				"max_energy_nj": r.Constraints.MaxEnergyNJ,
			}),
			"ports": ports,
		}
	}
	bodies := make([]string, 0, len(g.Bodies))
	for k := range g.Bodies {
		bodies = append(bodies, k)
	}
	slices.Sort(bodies)
	return ir.IRObject{
		"nodes":   ir.Strings(nodes),
		"edges":   edges,
		"regions": regions,
		"bodies":  ir.Strings(bodies),
	}
}
