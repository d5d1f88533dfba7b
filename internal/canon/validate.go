package canon

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

// Validate checks a graph for well-formedness and returns every violation
// found. It does not fail fast. Bodies are validated separately when they
// are canonicalized.
func Validate(g *ir.Graph) []Violation {
	v := &validator{g: g, byID: make(map[string]ir.Node, len(g.Nodes))}
	v.checkNodes()
	v.checkEdges()
	v.checkRegions()
	v.checkCrossings()
	v.checkLinearity()
	v.checkEffects()
	v.checkCycles()
	slices.SortStableFunc(v.out, func(a, b Violation) int { return strings.Compare(a.Code, b.Code) })
	return v.out
}

type validator struct {
	g    *ir.Graph
	byID map[string]ir.Node
	out  []Violation

	// set when region parents are sound; crossings and atomic checks need it
	contains map[string]map[string]bool
}

func (v *validator) add(code string, viol Violation) {
	viol.Code = code
	v.out = append(v.out, viol)
}

func (v *validator) checkNodes() {
	for _, n := range v.g.Nodes {
		if _, dup := v.byID[n.ID]; dup {
			v.add(ErrDuplicateNode, Violation{Node: n.ID, Message: "duplicate node id"})
			continue
		}
		v.byID[n.ID] = n

		if !n.Kind.Known() {
			v.add(ErrUnknownKind, Violation{Node: n.ID, Message: fmt.Sprintf("unknown kind %q", n.Kind)})
		}
		if n.Kind == ir.KindLiteral && n.Const == nil {
			v.add(ErrMissingConst, Violation{Node: n.ID, Message: "literal without constant"})
		}

		switch {
		case n.Module != "" && n.Body == "":
			v.add(ErrUnresolvedModule, Violation{Node: n.ID, Message: fmt.Sprintf("module %q is not resolved", n.Module)})
		case n.Body != "":
			if v.g.Bodies[n.Body] == nil {
				v.add(ErrMissingBody, Violation{Node: n.ID, Message: fmt.Sprintf("body %q not found", n.Body)})
			}
		case n.Kind.Designated() || n.Kind == ir.KindCall:
			v.add(ErrMissingBody, Violation{Node: n.ID, Message: fmt.Sprintf("%s node needs a body", n.Kind)})
		}
	}
}

func (v *validator) checkEdges() {
	driven := map[ir.PortRef]bool{}
	for _, e := range v.g.Edges {
		from, okFrom := v.byID[e.From.Node]
		to, okTo := v.byID[e.To.Node]
		if !okFrom || !okTo {
			v.add(ErrDanglingEdge, Violation{Edge: e.Key(), Message: "endpoint names no node"})
			continue
		}
		if e.From.Port != 0 {
			v.add(ErrPortRange, Violation{Edge: e.Key(), Node: from.ID,
				Message: fmt.Sprintf("output port %d does not exist", e.From.Port)})
		}
		if e.To.Port < 0 || e.To.Port >= len(to.Sig.Inputs) {
			v.add(ErrPortRange, Violation{Edge: e.Key(), Node: to.ID,
				Message: fmt.Sprintf("input port %d outside signature (%d inputs)", e.To.Port, len(to.Sig.Inputs))})
			continue
		}
		if driven[e.To] {
			v.add(ErrDuplicatePort, Violation{Edge: e.Key(), Node: to.ID,
				Message: fmt.Sprintf("input port %d driven twice", e.To.Port)})
		}
		driven[e.To] = true

		out, in := from.Sig.Output, to.Sig.Inputs[e.To.Port]
		switch {
		case !out.Compatible(in):
			v.add(ErrTypeMismatch, Violation{Edge: e.Key(),
				Message: fmt.Sprintf("producer yields %s, consumer expects %s", out, in)})
		case e.Type.Base != "" && !e.Type.Compatible(out):
			v.add(ErrTypeMismatch, Violation{Edge: e.Key(),
				Message: fmt.Sprintf("edge carries %s, producer yields %s", e.Type, out)})
		case e.Type.Base != "" && !e.Type.Compatible(in):
			v.add(ErrTypeMismatch, Violation{Edge: e.Key(),
				Message: fmt.Sprintf("edge carries %s, consumer expects %s", e.Type, in)})
		}
	}

	for _, n := range v.g.Nodes {
		for i := range n.Sig.Inputs {
			if !driven[ir.PortRef{Node: n.ID, Port: i}] {
				v.add(ErrMissingPort, Violation{Node: n.ID, Message: fmt.Sprintf("input port %d has no edge", i)})
			}
		}
	}
}

func (v *validator) checkRegions() {
	ids := map[string]bool{}
	sound := true
	for _, r := range v.g.Regions {
		if ids[r.ID] {
			v.add(ErrDuplicateRegion, Violation{Region: r.ID, Message: "duplicate region id"})
			sound = false
		}
		ids[r.ID] = true
		for _, n := range r.Nodes {
			if _, ok := v.byID[n]; !ok {
				v.add(ErrRegionMember, Violation{Region: r.ID, Node: n, Message: "region lists an unknown node"})
			}
		}
	}
	for _, r := range v.g.Regions {
		if r.Parent != "" && !ids[r.Parent] {
			v.add(ErrUnknownParent, Violation{Region: r.ID, Message: fmt.Sprintf("parent %q does not exist", r.Parent)})
			sound = false
		}
	}
	for _, r := range v.g.Regions {
		seen := map[string]bool{r.ID: true}
		for p := r.Parent; p != ""; {
			if seen[p] {
				v.add(ErrRegionCycle, Violation{Region: r.ID, Message: "region parent chain loops"})
				sound = false
				break
			}
			seen[p] = true
			parent, ok := v.g.Region(p)
			if !ok {
				break
			}
			p = parent.Parent
		}
	}
	if sound {
		v.contains = membership(v.g)
	}
}

// membership maps each region to the nodes it contains directly or through
// nested regions. Region parents must be acyclic.
func membership(g *ir.Graph) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(g.Regions))
	for _, r := range g.Regions {
		if out[r.ID] == nil {
			out[r.ID] = map[string]bool{}
		}
		for id := r.ID; id != ""; {
			set := out[id]
			if set == nil {
				set = map[string]bool{}
				out[id] = set
			}
			for _, n := range r.Nodes {
				set[n] = true
			}
			parent, ok := g.Region(id)
			if !ok {
				break
			}
			id = parent.Parent
		}
	}
	return out
}

// checkCrossings requires an interface port on every region boundary an
// edge crosses, unless the carried value is shareable.
func (v *validator) checkCrossings() {
	if v.contains == nil {
		return
	}
	for _, e := range v.g.Edges {
		from, ok := v.byID[e.From.Node]
		if !ok || shareable(from) {
			continue
		}
		for _, r := range v.g.Regions {
			inFrom, inTo := v.contains[r.ID][e.From.Node], v.contains[r.ID][e.To.Node]
			if inFrom == inTo {
				continue
			}
			dir := ir.DirIn
			if inFrom {
				dir = ir.DirOut
			}
			p, ok := r.Port(e.Via)
			if e.Via == "" || !ok || p.Direction != dir {
				v.add(ErrRegionCrossing, Violation{Edge: e.Key(), Region: r.ID,
					Message: fmt.Sprintf("crosses boundary without %s port (via %q)", dir, e.Via)})
			}
		}
	}
}

func (v *validator) checkLinearity() {
	uses := map[string]int{}
	for _, e := range v.g.Edges {
		uses[e.From.Node]++
	}
	for _, n := range v.g.Nodes {
		count := uses[n.ID]
		switch n.Sig.Output.Linearity {
		case ir.Linear, ir.Unique:
			if count != 1 {
				v.add(ErrLinearity, Violation{Node: n.ID,
					Message: fmt.Sprintf("%s value consumed %d times, want exactly 1", n.Sig.Output.Linearity, count)})
			}
		case ir.Affine:
			if count > 1 {
				v.add(ErrLinearity, Violation{Node: n.ID,
					Message: fmt.Sprintf("affine value consumed %d times, want at most 1", count)})
			}
		}
	}
}

var atomicForbidden = []ir.Effect{ir.EffectAlloc, ir.EffectFFI, ir.EffectDiverge}

func (v *validator) checkEffects() {
	for _, n := range v.g.Nodes {
		if req, ok := n.Kind.RequiredEffect(); ok && !n.Contract.HasEffect(req) {
			v.add(ErrMissingEffect, Violation{Node: n.ID,
				Message: fmt.Sprintf("%s node must declare effect %q", n.Kind, req)})
		}
		if n.Contract.HasEffect(ir.EffectPure) && !n.Contract.Pure() {
			v.add(ErrEffectConflict, Violation{Node: n.ID, Message: "pure declared together with other effects"})
		}
	}
	if v.contains == nil {
		return
	}
	for _, r := range v.g.Regions {
		if r.Kind != ir.RegionAtomic {
			continue
		}
		for _, n := range v.g.Nodes {
			if !v.contains[r.ID][n.ID] {
				continue
			}
			for _, eff := range atomicForbidden {
				if n.Contract.HasEffect(eff) {
					v.add(ErrAtomicEffect, Violation{Node: n.ID, Region: r.ID,
						Message: fmt.Sprintf("effect %q not allowed in atomic region", eff)})
				}
			}
		}
	}
}

func (v *validator) checkCycles() {
	succ := map[string][]string{}
	for _, e := range v.g.Edges {
		if _, ok := v.byID[e.From.Node]; !ok {
			continue
		}
		if _, ok := v.byID[e.To.Node]; !ok {
			continue
		}
		succ[e.From.Node] = append(succ[e.From.Node], e.To.Node)
	}
	ids := make([]string, 0, len(v.byID))
	for id := range v.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for id := range succ {
		slices.Sort(succ[id])
	}

	for _, scc := range tarjanSCC(ids, succ) {
		if len(scc) == 1 && !slices.Contains(succ[scc[0]], scc[0]) {
			continue
		}
		slices.Sort(scc)
		v.add(ErrCycle, Violation{Node: scc[0],
			Message: "cycle outside a designated node through " + strings.Join(scc, ", ")})
	}
}
