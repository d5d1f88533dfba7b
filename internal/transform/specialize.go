package transform

import "github.com/roach88/kiln/internal/ir"

// specialize resolves generic and unsized types from producers, in
// topological order, and returns the number of nodes it changed. g is
// modified in place.
func specialize(g *ir.Graph, order []string) int {
	idx := g.Index()
	changed := 0
	for _, id := range order {
		n := &g.Nodes[idx[id]]
		in := g.Inputs(id)
		touched := false
		for _, e := range in {
			p, ok := idx[e.From.Node]
			if !ok {
				continue
			}
			src := g.Nodes[p].Sig.Output
			if e.To.Port < len(n.Sig.Inputs) {
				if t, ok := concretize(n.Sig.Inputs[e.To.Port], src); ok {
					n.Sig.Inputs[e.To.Port] = t
					touched = true
				}
			}
		}
		if len(in) > 0 {
			p, ok := idx[in[0].From.Node]
			if ok {
				if t, ok := concretize(n.Sig.Output, g.Nodes[p].Sig.Output); ok {
					n.Sig.Output = t
					touched = true
				}
			}
		}
		if touched {
			changed++
		}
	}
	return changed
}

// concretize gives t the shape of src where t leaves it open. It reports
// whether t changed.
func concretize(t, src ir.Type) (ir.Type, bool) {
	if t.Concrete() || !src.Concrete() {
		return t, false
	}
	switch t.Base {
	case ir.BaseGeneric:
		out := src.Shape()
		out.Refinement = t.Refinement
		out.Linearity = t.Linearity
		return out, true
	case ir.BaseBytes, ir.BaseArray:
		if src.Base != t.Base {
			return t, false
		}
		out := t
		if out.Len == 0 {
			out.Len = src.Len
		}
		if out.Elem == nil || !out.Elem.Concrete() {
			out.Elem = src.Elem
		}
		return out, out.Concrete()
	}
	return t, false
}
