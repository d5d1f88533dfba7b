package verify

import (
	"errors"
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// affine is c + sum(terms[x] * x).
type affine struct {
	c     int64
	terms map[string]int64
}

func constant(c int64) affine { return affine{c: c, terms: map[string]int64{}} }

func (a affine) vars() []string {
	return slices.Sorted(maps.Keys(a.terms))
}

func (a affine) add(b affine, sign int64) (affine, bool) {
	out := affine{terms: maps.Clone(a.terms)}
	if out.terms == nil {
		out.terms = map[string]int64{}
	}
	bc, err := mulChecked(b.c, sign)
	if err != nil {
		return affine{}, false
	}
	if out.c, err = addChecked(a.c, bc); err != nil {
		return affine{}, false
	}
	for x, k := range b.terms {
		sk, err := mulChecked(k, sign)
		if err != nil {
			return affine{}, false
		}
		v, err := addChecked(out.terms[x], sk)
		if err != nil {
			return affine{}, false
		}
		if v == 0 {
			delete(out.terms, x)
		} else {
			out.terms[x] = v
		}
	}
	return out, true
}

func (a affine) scale(k int64) (affine, bool) {
	if k == 0 {
		return constant(0), true
	}
	c, err := mulChecked(a.c, k)
	if err != nil {
		return affine{}, false
	}
	out := affine{c: c, terms: make(map[string]int64, len(a.terms))}
	for x, v := range a.terms {
		if out.terms[x], err = mulChecked(v, k); err != nil {
			return affine{}, false
		}
	}
	return out, true
}

// linearize converts a term to affine form. Products of two non-constant
// terms and overflowing coefficients are not linear.
func linearize(e ir.Expr) (affine, bool) {
	switch e.Op {
	case ir.OpConst:
		return constant(e.Val), true
	case ir.OpVar:
		return affine{terms: map[string]int64{e.Name: 1}}, true
	case ir.OpNeg:
		a, ok := linearize(e.Args[0])
		if !ok {
			return affine{}, false
		}
		return a.scale(-1)
	case ir.OpAdd, ir.OpSub:
		a, ok := linearize(e.Args[0])
		if !ok {
			return affine{}, false
		}
		b, ok := linearize(e.Args[1])
		if !ok {
			return affine{}, false
		}
		if e.Op == ir.OpSub {
			return a.add(b, -1)
		}
		return a.add(b, 1)
	case ir.OpMul:
		a, ok := linearize(e.Args[0])
		if !ok {
			return affine{}, false
		}
		b, ok := linearize(e.Args[1])
		if !ok {
			return affine{}, false
		}
		switch {
		case len(a.terms) == 0:
			return b.scale(a.c)
		case len(b.terms) == 0:
			return a.scale(b.c)
		}
	}
	return affine{}, false
}

// atom is lin <= 0, or lin == 0 when eq is set.
type atom struct {
	lin affine
	eq  bool
}

// conj is a conjunction of atoms; a formula in disjunctive normal form is
// a list of them. An empty list is false, a list holding one empty conj is
// true.
type conj []atom

var errTooComplex = errors.New("formula exceeds the case limit")

// normalizer converts formulas to disjunctive normal form. Atoms that are
// not linear are replaced by true, which only weakens the formula; approx
// records that it happened.
type normalizer struct {
	limit  int
	approx bool
}

func (n *normalizer) dnf(e ir.Expr, neg bool) ([]conj, error) {
	switch e.Op {
	case ir.OpTrue:
		if neg {
			return nil, nil
		}
		return []conj{{}}, nil
	case ir.OpFalse:
		if neg {
			return []conj{{}}, nil
		}
		return nil, nil
	case ir.OpNot:
		return n.dnf(e.Args[0], !neg)
	case ir.OpImplies:
		return n.dnf(ir.Or(ir.Not(e.Args[0]), e.Args[1]), neg)
	case ir.OpAnd, ir.OpOr:
		parts := make([][]conj, len(e.Args))
		for i, a := range e.Args {
			d, err := n.dnf(a, neg)
			if err != nil {
				return nil, err
			}
			parts[i] = d
		}
		// De Morgan: a negated conjunction is a disjunction.
		if (e.Op == ir.OpAnd) != neg {
			return n.product(parts)
		}
		return n.union(parts)
	case ir.OpLt, ir.OpLe, ir.OpEq, ir.OpNe, ir.OpGe, ir.OpGt:
		return n.comparison(e, neg), nil
	}
	n.approx = true
	return []conj{{}}, nil
}

var negated = map[ir.Op]ir.Op{
	ir.OpLt: ir.OpGe, ir.OpGe: ir.OpLt,
	ir.OpLe: ir.OpGt, ir.OpGt: ir.OpLe,
	ir.OpEq: ir.OpNe, ir.OpNe: ir.OpEq,
}

func (n *normalizer) comparison(e ir.Expr, neg bool) []conj {
	op := e.Op
	if neg {
		op = negated[op]
	}
	a, ok := linearize(e.Args[0])
	if !ok {
		n.approx = true
		return []conj{{}}
	}
	b, ok := linearize(e.Args[1])
	if !ok {
		n.approx = true
		return []conj{{}}
	}
	d, ok := a.add(b, -1) // d = a - b
	if !ok {
		n.approx = true
		return []conj{{}}
	}
	nd, ok := d.scale(-1)
	if !ok {
		n.approx = true
		return []conj{{}}
	}
	plusOne := func(x affine) (affine, bool) { return x.add(constant(1), 1) }

	var atoms []atom
	switch op {
	case ir.OpLe:
		atoms = []atom{{lin: d}}
	case ir.OpGe:
		atoms = []atom{{lin: nd}}
	case ir.OpEq:
		atoms = []atom{{lin: d, eq: true}}
	case ir.OpLt, ir.OpGt, ir.OpNe:
		lt, ok1 := plusOne(d)
		gt, ok2 := plusOne(nd)
		if !ok1 || !ok2 {
			n.approx = true
			return []conj{{}}
		}
		switch op {
		case ir.OpLt:
			atoms = []atom{{lin: lt}}
		case ir.OpGt:
			atoms = []atom{{lin: gt}}
		default:
			return []conj{{{lin: lt}}, {{lin: gt}}}
		}
	}
	return []conj{atoms}
}

func (n *normalizer) union(parts [][]conj) ([]conj, error) {
	var out []conj
	for _, p := range parts {
		out = append(out, p...)
		if len(out) > n.limit {
			return nil, errTooComplex
		}
	}
	return out, nil
}

func (n *normalizer) product(parts [][]conj) ([]conj, error) {
	out := []conj{{}}
	for _, p := range parts {
		var err error
		if out, err = n.cross(out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (n *normalizer) cross(a, b []conj) ([]conj, error) {
	if len(a)*len(b) > n.limit {
		return nil, errTooComplex
	}
	out := make([]conj, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			c := make(conj, 0, len(x)+len(y))
			c = append(c, x...)
			c = append(c, y...)
			out = append(out, c)
		}
	}
	return out, nil
}
