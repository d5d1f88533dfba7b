package verify

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Interval decides linear integer obligations by abstract interpretation.
//
// The negated goal is conjoined with the assumptions and split into
// disjunctive cases. Bounds are propagated through each case to a fixpoint;
// a case whose bounds become empty is infeasible. When every case is
// infeasible the goal holds. Otherwise the corners of the surviving boxes
// are searched for a concrete assignment, which is checked against the
// original formulas before it is reported.
type Interval struct {
	// MaxCases caps the disjunctive case split. Zero means 256.
	MaxCases int
	// MaxRounds caps bound propagation per case. Zero means 64.
	MaxRounds int
	// MaxCandidates caps the counterexample search per case. Zero means 4096.
	MaxCandidates int
}

func (Interval) Name() string    { return "interval" }
func (Interval) Version() string { return "1" }

func (Interval) Accepts(o *ir.Obligation) bool {
	switch o.Kind {
	case ir.ObRefinement, ir.ObPrecondition, ir.ObPostcondition, ir.ObTermination:
		return true
	}
	return false
}

func (e Interval) Attempt(ctx context.Context, o *ir.Obligation) Outcome {
	n := &normalizer{limit: orDefault(e.MaxCases, 256)}

	cases, err := n.dnf(o.Goal, true)
	if err != nil {
		return Inconclusive("negated goal: %v", err)
	}
	dropped := 0
	for _, a := range o.Assumptions {
		for _, c := range a.Conjuncts() {
			d, err := n.dnf(c, false)
			if err == nil {
				var next []conj
				if next, err = n.cross(cases, d); err == nil {
					cases = next
					continue
				}
			}
			// Dropping an assumption weakens the case split; proofs
			// stay sound and counterexamples are checked in full below.
			dropped++
			n.approx = true
		}
	}

	rounds := orDefault(e.MaxRounds, 64)
	var open []box
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeInconclusive, Reason: "interval analysis interrupted", TimedOut: true}
		}
		b, feasible := propagate(c, rounds)
		if feasible {
			open = append(open, b)
		}
	}
	if len(open) == 0 {
		return Proven(ir.IRObject{
			"method":     ir.IRString("interval"),
			"cases":      ir.IRInt(len(cases)),
			"infeasible": ir.IRInt(len(cases)),
		})
	}

	search := newSearch(o, orDefault(e.MaxCandidates, 4096))
	for _, b := range open {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeInconclusive, Reason: "counterexample search interrupted", TimedOut: true}
		}
		if env, ok := search.run(b); ok {
			return Disproven(ir.Counterexample{Assignment: env})
		}
	}
	if n.approx {
		return Inconclusive("%d of %d cases open; %d assumptions outside the linear fragment", len(open), len(cases), dropped)
	}
	return Inconclusive("%d of %d cases open, no counterexample at the box corners", len(open), len(cases))
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// bounds is a closed integer interval; a nil end is unbounded.
type bounds struct {
	lo, hi *int64
}

func (b bounds) contains(v int64) bool {
	return (b.lo == nil || *b.lo <= v) && (b.hi == nil || v <= *b.hi)
}

type box map[string]bounds

// propagate tightens bounds through the atoms of one case until nothing
// changes or the round budget runs out. It reports false when the case is
// infeasible.
func propagate(c conj, rounds int) (box, bool) {
	var les []affine
	for _, a := range c {
		les = append(les, a.lin)
		if a.eq {
			neg, ok := a.lin.scale(-1)
			if !ok {
				continue
			}
			les = append(les, neg)
		}
	}

	b := box{}
	for r := 0; r < rounds; r++ {
		changed := false
		for _, l := range les {
			ch, ok := tighten(b, l)
			if !ok {
				return nil, false
			}
			changed = changed || ch
		}
		if !changed {
			break
		}
	}
	return b, true
}

// tighten applies l <= 0 to b.
func tighten(b box, l affine) (changed, feasible bool) {
	// Minimum of each term under the current bounds; unbounded terms are
	// counted but not summed.
	sum := l.c
	unbounded := 0
	mins := make(map[string]*int64, len(l.terms))
	for _, x := range l.vars() {
		k := l.terms[x]
		var end *int64
		if k > 0 {
			end = b[x].lo
		} else {
			end = b[x].hi
		}
		if end == nil {
			unbounded++
			continue
		}
		m, err := mulChecked(k, *end)
		if err != nil {
			unbounded++
			continue
		}
		if sum, err = addChecked(sum, m); err != nil {
			return false, true
		}
		mins[x] = &m
	}
	if unbounded == 0 && sum > 0 {
		return false, false
	}

	for _, x := range l.vars() {
		rest := sum
		own := mins[x]
		if own != nil {
			var err error
			if rest, err = subChecked(sum, *own); err != nil {
				continue
			}
		} else if unbounded > 1 {
			continue
		}
		if own != nil && unbounded > 0 {
			continue
		}
		// k*x <= -rest
		limit, err := subChecked(0, rest)
		if err != nil {
			continue
		}
		k := l.terms[x]
		cur := b[x]
		if k > 0 {
			v := floorDiv(limit, k)
			if cur.hi == nil || v < *cur.hi {
				cur.hi = &v
				changed = true
			}
		} else {
			v := ceilDiv(limit, k)
			if cur.lo == nil || v > *cur.lo {
				cur.lo = &v
				changed = true
			}
		}
		if cur.lo != nil && cur.hi != nil && *cur.lo > *cur.hi {
			return changed, false
		}
		b[x] = cur
	}
	return changed, true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}

// search looks for a concrete counterexample inside a box. Variables
// defined by a top-level equation are computed from the others; the rest
// range over candidate points of their bounds.
type search struct {
	o     *ir.Obligation
	defs  map[string]ir.Expr
	order []string
	free  []string
	limit int
}

func newSearch(o *ir.Obligation, limit int) *search {
	s := &search{o: o, defs: map[string]ir.Expr{}, limit: limit}
	vars := map[string]bool{}
	for _, v := range o.Goal.Vars() {
		vars[v] = true
	}
	for _, a := range o.Assumptions {
		for _, v := range a.Vars() {
			vars[v] = true
		}
		for _, c := range a.Conjuncts() {
			if c.Op != ir.OpEq {
				continue
			}
			s.define(c.Args[0], c.Args[1])
			s.define(c.Args[1], c.Args[0])
		}
	}
	for _, v := range slices.Sorted(maps.Keys(vars)) {
		if _, ok := s.defs[v]; !ok {
			s.free = append(s.free, v)
		}
	}
	s.order = slices.Sorted(maps.Keys(s.defs))
	return s
}

func (s *search) define(lhs, rhs ir.Expr) {
	if lhs.Op != ir.OpVar {
		return
	}
	if _, ok := s.defs[lhs.Name]; ok || slices.Contains(rhs.Vars(), lhs.Name) {
		return
	}
	s.defs[lhs.Name] = rhs
}

const candidateMagnitude = int64(1) << 40

// candidates returns the points of b worth trying, smallest magnitude first.
func candidates(b bounds) []int64 {
	pts := []int64{0, 1, -1}
	if b.lo != nil {
		pts = append(pts, *b.lo)
		if v, err := addChecked(*b.lo, 1); err == nil {
			pts = append(pts, v)
		}
	}
	if b.hi != nil {
		pts = append(pts, *b.hi)
		if v, err := subChecked(*b.hi, 1); err == nil {
			pts = append(pts, v)
		}
	}
	if b.lo == nil && b.hi != nil && *b.hi > 0 {
		pts = append(pts, -candidateMagnitude)
	}
	if b.hi == nil && b.lo != nil && *b.lo < 0 {
		pts = append(pts, candidateMagnitude)
	}
	var out []int64
	for _, p := range pts {
		if b.contains(p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b int64) int {
		return compareMagnitude(a, b)
	})
	return out
}

func compareMagnitude(a, b int64) int {
	abs := func(v int64) uint64 {
		if v < 0 {
			return uint64(-(v + 1)) + 1
		}
		return uint64(v)
	}
	switch {
	case abs(a) < abs(b):
		return -1
	case abs(a) > abs(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *search) run(b box) (map[string]int64, bool) {
	points := make([][]int64, len(s.free))
	for i, v := range s.free {
		points[i] = candidates(b[v])
		if len(points[i]) == 0 {
			return nil, false
		}
	}

	idx := make([]int, len(s.free))
	for tried := 0; tried < s.limit; tried++ {
		env := make(map[string]int64, len(s.free)+len(s.defs))
		for i, v := range s.free {
			env[v] = points[i][idx[i]]
		}
		s.resolve(env)
		if refutes(s.o, env) {
			return env, true
		}
		// advance the mixed-radix counter
		i := 0
		for ; i < len(idx); i++ {
			idx[i]++
			if idx[i] < len(points[i]) {
				break
			}
			idx[i] = 0
		}
		if i == len(idx) {
			return nil, false
		}
	}
	return nil, false
}

// resolve computes defined variables from the bound ones, in as many passes
// as the definitions need.
func (s *search) resolve(env map[string]int64) {
	for pass := 0; pass <= len(s.order); pass++ {
		progress := false
		for _, v := range s.order {
			if _, ok := env[v]; ok {
				continue
			}
			if x, err := evalInt(s.defs[v], env); err == nil {
				env[v] = x
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}
