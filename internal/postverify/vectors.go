package postverify

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/verify"
)

// DefaultMaxVectors caps the vectors derived from one graph.
const DefaultMaxVectors = 32

// Vector is one smoke test: values for the graph's scalar inputs and the
// values the contract model predicts for every other scalar node.
type Vector struct {
	Name     string           `json:"name"`
	Inputs   map[string]int64 `json:"inputs"`
	Expected map[string]int64 `json:"expected"`
}

// Vectors derives test vectors from contracts. Each scalar input takes the
// corner points of its refined range; vectors whose reference evaluation
// violates a precondition, divides by zero or overflows are outside the
// contract and dropped.
func Vectors(g *ir.Graph, limit int) ([]Vector, error) {
	if limit <= 0 {
		limit = DefaultMaxVectors
	}
	var ids []string
	points := map[string][]int64{}
	for _, n := range g.Nodes {
		if n.Kind != ir.KindInput || !scalar(n.Sig.Output) {
			continue
		}
		c := corners(n.Sig.Output)
		if len(c) == 0 {
			continue
		}
		ids = append(ids, n.ID)
		points[n.ID] = c
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)

	pick := func(name string, at func(id string) int64) Vector {
		in := make(map[string]int64, len(ids))
		for _, id := range ids {
			in[id] = at(id)
		}
		return Vector{Name: name, Inputs: in}
	}
	nominal := func(id string) int64 { return nearestZero(points[id]) }
	candidates := []Vector{
		pick("nominal", nominal),
		pick("min", func(id string) int64 { return points[id][0] }),
		pick("max", func(id string) int64 { return points[id][len(points[id])-1] }),
	}
	for _, id := range ids {
		for _, p := range points[id] {
			name := fmt.Sprintf("%s=%d", ir.Short(id), p)
			candidates = append(candidates, pick(name, func(other string) int64 {
				if other == id {
					return p
				}
				return nominal(other)
			}))
		}
	}

	seen := map[string]bool{}
	var out []Vector
	for _, v := range candidates {
		key := vectorKey(v.Inputs)
		if seen[key] {
			continue
		}
		seen[key] = true
		expected, ok := reference(g, v.Inputs)
		if !ok {
			continue
		}
		v.Expected = expected
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// reference evaluates the contract model and reports whether the vector
// lies inside every precondition.
func reference(g *ir.Graph, inputs map[string]int64) (map[string]int64, bool) {
	vals, err := run(g, inputs, checked)
	if err != nil {
		return nil, false
	}
	for _, n := range g.Nodes {
		env, ok := localEnv(g, n, vals)
		if !ok {
			continue
		}
		for _, pre := range n.Contract.Pre {
			if holds, err := verify.Holds(pre, env); err == nil && !holds {
				return nil, false
			}
		}
	}
	expected := map[string]int64{}
	for id, v := range vals {
		if _, isInput := inputs[id]; !isInput {
			expected[id] = v
		}
	}
	return expected, true
}

// localEnv binds a node's view: in<port> for inputs and out for its value.
func localEnv(g *ir.Graph, n ir.Node, vals map[string]int64) (map[string]int64, bool) {
	env := map[string]int64{}
	for _, e := range g.Inputs(n.ID) {
		v, ok := vals[e.From.Node]
		if !ok {
			return nil, false
		}
		env["in"+strconv.Itoa(e.To.Port)] = v
	}
	if v, ok := vals[n.ID]; ok {
		env["out"] = v
	}
	return env, true
}

// corners returns the sorted corner points of t's range that satisfy its
// refinement: the bounds, values around zero and around each refinement
// constant.
func corners(t ir.Type) []int64 {
	lo, hi, ok := t.Range()
	if !ok {
		return nil
	}
	cand := []int64{lo, hi, -1, 0, 1}
	if lo < hi {
		cand = append(cand, lo+1, hi-1)
	}
	if t.Refinement != nil {
		for _, c := range constants(*t.Refinement) {
			cand = append(cand, c-1, c, c+1)
		}
	}
	var out []int64
	for _, c := range cand {
		if c < lo || c > hi {
			continue
		}
		if t.Refinement != nil {
			holds, err := verify.Holds(*t.Refinement, map[string]int64{"value": c})
			if err != nil || !holds {
				continue
			}
		}
		out = append(out, c)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func constants(e ir.Expr) []int64 {
	if e.Op == ir.OpConst {
		return []int64{e.Val}
	}
	var out []int64
	for _, a := range e.Args {
		out = append(out, constants(a)...)
	}
	return out
}

func nearestZero(points []int64) int64 {
	best := points[0]
	for _, p := range points[1:] {
		if magnitude(p) < magnitude(best) {
			best = p
		}
	}
	return best
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}

func vectorKey(in map[string]int64) string {
	var b strings.Builder
	for _, id := range slices.Sorted(maps.Keys(in)) {
		fmt.Fprintf(&b, "%s=%d;", id, in[id])
	}
	return b.String()
}
