package verify

import (
	"cmp"
	"context"
	"slices"

	"github.com/roach88/kiln/internal/ir"
)

// Explore checks protocol obligations by breadth-first search of the state
// machine. Reaching a bad state, or a non-final state with no way out, is a
// violation; the path to it is the counterexample.
type Explore struct {
	// Depth bounds the search. Zero means 64.
	Depth int
}

func (Explore) Name() string    { return "explore" }
func (Explore) Version() string { return "1" }

func (Explore) Accepts(o *ir.Obligation) bool {
	return o.Kind == ir.ObProtocol && o.Protocol != nil
}

func (e Explore) Attempt(ctx context.Context, o *ir.Obligation) Outcome {
	p := o.Protocol
	depth := orDefault(e.Depth, 64)

	next := map[string][]ir.Transition{}
	for _, t := range p.Transitions {
		next[t.From] = append(next[t.From], t)
	}
	for _, ts := range next {
		slices.SortFunc(ts, func(a, b ir.Transition) int {
			if a.To != b.To {
				return cmp.Compare(a.To, b.To)
			}
			return cmp.Compare(a.Label, b.Label)
		})
	}

	type path struct {
		state string
		trace []string
	}
	visited := map[string]bool{p.Initial: true}
	frontier := []path{{state: p.Initial, trace: []string{p.Initial}}}
	for level := 0; len(frontier) > 0; level++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeInconclusive, Reason: "exploration interrupted", TimedOut: true}
		}
		var upcoming []path
		for _, cur := range frontier {
			if slices.Contains(p.Bad, cur.state) {
				return Disproven(ir.Counterexample{Trace: cur.trace, Note: "reaches bad state " + cur.state})
			}
			succ := next[cur.state]
			if len(succ) == 0 && !slices.Contains(p.Final, cur.state) {
				return Disproven(ir.Counterexample{Trace: cur.trace, Note: "deadlock in " + cur.state})
			}
			for _, t := range succ {
				if visited[t.To] {
					continue
				}
				visited[t.To] = true
				step := t.To
				if t.Label != "" {
					step = t.Label + ":" + t.To
				}
				upcoming = append(upcoming, path{state: t.To, trace: append(slices.Clone(cur.trace), step)})
			}
		}
		if level == depth && len(upcoming) > 0 {
			return Inconclusive("%d states unexplored at depth %d", len(upcoming), depth)
		}
		frontier = upcoming
	}
	return Proven(ir.IRObject{
		"method": ir.IRString("bfs"),
		"states": ir.IRInt(len(visited)),
	})
}
