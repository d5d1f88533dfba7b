package buildcache

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// impactProgram derives the downstream closure of edited nodes.
const impactProgram = `
Decl uses(Consumer, Producer).
Decl changed(Node).
affected(N) :- changed(N).
affected(C) :- uses(C, P), affected(P).
`

// Impact is what changed between two runs of the same graph.
type Impact struct {
	// Changed are new nodes none of whose producers are new: the edit sites.
	Changed []string
	// Affected is Changed plus every node downstream of it.
	Affected []string
	// Removed are nodes of the previous run that no longer exist.
	Removed []string
}

// Diff compares the previous manifest with the current one. A nil prev is
// a first build: every node is changed.
func Diff(prev *Manifest, cur Manifest) (Impact, error) {
	old := map[string]bool{}
	if prev != nil {
		for _, n := range prev.Nodes {
			old[n] = true
		}
	}
	current := map[string]bool{}
	for _, n := range cur.Nodes {
		current[n] = true
	}

	var imp Impact
	if prev != nil {
		for _, n := range prev.Nodes {
			if !current[n] {
				imp.Removed = append(imp.Removed, n)
			}
		}
	}

	newProducer := map[string]bool{}
	for _, u := range cur.Uses {
		if !old[u.Producer] {
			newProducer[u.Consumer] = true
		}
	}
	for _, n := range cur.Nodes {
		if !old[n] && !newProducer[n] {
			imp.Changed = append(imp.Changed, n)
		}
	}
	if len(imp.Changed) == 0 {
		return imp, nil
	}

	affected, err := closure(cur, imp.Changed)
	if err != nil {
		return Impact{}, err
	}
	imp.Affected = affected
	return imp, nil
}

func closure(cur Manifest, changed []string) ([]string, error) {
	unit, err := parse.Unit(strings.NewReader(impactProgram))
	if err != nil {
		return nil, fmt.Errorf("parse impact program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze impact program: %w", err)
	}

	var store factstore.FactStore = factstore.NewSimpleInMemoryStore()
	for _, u := range cur.Uses {
		store.Add(ast.NewAtom("uses", ast.String(u.Consumer), ast.String(u.Producer)))
	}
	for _, n := range changed {
		store.Add(ast.NewAtom("changed", ast.String(n)))
	}
	if _, err := engine.EvalProgramWithStats(info, store); err != nil {
		return nil, fmt.Errorf("evaluate impact program: %w", err)
	}

	var out []string
	err = store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: "affected", Arity: 1}), func(a ast.Atom) error {
		c, ok := a.Args[0].(ast.Constant)
		if !ok {
			return fmt.Errorf("unexpected term %v", a.Args[0])
		}
		out = append(out, c.Symbol)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
