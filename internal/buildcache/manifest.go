package buildcache

import (
	"slices"

	"github.com/roach88/kiln/internal/canon"
	"github.com/roach88/kiln/internal/ir"
)

// Manifest is the node set of the last committed run of one
// (graph name, target, profile).
type Manifest struct {
	Graph    string      `json:"graph"`
	Target   string      `json:"target"`
	Profile  string      `json:"profile"`
	RootHash string      `json:"root_hash"`
	Nodes    []string    `json:"nodes"`
	Uses     []canon.Use `json:"uses"`
}

// ManifestKey is the store key for a manifest.
func ManifestKey(graph, target, profile string) string {
	return PrefixManifest + ir.MustHash(ir.DomainFragment, ir.Strings([]string{graph, target, profile}))
}

// NewManifest records a canonical graph's node set.
func NewManifest(res *canon.Result, target, profile string) Manifest {
	nodes := make([]string, 0, len(res.Graph.Nodes))
	for _, n := range res.Graph.Nodes {
		nodes = append(nodes, n.ID)
	}
	slices.Sort(nodes)
	return Manifest{
		Graph:    res.Graph.Name,
		Target:   target,
		Profile:  profile,
		RootHash: res.RootHash,
		Nodes:    nodes,
		Uses:     res.Uses(),
	}
}
