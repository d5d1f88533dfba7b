package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/canon"
	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/ir"
)

// ValidateResult is the output of a successful validation.
type ValidateResult struct {
	Graph    string        `json:"graph"`
	RootHash string        `json:"root_hash"`
	Stats    ir.CanonStats `json:"stats"`
}

func (r ValidateResult) String() string {
	return fmt.Sprintf("✓ %s is well-formed\n  root %s\n  %d nodes -> %d canonical (%d deduplicated, %d regions inlined, %d flattened)",
		r.Graph, ir.Short(r.RootHash), r.Stats.InitialNodes, r.Stats.FinalNodes,
		r.Stats.Deduplicated, r.Stats.Inlined, r.Stats.Flattened)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph>",
		Short: "Check a graph for well-formedness",
		Long: `Canonicalize a graph and report every well-formedness violation.

Exit codes:
  0 - Graph is well-formed
  1 - Graph has violations
  2 - Command error (unreadable file, bad YAML)

Examples:
  kiln validate ./control.yaml
  kiln validate ./control.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, graphPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	g, err := config.LoadGraph(graphPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load graph", err)
	}
	formatter.VerboseLog("Loaded %s: %d nodes, %d edges, %d regions", g.Name, len(g.Nodes), len(g.Edges), len(g.Regions))

	res, err := canon.New(canon.WithLogger(opts.Logger)).Canonicalize(contextOf(cmd), g)
	if err != nil {
		var wf *canon.WellFormednessError
		if errors.As(err, &wf) {
			return formatter.Failure("graph is not well-formed", err, wf.Violations)
		}
		return formatter.Failure("canonicalization failed", err, nil)
	}

	return formatter.Success(ValidateResult{Graph: g.Name, RootHash: res.RootHash, Stats: res.Stats})
}
