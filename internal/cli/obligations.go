package cli

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/canon"
	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/obligation"
)

// ObligationsOptions holds flags for the obligations command.
type ObligationsOptions struct {
	*RootOptions
	Round string
	Rigor string
}

// ObligationLine is one listed obligation.
type ObligationLine struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Round     string `json:"round"`
	Context   string `json:"context"`
	Predicate string `json:"predicate"`
	Critical  bool   `json:"critical,omitempty"`
}

// ObligationList is the obligations command output.
type ObligationList struct {
	Graph       string           `json:"graph"`
	Obligations []ObligationLine `json:"obligations"`
}

func (l ObligationList) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d obligation(s)", l.Graph, len(l.Obligations))
	for _, o := range l.Obligations {
		crit := ""
		if o.Critical {
			crit = " critical"
		}
		fmt.Fprintf(&b, "\n  %s %s [%s%s] %s: %s", ir.Short(o.ID), o.Round, o.Kind, crit, o.Context, o.Predicate)
	}
	return b.String()
}

// NewObligationsCommand creates the obligations command.
func NewObligationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObligationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "obligations <graph>",
		Short: "List the proof obligations of a graph",
		Long: `Canonicalize a graph and list the obligations verification would discharge.

Round A obligations are checked before fitting; round B obligations depend
on target facts and are bound after it.

Examples:
  kiln obligations ./control.yaml
  kiln obligations ./control.yaml --round B --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObligations(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Round, "round", "", "only list one round (A|B)")
	cmd.Flags().StringVarP(&opts.Rigor, "rigor", "r", "", "rigor level, for propagation depth (default from config)")

	return cmd
}

func runObligations(opts *ObligationsOptions, graphPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	switch ir.Round(opts.Round) {
	case "", ir.RoundA, ir.RoundB:
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid round %q: must be A or B", opts.Round))
	}
	rigor, err := opts.Config.ResolveRigor(cmp.Or(opts.Rigor, opts.Config.Rigor))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid rigor", err)
	}

	g, err := config.LoadGraph(graphPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load graph", err)
	}
	res, err := canon.New(canon.WithLogger(opts.Logger)).Canonicalize(contextOf(cmd), g)
	if err != nil {
		return formatter.Failure("canonicalization failed", err, nil)
	}
	set, err := obligation.Generate(res.Graph, obligation.Options{PropagationDepth: rigor.PropagationDepth})
	if err != nil {
		return formatter.Failure("obligation generation failed", err, nil)
	}

	obs := set.Obligations
	if opts.Round != "" {
		obs = set.Round(ir.Round(opts.Round))
	}
	list := ObligationList{Graph: g.Name, Obligations: make([]ObligationLine, 0, len(obs))}
	for _, o := range obs {
		list.Obligations = append(list.Obligations, ObligationLine{
			ID:        o.ID,
			Kind:      string(o.Kind),
			Round:     string(o.Round),
			Context:   o.Context.String(),
			Predicate: o.Predicate(),
			Critical:  o.Critical,
		})
	}
	return formatter.Success(list)
}
