package cli

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/materialize"
)

// MaterializeOptions holds flags for the materialize command.
type MaterializeOptions struct {
	*RootOptions
	Targets []string
	Profile string
	Rigor   string
	Waivers string
	Output  string // artifact path, or directory with several targets
}

// TargetOutcome is one target's line in the command output.
type TargetOutcome struct {
	Report   *ir.Report `json:"report"`
	Artifact string     `json:"artifact,omitempty"`
	Error    *CLIError  `json:"error,omitempty"`
}

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MaterializeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "materialize <graph>",
		Short: "Materialize a graph for one or more targets",
		Long: `Materialize a computation graph into a verified artifact.

Each target runs the full pipeline: canonicalize, verify round A, fit,
verify round B, emit, post-verify. Several targets run concurrently and
share proofs of identical obligations.

Examples:
  kiln materialize ./control.yaml
  kiln materialize ./control.yaml --target stm32f407 --profile deterministic-timing -o control.bin
  kiln materialize ./control.yaml --target stm32f407 --target linux-aarch64 -o out/
  kiln materialize ./control.yaml --rigor certification --waivers waivers.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaterialize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Targets, "target", "t", nil, "target name (repeatable; default from config)")
	cmd.Flags().StringVarP(&opts.Profile, "profile", "p", "", "optimization profile (default from config)")
	cmd.Flags().StringVarP(&opts.Rigor, "rigor", "r", "", "rigor level (default from config)")
	cmd.Flags().StringVar(&opts.Waivers, "waivers", "", "waiver file (default from config)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "artifact output path")

	return cmd
}

func runMaterialize(opts *MaterializeOptions, graphPath string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config

	g, err := config.LoadGraph(graphPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load graph", err)
	}
	waivers, err := config.LoadWaivers(cmp.Or(opts.Waivers, cfg.Waivers))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load waivers", err)
	}
	reqs, err := buildRequests(opts, cfg, waivers)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid selection", err)
	}

	rt, err := opts.openRuntime()
	if err != nil {
		return err
	}
	defer rt.close(opts.Logger)

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter.VerboseLog("Materializing %s for %d target(s)", g.Name, len(reqs))
	results, err := rt.materializer.RunTargets(ctx, g, reqs)
	if err != nil {
		return WrapExitError(ExitFailure, "materialization interrupted", err)
	}
	if opts.Verbose {
		rt.logMetrics(opts.Logger)
	}

	outcomes := make([]TargetOutcome, len(results))
	failed := 0
	for i, res := range results {
		outcomes[i].Report = res.Report
		if res.Err != nil {
			failed++
			outcomes[i].Error = &CLIError{Code: string(diag.CodeOf(res.Err)), Message: res.Err.Error()}
			continue
		}
		path, err := writeArtifact(opts.Output, len(results) > 1, res)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to write artifact", err)
		}
		outcomes[i].Artifact = path
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: outcomes}
		if len(outcomes) == 1 && outcomes[0].Report != nil {
			resp.RunID = outcomes[0].Report.RunID
		}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: outcomes[firstFailed(outcomes)].Error.Code, Message: fmt.Sprintf("%d target(s) failed", failed)}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		for _, o := range outcomes {
			printOutcome(cmd, o)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d target(s) failed", failed))
	}
	return nil
}

func buildRequests(opts *MaterializeOptions, cfg *config.Config, waivers []ir.Waiver) ([]materialize.TargetRequest, error) {
	names := opts.Targets
	if len(names) == 0 {
		names = []string{cfg.Target}
	}
	profile, err := cfg.ResolveProfile(cmp.Or(opts.Profile, cfg.Profile))
	if err != nil {
		return nil, err
	}
	rigor, err := cfg.ResolveRigor(cmp.Or(opts.Rigor, cfg.Rigor))
	if err != nil {
		return nil, err
	}
	reqs := make([]materialize.TargetRequest, 0, len(names))
	for _, name := range names {
		target, err := cfg.ResolveTarget(name)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, materialize.TargetRequest{
			Target:  target,
			Profile: profile,
			Rigor:   rigor,
			Waivers: waivers,
		})
	}
	return reqs, nil
}

// writeArtifact writes the binary to path, or to path/<target>.bin when
// several targets share one output directory.
func writeArtifact(path string, many bool, res materialize.TargetResult) (string, error) {
	if path == "" || res.Artifact == nil {
		return "", nil
	}
	if many {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", err
		}
		path = filepath.Join(path, res.Report.Target+".bin")
	}
	return path, os.WriteFile(path, res.Artifact.Binary, 0o644)
}

func printOutcome(cmd *cobra.Command, o TargetOutcome) {
	w := cmd.OutOrStdout()
	rep := o.Report
	if o.Error != nil {
		fmt.Fprintf(w, "✗ %s: %s [%s]\n", rep.Target, rep.Outcome, o.Error.Code)
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(o.Error.Message, "\n", "\n  "))
		return
	}
	fmt.Fprintf(w, "✓ %s: %s (run %s)\n", rep.Target, rep.Outcome, rep.RunID)
	v := rep.Verification
	fmt.Fprintf(w, "  obligations: %d verified, %d waived, %d cached of %d\n", v.Verified, v.Waived, v.Cached, v.Total)
	fmt.Fprintf(w, "  fit: %s after %d attempt(s)\n", rep.Fit.Selected, rep.Fit.Attempts)
	for _, t := range rep.Timing {
		fmt.Fprintf(w, "  timing %s: %dns of %dns (margin %dns)\n", t.Section, t.WCETNS, t.BudgetNS, t.MarginNS)
	}
	for _, r := range rep.Resources {
		fmt.Fprintf(w, "  %s: %d/%d (%s)\n", r.Resource, r.Used, r.Available, r.Percent())
	}
	if a := rep.Artifact; a != nil {
		fmt.Fprintf(w, "  artifact: %d bytes, sha256 %s\n", a.Size, ir.Short(a.Digest))
	}
	for _, f := range rep.Fidelity {
		fmt.Fprintf(w, "  %s %s: %s\n", f.Severity, f.Kind, f.Message)
	}
	if o.Artifact != "" {
		fmt.Fprintf(w, "  written to %s\n", o.Artifact)
	}
}

func firstFailed(outcomes []TargetOutcome) int {
	for i, o := range outcomes {
		if o.Error != nil {
			return i
		}
	}
	return 0
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
