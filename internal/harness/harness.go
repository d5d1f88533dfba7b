package harness

import (
	"cmp"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/materialize"
	"github.com/roach88/kiln/internal/postverify"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runner)

type runner struct {
	cfg    *config.Config
	logger *zap.Logger
	extra  []materialize.Option
}

// WithConfig resolves target, profile and rigor names against cfg, so
// custom entries are available to scenarios.
func WithConfig(cfg *config.Config) Option {
	return func(r *runner) { r.cfg = cfg }
}

// WithLogger sets the logger handed to the materializer.
func WithLogger(l *zap.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithMaterializerOptions appends materializer options, applied after the
// harness's own.
func WithMaterializerOptions(opts ...materialize.Option) Option {
	return func(r *runner) { r.extra = append(r.extra, opts...) }
}

// Run materializes a scenario in a fresh in-memory store and checks the
// report against its expectations. Pipeline failures are part of the
// result; the returned error covers only setup problems.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	r := &runner{cfg: config.Default(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	g, err := config.LoadGraph(s.Graph)
	if err != nil {
		return nil, err
	}
	target, err := r.cfg.ResolveTarget(s.Target)
	if err != nil {
		return nil, err
	}
	profile, err := r.cfg.ResolveProfile(s.Profile)
	if err != nil {
		return nil, err
	}
	rigor, err := r.cfg.ResolveRigor(s.Rigor)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := cmp.Or(s.RunID, "scenario-"+s.Name)
	mopts := []materialize.Option{
		materialize.WithClock(testutil.NewDeterministicClock()),
		materialize.WithRunIDs(testutil.NewFixedRunID(runID)),
		materialize.WithReports(st),
		materialize.WithLogger(r.logger),
	}
	if s.Simulate {
		mopts = append(mopts, materialize.WithHarness(postverify.Simulator{}))
	}
	m := materialize.New(append(mopts, r.extra...)...)

	report, _, runErr := m.Run(ctx, materialize.Request{
		Graph:   g,
		Target:  target,
		Profile: profile,
		Rigor:   rigor,
		Waivers: s.Waivers,
	})

	result := NewResult()
	result.Report = report
	if runErr != nil {
		result.ErrorCode = string(diag.CodeOf(runErr))
	}
	checkExpect(result, s.Expect, runErr)
	for _, msg := range EvaluateAssertions(report, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func checkExpect(result *Result, want Expect, runErr error) {
	rep := result.Report
	if rep.Outcome != want.Outcome {
		msg := fmt.Sprintf("outcome: expected %s, got %s", want.Outcome, rep.Outcome)
		if runErr != nil {
			msg += ": " + runErr.Error()
		}
		result.AddError(msg)
	}
	if want.ErrorCode != "" && result.ErrorCode != want.ErrorCode {
		result.AddError(fmt.Sprintf("error_code: expected %s, got %q", want.ErrorCode, result.ErrorCode))
	}
	if want.Selected != "" && rep.Fit.Selected != want.Selected {
		result.AddError(fmt.Sprintf("selected: expected %s, got %q", want.Selected, rep.Fit.Selected))
	}
	if want.Attempts != 0 && rep.Fit.Attempts != want.Attempts {
		result.AddError(fmt.Sprintf("attempts: expected %d, got %d", want.Attempts, rep.Fit.Attempts))
	}
}
