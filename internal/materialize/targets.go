package materialize

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
)

// TargetRequest is one target of a multi-target materialization.
type TargetRequest struct {
	Target  ir.Target
	Profile ir.Profile
	Rigor   ir.Rigor
	Waivers []ir.Waiver
	Hints   transform.Hints
}

// TargetResult is the outcome for one target. Err is the run's error; a
// failing target does not stop the others.
type TargetResult struct {
	Report   *ir.Report
	Artifact *emit.Artifact
	Err      error
}

// RunTargets materializes one graph for several targets concurrently.
// Results are in request order. Runs share the proof cache, so an
// obligation common to two targets is dispatched once. The returned error
// is non-nil only when ctx is done.
func (m *Materializer) RunTargets(ctx context.Context, g *ir.Graph, targets []TargetRequest) ([]TargetResult, error) {
	out := make([]TargetResult, len(targets))
	var eg errgroup.Group
	eg.SetLimit(m.workers)
	for i, t := range targets {
		eg.Go(func() error {
			rep, art, err := m.Run(ctx, Request{
				Graph:   g,
				Target:  t.Target,
				Profile: t.Profile,
				Rigor:   t.Rigor,
				Waivers: t.Waivers,
				Hints:   t.Hints,
			})
			out[i] = TargetResult{Report: rep, Artifact: art, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, r := range out {
		if r.Err != nil {
			failed++
		}
	}
	m.logger.Info("targets finished", zap.Int("targets", len(targets)), zap.Int("failed", failed))
	return out, ctx.Err()
}
