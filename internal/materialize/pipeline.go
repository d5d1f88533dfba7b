package materialize

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/buildcache"
	"github.com/roach88/kiln/internal/canon"
	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/fit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/obligation"
	"github.com/roach88/kiln/internal/postverify"
	"github.com/roach88/kiln/internal/proofcache"
	"github.com/roach88/kiln/internal/transform"
	"github.com/roach88/kiln/internal/verify"
)

// run is the state of one materialization.
type run struct {
	m      *Materializer
	req    Request
	report *ir.Report
	logger *zap.Logger

	proofs *proofcache.Session
	builds *buildcache.Session

	canonical *canon.Result
	impact    buildcache.Impact
	engines   []verify.Engine
}

// phase runs fn inside a child span named after the phase.
func (r *run) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return err
	}
	return nil
}

func (r *run) execute(ctx context.Context) (*emit.Artifact, error) {
	req := r.req
	if req.Graph == nil {
		return nil, errors.New("materialize: nil graph")
	}
	if err := verify.ValidateWaivers(req.Waivers); err != nil {
		return nil, err
	}

	if err := r.phase(ctx, "canonicalize", r.canonicalize); err != nil {
		return nil, err
	}

	var set *obligation.Set
	err := r.phase(ctx, "generate", func(context.Context) error {
		var err error
		set, err = obligation.Generate(r.canonical.Graph, obligation.Options{PropagationDepth: req.Rigor.PropagationDepth})
		return err
	})
	if err != nil {
		return nil, err
	}

	r.engines = r.m.engines
	if r.engines == nil {
		r.engines = verify.DefaultEngines(req.Rigor, r.m.solver)
	}
	dispatcher := verify.New(r.engines,
		verify.WithRigor(req.Rigor),
		verify.WithClock(r.m.clock),
		verify.WithWorkers(r.m.workers),
		verify.WithLogger(r.logger),
		verify.WithMetrics(r.m.metrics),
	)
	gate := verify.NewGate(req.Rigor.MaxWaivers)

	err = r.phase(ctx, "verify.A", func(ctx context.Context) error {
		res, err := dispatcher.Verify(ctx, r.proofs, set.Round(ir.RoundA), req.Waivers)
		if err != nil {
			return err
		}
		res.AddTo(&r.report.Verification)
		return gate.Check(ir.RoundA, res)
	})
	if err != nil {
		return nil, err
	}

	var fitted *fit.Result
	var roundB *verify.Result
	err = r.phase(ctx, "fit", func(ctx context.Context) error {
		var opts []transform.Option
		opts = append(opts, transform.WithLogger(r.logger))
		if r.builds != nil {
			opts = append(opts, transform.WithFragmentCache(r.builds))
		}
		fitter := fit.New(transform.New(opts...),
			fit.WithLogger(r.logger),
			fit.WithMetrics(r.m.metrics),
			fit.WithMaxAttempts(r.m.maxAttempts),
			fit.WithPriority(r.m.priority),
		)
		deferred := set.Round(ir.RoundB)
		var err error
		fitted, err = fitter.Fit(ctx, fit.Request{
			Graph:   r.canonical.Graph,
			Target:  req.Target,
			Profile: req.Profile,
			Hints:   req.Hints,
			Verify: func(ctx context.Context, tir *transform.TargetIR) ([]fit.Violation, error) {
				bound, err := fit.Bind(deferred, tir)
				if err != nil {
					return nil, err
				}
				res, err := dispatcher.Verify(ctx, r.proofs, bound, carryWaivers(deferred, bound, req.Waivers))
				if err != nil {
					return nil, err
				}
				roundB = res
				return resourceViolations(bound, res), nil
			},
		})
		return err
	})
	if err != nil {
		var fr *fit.FailureReport
		if errors.As(err, &fr) {
			r.report.Fit = fr.Summary
		}
		return nil, err
	}
	r.report.Fit = fitted.Summary
	tir := fitted.TargetIR

	if roundB != nil {
		roundB.AddTo(&r.report.Verification)
		if err := gate.Check(ir.RoundB, roundB); err != nil {
			return nil, err
		}
	}

	r.report.Resources = fit.Usage(tir)
	r.report.Timing = fit.Timing(tir)
	r.report.Schedule = tir.Schedule.Summary(tir.Windows())

	var art *emit.Artifact
	err = r.phase(ctx, "emit", func(ctx context.Context) error {
		var cache transform.FragmentCache
		if r.builds != nil {
			cache = r.builds
		}
		var err error
		art, err = emit.NewEmitter(r.m.backend, emit.WithLogger(r.logger)).Emit(ctx, tir, cache)
		if err == nil {
			return nil
		}
		var ee *emit.EmissionError
		if !errors.As(err, &ee) || !ee.Usable() {
			return err
		}
		r.logger.Warn("using partial artifact", zap.Error(err))
		r.report.Fidelity = append(r.report.Fidelity, ir.Finding{
			Kind:     "emission",
			Severity: ir.SeverityWarning,
			Message:  err.Error(),
		})
		art = ee.Partial
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.report.Artifact = art.Summary(tir.Estimates.FlashBytes())

	err = r.phase(ctx, "postverify", func(ctx context.Context) error {
		opts := []postverify.Option{postverify.WithLogger(r.logger)}
		if r.m.harness != nil {
			opts = append(opts, postverify.WithHarness(r.m.harness))
		}
		res, err := postverify.New(req.Rigor, opts...).Verify(ctx, tir, art)
		if err != nil {
			return err
		}
		r.report.Fidelity = append(r.report.Fidelity, res.Findings...)
		return res.Err()
	})
	if err != nil {
		return nil, err
	}

	if r.builds != nil {
		reused, rebuilt := r.builds.Stats()
		r.report.Incremental.Reused = reused
		r.report.Incremental.Rebuilt = rebuilt
		r.m.metrics.BuildCache(reused, rebuilt)
	}
	return art, nil
}

func (r *run) canonicalize(ctx context.Context) error {
	c := canon.New(canon.WithResolver(r.m.resolver), canon.WithLogger(r.logger))
	res, err := c.Canonicalize(ctx, r.req.Graph)
	if err != nil {
		return err
	}
	r.canonical = res
	r.report.GraphHash = res.RootHash
	r.report.Canonicalization = res.Stats
	if r.builds == nil {
		return nil
	}

	cur := buildcache.NewManifest(res, r.req.Target.Fingerprint(), r.req.Profile.Fingerprint())
	key := buildcache.ManifestKey(r.req.Graph.Name, cur.Target, cur.Profile)
	prev, err := r.m.builds.Manifest(ctx, key)
	if err != nil {
		return err
	}
	impact, err := buildcache.Diff(prev, cur)
	if err != nil {
		return err
	}
	r.impact = impact
	r.report.Incremental.Changed = len(impact.Changed)
	r.report.Incremental.Affected = len(impact.Affected)
	r.builds.Drop(impact.Removed...)
	r.logger.Debug("impact",
		zap.Int("changed", len(impact.Changed)),
		zap.Int("affected", len(impact.Affected)),
		zap.Int("removed", len(impact.Removed)))
	return r.builds.PutManifest(key, cur)
}

// commit publishes both sessions. Witnesses of removed nodes and of stale
// engine versions are dropped first.
func (r *run) commit(ctx context.Context) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "commit")
	defer span.End()

	for _, e := range r.engines {
		if _, err := r.m.proofs.InvalidateEngine(ctx, e.Name(), e.Version()); err != nil {
			return err
		}
	}
	for _, n := range r.impact.Removed {
		k, err := r.m.proofs.InvalidateNode(ctx, n)
		if err != nil {
			return err
		}
		r.report.Incremental.Invalidated += k
	}
	witnesses, err := r.proofs.Commit(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("witnesses", witnesses))
	if r.builds != nil {
		entries, err := r.builds.Commit(ctx)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("build_entries", entries))
	}
	return nil
}

func (r *run) discard() {
	r.proofs.Discard()
	if r.builds != nil {
		r.builds.Discard()
	}
}

// carryWaivers re-keys waivers of deferred obligations to their bound
// identities so a waiver written against a round-B obligation survives
// binding.
func carryWaivers(deferred, bound []ir.Obligation, ws []ir.Waiver) []ir.Waiver {
	if len(ws) == 0 {
		return nil
	}
	byID := make(map[string]ir.Waiver, len(ws))
	for _, w := range ws {
		byID[w.Obligation] = w
	}
	out := append([]ir.Waiver(nil), ws...)
	for i := range deferred {
		if deferred[i].ID == bound[i].ID {
			continue
		}
		if w, ok := byID[deferred[i].ID]; ok {
			w.Obligation = bound[i].ID
			out = append(out, w)
		}
	}
	return out
}

// resourceViolations turns failed bound resource obligations into fit
// violations. Other failures are left to gate B.
func resourceViolations(bound []ir.Obligation, res *verify.Result) []fit.Violation {
	byID := make(map[string]ir.Obligation, len(bound))
	for _, o := range bound {
		byID[o.ID] = o
	}
	var out []fit.Violation
	for _, rep := range res.Reports {
		if rep.Status != ir.ResultFailed {
			continue
		}
		o, ok := byID[rep.ID]
		if !ok || o.Kind != ir.ObResource || o.Facts == nil {
			continue
		}
		out = append(out, fit.FromObligation(o))
	}
	return out
}
