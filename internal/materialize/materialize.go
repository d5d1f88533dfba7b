// Package materialize sequences the pipeline for one graph and target:
//
//	canonicalize -> generate -> verify(A) -> gate A
//	  -> {transform <-> fit <-> verify(B)} -> gate B
//	  -> emit -> post-verify -> report
//
// A Materializer owns the run lifecycle of the two shared caches. Each run
// opens a proof-cache session and a build-cache session; both are
// committed only after the report is produced and discarded on any error
// or cancellation, so the Materializer is the only writer of committed
// entries.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/buildcache"
	"github.com/roach88/kiln/internal/canon"
	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/fit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/metrics"
	"github.com/roach88/kiln/internal/postverify"
	"github.com/roach88/kiln/internal/proofcache"
	"github.com/roach88/kiln/internal/transform"
	"github.com/roach88/kiln/internal/verify"
)

const tracerName = "github.com/roach88/kiln/internal/materialize"

// ReportAppender persists reports. *store.Store implements it.
type ReportAppender interface {
	AppendReport(ctx context.Context, r ir.Report) error
}

// Request is one materialization.
type Request struct {
	Graph   *ir.Graph
	Target  ir.Target
	Profile ir.Profile
	Rigor   ir.Rigor
	Waivers []ir.Waiver
	// Hints seed the first transformation.
	Hints transform.Hints
}

// Materializer runs materializations. It is safe for concurrent use; runs
// share the caches and nothing else.
type Materializer struct {
	resolver    canon.ModuleResolver
	proofs      *proofcache.Cache
	builds      *buildcache.Cache
	reports     ReportAppender
	backend     emit.Backend
	harness     postverify.Harness
	engines     []verify.Engine
	solver      *verify.Solver
	clock       verify.Clock
	ids         RunIDGenerator
	workers     int
	maxAttempts int
	priority    []fit.Class
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithResolver resolves external module references during
// canonicalization.
func WithResolver(r canon.ModuleResolver) Option {
	return func(m *Materializer) { m.resolver = r }
}

// WithProofCache sets the shared proof cache. The default is an isolated
// in-memory cache.
func WithProofCache(c *proofcache.Cache) Option {
	return func(m *Materializer) { m.proofs = c }
}

// WithBuildCache enables incremental builds.
func WithBuildCache(c *buildcache.Cache) Option {
	return func(m *Materializer) { m.builds = c }
}

// WithReports appends every finished report.
func WithReports(r ReportAppender) Option {
	return func(m *Materializer) { m.reports = r }
}

// WithBackend sets the emission backend. The default is emit.ImageBackend.
func WithBackend(b emit.Backend) Option {
	return func(m *Materializer) { m.backend = b }
}

// WithHarness enables smoke-test execution of artifacts.
func WithHarness(h postverify.Harness) Option {
	return func(m *Materializer) { m.harness = h }
}

// WithEngines replaces the engine chain of every run.
func WithEngines(engines ...verify.Engine) Option {
	return func(m *Materializer) { m.engines = engines }
}

// WithSolver adds the solver to the default engine chain.
func WithSolver(s *verify.Solver) Option {
	return func(m *Materializer) { m.solver = s }
}

// WithClock sets the clock for timestamps, durations and waiver expiry.
func WithClock(c verify.Clock) Option {
	return func(m *Materializer) { m.clock = c }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(m *Materializer) { m.ids = g }
}

// WithWorkers bounds concurrent obligations per run and concurrent targets
// in RunTargets.
func WithWorkers(n int) Option {
	return func(m *Materializer) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithMaxAttempts caps transform/fit attempts.
func WithMaxAttempts(n int) Option {
	return func(m *Materializer) { m.maxAttempts = n }
}

// WithPriority orders constraint classes for the fitter.
func WithPriority(p []fit.Class) Option {
	return func(m *Materializer) { m.priority = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Materializer) { m.logger = l }
}

// WithMetrics records runs, obligations, cache lookups and fit attempts.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Materializer) { m.metrics = mt }
}

// New creates a Materializer.
func New(opts ...Option) *Materializer {
	m := &Materializer{
		backend:     emit.ImageBackend{},
		clock:       wallClock{},
		ids:         UUIDv7Generator{},
		workers:     verify.DefaultWorkers,
		maxAttempts: fit.DefaultMaxAttempts,
		priority:    fit.DefaultPriority,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.proofs == nil {
		m.proofs = proofcache.New(proofcache.NewMemory(), proofcache.WithLogger(m.logger), proofcache.WithMetrics(m.metrics))
	}
	return m
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Run materializes one graph for one target. The report is returned on
// failure too; its Outcome and Error say what happened. The artifact is
// nil unless the run materialized.
func (m *Materializer) Run(ctx context.Context, req Request) (*ir.Report, *emit.Artifact, error) {
	start := m.clock.Now()
	finish := m.metrics.RunStarted()
	report := &ir.Report{
		RunID:     m.ids.Generate(),
		Target:    req.Target.Name,
		Profile:   req.Profile.Name,
		Rigor:     req.Rigor.Name,
		Generator: ir.Generator,
		Timestamp: start.UTC(),
	}
	logger := m.logger.With(zap.String("run", report.RunID), zap.String("target", req.Target.Name))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "materialize.Run",
		trace.WithAttributes(
			attribute.String("run_id", report.RunID),
			attribute.String("target", req.Target.Name),
			attribute.String("profile", req.Profile.Name),
			attribute.String("rigor", req.Rigor.Name),
		),
	)
	defer span.End()

	r := &run{
		m:      m,
		req:    req,
		report: report,
		logger: logger,
		proofs: m.proofs.BeginWithReuse(req.Rigor.ReuseCommitted),
	}
	if m.builds != nil {
		r.builds = m.builds.Begin()
	}

	art, err := r.execute(ctx)
	report.DurationMS = m.clock.Now().Sub(start).Milliseconds()
	if err == nil {
		report.Outcome = ir.OutcomeMaterialized
		err = r.commit(ctx)
	}
	if err != nil {
		r.discard()
		report.Outcome = ir.OutcomeFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			report.Outcome = ir.OutcomeCancelled
		}
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, report.Outcome)
		logger.Info("materialization failed", zap.String("outcome", report.Outcome), zap.Error(err))
	} else {
		span.SetAttributes(attribute.String("artifact", report.Artifact.Digest))
		logger.Info("materialized",
			zap.Int64("size", report.Artifact.Size),
			zap.Int("attempts", report.Fit.Attempts),
			zap.Int64("duration_ms", report.DurationMS),
		)
	}
	finish(report.Outcome, time.Duration(report.DurationMS)*time.Millisecond)

	if report.Outcome != ir.OutcomeCancelled {
		if aerr := m.appendReport(context.WithoutCancel(ctx), *report); aerr != nil {
			logger.Warn("report not persisted", zap.Error(aerr))
			if err == nil {
				err = aerr
			}
		}
	}
	if err != nil {
		return report, nil, err
	}
	return report, art, nil
}

func (m *Materializer) appendReport(ctx context.Context, r ir.Report) error {
	if m.reports == nil {
		return nil
	}
	if err := m.reports.AppendReport(ctx, r); err != nil {
		return fmt.Errorf("append report: %w", err)
	}
	return nil
}
