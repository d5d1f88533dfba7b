// Package fit checks transformations against the target's budgets and
// backtracks through a bounded, ordered strategy list until one fits.
package fit

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/metrics"
	"github.com/roach88/kiln/internal/transform"
)

// DefaultMaxAttempts caps transformations per fit.
const DefaultMaxAttempts = 5

// VerifyFunc checks round-B obligations against a candidate and returns
// the violations they reveal. An error aborts the fit.
type VerifyFunc func(ctx context.Context, tir *transform.TargetIR) ([]Violation, error)

// Request is one fit.
type Request struct {
	Graph   *ir.Graph
	Target  ir.Target
	Profile ir.Profile
	Hints   transform.Hints
	Verify  VerifyFunc
}

// Result is a fitting transformation and how it was found.
type Result struct {
	TargetIR *transform.TargetIR
	Summary  ir.FitSummary
}

// Fitter runs the transform/fit loop.
type Fitter struct {
	transformer *transform.Transformer
	strategies  []Strategy
	priority    []Class
	maxAttempts int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fitter) { f.logger = l }
}

// WithMetrics counts attempts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fitter) { f.metrics = m }
}

// WithMaxAttempts sets the attempt cap, including the first attempt.
func WithMaxAttempts(n int) Option {
	return func(f *Fitter) { f.maxAttempts = n }
}

// WithPriority sets the order in which constraint classes are compared.
// Classes left out rank last.
func WithPriority(p []Class) Option {
	return func(f *Fitter) { f.priority = p }
}

// WithStrategies replaces the strategy list.
func WithStrategies(s ...Strategy) Option {
	return func(f *Fitter) { f.strategies = s }
}

// New creates a Fitter around a transformer.
func New(tr *transform.Transformer, opts ...Option) *Fitter {
	f := &Fitter{
		transformer: tr,
		maxAttempts: DefaultMaxAttempts,
		priority:    DefaultPriority,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, c := range DefaultPriority {
		if !slices.Contains(f.priority, c) {
			f.priority = append(slices.Clone(f.priority), c)
		}
	}
	if f.strategies == nil {
		f.strategies = DefaultStrategies(f.priority)
	}
	return f
}

type attempt struct {
	hints      transform.Hints
	tir        *transform.TargetIR
	violations []Violation
	score      []int64
}

// Fit transforms the graph and repairs violations. Every strategy is tried
// at most once, in order; a strategy is skipped when it cannot change the
// hints or relieves none of the violated classes. An attempt scoring worse
// than the best so far has its hints reverted before the next strategy.
func (f *Fitter) Fit(ctx context.Context, req Request) (*Result, error) {
	budget := NewAttemptBudget(f.maxAttempts)
	summary := ir.FitSummary{Selected: "initial"}
	hints := req.Hints.Clone()
	var best *attempt
	next := 0
	last := ""

	for {
		if err := budget.Check(req.Target.Name); err != nil {
			summary.Attempts = budget.Used()
			return nil, f.failure(req, summary, best, err)
		}
		cur, err := f.attempt(ctx, req, hints)
		if err != nil {
			return nil, err
		}
		f.metrics.FitAttempt()
		f.logger.Debug("fit attempt",
			zap.String("target", req.Target.Name),
			zap.Int("attempt", budget.Current()),
			zap.String("strategy", cmp.Or(last, "initial")),
			zap.Int("violations", len(cur.violations)),
		)

		if len(cur.violations) == 0 {
			summary.Attempts = budget.Used()
			if last != "" {
				summary.Selected = last
			}
			f.logger.Info("fit",
				zap.String("target", req.Target.Name),
				zap.String("selected", summary.Selected),
				zap.Int("attempts", summary.Attempts),
			)
			return &Result{TargetIR: cur.tir, Summary: summary}, nil
		}

		switch {
		case best == nil || !worse(cur.score, best.score):
			best = cur
		default:
			summary.Reverted = append(summary.Reverted, last)
			f.logger.Debug("fit revert", zap.String("strategy", last))
		}

		classes := violated(best.violations)
		applied := false
		for next < len(f.strategies) {
			s := f.strategies[next]
			next++
			if !helpsAny(s, classes) {
				continue
			}
			h, ok := s.Apply(best.hints, best.tir, best.violations)
			if !ok {
				continue
			}
			hints, last, applied = h, s.Name(), true
			summary.Applied = append(summary.Applied, last)
			break
		}
		if !applied {
			summary.Attempts = budget.Used()
			return nil, f.failure(req, summary, best, ErrStrategiesExhausted)
		}
	}
}

func (f *Fitter) attempt(ctx context.Context, req Request, h transform.Hints) (*attempt, error) {
	tir, err := f.transformer.Transform(ctx, req.Graph, req.Target, req.Profile, h)
	if err != nil {
		return nil, err
	}
	vs := Check(tir)
	if req.Verify != nil {
		rb, err := req.Verify(ctx, tir)
		if err != nil {
			return nil, err
		}
		vs = append(vs, rb...)
	}
	return &attempt{hints: h, tir: tir, violations: vs, score: score(vs, f.priority)}, nil
}

func (f *Fitter) failure(req Request, summary ir.FitSummary, best *attempt, cause error) *FailureReport {
	fr := &FailureReport{Target: req.Target.Name, Summary: summary, Cause: cause}
	if best != nil {
		fr.Violations = best.violations
		fr.Summary.Violations = make([]ir.FitViolation, len(best.violations))
		for i, v := range best.violations {
			fr.Summary.Violations[i] = v.Record()
		}
	}
	f.logger.Warn("fit failed",
		zap.String("target", req.Target.Name),
		zap.Int("attempts", summary.Attempts),
		zap.Int("violations", len(fr.Violations)),
		zap.Error(cause),
	)
	return fr
}

// score is the total overage per class, in priority order.
func score(vs []Violation, priority []Class) []int64 {
	out := make([]int64, len(priority))
	for _, v := range vs {
		if i := slices.Index(priority, v.Class); i >= 0 {
			out[i] += max(-v.Margin(), 0)
		}
	}
	return out
}

// worse reports whether a is lexicographically worse than b.
func worse(a, b []int64) bool {
	return slices.Compare(a, b) > 0
}
