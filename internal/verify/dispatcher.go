package verify

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/metrics"
	"github.com/roach88/kiln/internal/proofcache"
)

// Clock supplies the time waivers are checked against.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// DefaultWorkers is the obligation worker pool size.
const DefaultWorkers = 8

// Dispatcher resolves obligations through the engine chain.
type Dispatcher struct {
	engines []Engine
	rigor   ir.Rigor
	clock   Clock
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRigor sets the verification profile that supplies engine timeouts.
func WithRigor(r ir.Rigor) Option {
	return func(d *Dispatcher) { d.rigor = r }
}

// WithClock sets the clock used for waiver expiry.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithWorkers bounds the number of obligations resolved concurrently.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records obligation outcomes and engine latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns a dispatcher over engines, tried in order.
func New(engines []Engine, opts ...Option) *Dispatcher {
	rigor, _ := ir.RigorPreset("development")
	d := &Dispatcher{
		engines: engines,
		rigor:   rigor,
		clock:   systemClock{},
		workers: DefaultWorkers,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DefaultEngines returns the standard chain for a rigor profile. A nil
// solver leaves the solver out of the chain.
func DefaultEngines(rigor ir.Rigor, solver *Solver) []Engine {
	engines := []Engine{Structural{}, Interval{}}
	if solver != nil {
		engines = append(engines, solver)
	}
	return append(engines, Explore{Depth: rigor.ExploreDepth}, Timing{})
}

// Engines returns the chain in order.
func (d *Dispatcher) Engines() []Engine { return slices.Clone(d.engines) }

// Result is the outcome of one verification round, sorted by obligation ID.
type Result struct {
	Reports []ir.ObligationReport
	Waivers []ir.WaiverUse
	// Expired lists expired waivers whose obligations were dispatched.
	Expired []ir.Waiver
}

// Failures returns the reports that do not pass the gate.
func (r *Result) Failures() []ir.ObligationReport {
	var out []ir.ObligationReport
	for _, rep := range r.Reports {
		if !rep.Status.Passing() {
			out = append(out, rep)
		}
	}
	return out
}

// Passed reports whether every obligation is verified or waived.
func (r *Result) Passed() bool { return len(r.Failures()) == 0 }

// AddTo folds the round into a run summary.
func (r *Result) AddTo(s *ir.VerificationSummary) {
	for _, rep := range r.Reports {
		s.Add(rep)
	}
	s.Waivers = append(s.Waivers, r.Waivers...)
}

type resolved struct {
	report  ir.ObligationReport
	waiver  *ir.WaiverUse
	expired *ir.Waiver
}

// Verify resolves obligations across the worker pool. Results are stored in
// sess when it is non-nil; waived obligations never reach an engine. The
// result does not depend on scheduling order. Verify only fails on
// cancellation or a cache fault.
func (d *Dispatcher) Verify(ctx context.Context, sess *proofcache.Session, obligations []ir.Obligation, waivers []ir.Waiver) (*Result, error) {
	byObligation := make(map[string]ir.Waiver, len(waivers))
	for _, w := range waivers {
		byObligation[w.Obligation] = w
	}
	now := d.clock.Now()

	out := make([]resolved, len(obligations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range obligations {
		g.Go(func() error {
			r, err := d.resolve(gctx, sess, &obligations[i], byObligation, now)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b resolved) int { return cmp.Compare(a.report.ID, b.report.ID) })
	res := &Result{}
	for _, r := range out {
		res.Reports = append(res.Reports, r.report)
		if r.waiver != nil {
			res.Waivers = append(res.Waivers, *r.waiver)
		}
		if r.expired != nil {
			res.Expired = append(res.Expired, *r.expired)
		}
	}
	d.logger.Debug("verification round finished",
		zap.Int("obligations", len(res.Reports)),
		zap.Int("failures", len(res.Failures())),
		zap.Int("waived", len(res.Waivers)))
	return res, nil
}

func (d *Dispatcher) resolve(ctx context.Context, sess *proofcache.Session, o *ir.Obligation, waivers map[string]ir.Waiver, now time.Time) (resolved, error) {
	var r resolved
	rep := ir.ObligationReport{
		ID:        o.ID,
		Kind:      string(o.Kind),
		Round:     o.Round,
		Context:   o.Context.String(),
		Predicate: o.Predicate(),
		Critical:  o.Critical,
	}

	if w, ok := waivers[o.ID]; ok {
		if !w.Expired(now) {
			rep.Status = ir.ResultWaived
			r.report = rep
			r.waiver = &ir.WaiverUse{
				Obligation:    o.ID,
				Justification: w.Justification,
				Author:        w.Author,
				Approver:      w.Approver,
				Expires:       w.Expires,
			}
			d.metrics.Obligation(rep.Kind, string(rep.Status))
			return r, nil
		}
		d.logger.Warn("waiver expired, verifying obligation",
			zap.String("obligation", ir.Short(o.ID)),
			zap.Time("expired", w.Expires))
		r.expired = &w
	}

	compute := func(ctx context.Context) (proofcache.Entry, error) {
		return d.chain(ctx, *o)
	}
	var (
		entry proofcache.Entry
		src   = proofcache.SourceComputed
		err   error
	)
	if sess != nil {
		entry, src, err = sess.Do(ctx, o.ID, compute)
	} else {
		entry, err = compute(ctx)
	}
	if err != nil {
		return resolved{}, fmt.Errorf("verify %s: %w", ir.Short(o.ID), err)
	}

	rep.Cached = src.Cached()
	switch {
	case entry.Witness != nil && entry.Witness.Verdict == ir.VerdictProven:
		rep.Status = ir.ResultVerified
		rep.Engine = entry.Witness.Engine
	case entry.Witness != nil:
		rep.Status = ir.ResultFailed
		rep.Engine = entry.Witness.Engine
		rep.Counterexample = ir.CounterexampleFrom(entry.Witness.Evidence).String()
	case entry.TimedOut:
		rep.Status = ir.ResultInconclusiveTimeout
		rep.Reason = entry.Reason
	default:
		rep.Status = ir.ResultInconclusive
		rep.Reason = entry.Reason
	}
	if !rep.Status.Passing() {
		rep.Remediations = Remediate(*o, rep.Status)
	}
	d.metrics.Obligation(rep.Kind, string(rep.Status))
	d.logger.Debug("obligation resolved",
		zap.String("obligation", ir.Short(o.ID)),
		zap.String("kind", rep.Kind),
		zap.String("status", string(rep.Status)),
		zap.String("engine", rep.Engine),
		zap.String("source", string(src)))
	r.report = rep
	return r, nil
}

// chain tries each accepting engine under its own time budget until one
// is definitive.
func (d *Dispatcher) chain(ctx context.Context, o ir.Obligation) (proofcache.Entry, error) {
	entry := proofcache.Entry{Obligation: o.ID, Node: o.Context.Node}
	var reasons []string
	for _, e := range d.engines {
		if !e.Accepts(&o) {
			continue
		}
		actx, cancel := context.WithTimeout(ctx, d.rigor.Timeout(e.Name()))
		timer := d.metrics.EngineTimer(e.Name())
		out := attempt(actx, e, o)
		timer.ObserveDuration()
		deadline := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()
		if err := ctx.Err(); err != nil {
			return proofcache.Entry{}, err
		}

		if out.Definitive() {
			verdict, evidence := out.verdict()
			w, err := ir.NewWitness(o.ID, e.Name(), e.Version(), verdict, evidence)
			if err != nil {
				reasons = append(reasons, e.Name()+": "+err.Error())
				continue
			}
			entry.Witness = &w
			return entry, nil
		}
		if out.TimedOut || deadline {
			entry.TimedOut = true
			reasons = append(reasons, e.Name()+": timeout")
			continue
		}
		reasons = append(reasons, e.Name()+": "+out.Reason)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no engine accepts "+string(o.Kind)+" obligations")
	}
	entry.Reason = strings.Join(reasons, "; ")
	return entry, nil
}

// attempt runs one engine, turning a panic into an inconclusive outcome.
func attempt(ctx context.Context, e Engine, o ir.Obligation) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Inconclusive("engine fault: %v", r)
		}
	}()
	return e.Attempt(ctx, &o)
}
