package cli

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/buildcache"
	"github.com/roach88/kiln/internal/materialize"
	"github.com/roach88/kiln/internal/metrics"
	"github.com/roach88/kiln/internal/postverify"
	"github.com/roach88/kiln/internal/proofcache"
	"github.com/roach88/kiln/internal/store"
	"github.com/roach88/kiln/internal/verify"
)

// runtime is the materializer wired from configuration, plus the
// resources it holds open.
type runtime struct {
	materializer *materialize.Materializer
	store        *store.Store
	registry     *prometheus.Registry
	closers      []func() error
}

// openRuntime opens the configured store and build cache and builds a
// materializer over them. The caller must call close.
func (o *RootOptions) openRuntime() (*runtime, error) {
	cfg := o.Config
	rt := &runtime{registry: prometheus.NewRegistry()}
	mt := metrics.New(rt.registry)

	opts := []materialize.Option{
		materialize.WithLogger(o.Logger),
		materialize.WithMetrics(mt),
		materialize.WithWorkers(cfg.Workers),
		materialize.WithMaxAttempts(cfg.MaxAttempts),
	}
	if p := cfg.PriorityClasses(); p != nil {
		opts = append(opts, materialize.WithPriority(p))
	}

	if cfg.Store != "" {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open store", err)
		}
		rt.store = st
		rt.closers = append(rt.closers, st.Close)
		opts = append(opts,
			materialize.WithReports(st),
			materialize.WithProofCache(proofcache.New(st,
				proofcache.WithLogger(o.Logger),
				proofcache.WithMetrics(mt),
			)),
		)
	}

	if cfg.BuildCache != "" {
		b, err := buildcache.OpenBadger(cfg.BuildCache)
		if err != nil {
			rt.close(o.Logger)
			return nil, WrapExitError(ExitCommandError, "failed to open build cache", err)
		}
		rt.closers = append(rt.closers, b.Close)
		opts = append(opts, materialize.WithBuildCache(buildcache.New(b, buildcache.WithLogger(o.Logger))))
	}

	if s := cfg.Solver; s != nil {
		runner := verify.ExecRunner{Path: s.Path, Args: s.Args}
		opts = append(opts, materialize.WithSolver(verify.NewSolver(runner, s.Version, s.MaxConcurrent)))
	}

	if cfg.Simulate {
		opts = append(opts, materialize.WithHarness(postverify.Simulator{}))
	}

	rt.materializer = materialize.New(opts...)
	return rt, nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close(logger *zap.Logger) {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("close runtime", zap.Error(err))
	}
}

// logMetrics writes the gathered counters at debug level.
func (rt *runtime) logMetrics(logger *zap.Logger) {
	families, err := rt.registry.Gather()
	if err != nil {
		logger.Debug("gather metrics", zap.Error(err))
		return
	}
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		logger.Debug("metric", zap.String("name", f.GetName()), zap.Float64("value", total))
	}
}
