// Package metrics holds the Prometheus collectors for a materialization
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of collectors registered for one registry.
type Metrics struct {
	obligations   *prometheus.CounterVec
	engineLatency *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	fitAttempts   prometheus.Counter
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	buildCache    *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps tests and embedded use from colliding on the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		obligations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_obligations_total",
			Help: "Obligations resolved, by kind and status",
		}, []string{"kind", "status"}),
		engineLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_engine_attempt_duration_seconds",
			Help:    "Duration of single engine attempts",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
		}, []string{"engine"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_proof_cache_lookups_total",
			Help: "Proof cache lookups, by where the result came from",
		}, []string{"source"}),
		fitAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "kiln_fit_attempts_total",
			Help: "Transform and fit attempts, including reverted ones",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_runs_total",
			Help: "Materialization runs, by outcome",
		}, []string{"outcome"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kiln_run_duration_seconds",
			Help:    "Wall time of materialization runs",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		buildCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_build_cache_nodes_total",
			Help: "Per-node build cache results, reused or rebuilt",
		}, []string{"result"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "kiln_runs_in_flight",
			Help: "Materialization runs currently executing",
		}),
	}
}

// Obligation counts one resolved obligation.
func (m *Metrics) Obligation(kind, status string) {
	if m == nil {
		return
	}
	m.obligations.WithLabelValues(kind, status).Inc()
}

// EngineTimer starts timing one engine attempt. Call ObserveDuration on the
// result when the attempt returns.
func (m *Metrics) EngineTimer(engine string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.engineLatency.WithLabelValues(engine))
}

// CacheLookup counts one proof cache lookup.
func (m *Metrics) CacheLookup(source string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(source).Inc()
}

// FitAttempt counts one transform and fit attempt.
func (m *Metrics) FitAttempt() {
	if m == nil {
		return
	}
	m.fitAttempts.Inc()
}

// RunStarted marks a run as in flight. The returned function records the
// outcome and duration.
func (m *Metrics) RunStarted() func(outcome string, d time.Duration) {
	if m == nil {
		return func(string, time.Duration) {}
	}
	m.inFlight.Inc()
	return func(outcome string, d time.Duration) {
		m.inFlight.Dec()
		m.runs.WithLabelValues(outcome).Inc()
		m.runDuration.Observe(d.Seconds())
	}
}

// BuildCache counts reused and rebuilt nodes.
func (m *Metrics) BuildCache(reused, rebuilt int) {
	if m == nil {
		return
	}
	m.buildCache.WithLabelValues("reused").Add(float64(reused))
	m.buildCache.WithLabelValues("rebuilt").Add(float64(rebuilt))
}
