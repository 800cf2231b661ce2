package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Packlift.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Registry cache metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	digestFailures prometheus.Counter

	// Pack fetch metrics
	fetchDuration *prometheus.HistogramVec

	// Interaction metrics
	questionsAsked *prometheus.CounterVec
	askDuration    *prometheus.HistogramVec

	// Flow metrics
	installerCalls  *prometheus.CounterVec
	flowTransitions *prometheus.CounterVec

	// Rollback metrics
	rollbacks *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Run metrics
		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of bootstrap runs started",
			},
			[]string{"operation"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of bootstrap runs completed",
			},
			[]string{"operation", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of bootstrap runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		// Registry cache metrics
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pack_cache_hits_total",
				Help:      "Total number of pack cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pack_cache_misses_total",
				Help:      "Total number of pack cache misses",
			},
		),
		digestFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pack_digest_failures_total",
				Help:      "Total number of pack digest verification failures",
			},
		),

		// Pack fetch metrics
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pack_fetch_duration_seconds",
				Help:      "Duration of pack registry fetches in seconds",
				Buckets:   buckets,
			},
			[]string{"scheme"},
		),

		// Interaction metrics
		questionsAsked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "questions_asked_total",
				Help:      "Total number of installer questions asked",
			},
			[]string{"transport"},
		),
		askDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ask_duration_seconds",
				Help:      "Duration of answer collection in seconds",
				Buckets:   buckets,
			},
			[]string{"transport"},
		),

		// Flow metrics
		installerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installer_calls_total",
				Help:      "Total number of installer invocations",
			},
			[]string{"status"},
		),
		flowTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_transitions_total",
				Help:      "Total number of flow status transitions",
			},
			[]string{"status"},
		),

		// Rollback metrics
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_total",
				Help:      "Total number of side effect rollbacks",
			},
			[]string{"outcome"},
		),

		// System metrics
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active bootstrap runs",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.cacheHits,
		m.cacheMisses,
		m.digestFailures,
		m.fetchDuration,
		m.questionsAsked,
		m.askDuration,
		m.installerCalls,
		m.flowTransitions,
		m.rollbacks,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(operation string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(operation).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(operation, status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(operation, status).Inc()
	m.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Registry Cache Metrics

// RecordCacheHit increments the pack cache hit counter.
func (m *Metrics) RecordCacheHit() {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss increments the pack cache miss counter.
func (m *Metrics) RecordCacheMiss() {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordDigestFailure increments the digest verification failure counter.
func (m *Metrics) RecordDigestFailure() {
	if m == nil || m.digestFailures == nil {
		return
	}
	m.digestFailures.Inc()
}

// RecordFetch records a registry fetch with its duration.
func (m *Metrics) RecordFetch(scheme string, duration time.Duration) {
	if m == nil || m.fetchDuration == nil {
		return
	}
	m.fetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// Interaction Metrics

// RecordQuestionsAsked records how many questions a transport delivered.
func (m *Metrics) RecordQuestionsAsked(transport string, count int) {
	if m == nil || m.questionsAsked == nil {
		return
	}
	m.questionsAsked.WithLabelValues(transport).Add(float64(count))
}

// RecordAsk records the time spent collecting answers over a transport.
func (m *Metrics) RecordAsk(transport string, duration time.Duration) {
	if m == nil || m.askDuration == nil {
		return
	}
	m.askDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// Flow Metrics

// RecordInstallerCall records an installer invocation and its resulting status.
func (m *Metrics) RecordInstallerCall(status string) {
	if m == nil || m.installerCalls == nil {
		return
	}
	m.installerCalls.WithLabelValues(status).Inc()
}

// RecordFlowTransition records a flow status transition.
func (m *Metrics) RecordFlowTransition(status string) {
	if m == nil || m.flowTransitions == nil {
		return
	}
	m.flowTransitions.WithLabelValues(status).Inc()
}

// Rollback Metrics

// RecordRollback records a rollback attempt and its outcome.
func (m *Metrics) RecordRollback(outcome string) {
	if m == nil || m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m == nil || m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
