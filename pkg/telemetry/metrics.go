package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the Ember engine.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Job metrics
	jobsExecuted *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	activeJobs   prometheus.Gauge

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Cache metrics
	cacheRestores *prometheus.CounterVec
	cacheSaves    prometheus.Counter

	// Fuzz metrics
	campaignsCompleted *prometheus.CounterVec
	fuzzFindings       *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of workflow runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of workflow runs completed",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of workflow runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		jobsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_executed_total",
			Help:      "Total number of jobs executed",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job execution in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently executing",
		}),

		stepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_executed_total",
			Help:      "Total number of steps executed",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step execution in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),

		cacheRestores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_restores_total",
			Help:      "Total number of cache restore attempts",
		}, []string{"outcome"}),
		cacheSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_saves_total",
			Help:      "Total number of cache entries saved",
		}),

		campaignsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuzz_campaigns_completed_total",
			Help:      "Total number of fuzz campaigns completed",
		}, []string{"target", "state"}),
		fuzzFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fuzz_findings_total",
			Help:      "Total number of crash-class fuzz findings",
		}, []string{"target"}),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.jobsExecuted, m.jobDuration, m.activeJobs,
		m.stepsExecuted, m.stepDuration,
		m.cacheRestores, m.cacheSaves,
		m.campaignsCompleted, m.fuzzFindings,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// enabled reports whether this instance records anything.
func (m *Metrics) enabled() bool {
	return m != nil && m.config.Enabled
}

// RunStarted records the start of a workflow run.
func (m *Metrics) RunStarted() {
	if m.enabled() {
		m.runsStarted.Inc()
	}
}

// RunCompleted records a completed run with its status and duration.
func (m *Metrics) RunCompleted(status string, d time.Duration) {
	if m.enabled() {
		m.runsCompleted.WithLabelValues(status).Inc()
		m.runDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

// JobStarted records a job entering execution.
func (m *Metrics) JobStarted() {
	if m.enabled() {
		m.activeJobs.Inc()
	}
}

// JobCompleted records a completed job with its status and duration.
func (m *Metrics) JobCompleted(job, status string, d time.Duration) {
	if m.enabled() {
		m.activeJobs.Dec()
		m.jobsExecuted.WithLabelValues(job, status).Inc()
		m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	}
}

// StepCompleted records a completed step.
func (m *Metrics) StepCompleted(step, status string, d time.Duration) {
	if m.enabled() {
		m.stepsExecuted.WithLabelValues(status).Inc()
		m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	}
}

// CacheRestore records a cache restore attempt ("hit" or "miss").
func (m *Metrics) CacheRestore(outcome string) {
	if m.enabled() {
		m.cacheRestores.WithLabelValues(outcome).Inc()
	}
}

// CacheSaved records a saved cache entry.
func (m *Metrics) CacheSaved() {
	if m.enabled() {
		m.cacheSaves.Inc()
	}
}

// CampaignCompleted records a fuzz campaign reaching a terminal state.
func (m *Metrics) CampaignCompleted(target, state string) {
	if m.enabled() {
		m.campaignsCompleted.WithLabelValues(target, state).Inc()
	}
}

// FuzzFinding records a crash-class finding for a target.
func (m *Metrics) FuzzFinding(target string) {
	if m.enabled() {
		m.fuzzFindings.WithLabelValues(target).Inc()
	}
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = server.ListenAndServe()
	}()

	return nil
}
