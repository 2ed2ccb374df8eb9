// Package metrics provides Prometheus metrics for the estimator.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the estimator.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Remote calculation calls
	RemoteCalls        *prometheus.CounterVec
	RemoteCallErrors   *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec

	// Scenario metrics
	ScenariosExecuted *prometheus.CounterVec
	ScenariosCached   *prometheus.CounterVec
	ScenarioDuration  *prometheus.HistogramVec
	SnapshotFailures  prometheus.Counter

	// Resume cache
	CacheHits   prometheus.Counter
	CacheStale  prometheus.Counter
	CacheErrors *prometheus.CounterVec

	// Runs
	Runs        *prometheus.CounterVec
	RunRetries  prometheus.Counter
	RunDuration prometheus.Histogram
	RunProgress prometheus.Gauge

	// Optional collaborators
	CatalogErrors prometheus.Counter
	AuditErrors   prometheus.Counter
	ReportErrors  prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init registers metrics with the default registry and stores them as the
// global instance. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// New creates metrics registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "sp_estimator"
	}
	f := promauto.With(reg)

	return &Metrics{
		RemoteCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of calls to the calculation backend",
			},
			[]string{"action"},
		),
		RemoteCallErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_call_errors_total",
				Help:      "Total number of failed calls to the calculation backend",
			},
			[]string{"action"},
		),
		RemoteCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Round trip time of calculation backend calls",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"action"},
		),
		ScenariosExecuted: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenarios_executed_total",
				Help:      "Scenario parts computed against the backend",
			},
			[]string{"scenario", "part"},
		),
		ScenariosCached: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scenarios_cached_total",
				Help:      "Scenario parts served from the resume cache",
			},
			[]string{"scenario", "part"},
		),
		ScenarioDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scenario_duration_seconds",
				Help:      "Time to compute one scenario part",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~250s
			},
			[]string{"scenario"},
		),
		SnapshotFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_failures_total",
				Help:      "Workbook snapshots that could not be saved",
			},
		),
		CacheHits: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resume_cache_hits_total",
				Help:      "Resume cache lookups that returned a live entry",
			},
		),
		CacheStale: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resume_cache_stale_total",
				Help:      "Resume cache entries discarded as expired",
			},
		),
		CacheErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resume_cache_errors_total",
				Help:      "Resume cache storage errors",
			},
			[]string{"op"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Analysis runs by terminal status",
			},
			[]string{"status"},
		),
		RunRetries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_retries_total",
				Help:      "Automatic whole-run retries",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of an analysis run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
			},
		),
		RunProgress: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_progress_percent",
				Help:      "Progress of the current run",
			},
		),
		CatalogErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Run catalog write errors",
			},
		),
		AuditErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Audit event emission errors",
			},
		),
		ReportErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_errors_total",
				Help:      "Report export errors",
			},
		),
	}
}

// StartServer serves /metrics and /health until ctx is cancelled.
func StartServer(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveRemoteCall records one backend call.
func (m *Metrics) ObserveRemoteCall(action string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RemoteCalls.WithLabelValues(action).Inc()
	m.RemoteCallDuration.WithLabelValues(action).Observe(d.Seconds())
	if err != nil {
		m.RemoteCallErrors.WithLabelValues(action).Inc()
	}
}

// ObserveScenario records a computed scenario part.
func (m *Metrics) ObserveScenario(scenario, part string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScenariosExecuted.WithLabelValues(scenario, part).Inc()
	m.ScenarioDuration.WithLabelValues(scenario).Observe(d.Seconds())
}

// IncScenarioCached counts a part served from the resume cache.
func (m *Metrics) IncScenarioCached(scenario, part string) {
	if m == nil {
		return
	}
	m.ScenariosCached.WithLabelValues(scenario, part).Inc()
}

func (m *Metrics) IncSnapshotFailures() {
	if m == nil {
		return
	}
	m.SnapshotFailures.Inc()
}

func (m *Metrics) IncCacheHits() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) IncCacheStale() {
	if m == nil {
		return
	}
	m.CacheStale.Inc()
}

// IncCacheErrors counts a storage failure for op ("get", "put", "clear", "parse").
func (m *Metrics) IncCacheErrors(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

// ObserveRun records a finished run attempt.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

func (m *Metrics) IncRunRetries() {
	if m == nil {
		return
	}
	m.RunRetries.Inc()
}

func (m *Metrics) SetRunProgress(percent int) {
	if m == nil {
		return
	}
	m.RunProgress.Set(float64(percent))
}

func (m *Metrics) IncCatalogErrors() {
	if m == nil {
		return
	}
	m.CatalogErrors.Inc()
}

func (m *Metrics) IncAuditErrors() {
	if m == nil {
		return
	}
	m.AuditErrors.Inc()
}

func (m *Metrics) IncReportErrors() {
	if m == nil {
		return
	}
	m.ReportErrors.Inc()
}
