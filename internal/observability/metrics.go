package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entity outcomes used as metric labels
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics records collector run statistics.
type Metrics interface {
	// RecordRun records a finished run
	RecordRun(duration time.Duration, entities, failed int)
	// RecordRunError records a run that aborted before iterating dashboards
	RecordRunError(errorType string)
	// RecordEntity records one dashboard's processing time and outcome
	RecordEntity(outcome string, duration time.Duration)
	// RecordFailure counts a dashboard failure by stage
	RecordFailure(stage string)
}

var (
	namespace = "audit"
	subsystem = "collector"
)

// PrometheusMetrics implements Metrics on a prometheus registry
type PrometheusMetrics struct {
	runDuration    prometheus.Histogram
	runs           *prometheus.CounterVec
	runEntities    prometheus.Gauge
	runFailed      prometheus.Gauge
	lastRun        prometheus.Gauge
	entityDuration *prometheus.HistogramVec
	entityFailures *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collector metrics on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Duration of a full collection run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Collection runs by result",
		}, []string{"result"}),
		runEntities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_dashboards",
			Help:      "Dashboards processed by the last run",
		}),
		runFailed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_failed_dashboards",
			Help:      "Dashboards that failed in the last run",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		entityDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dashboard_duration_seconds",
			Help:      "Time spent evaluating and refreshing one dashboard",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		entityFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dashboard_failures_total",
			Help:      "Dashboard failures by stage",
		}, []string{"stage"}),
	}
}

// RecordRun records a finished run
func (m *PrometheusMetrics) RecordRun(duration time.Duration, entities, failed int) {
	m.runDuration.Observe(duration.Seconds())
	m.runs.WithLabelValues("completed").Inc()
	m.runEntities.Set(float64(entities))
	m.runFailed.Set(float64(failed))
	m.lastRun.SetToCurrentTime()
}

// RecordRunError records an aborted run
func (m *PrometheusMetrics) RecordRunError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.runs.WithLabelValues(errorType).Inc()
}

// RecordEntity records one dashboard's processing time
func (m *PrometheusMetrics) RecordEntity(outcome string, duration time.Duration) {
	m.entityDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFailure counts a dashboard failure by stage
func (m *PrometheusMetrics) RecordFailure(stage string) {
	m.entityFailures.WithLabelValues(stage).Inc()
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordRun(time.Duration, int, int)  {}
func (NopMetrics) RecordRunError(string)              {}
func (NopMetrics) RecordEntity(string, time.Duration) {}
func (NopMetrics) RecordFailure(string)               {}
