package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snowpulse"

// Metrics holds the Prometheus collectors for evaluator, notifier and ingest runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	qualityChecks    *prometheus.CounterVec
	alertsEmitted    *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runErrors        *prometheus.CounterVec
	lastRun          *prometheus.GaugeVec
	ingestedRecords  *prometheus.CounterVec
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		qualityChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quality_checks_total",
				Help:      "Data-quality check results by check, table and status",
			},
			[]string{"check", "table", "status"},
		),
		alertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_emitted_total",
				Help:      "Alerts written to the alert log",
			},
			[]string{"alert"},
		),
		alertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Alerts suppressed by deduplication",
			},
			[]string{"alert"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of scheduled job runs",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job"},
		),
		runErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_errors_total",
				Help:      "Scheduled job runs that returned an error",
			},
			[]string{"job"},
		),
		lastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed job run",
			},
			[]string{"job"},
		),
		ingestedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_records_total",
				Help:      "Raw records appended by the ingest streamer",
			},
			[]string{"table"},
		),
	}

	m.registry.MustRegister(
		m.qualityChecks,
		m.alertsEmitted,
		m.alertsSuppressed,
		m.runDuration,
		m.runErrors,
		m.lastRun,
		m.ingestedRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordCheck(check, table, status string) {
	if m == nil {
		return
	}
	m.qualityChecks.WithLabelValues(check, table, status).Inc()
}

func (m *Metrics) RecordAlert(alert string, emitted bool) {
	if m == nil {
		return
	}
	if emitted {
		m.alertsEmitted.WithLabelValues(alert).Inc()
		return
	}
	m.alertsSuppressed.WithLabelValues(alert).Inc()
}

// ObserveRun records duration and completion time of a job run.
func (m *Metrics) ObserveRun(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	if err != nil {
		m.runErrors.WithLabelValues(job).Inc()
		return
	}
	m.lastRun.WithLabelValues(job).SetToCurrentTime()
}

func (m *Metrics) RecordIngested(table string, n int) {
	if m == nil {
		return
	}
	m.ingestedRecords.WithLabelValues(table).Add(float64(n))
}
