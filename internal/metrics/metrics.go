// Package metrics holds the Prometheus collectors for ingestion, repair and quality runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the application exports.
type Metrics struct {
	registry *prometheus.Registry

	BarsStored     *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	ActionsStored  prometheus.Counter
	QualityIssues  *prometheus.CounterVec
	JobRuns        *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	LastJobSuccess *prometheus.GaugeVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BarsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eodbars_bars_stored_total",
			Help: "Bars submitted to the store, by operation (ingest, repair).",
		}, []string{"operation"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eodbars_fetch_failures_total",
			Help: "Upstream fetches that failed and were treated as empty, by kind (bars, actions).",
		}, []string{"kind"}),
		ActionsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eodbars_corporate_actions_inserted_total",
			Help: "New corporate action rows.",
		}),
		QualityIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eodbars_quality_issues_total",
			Help: "Issues reported by quality checks, by check type and severity.",
		}, []string{"check_type", "severity"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eodbars_job_symbol_runs_total",
			Help: "Per-symbol job executions, by job and result.",
		}, []string{"job", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eodbars_job_duration_seconds",
			Help:    "Wall time of a full job pass over all active symbols.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job"}),
		LastJobSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eodbars_job_last_completed_timestamp_seconds",
			Help: "Unix time of the last completed job pass.",
		}, []string{"job"}),
	}
	m.registry.MustRegister(
		m.BarsStored,
		m.FetchFailures,
		m.ActionsStored,
		m.QualityIssues,
		m.JobRuns,
		m.JobDuration,
		m.LastJobSuccess,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AddBars counts bars written by operation (ingest or repair).
func (m *Metrics) AddBars(operation string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BarsStored.WithLabelValues(operation).Add(float64(n))
}

// FetchFailed counts an upstream fetch that was swallowed as empty.
func (m *Metrics) FetchFailed(kind string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(kind).Inc()
}

// AddActions counts newly inserted corporate actions.
func (m *Metrics) AddActions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ActionsStored.Add(float64(n))
}

// AddIssues counts issues reported by a quality check.
func (m *Metrics) AddIssues(checkType, severity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.QualityIssues.WithLabelValues(checkType, severity).Add(float64(n))
}

// SymbolDone counts one symbol processed by job.
func (m *Metrics) SymbolDone(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

// JobDone records the duration of a full pass and marks its completion time.
func (m *Metrics) JobDone(job string, started time.Time) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
	m.LastJobSuccess.WithLabelValues(job).SetToCurrentTime()
}
