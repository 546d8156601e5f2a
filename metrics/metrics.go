// Package metrics holds the Prometheus collectors of the extraction engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gosom/gmaps-extractor/gmaps"
	"github.com/gosom/gmaps-extractor/models"
)

const namespace = "gmaps_extractor"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsSubmitted   prometheus.Counter
	JobsFinished    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	JobsRunning     prometheus.Gauge
	ItemsProcessed  *prometheus.CounterVec
	Retries         *prometheus.CounterVec
	CheckpointSaves *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates and registers the collectors on reg. A nil reg uses a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of accepted job submissions",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs that reached a terminal status",
		}, []string{"status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of a background extraction",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"status"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of extractions currently running in this process",
		}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Candidates visited, partitioned by outcome",
		}, []string{"outcome"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried browser operations",
		}, []string{"operation"}),
		CheckpointSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes, partitioned by result",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Submitted() {
	if m == nil {
		return
	}

	m.JobsSubmitted.Inc()
}

// Started marks a background run as begun and returns the function that
// marks it as done.
func (m *Metrics) Started() func() {
	if m == nil {
		return func() {}
	}

	m.JobsRunning.Inc()

	return m.JobsRunning.Dec
}

func (m *Metrics) Finished(status models.Status, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.JobsFinished.WithLabelValues(string(status)).Inc()

	if elapsed > 0 {
		m.JobDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	}
}

// ObserveItem matches gmaps.ItemObserver.
func (m *Metrics) ObserveItem(o gmaps.Outcome) {
	if m == nil {
		return
	}

	outcome := "ok"
	if !o.OK() {
		outcome = string(o.Skip)
	}

	m.ItemsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}

	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) CheckpointSaved(ok bool) {
	if m == nil {
		return
	}

	result := "ok"
	if !ok {
		result = "error"
	}

	m.CheckpointSaves.WithLabelValues(result).Inc()
}
