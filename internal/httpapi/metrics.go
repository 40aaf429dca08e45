package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	rows        prometheus.Counter
	nullRows    prometheus.Counter
	runDuration prometheus.Histogram
	active      prometheus.Gauge
}

// Run outcomes used as the "status" label.
const (
	runComplete = "complete"
	runAborted  = "aborted"
)

// NewMetrics registers the analysis stream collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "niftyscan",
			Name:      "analysis_runs_total",
			Help:      "Analysis streams served, by outcome.",
		}, []string{"status"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "niftyscan",
			Name:      "rows_streamed_total",
			Help:      "Stock messages written to clients.",
		}),
		nullRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "niftyscan",
			Name:      "null_rows_total",
			Help:      "Stock messages sent without data because the ticker could not be analysed.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "niftyscan",
			Name:      "analysis_run_duration_seconds",
			Help:      "Wall time of one analysis stream.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "niftyscan",
			Name:      "active_streams",
			Help:      "Analysis streams currently in progress.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.rows, m.nullRows, m.runDuration, m.active,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
