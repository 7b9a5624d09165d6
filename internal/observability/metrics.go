package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "corona_dd"

// Metrics holds the Prometheus collectors for one collector run.
type Metrics struct {
	Runs          *prometheus.CounterVec // labels: decision={unchanged,added,updated,failed}
	PointsWritten *prometheus.CounterVec // labels: sink, series
	SinkErrors    *prometheus.CounterVec // labels: sink
	FetchDuration prometheus.Histogram
	FeedRecords   prometheus.Gauge
	LastSuccess   prometheus.Gauge

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Collector runs by change decision.",
		}, []string{"decision"}),
		PointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Series points written by sink and series.",
		}, []string{"sink", "series"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed batch writes by sink.",
		}, []string{"sink"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of reading the feed document.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FeedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_records",
			Help:      "Number of records in the last fetched feed.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "UNIX time of the last run that finished without error.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Runs, m.PointsWritten, m.SinkErrors, m.FetchDuration, m.FeedRecords, m.LastSuccess}
}

// NewMetrics creates and registers all collector metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics are registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// Push sends the current values to a Prometheus Pushgateway, replacing the
// previous push of job. A short-lived run has no scrape endpoint.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	pusher := push.New(url, job).Gatherer(m.Gatherer())
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
