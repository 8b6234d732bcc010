// Package monitoring exposes Prometheus metrics for the scoring
// pipeline, the alert surface and the background analyzer.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the engine emits. One instance per
// process, registered on the default registry.
type Metrics struct {
	transactionsScored *prometheus.CounterVec
	recordsDropped     prometheus.Counter
	retriesExhausted   prometheus.Counter
	alertsDropped      prometheus.Counter
	analyzerFailures   prometheus.Counter
	processingLatency  prometheus.Histogram
	analyzerCycle      prometheus.Histogram
	streamPending      prometheus.Gauge
	alertClients       prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		transactionsScored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_transactions_scored_total",
			Help: "Scored transactions by resulting risk level.",
		}, []string{"level"}),
		recordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "records_dropped_total",
			Help: "Poison stream records acknowledged without scoring.",
		}),
		retriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "retries_exhausted_total",
			Help: "Graph writes abandoned after exhausting retries.",
		}),
		alertsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "alerts_dropped_total",
			Help: "Alerts dropped because a websocket client was too slow.",
		}),
		analyzerFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "analyzer_failures_total",
			Help: "Background analytics cycles that failed outright.",
		}),
		processingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_processing_latency_seconds",
			Help:    "End-to-end per-record scoring latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .4, .8, 1.6},
		}),
		analyzerCycle: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "analyzer_cycle_seconds",
			Help:    "Duration of one background analytics cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		streamPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stream_pending_records",
			Help: "Records delivered to the consumer group but not yet acknowledged.",
		}),
		alertClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "alert_ws_clients",
			Help: "Currently connected alert websocket clients.",
		}),
	}
}

func (m *Metrics) RecordScored(level string, latency time.Duration) {
	m.transactionsScored.WithLabelValues(level).Inc()
	m.processingLatency.Observe(latency.Seconds())
}

func (m *Metrics) RecordDropped() { m.recordsDropped.Inc() }

func (m *Metrics) RecordRetryExhausted() { m.retriesExhausted.Inc() }

func (m *Metrics) RecordAlertDropped() { m.alertsDropped.Inc() }

func (m *Metrics) RecordAnalyzerFailure() { m.analyzerFailures.Inc() }

func (m *Metrics) SetStreamPending(n int64) { m.streamPending.Set(float64(n)) }

func (m *Metrics) ClientConnected() { m.alertClients.Inc() }

func (m *Metrics) ClientDisconnected() { m.alertClients.Dec() }

func (m *Metrics) RecordAnalyzerCycle(elapsed time.Duration) {
	m.analyzerCycle.Observe(elapsed.Seconds())
}
