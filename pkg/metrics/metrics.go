// Package metrics exposes Prometheus collectors for executions, nodes and the job pool.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowgraph"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	jobRetries         prometheus.Counter
	jobsInFlight       prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to expose them on
// the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		executionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Executions started, by mode.",
		}, []string{"mode"}),
		executionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Executions that reached a terminal state, by status.",
		}, []string{"status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node executor latency, by node type and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "outcome"}),
		jobRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Asynchronous job attempts retried after a failure.",
		}),
		jobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Asynchronous jobs currently held by workers.",
		}),
	}
}

func (m *Metrics) ExecutionStarted(mode string) {
	if m == nil {
		return
	}

	m.executionsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}

	m.executionsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveNode(nodeType, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.nodeDuration.WithLabelValues(nodeType, outcome).Observe(d.Seconds())
}

func (m *Metrics) JobRetried() {
	if m == nil {
		return
	}

	m.jobRetries.Inc()
}

// JobStarted marks a job as held by a worker and returns the func that releases it.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}

	m.jobsInFlight.Inc()

	return m.jobsInFlight.Dec
}
