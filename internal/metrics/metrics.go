// Package metrics holds the Prometheus registry and pipeline metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sliceflow"

// Metrics contains every pipeline metric.
type Metrics struct {
	registry *prometheus.Registry

	// Slicing
	slicesWritten   *prometheus.CounterVec   // by slice_type
	sliceFailures   *prometheus.CounterVec   // by slice_type
	slicingDuration *prometheus.HistogramVec // by entity_type

	// Fanout
	fanoutRuns     *prometheus.CounterVec // by status
	fanoutEntities *prometheus.CounterVec // by outcome
	fanoutAffected prometheus.Histogram

	// Outbox
	outboxClaimed   prometheus.Counter
	outboxProcessed *prometheus.CounterVec // by event_type, outcome
	outboxDuration  *prometheus.HistogramVec
	outboxReleased  *prometheus.CounterVec // by reason

	// Sinks
	sinkShipments *prometheus.CounterVec // by sink, outcome
}

// New creates a private registry with Go runtime and process collectors and
// registers every pipeline metric on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		slicesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slicing",
			Name:      "slices_written_total",
			Help:      "Slices persisted by the slicing workflow",
		}, []string{"slice_type"}),

		sliceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slicing",
			Name:      "slice_failures_total",
			Help:      "Slice definitions that failed to build",
		}, []string{"slice_type"}),

		slicingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "slicing",
			Name:      "duration_seconds",
			Help:      "Duration of one slicing workflow run",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_type"}),

		fanoutRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "runs_total",
			Help:      "Fanout invocations by final status",
		}, []string{"status"}), // status: RESOLVED, SKIPPED, PROCESSED

		fanoutEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "entities_total",
			Help:      "Affected entities by outcome",
		}, []string{"outcome"}), // outcome: processed, skipped, failed

		fanoutAffected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "affected_entities",
			Help:      "Distribution of affected entities per fanout",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),

		outboxClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "claimed_total",
			Help:      "Outbox entries claimed by this worker",
		}),

		outboxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "processed_total",
			Help:      "Outbox entries handled by outcome",
		}, []string{"event_type", "outcome"}), // outcome: processed, retry, dlq, timeout

		outboxDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "handler_duration_seconds",
			Help:      "Outbox handler duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		outboxReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "released_total",
			Help:      "Claimed entries returned to PENDING or DLQ without being handled",
		}, []string{"reason"}), // reason: shutdown, stale, stale_dlq

		sinkShipments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "shipments_total",
			Help:      "Slices shipped to external sinks",
		}, []string{"sink", "outcome"}),
	}

	reg.MustRegister(
		m.slicesWritten, m.sliceFailures, m.slicingDuration,
		m.fanoutRuns, m.fanoutEntities, m.fanoutAffected,
		m.outboxClaimed, m.outboxProcessed, m.outboxDuration, m.outboxReleased,
		m.sinkShipments,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSlicing records one slicing workflow run.
func (m *Metrics) RecordSlicing(entityType string, written, failed []string, d time.Duration) {
	if m == nil {
		return
	}
	for _, t := range written {
		m.slicesWritten.WithLabelValues(t).Inc()
	}
	for _, t := range failed {
		m.sliceFailures.WithLabelValues(t).Inc()
	}
	m.slicingDuration.WithLabelValues(entityType).Observe(d.Seconds())
}

// RecordFanout records one fanout invocation.
func (m *Metrics) RecordFanout(status string, affected, processed, skipped, failed int) {
	if m == nil {
		return
	}
	m.fanoutRuns.WithLabelValues(status).Inc()
	m.fanoutAffected.Observe(float64(affected))
	if processed > 0 {
		m.fanoutEntities.WithLabelValues("processed").Add(float64(processed))
	}
	if skipped > 0 {
		m.fanoutEntities.WithLabelValues("skipped").Add(float64(skipped))
	}
	if failed > 0 {
		m.fanoutEntities.WithLabelValues("failed").Add(float64(failed))
	}
}

// RecordClaimed records entries claimed in one poll.
func (m *Metrics) RecordClaimed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.outboxClaimed.Add(float64(n))
}

// RecordOutbox records the outcome of one handled entry.
func (m *Metrics) RecordOutbox(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outboxProcessed.WithLabelValues(eventType, outcome).Inc()
	m.outboxDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// RecordReleased records entries released without being handled.
func (m *Metrics) RecordReleased(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outboxReleased.WithLabelValues(reason).Add(float64(n))
}

// RecordShipment records one sink delivery attempt.
func (m *Metrics) RecordShipment(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sinkShipments.WithLabelValues(sink, outcome).Inc()
}
