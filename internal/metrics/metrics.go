// Package metrics provides Prometheus instrumentation and a JSON stats
// endpoint for the agent's loopback self-metrics listener. These are the
// agent's own operational numbers, not the host metrics shipped to the API.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and gauges for the agent itself.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal        prometheus.Counter
	cycleDuration      prometheus.Histogram
	collectorFailures  *prometheus.CounterVec
	validatorDecisions *prometheus.CounterVec
	syncsTotal         *prometheus.CounterVec
	syncRetries        prometheus.Counter
	queueDepth         prometheus.Gauge
	queueDrops         prometheus.Counter
	tokenRotations     prometheus.Counter

	mu            sync.Mutex
	startTime     time.Time
	cycleCount    int64
	syncOKCount   int64
	syncFailCount int64
	dropCount     int64
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	cyclesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "cycles_total",
		Help:      "Total collection cycles started.",
	})

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nodewarden",
		Name:      "cycle_duration_seconds",
		Help:      "Collection cycle duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	collectorFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "collector_failures_total",
		Help:      "Collector run failures by collector name.",
	}, []string{"collector"})

	validatorDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "validator_decisions_total",
		Help:      "Remote config sanitization decisions by kind.",
	}, []string{"decision"})

	syncsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "syncs_total",
		Help:      "Total sync attempts by result.",
	}, []string{"result"})

	syncRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "sync_retries_total",
		Help:      "Total sync retry attempts.",
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nodewarden",
		Name:      "queue_depth",
		Help:      "Current number of payloads waiting to be shipped.",
	})

	queueDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "queue_drops_total",
		Help:      "Payloads dropped because the queue was full.",
	})

	tokenRotations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nodewarden",
		Name:      "token_rotations_total",
		Help:      "API token rotations applied.",
	})

	reg.MustRegister(cyclesTotal, cycleDuration, collectorFailures,
		validatorDecisions, syncsTotal, syncRetries, queueDepth, queueDrops,
		tokenRotations)

	return &Metrics{
		registry:           reg,
		cyclesTotal:        cyclesTotal,
		cycleDuration:      cycleDuration,
		collectorFailures:  collectorFailures,
		validatorDecisions: validatorDecisions,
		syncsTotal:         syncsTotal,
		syncRetries:        syncRetries,
		queueDepth:         queueDepth,
		queueDrops:         queueDrops,
		tokenRotations:     tokenRotations,
		startTime:          time.Now(),
	}
}

// RecordCycle records a completed collection cycle.
func (m *Metrics) RecordCycle(duration time.Duration) {
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.cycleCount++
	m.mu.Unlock()
}

// RecordCollectorFailure records a collector that errored or timed out.
func (m *Metrics) RecordCollectorFailure(collector string) {
	m.collectorFailures.WithLabelValues(collector).Inc()
}

// RecordValidatorDecision records a sanitization decision; wired as the
// validator's observer.
func (m *Metrics) RecordValidatorDecision(_, decision string) {
	m.validatorDecisions.WithLabelValues(decision).Inc()
}

// RecordSync records a sync attempt outcome.
func (m *Metrics) RecordSync(ok bool) {
	m.mu.Lock()
	if ok {
		m.syncOKCount++
	} else {
		m.syncFailCount++
	}
	m.mu.Unlock()

	if ok {
		m.syncsTotal.WithLabelValues("ok").Inc()
	} else {
		m.syncsTotal.WithLabelValues("error").Inc()
	}
}

// RecordSyncRetry records one retry attempt.
func (m *Metrics) RecordSyncRetry() {
	m.syncRetries.Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// RecordQueueDrop records a payload dropped from a full queue.
func (m *Metrics) RecordQueueDrop() {
	m.queueDrops.Inc()

	m.mu.Lock()
	m.dropCount++
	m.mu.Unlock()
}

// RecordTokenRotation records an applied token rotation.
func (m *Metrics) RecordTokenRotation() {
	m.tokenRotations.Inc()
}

// PrometheusHandler returns an HTTP handler that serves /metrics in
// Prometheus text format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StatsHandler returns an HTTP handler that serves a JSON stats summary.
func (m *Metrics) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.mu.Lock()
		total := m.syncOKCount + m.syncFailCount
		stats := statsResponse{
			UptimeSeconds: time.Since(m.startTime).Seconds(),
			Cycles:        m.cycleCount,
			Syncs: syncStats{
				Total:  total,
				OK:     m.syncOKCount,
				Failed: m.syncFailCount,
			},
			QueueDrops: m.dropCount,
		}
		if total > 0 {
			stats.Syncs.FailureRate = float64(m.syncFailCount) / float64(total)
		}
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}

// HealthHandler returns an HTTP handler for liveness checks.
func (m *Metrics) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

type statsResponse struct {
	UptimeSeconds float64   `json:"uptime_seconds"`
	Cycles        int64     `json:"cycles"`
	Syncs         syncStats `json:"syncs"`
	QueueDrops    int64     `json:"queue_drops"`
}

type syncStats struct {
	Total       int64   `json:"total"`
	OK          int64   `json:"ok"`
	Failed      int64   `json:"failed"`
	FailureRate float64 `json:"failure_rate"`
}
