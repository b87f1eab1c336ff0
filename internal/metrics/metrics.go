// ABOUTME: Prometheus metrics for the querynox pipeline
// ABOUTME: Uses a private registry and nil-safe recorders so callers may omit metrics

// Package metrics provides Prometheus metrics for querynox
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request modes.
const (
	ModeBlocking  = "blocking"
	ModeStreaming = "streaming"
	ModeSwitch    = "switch"
)

// Request outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeNoop  = "noop"
)

// Metrics holds all Prometheus metrics for querynox
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal           *prometheus.CounterVec
	StageFailuresTotal      *prometheus.CounterVec
	EnrichmentFailuresTotal *prometheus.CounterVec
	ChunksRelayedTotal      prometheus.Counter
	GenerationDuration      *prometheus.HistogramVec
	TurnsRecordedTotal      *prometheus.CounterVec
	StreamsInFlight         prometheus.Gauge
}

// New creates all metrics on a fresh registry. Go runtime and process
// collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querynox_requests_total",
			Help: "Total number of pipeline requests by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	m.StageFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querynox_stage_failures_total",
			Help: "Total number of requests that ended in the error state, by failing stage",
		},
		[]string{"stage"},
	)

	m.EnrichmentFailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querynox_enrichment_failures_total",
			Help: "Total number of absorbed enrichment provider failures",
		},
		[]string{"source"},
	)

	m.ChunksRelayedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "querynox_chunks_relayed_total",
			Help: "Total number of generation chunks received from the model provider",
		},
	)

	m.GenerationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querynox_generation_duration_seconds",
			Help:    "Duration of model generation in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"mode"},
	)

	m.TurnsRecordedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querynox_turns_recorded_total",
			Help: "Total number of turns persisted, by kind",
		},
		[]string{"kind"},
	)

	m.StreamsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "querynox_streams_in_flight",
			Help: "Number of streaming responses currently open",
		},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest counts a finished pipeline request.
func (m *Metrics) RecordRequest(mode, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordStageFailure counts a request that failed in the given stage.
func (m *Metrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordEnrichmentFailure counts an absorbed provider failure.
func (m *Metrics) RecordEnrichmentFailure(source string) {
	if m == nil {
		return
	}
	m.EnrichmentFailuresTotal.WithLabelValues(source).Inc()
}

// RecordChunk counts one relayed chunk.
func (m *Metrics) RecordChunk() {
	if m == nil {
		return
	}
	m.ChunksRelayedTotal.Inc()
}

// ObserveGeneration records how long a generation took.
func (m *Metrics) ObserveGeneration(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordTurn counts a persisted turn.
func (m *Metrics) RecordTurn(kind string) {
	if m == nil {
		return
	}
	m.TurnsRecordedTotal.WithLabelValues(kind).Inc()
}

// StreamOpened marks a streaming response as open and returns a func that closes it.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.StreamsInFlight.Inc()
	return m.StreamsInFlight.Dec
}
