package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRequest(ModeStreaming, OutcomeOK)
		m.RecordStageFailure("generate")
		m.RecordEnrichmentFailure("web_search")
		m.RecordChunk()
		m.ObserveGeneration(ModeBlocking, time.Second)
		m.RecordTurn("chat")
		m.StreamOpened()()
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RecordRequest(ModeStreaming, OutcomeOK)
	m.RecordRequest(ModeStreaming, OutcomeOK)
	m.RecordRequest(ModeBlocking, OutcomeError)
	m.RecordChunk()
	m.RecordEnrichmentFailure("files")
	m.RecordTurn("switch")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(ModeStreaming, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(ModeBlocking, OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksRelayedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EnrichmentFailuresTotal.WithLabelValues("files")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsRecordedTotal.WithLabelValues("switch")))

	done := m.StreamOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamsInFlight))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordRequest(ModeSwitch, OutcomeNoop)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `querynox_requests_total{mode="switch",outcome="noop"} 1`), body)
}
