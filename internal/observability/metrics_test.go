package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/smarter-guild/bytes-core/internal/clockid"
)

func newTestMetrics() *Metrics {
	clock := clockid.NewFixedClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return NewMetrics(clock, zerolog.Nop())
}

func TestCounter_Inc(t *testing.T) {
	c := &Counter{}
	c.Inc()
	c.Inc()
	assert.Equal(t, int64(2), c.Value())
}

func TestHistogram_ObserveBucketsCorrectly(t *testing.T) {
	h := NewHistogram([]float64{10, 50, 100})
	h.Observe(5)
	h.Observe(25)
	h.Observe(200)

	assert.Equal(t, int64(1), h.counts[0])
	assert.Equal(t, int64(1), h.counts[1])
	assert.Equal(t, int64(1), h.counts[2])
	assert.Equal(t, int64(3), h.count)
	assert.InDelta(t, 230, h.sum, 0.001)
}

func TestMetrics_TrackRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := newTestMetrics()
	m.TrackRequest("/api/v1/bytes/daily", 200, 12.5)
	m.TrackRequest("/api/v1/bytes/daily", 200, 30)

	c := m.getCounter("bytes_core_requests_total", map[string]string{"route": "/api/v1/bytes/daily", "status": "200"})
	assert.Equal(t, int64(2), c.Value())

	h := m.getHistogram("bytes_core_request_duration_ms", map[string]string{"route": "/api/v1/bytes/daily", "status": "200"})
	assert.Equal(t, int64(2), h.count)
	assert.InDelta(t, 42.5, h.sum, 0.001)
}

func TestMetrics_TrackLedgerOperation(t *testing.T) {
	m := newTestMetrics()
	m.TrackLedgerOperation("transfer", true)
	m.TrackLedgerOperation("transfer", false)

	ok := m.getCounter("bytes_core_ledger_operations_total", map[string]string{"op": "transfer", "ok": "true"})
	fail := m.getCounter("bytes_core_ledger_operations_total", map[string]string{"op": "transfer", "ok": "false"})
	assert.Equal(t, int64(1), ok.Value())
	assert.Equal(t, int64(1), fail.Value())
}

func TestMetrics_HandlerServesPrometheusFormat(t *testing.T) {
	m := newTestMetrics()
	m.TrackBeacon(true)
	m.TrackRequest("/api/v1/bytes/daily", 200, 12.5)

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "2026-01-15T12:00:00Z")
	assert.Contains(t, body, "# TYPE bytes_core_beacon_total counter")
	assert.Contains(t, body, "bytes_core_beacon_total{ok=\"true\"} 1")
	assert.Contains(t, body, "# TYPE bytes_core_request_duration_ms histogram")
}

func TestLabelKey_SortsKeysDeterministically(t *testing.T) {
	a := labelKey(map[string]string{"b": "2", "a": "1"})
	b := labelKey(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, `a="1",b="2"`, a)
}
