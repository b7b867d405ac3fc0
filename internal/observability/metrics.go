// Package observability provides the hand-rolled Prometheus-compatible
// counters and latency histogram bytes-core exposes at /metrics — just
// enough of the wire format to cover the request, ledger, squad, and
// beacon outcomes this service actually tracks.
package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/smarter-guild/bytes-core/internal/clockid"
)

// Counter is a monotonically increasing value.
type Counter struct {
	value int64
}

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Histogram tracks a value distribution over fixed bucket boundaries,
// used here for request latency in milliseconds.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

// NewHistogram returns a Histogram with the given bucket boundaries.
func NewHistogram(buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]int64, len(sorted)+1)}
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// latencyBucketsMs are the request-duration histogram boundaries, in
// milliseconds.
var latencyBucketsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Metrics is the in-process registry backing /metrics: one counter per
// (name, label set) for request/ledger/squad/beacon outcomes, and one
// latency histogram per route+status.
type Metrics struct {
	mu         sync.RWMutex
	logger     zerolog.Logger
	clock      clockid.Clock
	counters   map[string]map[string]*Counter
	histograms map[string]map[string]*Histogram
}

// NewMetrics creates a new metrics registry. clock backs the exposition
// timestamp written at the top of /metrics, so Metrics itself never
// reads the wall clock directly.
func NewMetrics(clock clockid.Clock, logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:     logger.With().Str("component", "metrics").Logger(),
		clock:      clock,
		counters:   make(map[string]map[string]*Counter),
		histograms: make(map[string]map[string]*Histogram),
	}
}

func (m *Metrics) CounterInc(name string, labels map[string]string) { m.getCounter(name, labels).Inc() }

func (m *Metrics) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.counters[name]; ok {
		if c, ok := byName[key]; ok {
			m.mu.RUnlock()
			return c
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[name]; !ok {
		m.counters[name] = make(map[string]*Counter)
	}
	if _, ok := m.counters[name][key]; !ok {
		m.counters[name][key] = &Counter{}
	}
	return m.counters[name][key]
}

func (m *Metrics) HistogramObserve(name string, labels map[string]string, v float64) {
	m.getHistogram(name, labels).Observe(v)
}

func (m *Metrics) getHistogram(name string, labels map[string]string) *Histogram {
	key := labelKey(labels)
	m.mu.RLock()
	if byName, ok := m.histograms[name]; ok {
		if h, ok := byName[key]; ok {
			m.mu.RUnlock()
			return h
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.histograms[name]; !ok {
		m.histograms[name] = make(map[string]*Histogram)
	}
	if _, ok := m.histograms[name][key]; !ok {
		m.histograms[name][key] = NewHistogram(latencyBucketsMs)
	}
	return m.histograms[name][key]
}

// TrackRequest records one completed HTTP request.
func (m *Metrics) TrackRequest(route string, statusCode int, latencyMs float64) {
	labels := map[string]string{"route": route, "status": fmt.Sprintf("%d", statusCode)}
	m.CounterInc("bytes_core_requests_total", labels)
	m.HistogramObserve("bytes_core_request_duration_ms", labels, latencyMs)
}

// TrackLedgerOperation records a ledger mutation (daily_claim, transfer).
func (m *Metrics) TrackLedgerOperation(op string, ok bool) {
	m.CounterInc("bytes_core_ledger_operations_total", map[string]string{"op": op, "ok": fmt.Sprintf("%t", ok)})
}

// TrackSquadOperation records a squads mutation (join, switch).
func (m *Metrics) TrackSquadOperation(op string, ok bool) {
	m.CounterInc("bytes_core_squad_operations_total", map[string]string{"op": op, "ok": fmt.Sprintf("%t", ok)})
}

// TrackBeacon records a beacon dispatch attempt.
func (m *Metrics) TrackBeacon(ok bool) {
	m.CounterInc("bytes_core_beacon_total", map[string]string{"ok": fmt.Sprintf("%t", ok)})
}

// Handler serves /metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# bytes-core metrics - %s\n\n", m.clock.Now().UTC().Format(time.RFC3339)))

		m.mu.RLock()
		defer m.mu.RUnlock()

		for name, byLabel := range m.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range m.histograms {
			sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
			for lk, h := range byLabel {
				h.mu.Lock()
				prefix := name
				if lk != "" {
					prefix = fmt.Sprintf("%s{%s}", name, lk)
				}
				cumulative := int64(0)
				for i, b := range h.buckets {
					cumulative += h.counts[i]
					if lk != "" {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\",%s} %d\n", name, b, lk, cumulative))
					} else {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\"} %d\n", name, b, cumulative))
					}
				}
				cumulative += h.counts[len(h.buckets)]
				if lk != "" {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\",%s} %d\n", name, lk, cumulative))
				} else {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
				}
				sb.WriteString(fmt.Sprintf("%s_sum %f\n", prefix, h.sum))
				sb.WriteString(fmt.Sprintf("%s_count %d\n", prefix, h.count))
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
