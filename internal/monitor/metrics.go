package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CallMetrics tracks venue call latency per operation plus loop counters. It satisfies
// retry.Observer.
type CallMetrics struct {
	mu  sync.RWMutex
	ops map[string]*opMetrics

	cycles        uint64
	cycleFailures uint64
	signals       uint64
	tradesOpened  uint64
	tradesClosed  uint64

	CycleLatency *LatencyHistogram
	started      time.Time
}

type opMetrics struct {
	latency  *LatencyHistogram
	calls    uint64
	failures uint64
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewCallMetrics creates an empty metrics set.
func NewCallMetrics() *CallMetrics {
	return &CallMetrics{
		ops:          make(map[string]*opMetrics),
		CycleLatency: NewLatencyHistogram(500),
		started:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveCall records one venue call attempt.
func (m *CallMetrics) ObserveCall(op string, latency time.Duration, err error) {
	m.mu.RLock()
	om, ok := m.ops[op]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if om, ok = m.ops[op]; !ok {
			om = &opMetrics{latency: NewLatencyHistogram(1000)}
			m.ops[op] = om
		}
		m.mu.Unlock()
	}
	om.latency.RecordDuration(latency)
	atomic.AddUint64(&om.calls, 1)
	if err != nil {
		atomic.AddUint64(&om.failures, 1)
	}
}

// ObserveCycle records one finished cycle.
func (m *CallMetrics) ObserveCycle(d time.Duration, err error) {
	m.CycleLatency.RecordDuration(d)
	atomic.AddUint64(&m.cycles, 1)
	if err != nil {
		atomic.AddUint64(&m.cycleFailures, 1)
	}
}

// AddSignals adds to the generated signal counter.
func (m *CallMetrics) AddSignals(n int) { atomic.AddUint64(&m.signals, uint64(n)) }

// AddOpened adds to the opened trade counter.
func (m *CallMetrics) AddOpened(n int) { atomic.AddUint64(&m.tradesOpened, uint64(n)) }

// AddClosed adds to the closed trade counter.
func (m *CallMetrics) AddClosed(n int) { atomic.AddUint64(&m.tradesClosed, uint64(n)) }

// OpSnapshot is the per-operation part of a snapshot.
type OpSnapshot struct {
	Calls    uint64       `json:"calls"`
	Failures uint64       `json:"failures"`
	Latency  LatencyStats `json:"latency_ms"`
}

// MetricsSnapshot is a point-in-time view for the control surface.
type MetricsSnapshot struct {
	Ops            map[string]OpSnapshot `json:"venue_calls"`
	Cycles         uint64                `json:"cycles"`
	CycleFailures  uint64                `json:"cycle_failures"`
	CycleLatency   LatencyStats          `json:"cycle_latency_ms"`
	Signals        uint64                `json:"signals"`
	TradesOpened   uint64                `json:"trades_opened"`
	TradesClosed   uint64                `json:"trades_closed"`
	GoroutineCount int                   `json:"goroutine_count"`
	HeapAlloc      uint64                `json:"heap_alloc_bytes"`
	Uptime         string                `json:"uptime"`
	Timestamp      time.Time             `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *CallMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	ops := make(map[string]OpSnapshot, len(m.ops))
	for name, om := range m.ops {
		ops[name] = OpSnapshot{
			Calls:    atomic.LoadUint64(&om.calls),
			Failures: atomic.LoadUint64(&om.failures),
			Latency:  om.latency.Stats(),
		}
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		Ops:            ops,
		Cycles:         atomic.LoadUint64(&m.cycles),
		CycleFailures:  atomic.LoadUint64(&m.cycleFailures),
		CycleLatency:   m.CycleLatency.Stats(),
		Signals:        atomic.LoadUint64(&m.signals),
		TradesOpened:   atomic.LoadUint64(&m.tradesOpened),
		TradesClosed:   atomic.LoadUint64(&m.tradesClosed),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		Timestamp:      time.Now(),
	}
}
