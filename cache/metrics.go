package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"tiercache/common/logging"
)

// Tier identifies which cache tier an event belongs to.
type Tier string

const (
	// TierL1 is the in-process tier
	TierL1 Tier = "l1"
	// TierL2 is the distributed tier
	TierL2 Tier = "l2"
)

// Thresholds configures when the collector raises an alert. A breach only
// emits a warning event; cache operations are never blocked.
type Thresholds struct {
	// L1HitRate alerts when the per-cycle L1 hit rate drops below this value.
	L1HitRate float64
	// AvgGetLatency alerts when the per-cycle average Get latency exceeds it.
	AvgGetLatency time.Duration
	// MinSamples is the minimum number of lookups in a cycle before either
	// threshold is evaluated.
	MinSamples int
}

// DefaultThresholds returns the standard alerting thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		L1HitRate:     0.70,
		AvgGetLatency: 100 * time.Millisecond,
		MinSamples:    20,
	}
}

// Alert describes a threshold breach observed during a collection cycle.
type Alert struct {
	Reason string
	Tier   Tier
	Value  float64
	At     time.Time
}

// IntervalStats is one timestamped snapshot of a collection cycle.
type IntervalStats struct {
	At            time.Time
	L1Hits        uint64
	L1Misses      uint64
	L2Hits        uint64
	L2Misses      uint64
	L1HitRate     float64
	L2HitRate     float64
	AvgGetLatency time.Duration
	Evictions     uint64
	Expirations   uint64
}

// Snapshot reports cumulative counters since construction plus the rolling
// window of per-cycle stats.
type Snapshot struct {
	L1Hits      uint64
	L1Misses    uint64
	L2Hits      uint64
	L2Misses    uint64
	Evictions   uint64
	Expirations uint64
	Window      []IntervalStats
}

// MetricsCollector keeps per-tier hit/miss counters that reset every
// collection cycle, cumulative totals, and a bounded rolling window of cycle
// snapshots. Counter updates are lock-free; only the window is mutex-guarded.
type MetricsCollector struct {
	// per-cycle counters, swapped to zero by Collect
	l1Hits       uint64
	l1Misses     uint64
	l2Hits       uint64
	l2Misses     uint64
	evictions    uint64
	expirations  uint64
	latencyNanos int64
	latencyCount uint64

	// cumulative totals
	totalL1Hits      uint64
	totalL1Misses    uint64
	totalL2Hits      uint64
	totalL2Misses    uint64
	totalEvictions   uint64
	totalExpirations uint64

	mu         sync.Mutex
	window     []IntervalStats
	windowSize int

	thresholds Thresholds
	onAlert    func(Alert)
	log        logging.Logger
}

// NewMetricsCollector creates a collector keeping at most windowSize cycle
// snapshots. onAlert may be nil, in which case breaches are only logged.
func NewMetricsCollector(windowSize int, thresholds Thresholds, onAlert func(Alert), log logging.Logger) *MetricsCollector {
	if windowSize < 1 {
		windowSize = 1
	}
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &MetricsCollector{
		windowSize: windowSize,
		thresholds: thresholds,
		onAlert:    onAlert,
		log:        log,
	}
}

// RecordHit counts a hit on the given tier.
func (m *MetricsCollector) RecordHit(tier Tier) {
	if tier == TierL1 {
		atomic.AddUint64(&m.l1Hits, 1)
		atomic.AddUint64(&m.totalL1Hits, 1)
		return
	}
	atomic.AddUint64(&m.l2Hits, 1)
	atomic.AddUint64(&m.totalL2Hits, 1)
}

// RecordMiss counts a miss on the given tier.
func (m *MetricsCollector) RecordMiss(tier Tier) {
	if tier == TierL1 {
		atomic.AddUint64(&m.l1Misses, 1)
		atomic.AddUint64(&m.totalL1Misses, 1)
		return
	}
	atomic.AddUint64(&m.l2Misses, 1)
	atomic.AddUint64(&m.totalL2Misses, 1)
}

// RecordEviction counts an LRU eviction from L1.
func (m *MetricsCollector) RecordEviction() {
	atomic.AddUint64(&m.evictions, 1)
	atomic.AddUint64(&m.totalEvictions, 1)
}

// RecordExpirations counts entries removed by an expiry sweep.
func (m *MetricsCollector) RecordExpirations(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&m.expirations, uint64(n))
	atomic.AddUint64(&m.totalExpirations, uint64(n))
}

// ObserveGetLatency records the duration of one coordinator Get call.
func (m *MetricsCollector) ObserveGetLatency(d time.Duration) {
	atomic.AddInt64(&m.latencyNanos, int64(d))
	atomic.AddUint64(&m.latencyCount, 1)
}

// Collect closes the current cycle: it resets the per-cycle counters,
// appends a timestamped snapshot to the rolling window, and evaluates the
// alert thresholds.
func (m *MetricsCollector) Collect(now time.Time) IntervalStats {
	stats := IntervalStats{
		At:          now,
		L1Hits:      atomic.SwapUint64(&m.l1Hits, 0),
		L1Misses:    atomic.SwapUint64(&m.l1Misses, 0),
		L2Hits:      atomic.SwapUint64(&m.l2Hits, 0),
		L2Misses:    atomic.SwapUint64(&m.l2Misses, 0),
		Evictions:   atomic.SwapUint64(&m.evictions, 0),
		Expirations: atomic.SwapUint64(&m.expirations, 0),
	}

	latencyNanos := atomic.SwapInt64(&m.latencyNanos, 0)
	latencyCount := atomic.SwapUint64(&m.latencyCount, 0)
	if latencyCount > 0 {
		stats.AvgGetLatency = time.Duration(latencyNanos / int64(latencyCount))
	}

	stats.L1HitRate = hitRate(stats.L1Hits, stats.L1Misses)
	stats.L2HitRate = hitRate(stats.L2Hits, stats.L2Misses)

	m.mu.Lock()
	m.window = append(m.window, stats)
	if len(m.window) > m.windowSize {
		m.window = m.window[len(m.window)-m.windowSize:]
	}
	m.mu.Unlock()

	m.evaluateThresholds(stats, latencyCount)
	return stats
}

// Snapshot returns cumulative totals and a copy of the rolling window.
func (m *MetricsCollector) Snapshot() Snapshot {
	snap := Snapshot{
		L1Hits:      atomic.LoadUint64(&m.totalL1Hits),
		L1Misses:    atomic.LoadUint64(&m.totalL1Misses),
		L2Hits:      atomic.LoadUint64(&m.totalL2Hits),
		L2Misses:    atomic.LoadUint64(&m.totalL2Misses),
		Evictions:   atomic.LoadUint64(&m.totalEvictions),
		Expirations: atomic.LoadUint64(&m.totalExpirations),
	}

	m.mu.Lock()
	snap.Window = make([]IntervalStats, len(m.window))
	copy(snap.Window, m.window)
	m.mu.Unlock()

	return snap
}

func (m *MetricsCollector) evaluateThresholds(stats IntervalStats, latencySamples uint64) {
	lookups := stats.L1Hits + stats.L1Misses
	if m.thresholds.MinSamples > 0 && lookups < uint64(m.thresholds.MinSamples) {
		return
	}

	if lookups > 0 && m.thresholds.L1HitRate > 0 && stats.L1HitRate < m.thresholds.L1HitRate {
		m.alert(Alert{
			Reason: "l1 hit rate below threshold",
			Tier:   TierL1,
			Value:  stats.L1HitRate,
			At:     stats.At,
		})
	}

	if latencySamples > 0 && m.thresholds.AvgGetLatency > 0 && stats.AvgGetLatency > m.thresholds.AvgGetLatency {
		m.alert(Alert{
			Reason: "average get latency above threshold",
			Tier:   TierL1,
			Value:  float64(stats.AvgGetLatency) / float64(time.Millisecond),
			At:     stats.At,
		})
	}
}

func (m *MetricsCollector) alert(a Alert) {
	m.log.Warn("cache alert",
		logging.String("reason", a.Reason),
		logging.String("tier", string(a.Tier)),
		logging.Float64("value", a.Value),
	)
	if m.onAlert != nil {
		m.onAlert(a)
	}
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
