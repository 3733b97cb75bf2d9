package sql

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// defaultHistogramBoundsMS are the latency bucket upper bounds in
// milliseconds. An implicit overflow bucket catches everything beyond the
// last bound.
var defaultHistogramBoundsMS = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// HistogramBucket is one latency bucket in a Snapshot. The overflow bucket
// has Overflow set and no upper bound.
type HistogramBucket struct {
	UpperMS  float64 `json:"upper_ms,omitempty"`
	Overflow bool    `json:"overflow,omitempty"`
	Count    uint64  `json:"count"`
}

// Snapshot is a point-in-time view of everything the monitor has measured
// since start or the last Reset. Counters are read atomically but not as a
// single cut, so totals may be transiently offset by in-flight queries.
type Snapshot struct {
	Enabled      bool      `json:"enabled"`
	Since        time.Time `json:"since"`
	Total        uint64    `json:"total"`
	Errors       uint64    `json:"errors"`
	Slow         uint64    `json:"slow"`
	InFlight     int64     `json:"in_flight"`
	PeakInFlight int64     `json:"peak_in_flight"`

	MinMS float64 `json:"min_ms"`
	MaxMS float64 `json:"max_ms"`
	AvgMS float64 `json:"avg_ms"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
	P99MS float64 `json:"p99_ms"`

	Histogram []HistogramBucket `json:"histogram,omitempty"`
	RecentMS  []float64         `json:"recent_ms,omitempty"`

	Fingerprints int              `json:"fingerprints"`
	Evicted      uint64           `json:"evicted"`
	TopSlowest   []RollupSnapshot `json:"top_slowest,omitempty"`
	TopByCount   []RollupSnapshot `json:"top_by_count,omitempty"`

	AuditDropped uint64 `json:"audit_dropped"`
	Faults       uint64 `json:"faults"`
}

// statsAggregator owns the global counters and the latency distribution.
// Counters are atomics so the execution hot path never takes the mutex for
// them; the histogram, extremes, and sample ring share one mutex taken once
// per completed query.
type statsAggregator struct {
	total    atomic.Uint64
	errors   atomic.Uint64
	slow     atomic.Uint64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu      sync.Mutex
	count   uint64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	bounds  []time.Duration
	buckets []uint64
	samples []time.Duration
	head    int
	filled  int
}

func newStatsAggregator(boundsMS []float64, sampleSize int) *statsAggregator {
	bounds := make([]time.Duration, len(boundsMS))
	for i, ms := range boundsMS {
		bounds[i] = time.Duration(ms * float64(time.Millisecond))
	}
	return &statsAggregator{
		bounds:  bounds,
		buckets: make([]uint64, len(bounds)+1),
		samples: make([]time.Duration, sampleSize),
	}
}

// begin marks a query as in flight and advances the high-water mark.
func (a *statsAggregator) begin() {
	n := a.inFlight.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// end releases one in-flight slot. Paired with begin on every exit path.
func (a *statsAggregator) end() {
	a.inFlight.Add(-1)
}

func (a *statsAggregator) record(d time.Duration, isErr, isSlow bool) {
	a.total.Add(1)
	if isErr {
		a.errors.Add(1)
	}
	if isSlow {
		a.slow.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += d
	if a.count == 1 || d < a.min {
		a.min = d
	}
	if d > a.max {
		a.max = d
	}

	idx := sort.Search(len(a.bounds), func(i int) bool { return d <= a.bounds[i] })
	a.buckets[idx]++

	if len(a.samples) > 0 {
		a.samples[a.head] = d
		a.head = (a.head + 1) % len(a.samples)
		if a.filled < len(a.samples) {
			a.filled++
		}
	}
}

// snapshot fills the aggregate portion of a Snapshot.
func (a *statsAggregator) snapshot(s *Snapshot) {
	s.Total = a.total.Load()
	s.Errors = a.errors.Load()
	s.Slow = a.slow.Load()
	s.InFlight = a.inFlight.Load()
	s.PeakInFlight = a.peak.Load()

	a.mu.Lock()
	defer a.mu.Unlock()

	s.MinMS = durationMS(a.min)
	s.MaxMS = durationMS(a.max)
	if a.count > 0 {
		s.AvgMS = durationMS(a.sum / time.Duration(a.count))
	}
	s.P50MS = durationMS(a.percentileLocked(0.50))
	s.P95MS = durationMS(a.percentileLocked(0.95))
	s.P99MS = durationMS(a.percentileLocked(0.99))

	s.Histogram = make([]HistogramBucket, len(a.buckets))
	for i, c := range a.buckets {
		if i < len(a.bounds) {
			s.Histogram[i] = HistogramBucket{UpperMS: durationMS(a.bounds[i]), Count: c}
		} else {
			s.Histogram[i] = HistogramBucket{Overflow: true, Count: c}
		}
	}

	s.RecentMS = make([]float64, 0, a.filled)
	start := (a.head - a.filled + len(a.samples)) % max(len(a.samples), 1)
	for i := 0; i < a.filled; i++ {
		s.RecentMS = append(s.RecentMS, durationMS(a.samples[(start+i)%len(a.samples)]))
	}
}

// percentileLocked walks the cumulative histogram and reports the upper
// bound of the bucket holding the requested rank, clamped into the observed
// [min, max] range. The overflow bucket reports the observed max. Caller
// holds the lock.
func (a *statsAggregator) percentileLocked(p float64) time.Duration {
	if a.count == 0 {
		return 0
	}
	rank := uint64(math.Ceil(p * float64(a.count)))
	if rank < 1 {
		rank = 1
	}

	var cum uint64
	for i, c := range a.buckets {
		cum += c
		if cum < rank {
			continue
		}
		v := a.max
		if i < len(a.bounds) {
			v = a.bounds[i]
		}
		if v < a.min {
			v = a.min
		}
		if v > a.max {
			v = a.max
		}
		return v
	}
	return a.max
}

// reset zeroes counters and the distribution. The peak re-bases to the
// current in-flight count so concurrent queries keep balancing correctly
// across a reset.
func (a *statsAggregator) reset() {
	a.total.Store(0)
	a.errors.Store(0)
	a.slow.Store(0)
	a.peak.Store(a.inFlight.Load())

	a.mu.Lock()
	defer a.mu.Unlock()
	a.count = 0
	a.sum = 0
	a.min = 0
	a.max = 0
	for i := range a.buckets {
		a.buckets[i] = 0
	}
	a.head = 0
	a.filled = 0
}
