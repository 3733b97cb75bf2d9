package sql

import (
	"sort"
	"sync"
	"time"
)

// rollup accumulates execution statistics for one statement shape.
// All fields are guarded by the owning store's mutex.
type rollup struct {
	fingerprint string
	typ         StatementType
	table       string
	sample      string // truncated normalized SQL
	count       uint64
	errorCount  uint64
	slowCount   uint64
	total       time.Duration
	min         time.Duration
	max         time.Duration
	last        time.Duration
	lastRows    int64
	lastSeen    time.Time
	lastPlan    string
}

// RollupSnapshot is the exported per-fingerprint view returned by
// Monitor.Stats.
type RollupSnapshot struct {
	Fingerprint string        `json:"fingerprint"`
	Type        StatementType `json:"type"`
	Table       string        `json:"table,omitempty"`
	Query       string        `json:"query"`
	Count       uint64        `json:"count"`
	Errors      uint64        `json:"errors"`
	Slow        uint64        `json:"slow"`
	MinMS       float64       `json:"min_ms"`
	MaxMS       float64       `json:"max_ms"`
	AvgMS       float64       `json:"avg_ms"`
	LastMS      float64       `json:"last_ms"`
	LastRows    int64         `json:"last_rows"`
	LastSeen    time.Time     `json:"last_seen"`
	LastPlan    string        `json:"last_plan,omitempty"`
}

// fingerprintStore keeps bounded per-shape rollups. When an insert would
// grow the map past its limit the oldest tenth (by lastSeen) is evicted
// first, so the map never exceeds max entries.
type fingerprintStore struct {
	mu      sync.Mutex
	max     int
	rollups map[string]*rollup
	evicted uint64
}

func newFingerprintStore(max int) *fingerprintStore {
	return &fingerprintStore{
		max:     max,
		rollups: make(map[string]*rollup, max),
	}
}

func (s *fingerprintStore) record(cls Classification, d time.Duration, rows int64, isErr, isSlow bool, sampleLimit int) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rollups[cls.Fingerprint]
	if !ok {
		if len(s.rollups) >= s.max {
			s.evictOldestLocked()
		}
		r = &rollup{
			fingerprint: cls.Fingerprint,
			typ:         cls.Type,
			table:       cls.Table,
			sample:      truncateSQL(cls.Normalized, sampleLimit),
			lastRows:    -1,
		}
		s.rollups[cls.Fingerprint] = r
	}

	r.count++
	if isErr {
		r.errorCount++
	}
	if isSlow {
		r.slowCount++
	}
	r.total += d
	if r.count == 1 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.last = d
	if rows >= 0 {
		r.lastRows = rows
	}
	r.lastSeen = now
}

// setRows backfills the row count of the most recent execution of a shape,
// used when the count only becomes known at rows-iteration Close time.
func (s *fingerprintStore) setRows(fingerprint string, rows int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rollups[fingerprint]; ok {
		r.lastRows = rows
	}
}

// setPlan attaches the latest EXPLAIN summary to a shape.
func (s *fingerprintStore) setPlan(fingerprint, plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rollups[fingerprint]; ok {
		r.lastPlan = plan
	}
}

// evictOldestLocked removes max(1, max/10) rollups with the oldest
// lastSeen. Caller holds the lock.
func (s *fingerprintStore) evictOldestLocked() {
	n := s.max / 10
	if n < 1 {
		n = 1
	}

	all := make([]*rollup, 0, len(s.rollups))
	for _, r := range s.rollups {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].lastSeen.Before(all[j].lastSeen) })

	if n > len(all) {
		n = len(all)
	}
	for _, r := range all[:n] {
		delete(s.rollups, r.fingerprint)
		s.evicted++
	}
}

// snapshot returns the current cardinality, total evictions, and the two
// top-N views: slowest shapes by max duration and hottest by count.
func (s *fingerprintStore) snapshot(topN int) (size int, evicted uint64, slowest, hottest []RollupSnapshot) {
	s.mu.Lock()
	views := make([]RollupSnapshot, 0, len(s.rollups))
	for _, r := range s.rollups {
		views = append(views, r.view())
	}
	size = len(s.rollups)
	evicted = s.evicted
	s.mu.Unlock()

	if topN <= 0 || len(views) == 0 {
		return size, evicted, nil, nil
	}

	sort.Slice(views, func(i, j int) bool { return views[i].MaxMS > views[j].MaxMS })
	slowest = cloneTop(views, topN)

	sort.Slice(views, func(i, j int) bool { return views[i].Count > views[j].Count })
	hottest = cloneTop(views, topN)

	return size, evicted, slowest, hottest
}

func (s *fingerprintStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollups = make(map[string]*rollup, s.max)
	s.evicted = 0
}

func (r *rollup) view() RollupSnapshot {
	avg := time.Duration(0)
	if r.count > 0 {
		avg = r.total / time.Duration(r.count)
	}
	return RollupSnapshot{
		Fingerprint: r.fingerprint,
		Type:        r.typ,
		Table:       r.table,
		Query:       r.sample,
		Count:       r.count,
		Errors:      r.errorCount,
		Slow:        r.slowCount,
		MinMS:       durationMS(r.min),
		MaxMS:       durationMS(r.max),
		AvgMS:       durationMS(avg),
		LastMS:      durationMS(r.last),
		LastRows:    r.lastRows,
		LastSeen:    r.lastSeen,
		LastPlan:    r.lastPlan,
	}
}

func cloneTop(views []RollupSnapshot, n int) []RollupSnapshot {
	if n > len(views) {
		n = len(views)
	}
	out := make([]RollupSnapshot, n)
	copy(out, views[:n])
	return out
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
