package sql

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Audit line kinds. A query produces at most one line; error wins over
// slow, slow wins over the per-query kind.
const (
	auditKindQuery    = "query"
	auditKindSlow     = "slow"
	auditKindError    = "error"
	auditKindSnapshot = "snapshot"
)

// auditRecord is one NDJSON line in the audit trail.
type auditRecord struct {
	TS          string        `json:"ts"`
	Kind        string        `json:"kind"`
	DurationMS  float64       `json:"duration_ms,omitempty"`
	Type        StatementType `json:"type,omitempty"`
	Table       string        `json:"table,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Query       string        `json:"query,omitempty"`
	RawQuery    string        `json:"raw_query,omitempty"`
	Rows        *int64        `json:"rows,omitempty"`
	TraceID     string        `json:"trace_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Params      []any         `json:"params,omitempty"`
	Stats       *auditStats   `json:"stats,omitempty"`
}

// auditStats is the compact summary carried on snapshot lines.
type auditStats struct {
	Total        uint64  `json:"total"`
	Errors       uint64  `json:"errors"`
	Slow         uint64  `json:"slow"`
	InFlight     int64   `json:"in_flight"`
	PeakInFlight int64   `json:"peak_in_flight"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	P99MS        float64 `json:"p99_ms"`
	Fingerprints int     `json:"fingerprints"`
	Dropped      uint64  `json:"audit_dropped"`
}

// auditWriter appends NDJSON lines to a size-rotated file. Producers
// enqueue without blocking; one consumer goroutine owns all file state, so
// line order on disk matches enqueue order. A nil *auditWriter is a valid
// no-op writer.
type auditWriter struct {
	path        string
	rotateBytes int64
	retain      int
	log         zerolog.Logger

	queue     chan auditRecord
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
	warnOnce  sync.Once

	// Consumer-owned. Never touched outside the run goroutine.
	file    *os.File
	size    int64
	broken  bool
	retryAt time.Time
	bo      *backoff.ExponentialBackOff
}

func newAuditWriter(cfg Config, logger zerolog.Logger) *auditWriter {
	if cfg.LogFilePath == "" {
		return nil
	}
	w := &auditWriter{
		path:        cfg.LogFilePath,
		rotateBytes: cfg.RotateBytes,
		retain:      cfg.RetainCount,
		log:         logger,
		queue:       make(chan auditRecord, cfg.AuditQueueSize),
		done:        make(chan struct{}),
		bo: &backoff.ExponentialBackOff{
			InitialInterval:     time.Second,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         time.Minute,
		},
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// enqueue hands a record to the consumer. Never blocks: with a full queue
// the record is dropped and counted.
func (w *auditWriter) enqueue(rec auditRecord) {
	if w == nil {
		return
	}
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.queue <- rec:
	default:
		w.dropped.Add(1)
		w.warnOnce.Do(func() {
			w.log.Warn().Str("path", w.path).Msg("audit queue full, dropping lines")
		})
	}
}

func (w *auditWriter) droppedCount() uint64 {
	if w == nil {
		return 0
	}
	return w.dropped.Load()
}

// close stops intake, drains what is already queued to disk, and closes the
// file. Idempotent.
func (w *auditWriter) close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *auditWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.queue:
			w.write(rec)
		case <-w.done:
			for {
				select {
				case rec := <-w.queue:
					w.write(rec)
				default:
					if w.file != nil {
						_ = w.file.Close()
						w.file = nil
					}
					return
				}
			}
		}
	}
}

func (w *auditWriter) write(rec auditRecord) {
	if w.broken {
		if time.Now().Before(w.retryAt) {
			w.dropped.Add(1)
			return
		}
		w.broken = false
	}
	if w.file == nil {
		if err := w.open(os.O_APPEND); err != nil {
			w.dropped.Add(1)
			w.fail(err)
			return
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		w.dropped.Add(1)
		return
	}
	line = append(line, '\n')

	n, err := w.file.Write(line)
	w.size += int64(n)
	if err != nil {
		w.dropped.Add(1)
		w.fail(err)
		return
	}

	if w.rotateBytes > 0 && w.size >= w.rotateBytes {
		if err := w.rotate(); err != nil {
			w.fail(err)
		}
	}
}

func (w *auditWriter) open(extraFlag int) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|extraFlag, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file = f
	w.size = st.Size()
	w.bo.Reset()
	return nil
}

// rotate shifts path -> path.1 -> ... -> path.N, deleting the oldest, then
// reopens a fresh active file. With retain == 0 the active file restarts
// in place.
func (w *auditWriter) rotate() error {
	_ = w.file.Close()
	w.file = nil
	w.size = 0

	if w.retain == 0 {
		return w.open(os.O_TRUNC)
	}

	_ = os.Remove(fmt.Sprintf("%s.%d", w.path, w.retain))
	for i := w.retain - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.path, i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, fmt.Sprintf("%s.%d", w.path, i+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}
	return w.open(os.O_APPEND)
}

// fail drops the queue, closes the file, and schedules a reopen. Queries
// must never feel a sick disk.
func (w *auditWriter) fail(err error) {
	w.log.Error().Err(err).Str("path", w.path).Msg("audit write failed, clearing queue")
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0
	for {
		select {
		case <-w.queue:
			w.dropped.Add(1)
		default:
			w.broken = true
			w.retryAt = time.Now().Add(w.bo.NextBackOff())
			return
		}
	}
}
