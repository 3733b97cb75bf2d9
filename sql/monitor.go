package sql

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Monitor owns every piece of derived observability state: the stats
// aggregator, per-fingerprint rollups, the audit writer, EXPLAIN capture,
// and OpenTelemetry forwarding. One monitor can back any number of wrapped
// connections; there is no package-level instance.
type Monitor struct {
	cfg Config
	id  string
	log zerolog.Logger

	stats   *statsAggregator
	rollups *fingerprintStore
	audit   *auditWriter
	explain *explainRunner

	tracer  trace.Tracer
	metrics *metrics
	attrs   []attribute.KeyValue

	faults    atomic.Uint64
	faultOnce sync.Once
	sinceNS   atomic.Int64

	stopSnap chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// NewMonitor builds a Monitor from DefaultConfig plus the given options.
// The audit writer goroutine starts immediately when a log file is
// configured; call Close to stop it and flush the trail.
func NewMonitor(opts ...Option) (*Monitor, error) {
	return newMonitor(newOptions(opts...))
}

func newMonitor(o *options) (*Monitor, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:     o.cfg,
		id:      uuid.NewString(),
		log:     o.logger,
		stats:   newStatsAggregator(o.cfg.HistogramBoundsMS, o.cfg.SampleSize),
		rollups: newFingerprintStore(o.cfg.MaxFingerprints),
		tracer:  o.tracerProvider.Tracer(scope),
	}
	m.metrics, _ = newMetrics(o.meterProvider.Meter(scope))
	m.attrs = baseAttributes(o.dbSystem, o.dbName)
	m.sinceNS.Store(time.Now().UnixNano())

	if o.cfg.Enabled {
		m.audit = newAuditWriter(o.cfg, o.logger)
		if o.cfg.SlowExplain {
			m.explain = newExplainRunner(m)
		}
		if o.cfg.SnapshotInterval > 0 && m.audit != nil {
			m.stopSnap = make(chan struct{})
			m.wg.Add(1)
			go m.snapshotLoop()
		}
	}
	return m, nil
}

// ID is the monitor's unique identity, used to name registered wrapped
// drivers deterministically.
func (m *Monitor) ID() string { return m.id }

// Enabled reports whether the layer observes queries at all.
func (m *Monitor) Enabled() bool { return m != nil && m.cfg.Enabled }

func (m *Monitor) active() bool {
	return m != nil && m.cfg.Enabled && !m.closed.Load()
}

// Stats returns a point-in-time snapshot. Counters are read atomically but
// not as one cut; see Snapshot.
func (m *Monitor) Stats() Snapshot {
	s := Snapshot{
		Enabled: m.Enabled(),
		Since:   time.Unix(0, m.sinceNS.Load()),
	}
	m.stats.snapshot(&s)
	s.Fingerprints, s.Evicted, s.TopSlowest, s.TopByCount = m.rollups.snapshot(m.cfg.TopN)
	s.AuditDropped = m.audit.droppedCount()
	s.Faults = m.faults.Load()
	return s
}

// Reset clears counters, the latency distribution, and all rollups. Audit
// files are left alone. In-flight accounting carries across the reset.
func (m *Monitor) Reset() {
	m.stats.reset()
	m.rollups.reset()
	m.sinceNS.Store(time.Now().UnixNano())
}

// Close stops the snapshot ticker, drains and closes the audit writer, and
// closes the EXPLAIN handle. Wrapped connections keep working, they just
// stop being observed. Idempotent.
func (m *Monitor) Close() error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	if m.stopSnap != nil {
		close(m.stopSnap)
	}
	m.wg.Wait()
	m.audit.close()
	if m.explain != nil {
		return m.explain.close()
	}
	return nil
}

// SetExplainDB provides the uninstrumented handle used for EXPLAIN capture.
// Without it the monitor opens its own handle from the driver name and DSN
// seen at Open time.
func (m *Monitor) SetExplainDB(db QueryerDB) {
	if m.explain != nil {
		m.explain.setDB(db)
	}
}

// capture carries one query execution from begin to finish. The deferred
// abort guarantees the in-flight gauge balances on every exit path,
// including driver panics.
type capture struct {
	m        *Monitor
	ctx      context.Context
	span     trace.Span
	cls      Classification
	raw      string
	args     []driver.NamedValue
	start    time.Time
	released atomic.Bool
}

// begin classifies the statement, opens the span, and marks the query in
// flight. Callers must check active() first; begin never returns nil.
func (m *Monitor) begin(ctx context.Context, query string, args []driver.NamedValue) (context.Context, *capture) {
	cp := &capture{m: m, raw: query, args: args, start: time.Now()}
	m.stats.begin()
	func() {
		defer m.recoverFault()
		cp.cls = Classify(query)
		ctx, cp.span = m.tracer.Start(ctx, spanName(query),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(m.queryAttributes(cp.cls)...),
		)
	}()
	cp.ctx = ctx
	return ctx, cp
}

// abort releases the in-flight slot and ends the span without recording
// anything else. No-op after finish has run.
func (cp *capture) abort() {
	if cp == nil {
		return
	}
	if cp.released.CompareAndSwap(false, true) {
		cp.m.stats.end()
		if cp.span != nil {
			cp.span.End()
		}
	}
}

// finish records the completed execution and returns the possibly wrapped
// error. rows is the result row or affected-row count, -1 when unknown.
func (cp *capture) finish(rows int64, callErr error) error {
	if cp == nil {
		return callErr
	}

	// A driver-level ErrSkip is not an execution: database/sql retries the
	// same statement through the prepared path, which we will observe then.
	if callErr != nil && errors.Is(callErr, driver.ErrSkip) {
		cp.abort()
		return callErr
	}

	if !cp.released.CompareAndSwap(false, true) {
		return callErr
	}
	m := cp.m
	m.stats.end()
	d := time.Since(cp.start)

	func() {
		defer m.recoverFault()

		isErr := callErr != nil
		slow := d >= m.cfg.SlowQueryThreshold

		m.stats.record(d, isErr, slow)
		m.rollups.record(cp.cls, d, rows, isErr, slow, m.cfg.MaxSQLLength)
		m.metrics.recordQuery(cp.ctx, d, cp.cls, m.attrs, callErr)

		if cp.span != nil {
			if isErr {
				cp.span.RecordError(callErr)
				cp.span.SetStatus(codes.Error, callErr.Error())
			}
			cp.span.End()
		}

		m.auditEvent(cp, d, rows, callErr, slow)

		if slow && !isErr && cp.cls.Type == StatementSelect && m.explain != nil {
			m.explain.maybeRun(cp.cls.Fingerprint, cp.raw, cp.args)
		}
	}()

	return wrapQueryError(callErr, cp.cls, cp.raw, m.cfg.MaxSQLLength)
}

// execDone finalizes an Exec-style call, deriving the affected-row count
// when the driver provides one.
func (cp *capture) execDone(res driver.Result, callErr error) (driver.Result, error) {
	affected := int64(-1)
	if callErr == nil && res != nil {
		if n, err := res.RowsAffected(); err == nil {
			affected = n
		}
	}
	if err := cp.finish(affected, callErr); err != nil {
		return nil, err
	}
	return res, nil
}

// queryDone finalizes a Query-style call. The row count is unknown until
// iteration finishes, so the returned rows are wrapped to count Next calls
// and backfill the rollup on Close.
func (cp *capture) queryDone(rows driver.Rows, callErr error) (driver.Rows, error) {
	if err := cp.finish(-1, callErr); err != nil {
		return nil, err
	}
	if cp == nil {
		return rows, nil
	}
	return wrapRows(rows, cp.m, cp.cls.Fingerprint), nil
}

// auditEvent enqueues at most one line per execution: error beats slow,
// slow beats the per-query kind. Parameters are masked only when a line
// that carries them is actually emitted.
func (m *Monitor) auditEvent(cp *capture, d time.Duration, rows int64, callErr error, slow bool) {
	if m.audit == nil {
		return
	}
	var kind string
	switch {
	case callErr != nil:
		kind = auditKindError
	case slow:
		kind = auditKindSlow
	case m.cfg.LogEveryQuery:
		kind = auditKindQuery
	default:
		return
	}

	rec := auditRecord{
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
		Kind:        kind,
		DurationMS:  durationMS(d),
		Type:        cp.cls.Type,
		Table:       cp.cls.Table,
		Fingerprint: cp.cls.Fingerprint,
		Query:       truncateSQL(cp.cls.Normalized, m.cfg.MaxSQLLength),
		RawQuery:    truncateSQL(cp.raw, m.cfg.MaxSQLLength),
		TraceID:     traceIDFor(cp.ctx),
	}
	if rows >= 0 {
		r := rows
		rec.Rows = &r
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	}
	if kind != auditKindError && m.cfg.LogParams {
		rec.Params = MaskParams(cp.args)
	}
	m.audit.enqueue(rec)
}

func (m *Monitor) snapshotLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.SnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.enqueueSnapshot()
		case <-m.stopSnap:
			return
		}
	}
}

func (m *Monitor) enqueueSnapshot() {
	s := m.Stats()
	m.audit.enqueue(auditRecord{
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Kind: auditKindSnapshot,
		Stats: &auditStats{
			Total:        s.Total,
			Errors:       s.Errors,
			Slow:         s.Slow,
			InFlight:     s.InFlight,
			PeakInFlight: s.PeakInFlight,
			P50MS:        s.P50MS,
			P95MS:        s.P95MS,
			P99MS:        s.P99MS,
			Fingerprints: s.Fingerprints,
			Dropped:      s.AuditDropped,
		},
	})
}

// recoverFault absorbs panics from the monitor's own bookkeeping so an
// instrumentation bug can never fail a query. The first fault is logged,
// the rest only counted.
func (m *Monitor) recoverFault() {
	if r := recover(); r != nil {
		m.faults.Add(1)
		m.faultOnce.Do(func() {
			m.log.Error().Interface("panic", r).Msg("instrumentation fault, query unaffected")
		})
	}
}

// baseAttributes returns the attributes shared by all spans and metrics.
func baseAttributes(dbSystem, dbName string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if dbSystem != "" {
		attrs = append(attrs, attribute.String("db.system", dbSystem))
	}
	if dbName != "" {
		attrs = append(attrs, attribute.String("db.name", dbName))
	}
	return attrs
}

// queryAttributes returns span attributes for one statement. The statement
// text is the normalized shape, so literals never reach the trace backend.
func (m *Monitor) queryAttributes(cls Classification) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m.attrs)+4)
	attrs = append(attrs, m.attrs...)
	attrs = append(attrs, attribute.String("db.operation", string(cls.Type)))
	if cls.Table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", cls.Table))
	}
	if cls.Normalized != "" {
		attrs = append(attrs, attribute.String("db.statement", truncateSQL(cls.Normalized, m.cfg.MaxSQLLength)))
	}
	attrs = append(attrs, attribute.String("db.query.fingerprint", cls.Fingerprint))
	return attrs
}
