package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

// Compile-time interface checks for the test doubles.
var (
	_ driver.Driver         = (*fakeDriver)(nil)
	_ driver.Conn           = (*fakeConn)(nil)
	_ driver.ExecerContext  = (*fakeConn)(nil)
	_ driver.QueryerContext = (*fakeConn)(nil)
	_ driver.ConnBeginTx    = (*fakeConn)(nil)
	_ driver.Pinger         = (*fakeConn)(nil)
	_ driver.Conn           = (*legacyConn)(nil)
	_ driver.Stmt           = (*legacyStmt)(nil)
	_ driver.Conn           = (*errSkipConn)(nil)
	_ driver.ExecerContext  = (*errSkipConn)(nil)
	_ driver.QueryerContext = (*errSkipConn)(nil)
	_ driver.Rows           = (*fakeRows)(nil)
	_ driver.Result         = (*fakeResult)(nil)
	_ driver.Tx             = (*fakeTx)(nil)

	_ trace.TracerProvider = panickyTracerProvider{}
)

// fakeDriver hands out one shared connection, mirroring how a mock pool
// keys connections by DSN.
type fakeDriver struct {
	conn    driver.Conn
	openErr error
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.conn, nil
}

var fakeDriverSeq atomic.Int64

// openFake registers conn under a fresh driver name and opens an
// instrumented handle on it.
func openFake(conn driver.Conn, opts ...Option) (*sql.DB, error) {
	name := fmt.Sprintf("tapfake_%d", fakeDriverSeq.Add(1))
	sql.Register(name, &fakeDriver{conn: conn})
	return Open(name, "fake-dsn", opts...)
}

// fakeConn is a scriptable connection implementing the modern context
// interfaces. All executed statements are recorded.
type fakeConn struct {
	mu      sync.Mutex
	execs   []string
	queries []string
	pings   int

	execErr  error
	queryErr error
	beginErr error
	pingErr  error
	delay    time.Duration
	panicMsg string

	affected int64
	cols     []string
	data     [][]driver.Value
}

func (c *fakeConn) record(dst *[]string, query string) {
	c.mu.Lock()
	*dst = append(*dst, query)
	c.mu.Unlock()
}

func (c *fakeConn) executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.execs))
	copy(out, c.execs)
	return out
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &legacyStmt{
		exec:     c.execStmt,
		query:    query,
		affected: c.affected,
		cols:     c.cols,
		data:     c.data,
	}, nil
}

func (c *fakeConn) execStmt(query string) error {
	c.record(&c.execs, query)
	return c.execErr
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return &fakeTx{}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	c.record(&c.execs, query)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.execErr != nil {
		return nil, c.execErr
	}
	return &fakeResult{affected: c.affected}, nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.record(&c.queries, query)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &fakeRows{cols: c.cols, data: c.data}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	c.pings++
	c.mu.Unlock()
	return c.pingErr
}

// legacyConn implements only the pre-context driver surface, forcing
// database/sql down the prepared-statement path.
type legacyConn struct {
	mu       sync.Mutex
	prepared []string
	execs    []string
	queries  []string

	stmtErr  error
	affected int64
	cols     []string
	data     [][]driver.Value
}

func (c *legacyConn) Prepare(query string) (driver.Stmt, error) {
	c.mu.Lock()
	c.prepared = append(c.prepared, query)
	c.mu.Unlock()
	return &legacyStmt{
		exec: func(q string) error {
			c.mu.Lock()
			c.execs = append(c.execs, q)
			c.mu.Unlock()
			return c.stmtErr
		},
		query:    query,
		affected: c.affected,
		cols:     c.cols,
		data:     c.data,
	}, nil
}

func (c *legacyConn) Close() error { return nil }

func (c *legacyConn) Begin() (driver.Tx, error) { return &fakeTx{}, nil }

// legacyStmt is a pre-context statement: Exec and Query only, no named
// parameter support.
type legacyStmt struct {
	exec     func(query string) error
	query    string
	affected int64
	cols     []string
	data     [][]driver.Value
}

func (s *legacyStmt) Close() error  { return nil }
func (s *legacyStmt) NumInput() int { return -1 }

func (s *legacyStmt) Exec([]driver.Value) (driver.Result, error) {
	if err := s.exec(s.query); err != nil {
		return nil, err
	}
	return &fakeResult{affected: s.affected}, nil
}

func (s *legacyStmt) Query([]driver.Value) (driver.Rows, error) {
	if err := s.exec(s.query); err != nil {
		return nil, err
	}
	return &fakeRows{cols: s.cols, data: s.data}, nil
}

// errSkipConn advertises the context interfaces but refuses every direct
// call with driver.ErrSkip, the protocol for "use the prepared path".
type errSkipConn struct {
	legacyConn
	skips atomic.Int64
}

func (c *errSkipConn) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	c.skips.Add(1)
	return nil, driver.ErrSkip
}

func (c *errSkipConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	c.skips.Add(1)
	return nil, driver.ErrSkip
}

type fakeRows struct {
	cols   []string
	data   [][]driver.Value
	i      int
	closed bool
}

func (r *fakeRows) Columns() []string { return r.cols }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.i])
	r.i++
	return nil
}

type fakeResult struct {
	affected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeTx struct {
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit() error   { return t.commitErr }
func (t *fakeTx) Rollback() error { return t.rollbackErr }

// panickyTracerProvider blows up inside span creation, simulating a broken
// instrumentation dependency. Queries must survive it.
type panickyTracerProvider struct {
	embedded.TracerProvider
}

func (panickyTracerProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return panickyTracer{}
}

type panickyTracer struct {
	embedded.Tracer
}

func (panickyTracer) Start(context.Context, string, ...trace.SpanStartOption) (context.Context, trace.Span) {
	panic("tracer down")
}
