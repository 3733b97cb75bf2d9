package sql

import (
	"context"
	"database/sql/driver"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface checks.
var (
	_ driver.Conn               = (*tapConn)(nil)
	_ driver.ConnPrepareContext = (*tapConn)(nil)
	_ driver.ConnBeginTx        = (*tapConn)(nil)
	_ driver.ExecerContext      = (*tapConn)(nil)
	_ driver.QueryerContext     = (*tapConn)(nil)
	_ driver.Pinger             = (*tapConn)(nil)
	_ driver.SessionResetter    = (*tapConn)(nil)
	_ driver.Validator          = (*tapConn)(nil)
	_ driver.NamedValueChecker  = (*tapConn)(nil)
)

// tapConn wraps a driver.Conn. Exec and Query round trips flow through the
// monitor's capture pipeline; connection management calls delegate with at
// most a span around them.
type tapConn struct {
	conn driver.Conn
	mon  *Monitor
}

func newTapConn(conn driver.Conn, mon *Monitor) *tapConn {
	return &tapConn{conn: conn, mon: mon}
}

// Prepare implements driver.Conn.
func (c *tapConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.conn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return newTapStmt(stmt, c.mon, query), nil
}

// Close implements driver.Conn.
func (c *tapConn) Close() error {
	return c.conn.Close()
}

// Begin implements driver.Conn.
// Deprecated: Use BeginTx instead. This exists for driver.Conn interface compatibility.
func (c *tapConn) Begin() (driver.Tx, error) {
	tx, err := c.conn.Begin() //nolint:staticcheck // Required for driver.Conn interface
	if err != nil {
		return nil, err
	}
	return newTapTx(tx, c.mon, context.Background()), nil
}

// PrepareContext implements driver.ConnPrepareContext.
func (c *tapConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var stmt driver.Stmt
	var err error

	if preparer, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = preparer.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}

	if err != nil {
		return nil, err
	}
	return newTapStmt(stmt, c.mon, query), nil
}

// BeginTx implements driver.ConnBeginTx. Transaction boundaries are traced
// but not counted as statements: the stats and the audit trail track what
// runs inside the transaction, not its plumbing.
func (c *tapConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	var span trace.Span
	if c.mon.active() {
		ctx, span = c.mon.tracer.Start(ctx, "BEGIN",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(c.mon.attrs...),
		)
		defer span.End()
	}

	var tx driver.Tx
	var err error
	if beginner, ok := c.conn.(driver.ConnBeginTx); ok {
		tx, err = beginner.BeginTx(ctx, opts)
	} else {
		tx, err = c.conn.Begin() //nolint:staticcheck // Fallback for older drivers
	}

	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return newTapTx(tx, c.mon, ctx), nil
}

// ExecContext implements driver.ExecerContext.
func (c *tapConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.conn.(driver.ExecerContext)
	if !ok {
		// Let database/sql fall back to prepare and execute.
		return nil, driver.ErrSkip
	}
	if !c.mon.active() {
		return execer.ExecContext(ctx, query, args)
	}

	ctx, cp := c.mon.begin(ctx, query, args)
	defer cp.abort()
	res, err := execer.ExecContext(ctx, query, args)
	return cp.execDone(res, err)
}

// QueryContext implements driver.QueryerContext.
func (c *tapConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	if !c.mon.active() {
		return queryer.QueryContext(ctx, query, args)
	}

	ctx, cp := c.mon.begin(ctx, query, args)
	defer cp.abort()
	rows, err := queryer.QueryContext(ctx, query, args)
	return cp.queryDone(rows, err)
}

// Ping implements driver.Pinger.
func (c *tapConn) Ping(ctx context.Context) error {
	pinger, ok := c.conn.(driver.Pinger)
	if !ok {
		return nil
	}
	if !c.mon.active() {
		return pinger.Ping(ctx)
	}

	ctx, span := c.mon.tracer.Start(ctx, "PING",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.mon.attrs...),
	)
	defer span.End()

	err := pinger.Ping(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ResetSession implements driver.SessionResetter.
func (c *tapConn) ResetSession(ctx context.Context) error {
	if resetter, ok := c.conn.(driver.SessionResetter); ok {
		return resetter.ResetSession(ctx)
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *tapConn) IsValid() bool {
	if validator, ok := c.conn.(driver.Validator); ok {
		return validator.IsValid()
	}
	return true
}

// CheckNamedValue implements driver.NamedValueChecker. ErrSkip hands the
// value to the default converter when the underlying connection has no
// checker of its own.
func (c *tapConn) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := c.conn.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}
