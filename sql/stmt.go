package sql

import (
	"context"
	"database/sql/driver"
	"errors"
)

// Compile-time interface checks.
var (
	_ driver.Stmt              = (*tapStmt)(nil)
	_ driver.StmtExecContext   = (*tapStmt)(nil)
	_ driver.StmtQueryContext  = (*tapStmt)(nil)
	_ driver.NamedValueChecker = (*tapStmt)(nil)
)

// tapStmt wraps a prepared driver.Stmt. The statement text is captured at
// prepare time so executions can be classified without re-parsing.
//
// Unlike the connection-level hooks, StmtExecContext and StmtQueryContext
// must not return driver.ErrSkip: database/sql treats an ErrSkip from a
// prepared statement as a real error rather than a cue to fall back. When
// the wrapped statement lacks the context variants, the fallback to the
// legacy interfaces happens here.
type tapStmt struct {
	stmt  driver.Stmt
	mon   *Monitor
	query string
}

func newTapStmt(stmt driver.Stmt, mon *Monitor, query string) *tapStmt {
	return &tapStmt{stmt: stmt, mon: mon, query: query}
}

// Close implements driver.Stmt.
func (s *tapStmt) Close() error {
	return s.stmt.Close()
}

// NumInput implements driver.Stmt.
func (s *tapStmt) NumInput() int {
	return s.stmt.NumInput()
}

// Exec implements driver.Stmt.
// Deprecated: Use ExecContext instead. This exists for driver.Stmt interface compatibility.
func (s *tapStmt) Exec(args []driver.Value) (driver.Result, error) {
	if !s.mon.active() {
		return s.stmt.Exec(args) //nolint:staticcheck // Required for driver.Stmt interface
	}

	_, cp := s.mon.begin(context.Background(), s.query, namedValues(args))
	defer cp.abort()
	res, err := s.stmt.Exec(args) //nolint:staticcheck // Required for driver.Stmt interface
	return cp.execDone(res, err)
}

// Query implements driver.Stmt.
// Deprecated: Use QueryContext instead. This exists for driver.Stmt interface compatibility.
func (s *tapStmt) Query(args []driver.Value) (driver.Rows, error) {
	if !s.mon.active() {
		return s.stmt.Query(args) //nolint:staticcheck // Required for driver.Stmt interface
	}

	_, cp := s.mon.begin(context.Background(), s.query, namedValues(args))
	defer cp.abort()
	rows, err := s.stmt.Query(args) //nolint:staticcheck // Required for driver.Stmt interface
	return cp.queryDone(rows, err)
}

// ExecContext implements driver.StmtExecContext.
func (s *tapStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if !s.mon.active() {
		return s.execContext(ctx, args)
	}

	ctx, cp := s.mon.begin(ctx, s.query, args)
	defer cp.abort()
	res, err := s.execContext(ctx, args)
	return cp.execDone(res, err)
}

// QueryContext implements driver.StmtQueryContext.
func (s *tapStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if !s.mon.active() {
		return s.queryContext(ctx, args)
	}

	ctx, cp := s.mon.begin(ctx, s.query, args)
	defer cp.abort()
	rows, err := s.queryContext(ctx, args)
	return cp.queryDone(rows, err)
}

func (s *tapStmt) execContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if execer, ok := s.stmt.(driver.StmtExecContext); ok {
		return execer.ExecContext(ctx, args)
	}

	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.stmt.Exec(values) //nolint:staticcheck // Fallback for older drivers
}

func (s *tapStmt) queryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if queryer, ok := s.stmt.(driver.StmtQueryContext); ok {
		return queryer.QueryContext(ctx, args)
	}

	values, err := namedValueToValue(args)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.stmt.Query(values) //nolint:staticcheck // Fallback for older drivers
}

// CheckNamedValue implements driver.NamedValueChecker.
func (s *tapStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if checker, ok := s.stmt.(driver.NamedValueChecker); ok {
		return checker.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// namedValueToValue flattens named arguments for drivers that predate the
// NamedValue interfaces. Mirrors the conversion database/sql applies.
func namedValueToValue(named []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(named))
	for i, nv := range named {
		if len(nv.Name) > 0 {
			return nil, errors.New("sql: driver does not support the use of Named Parameters")
		}
		values[i] = nv.Value
	}
	return values, nil
}

// namedValues lifts positional values into NamedValue form for the capture
// pipeline. Ordinals are 1-based, matching database/sql.
func namedValues(values []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(values))
	for i, v := range values {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}
