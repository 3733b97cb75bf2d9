package sql

import (
	"context"
	"database/sql/driver"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ driver.Tx = (*tapTx)(nil)

// tapTx wraps a driver.Tx. Commit and rollback are traced against the
// context the transaction was opened with, but like BEGIN they do not count
// as statement executions.
type tapTx struct {
	tx  driver.Tx
	mon *Monitor
	ctx context.Context
}

func newTapTx(tx driver.Tx, mon *Monitor, ctx context.Context) *tapTx {
	return &tapTx{tx: tx, mon: mon, ctx: ctx}
}

// Commit implements driver.Tx.
func (t *tapTx) Commit() error {
	return t.end("COMMIT", t.tx.Commit)
}

// Rollback implements driver.Tx.
func (t *tapTx) Rollback() error {
	return t.end("ROLLBACK", t.tx.Rollback)
}

func (t *tapTx) end(op string, fn func() error) error {
	if !t.mon.active() {
		return fn()
	}

	_, span := t.mon.tracer.Start(t.ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.mon.attrs...),
	)
	defer span.End()

	err := fn()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
