package sql

import (
	"database/sql/driver"
	"io"
	"reflect"
)

// Compile-time interface checks.
var (
	_ driver.Rows                           = (*tapRows)(nil)
	_ driver.RowsNextResultSet              = (*tapRows)(nil)
	_ driver.RowsColumnTypeScanType         = (*tapRows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*tapRows)(nil)
	_ driver.RowsColumnTypeLength           = (*tapRows)(nil)
	_ driver.RowsColumnTypeNullable         = (*tapRows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*tapRows)(nil)
)

// tapRows counts iterated rows so SELECT rollups can report a row count,
// which is only known once the caller finishes scanning. Optional column
// type interfaces delegate per call with the same defaults database/sql
// applies when a driver lacks them.
type tapRows struct {
	rows        driver.Rows
	mon         *Monitor
	fingerprint string
	n           int64
	reported    bool
}

func wrapRows(rows driver.Rows, mon *Monitor, fingerprint string) driver.Rows {
	if rows == nil {
		return nil
	}
	return &tapRows{rows: rows, mon: mon, fingerprint: fingerprint}
}

func (r *tapRows) Columns() []string {
	return r.rows.Columns()
}

func (r *tapRows) Close() error {
	if !r.reported {
		r.reported = true
		r.mon.rollups.setRows(r.fingerprint, r.n)
	}
	return r.rows.Close()
}

func (r *tapRows) Next(dest []driver.Value) error {
	err := r.rows.Next(dest)
	if err == nil {
		r.n++
	} else if err == io.EOF && !r.reported {
		r.reported = true
		r.mon.rollups.setRows(r.fingerprint, r.n)
	}
	return err
}

func (r *tapRows) HasNextResultSet() bool {
	if v, ok := r.rows.(driver.RowsNextResultSet); ok {
		return v.HasNextResultSet()
	}
	return false
}

func (r *tapRows) NextResultSet() error {
	if v, ok := r.rows.(driver.RowsNextResultSet); ok {
		return v.NextResultSet()
	}
	return io.EOF
}

func (r *tapRows) ColumnTypeScanType(index int) reflect.Type {
	if v, ok := r.rows.(driver.RowsColumnTypeScanType); ok {
		return v.ColumnTypeScanType(index)
	}
	return reflect.TypeOf(new(any)).Elem()
}

func (r *tapRows) ColumnTypeDatabaseTypeName(index int) string {
	if v, ok := r.rows.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return v.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

func (r *tapRows) ColumnTypeLength(index int) (int64, bool) {
	if v, ok := r.rows.(driver.RowsColumnTypeLength); ok {
		return v.ColumnTypeLength(index)
	}
	return 0, false
}

func (r *tapRows) ColumnTypeNullable(index int) (bool, bool) {
	if v, ok := r.rows.(driver.RowsColumnTypeNullable); ok {
		return v.ColumnTypeNullable(index)
	}
	return false, false
}

func (r *tapRows) ColumnTypePrecisionScale(index int) (int64, int64, bool) {
	if v, ok := r.rows.(driver.RowsColumnTypePrecisionScale); ok {
		return v.ColumnTypePrecisionScale(index)
	}
	return 0, 0, false
}
