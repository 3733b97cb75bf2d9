package sql

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("sqltap: invalid config")

	// ErrMonitorClosed is returned by operations on a closed Monitor.
	ErrMonitorClosed = errors.New("sqltap: monitor closed")
)

// QueryError enriches a driver error with the identity of the failing
// statement. The original error is available through Unwrap, so
// errors.Is and errors.As keep working across the wrapper.
type QueryError struct {
	Fingerprint string
	Type        StatementType
	Table       string
	Query       string
	Err         error
}

func (e *QueryError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("sqltap: %s on %s [%s]: %v", e.Type, e.Table, e.Fingerprint, e.Err)
	}
	return fmt.Sprintf("sqltap: %s [%s]: %v", e.Type, e.Fingerprint, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// passthroughError reports the protocol sentinels database/sql inspects to
// drive retries and statement fallbacks. These must reach it untouched:
// driver.ErrSkip selects the slow path, driver.ErrBadConn triggers a retry
// on a fresh connection, io.EOF ends rows iteration.
func passthroughError(err error) bool {
	return errors.Is(err, driver.ErrSkip) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, driver.ErrRemoveArgument) ||
		errors.Is(err, io.EOF)
}

// wrapQueryError attaches statement identity to a driver error. Protocol
// sentinels pass through unwrapped.
func wrapQueryError(err error, cls Classification, rawSQL string, maxLen int) error {
	if err == nil || passthroughError(err) {
		return err
	}
	return &QueryError{
		Fingerprint: cls.Fingerprint,
		Type:        cls.Type,
		Table:       cls.Table,
		Query:       truncateSQL(rawSQL, maxLen),
		Err:         err,
	}
}
