package sqlx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	tapsql "github.com/meridian-labs/sqltap-go/sql"
)

// Open opens an instrumented database handle and wraps it with sqlx.
// The returned *sqlx.DB is the plain sqlx type: every call on it, including
// Get, Select, and named queries, compiles down to database/sql operations
// that the driver-level instrumentation observes.
//
// The bindvar style is derived from driverName, so pass the real driver
// name ("postgres", "mysql", ...), never a wrapped registration name.
//
// Example:
//
//	db, err := tapsqlx.Open("postgres", dsn,
//	    tapsql.WithMonitor(mon),
//	    tapsql.WithDBSystem("postgresql"),
//	)
func Open(driverName, dsn string, opts ...tapsql.Option) (*sqlx.DB, error) {
	db, err := tapsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	return sqlx.NewDb(db, driverName), nil
}

// Connect opens and verifies an instrumented database handle. It is
// equivalent to Open followed by PingContext.
//
// Example:
//
//	db, err := tapsqlx.Connect(ctx, "postgres", dsn, tapsql.WithMonitor(mon))
func Connect(ctx context.Context, driverName, dsn string, opts ...tapsql.Option) (*sqlx.DB, error) {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MustOpen is like Open but panics on error.
func MustOpen(driverName, dsn string, opts ...tapsql.Option) *sqlx.DB {
	db, err := Open(driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// MustConnect is like Connect but panics on error.
func MustConnect(ctx context.Context, driverName, dsn string, opts ...tapsql.Option) *sqlx.DB {
	db, err := Connect(ctx, driverName, dsn, opts...)
	if err != nil {
		panic(err)
	}
	return db
}

// NewDb wraps an already instrumented *sql.DB with sqlx. driverName picks
// the bindvar style, exactly like sqlx.NewDb.
//
// Example:
//
//	sqlDB, _ := tapsql.Open("postgres", dsn, tapsql.WithMonitor(mon))
//	db := tapsqlx.NewDb(sqlDB, "postgres")
func NewDb(db *sql.DB, driverName string) *sqlx.DB {
	return sqlx.NewDb(db, driverName)
}
