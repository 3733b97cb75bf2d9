// Package sqlx routes jmoiron/sqlx through the instrumented driver, so
// struct scanning and named queries get the same observation as plain
// database/sql: classification, stats, the audit trail, traces, metrics.
//
// The package wraps nothing at the sqlx level. Every sqlx convenience
// method executes through database/sql, where the driver-level capture
// already sees it; wrapping here as well would count each query twice.
// The functions return plain *sqlx.DB, keeping the whole sqlx API.
//
// # Quick Start
//
//	import (
//	    tapsql "github.com/meridian-labs/sqltap-go/sql"
//	    tapsqlx "github.com/meridian-labs/sqltap-go/sqlx"
//	)
//
//	mon, err := tapsql.NewMonitor(tapsql.WithAuditFile("queries.ndjson"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mon.Close()
//
//	db, err := tapsqlx.Connect(ctx, "postgres", dsn,
//	    tapsql.WithMonitor(mon),
//	    tapsql.WithDBSystem("postgresql"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// # Struct Scanning
//
// Use Get and Select for automatic struct scanning; both show up in the
// monitor as ordinary SELECT executions:
//
//	type User struct {
//	    ID    int    `db:"id"`
//	    Name  string `db:"name"`
//	    Email string `db:"email"`
//	}
//
//	var user User
//	err := db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", 1)
//
//	var users []User
//	err := db.SelectContext(ctx, &users, "SELECT * FROM users WHERE active = true")
//
// # Named Parameters
//
//	user := User{Name: "John", Email: "john@example.com"}
//	result, err := db.NamedExecContext(ctx,
//	    "INSERT INTO users (name, email) VALUES (:name, :email)",
//	    user,
//	)
package sqlx
