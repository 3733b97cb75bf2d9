package database

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Register postgres driver
	"go.opentelemetry.io/otel"

	"github.com/meridian-labs/sqltap-go/example/sqlx/internal/config"
	tapsql "github.com/meridian-labs/sqltap-go/sql"
	tapsqlx "github.com/meridian-labs/sqltap-go/sqlx"
)

// DB bundles the instrumented sqlx handle with the monitor that observes it.
type DB struct {
	*sqlx.DB
	Monitor *tapsql.Monitor
}

// New opens a postgres connection through the instrumented driver and
// verifies it with a ping.
func New(ctx context.Context, mon *tapsql.Monitor) (*DB, error) {
	db, err := tapsqlx.Connect(ctx, "postgres", config.DSN,
		tapsql.WithMonitor(mon),
		tapsql.WithDBSystem(config.DBSystem),
		tapsql.WithDBName(config.DBName),
	)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)
	db.SetConnMaxLifetime(time.Duration(config.MaxLifetime) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(config.MaxIdleTime) * time.Second)

	// Pool gauges land next to the per-query OTel instruments.
	if err := tapsql.RecordPoolMetrics(db.DB, otel.GetMeterProvider().Meter("example-app")); err != nil {
		log.Printf("Failed to register pool metrics: %v", err)
	}

	return &DB{DB: db, Monitor: mon}, nil
}
