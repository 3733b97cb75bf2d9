package database

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	_ "modernc.org/sqlite" // Register sqlite driver

	"github.com/meridian-labs/sqltap-go/example/sql/internal/config"
	tapsql "github.com/meridian-labs/sqltap-go/sql"
)

// DB wraps the instrumented database handle.
type DB struct {
	*sql.DB
	log zerolog.Logger
}

// New opens the demo database through the instrumented driver.
func New(ctx context.Context, mon *tapsql.Monitor, logger zerolog.Logger) (*DB, error) {
	db, err := tapsql.Open("sqlite", config.DSN,
		tapsql.WithMonitor(mon),
		tapsql.WithDBSystem(config.DBSystem),
		tapsql.WithDBName(config.DBName),
	)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(config.MaxOpen)
	db.SetMaxIdleConns(config.MaxIdle)

	// Pool health gauges next to the per-query instruments.
	if err := tapsql.RecordPoolMetrics(db, otel.GetMeterProvider().Meter("sqltap-demo")); err != nil {
		logger.Warn().Err(err).Msg("failed to register pool metrics")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, log: logger}, nil
}
