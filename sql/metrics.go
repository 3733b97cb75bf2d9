package sql

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the OpenTelemetry instruments. With no meter provider
// configured these are no-ops; the monitor's own aggregation works either
// way.
type metrics struct {
	queryDuration metric.Float64Histogram
	queryErrors   metric.Int64Counter
}

// newMetrics creates the per-query instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.queryDuration, err = meter.Float64Histogram(
		"db.client.operation.duration",
		metric.WithDescription("Duration of database client operations in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.queryErrors, err = meter.Int64Counter(
		"db.client.operation.errors",
		metric.WithDescription("Number of failed database client operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// recordQuery forwards one completed execution to OpenTelemetry.
func (m *metrics) recordQuery(
	ctx context.Context,
	duration time.Duration,
	cls Classification,
	attrs []attribute.KeyValue,
	err error,
) {
	if m == nil || m.queryDuration == nil {
		return
	}

	allAttrs := make([]attribute.KeyValue, 0, len(attrs)+3)
	allAttrs = append(allAttrs, attrs...)
	allAttrs = append(allAttrs, attribute.String("db.operation", string(cls.Type)))
	if cls.Table != "" {
		allAttrs = append(allAttrs, attribute.String("db.sql.table", cls.Table))
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	allAttrs = append(allAttrs, attribute.String("status", status))

	m.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(allAttrs...))
	if err != nil && m.queryErrors != nil {
		m.queryErrors.Add(ctx, 1, metric.WithAttributes(allAttrs...))
	}
}

// poolGauges drive the pool observation callback. Wait totals are
// registered separately because they are counters, not gauges.
var poolGauges = []struct {
	name string
	desc string
	read func(sql.DBStats) int64
}{
	{"db.client.connections.open", "Open connections in the pool", func(s sql.DBStats) int64 { return int64(s.OpenConnections) }},
	{"db.client.connections.idle", "Idle connections in the pool", func(s sql.DBStats) int64 { return int64(s.Idle) }},
	{"db.client.connections.max", "Connection pool limit", func(s sql.DBStats) int64 { return int64(s.MaxOpenConnections) }},
	{"db.client.connections.used", "Connections currently in use", func(s sql.DBStats) int64 { return int64(s.InUse) }},
}

// RecordPoolMetrics observes connection pool health through db.Stats on
// every metric collection. Pool state only exists on *sql.DB, which is why
// this is separate from the per-query instruments recorded at driver level.
//
// When db was opened through Open, the monitor's db.system and db.name
// attributes are detected automatically and merged with the provided ones.
//
// Example:
//
//	db, _ := tapsql.Open("postgres", dsn, tapsql.WithDBSystem("postgresql"))
//	err := tapsql.RecordPoolMetrics(db, otel.GetMeterProvider().Meter("myapp"))
func RecordPoolMetrics(db *sql.DB, meter metric.Meter, attrs ...attribute.KeyValue) error {
	if drv, ok := db.Driver().(*tapDriver); ok && drv.mon != nil {
		merged := make([]attribute.KeyValue, 0, len(drv.mon.attrs)+len(attrs))
		merged = append(merged, drv.mon.attrs...)
		attrs = append(merged, attrs...)
	}

	gauges := make([]metric.Int64ObservableGauge, len(poolGauges))
	observables := make([]metric.Observable, 0, len(poolGauges)+2)
	var err error
	for i, g := range poolGauges {
		gauges[i], err = meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit("{connection}"),
		)
		if err != nil {
			return err
		}
		observables = append(observables, gauges[i])
	}

	waitCount, err := meter.Int64ObservableCounter(
		"db.client.connections.wait_count",
		metric.WithDescription("Times a connection was waited for"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}
	waitDuration, err := meter.Float64ObservableCounter(
		"db.client.connections.wait_duration",
		metric.WithDescription("Total time waited for connections in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	observables = append(observables, waitCount, waitDuration)

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			stats := db.Stats()
			for i, g := range poolGauges {
				o.ObserveInt64(gauges[i], g.read(stats), metric.WithAttributes(attrs...))
			}
			o.ObserveInt64(waitCount, stats.WaitCount, metric.WithAttributes(attrs...))
			o.ObserveFloat64(waitDuration, stats.WaitDuration.Seconds(), metric.WithAttributes(attrs...))
			return nil
		},
		observables...,
	)
	return err
}
