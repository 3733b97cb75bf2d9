package sql

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/meridian-labs/sqltap-go/sql"
)

// Config is the behavior surface of a Monitor. Zero values are not usable
// directly; start from DefaultConfig or ConfigFromEnv and override fields.
type Config struct {
	// Enabled switches the whole layer. When false every wrapper delegates
	// straight to the underlying driver with no classification, stats, or
	// logging.
	Enabled bool

	// SlowQueryThreshold marks queries at or above this duration as slow.
	SlowQueryThreshold time.Duration

	// LogEveryQuery emits an audit line for every completed query, not just
	// slow and failing ones.
	LogEveryQuery bool

	// LogParams includes masked query parameters on non-error audit lines.
	LogParams bool

	// TopN bounds the slowest/hottest rollup views in Stats.
	TopN int

	// SampleSize is the capacity of the recent-latency ring buffer.
	SampleSize int

	// MaxFingerprints bounds per-shape rollup cardinality. When full, the
	// oldest tenth (by last execution) is evicted.
	MaxFingerprints int

	// SlowExplain captures EXPLAIN output for slow SELECTs asynchronously
	// on a separate uninstrumented connection.
	SlowExplain bool

	// LogFilePath is the audit trail destination. Empty disables the audit
	// writer entirely.
	LogFilePath string

	// RotateBytes rotates the audit file once it reaches this size.
	// Zero disables rotation.
	RotateBytes int64

	// RetainCount is how many rotated audit files to keep.
	RetainCount int

	// SnapshotInterval periodically writes a stats snapshot line to the
	// audit trail. Zero disables snapshots.
	SnapshotInterval time.Duration

	// HistogramBoundsMS are the latency bucket upper bounds in milliseconds,
	// strictly ascending. An overflow bucket is added implicitly.
	HistogramBoundsMS []float64

	// AuditQueueSize bounds the audit writer queue. Full queue drops lines
	// rather than blocking queries.
	AuditQueueSize int

	// MaxSQLLength truncates SQL carried in audit lines, rollup samples,
	// and errors.
	MaxSQLLength int
}

// DefaultConfig returns the production defaults: enabled, 250ms slow
// threshold, audit writer off until a file path is set.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		SlowQueryThreshold: 250 * time.Millisecond,
		TopN:               10,
		SampleSize:         256,
		MaxFingerprints:    512,
		RotateBytes:        10 << 20,
		RetainCount:        3,
		HistogramBoundsMS:  defaultHistogramBoundsMS,
		AuditQueueSize:     1024,
		MaxSQLLength:       2048,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.SlowQueryThreshold <= 0 {
		return fmt.Errorf("%w: SlowQueryThreshold must be positive", ErrInvalidConfig)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("%w: TopN must be positive", ErrInvalidConfig)
	}
	if c.SampleSize <= 0 {
		return fmt.Errorf("%w: SampleSize must be positive", ErrInvalidConfig)
	}
	if c.MaxFingerprints <= 0 {
		return fmt.Errorf("%w: MaxFingerprints must be positive", ErrInvalidConfig)
	}
	if c.RotateBytes < 0 {
		return fmt.Errorf("%w: RotateBytes must not be negative", ErrInvalidConfig)
	}
	if c.RetainCount < 0 {
		return fmt.Errorf("%w: RetainCount must not be negative", ErrInvalidConfig)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("%w: SnapshotInterval must not be negative", ErrInvalidConfig)
	}
	if len(c.HistogramBoundsMS) == 0 {
		return fmt.Errorf("%w: HistogramBoundsMS must not be empty", ErrInvalidConfig)
	}
	prev := 0.0
	for _, b := range c.HistogramBoundsMS {
		if b <= prev {
			return fmt.Errorf("%w: HistogramBoundsMS must be positive and strictly ascending", ErrInvalidConfig)
		}
		prev = b
	}
	if c.AuditQueueSize <= 0 {
		return fmt.Errorf("%w: AuditQueueSize must be positive", ErrInvalidConfig)
	}
	if c.MaxSQLLength <= 0 {
		return fmt.Errorf("%w: MaxSQLLength must be positive", ErrInvalidConfig)
	}
	return nil
}

// options collects everything Open, WrapDriver, Register, and NewMonitor
// accept.
type options struct {
	cfg            Config
	logger         zerolog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	dbSystem       string
	dbName         string
	monitor        *Monitor
}

func newOptions(opts ...Option) *options {
	o := &options{
		cfg:            DefaultConfig(),
		logger:         zerolog.Nop(),
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Monitor, or an Open/WrapDriver/Register call.
type Option func(*options)

// WithMonitor attaches an existing Monitor to an Open, WrapDriver, or
// Register call. Use this when several connections should share one set of
// statistics and one audit trail, or when you need Monitor.Stats and
// Monitor.Close.
//
// Example:
//
//	mon, _ := tapsql.NewMonitor(
//	    tapsql.WithAuditFile("/var/log/app/queries.ndjson"),
//	)
//	defer mon.Close()
//
//	db, _ := tapsql.Open("mysql", dsn, tapsql.WithMonitor(mon))
//
// When WithMonitor is set, configuration options on the same call are
// ignored; the monitor's own configuration wins.
func WithMonitor(m *Monitor) Option {
	return func(o *options) {
		o.monitor = m
	}
}

// WithConfig replaces the whole configuration at once, typically with the
// result of ConfigFromEnv.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithEnabled switches the layer on or off.
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.cfg.Enabled = enabled
	}
}

// WithSlowQueryThreshold sets the duration at which a query counts as slow.
//
// Example:
//
//	db, _ := tapsql.Open("postgres", dsn,
//	    tapsql.WithSlowQueryThreshold(100*time.Millisecond),
//	)
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *options) {
		o.cfg.SlowQueryThreshold = d
	}
}

// WithLogEveryQuery emits an audit line for every completed query.
func WithLogEveryQuery() Option {
	return func(o *options) {
		o.cfg.LogEveryQuery = true
	}
}

// WithLogParams includes masked parameters on non-error audit lines.
func WithLogParams() Option {
	return func(o *options) {
		o.cfg.LogParams = true
	}
}

// WithTopN sets how many rollups the slowest/hottest views carry.
func WithTopN(n int) Option {
	return func(o *options) {
		o.cfg.TopN = n
	}
}

// WithSampleSize sets the recent-latency ring buffer capacity.
func WithSampleSize(n int) Option {
	return func(o *options) {
		o.cfg.SampleSize = n
	}
}

// WithMaxFingerprints bounds rollup cardinality.
func WithMaxFingerprints(n int) Option {
	return func(o *options) {
		o.cfg.MaxFingerprints = n
	}
}

// WithSlowExplain enables async EXPLAIN capture for slow SELECTs.
func WithSlowExplain() Option {
	return func(o *options) {
		o.cfg.SlowExplain = true
	}
}

// WithAuditFile enables the audit trail, writing NDJSON lines to path.
//
// Example:
//
//	mon, _ := tapsql.NewMonitor(
//	    tapsql.WithAuditFile("queries.ndjson"),
//	    tapsql.WithLogEveryQuery(),
//	)
func WithAuditFile(path string) Option {
	return func(o *options) {
		o.cfg.LogFilePath = path
	}
}

// WithRotation sets the audit file rotation threshold and how many rotated
// files to retain.
func WithRotation(rotateBytes int64, retain int) Option {
	return func(o *options) {
		o.cfg.RotateBytes = rotateBytes
		o.cfg.RetainCount = retain
	}
}

// WithSnapshotInterval writes periodic stats snapshot lines to the audit
// trail.
func WithSnapshotInterval(d time.Duration) Option {
	return func(o *options) {
		o.cfg.SnapshotInterval = d
	}
}

// WithHistogramBounds sets the latency bucket upper bounds in milliseconds.
func WithHistogramBounds(boundsMS ...float64) Option {
	return func(o *options) {
		o.cfg.HistogramBoundsMS = boundsMS
	}
}

// WithAuditQueueSize bounds the audit writer queue.
func WithAuditQueueSize(n int) Option {
	return func(o *options) {
		o.cfg.AuditQueueSize = n
	}
}

// WithMaxSQLLength bounds SQL text carried in audit lines and errors.
func WithMaxSQLLength(n int) Option {
	return func(o *options) {
		o.cfg.MaxSQLLength = n
	}
}

// WithLogger sets the zerolog logger for the monitor's own diagnostics:
// audit I/O failures, instrumentation faults, EXPLAIN plans at debug level.
// Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracerProvider sets a custom tracer provider for per-query spans.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider for duration and in-flight
// metrics. If not called, the global provider from otel.GetMeterProvider()
// is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithDBSystem sets the database system identifier ("postgresql", "mysql",
// "sqlite", ...) added to spans and metrics.
func WithDBSystem(system string) Option {
	return func(o *options) {
		o.dbSystem = system
	}
}

// WithDBName sets the logical database name added to spans and metrics.
func WithDBName(name string) Option {
	return func(o *options) {
		o.dbName = name
	}
}
