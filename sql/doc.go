// Package sql observes every query that flows through a database/sql
// handle: classification, latency aggregation, per-shape rollups, an NDJSON
// audit trail, and OpenTelemetry tracing and metrics.
//
// # Features
//
//   - Driver-level capture: wrap once, observe Exec, Query, and prepared
//     statements on every connection
//   - Query classification with stable fingerprints per statement shape
//   - Latency histogram with p50/p95/p99, per-shape rollups, slow and
//     failing query detection
//   - NDJSON audit trail with size-based rotation and masked parameters
//   - Async EXPLAIN capture for slow SELECTs
//   - OpenTelemetry span per query plus duration and error metrics
//   - Prometheus collector and connection pool gauges
//   - Full compatibility with the database/sql interface
//
// # Quick Start
//
// Open a database handle with instrumentation:
//
//	import tapsql "github.com/meridian-labs/sqltap-go/sql"
//
//	mon, err := tapsql.NewMonitor(
//	    tapsql.WithSlowQueryThreshold(100*time.Millisecond),
//	    tapsql.WithAuditFile("/var/log/app/queries.ndjson"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mon.Close()
//
//	db, err := tapsql.Open("postgres", dsn,
//	    tapsql.WithMonitor(mon),
//	    tapsql.WithDBSystem("postgresql"),
//	    tapsql.WithDBName("myapp"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Use like standard *sql.DB
//	rows, err := db.QueryContext(ctx, "SELECT * FROM users WHERE org_id = $1", orgID)
//
// Aggregates are available at any time:
//
//	snap := mon.Stats()
//	fmt.Printf("%d queries, p95 %.1fms, %d slow\n", snap.Total, snap.P95MS, snap.Slow)
//
// # Driver Registration
//
// For more control, register a wrapped driver:
//
//	wrapped, err := tapsql.WrapDriver(pq.Driver{}, tapsql.WithMonitor(mon))
//	sql.Register("postgres-tap", wrapped)
//
//	db, _ := sql.Open("postgres-tap", dsn)
//
// # Configuration
//
// Options cover thresholds, the audit trail, and cardinality bounds:
//
//	db, _ := tapsql.Open("postgres", dsn,
//	    tapsql.WithSlowQueryThreshold(250*time.Millisecond), // slow cutoff
//	    tapsql.WithLogEveryQuery(),                          // audit all queries
//	    tapsql.WithLogParams(),                              // masked params on audit lines
//	    tapsql.WithRotation(10<<20, 3),                      // rotate at 10MiB, keep 3
//	    tapsql.WithMaxFingerprints(512),                     // rollup cardinality bound
//	)
//
// The same settings can come from SQLTAP_* environment variables via
// ConfigFromEnv.
//
// # Audit Trail
//
// With an audit file set, failing and slow queries (all queries with
// WithLogEveryQuery) are appended as one JSON object per line:
//
//	{"ts":"2025-11-03T10:22:41Z","kind":"slow","duration_ms":412.7,
//	 "type":"SELECT","table":"orders","fingerprint":"q_8c1d2ab0",
//	 "query":"SELECT * FROM ORDERS WHERE STATUS = ?","rows":208}
//
// Writes happen on a background consumer; a full queue drops lines rather
// than slowing queries down, and the dropped count is reported in Stats.
//
// # Observability
//
// Traces carry one client span per query with db.system, db.name,
// db.operation, db.sql.table, db.statement (normalized), and
// db.query.fingerprint attributes.
//
// Metrics:
//   - db.client.operation.duration (histogram by operation and status)
//   - db.client.operation.errors (counter)
//   - connection pool gauges via RecordPoolMetrics
//
// A Prometheus Collector over the same aggregates is available through
// NewCollector.
package sql
