package config

const (
	// Database configuration
	DSN      = "file:sqltap-demo.db?_pragma=busy_timeout(5000)"
	DBSystem = "sqlite"
	DBName   = "demo"
	MaxOpen  = 5
	MaxIdle  = 5

	// Audit trail configuration
	AuditPath   = "sqltap-demo.ndjson"
	RotateBytes = 1 << 20
	RetainCount = 2

	// Server configuration
	MetricsAddr = ":2112"

	// Operation interval
	TickSeconds = 2
)
