package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
)

// Compile-time interface checks.
var (
	_ driver.Driver        = (*tapDriver)(nil)
	_ driver.DriverContext = (*tapDriver)(nil)
	_ driver.Connector     = (*tapConnector)(nil)
	_ driver.Connector     = (*dsnConnector)(nil)
)

// Driver registration state.
// Go's sql.Register is process-wide and panics on duplicate names.
// Registrations are tracked here and reused for repeat opens.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]*tapDriver)
)

// Open wraps the named driver and opens a database handle through it.
// It returns a standard *sql.DB that is fully compatible with database/sql;
// every statement run through it is classified, timed, and aggregated.
//
// A monitor passed via WithMonitor is shared across handles and exposes
// Stats. Without one, Open builds a private monitor from the remaining
// options; its aggregates are still written to the audit file and exported
// through OpenTelemetry, but Stats snapshots are not reachable.
//
// Example:
//
//	mon, err := tapsql.NewMonitor(tapsql.WithSlowQueryThreshold(100 * time.Millisecond))
//	db, err := tapsql.Open("postgres", dsn,
//	    tapsql.WithMonitor(mon),
//	    tapsql.WithDBSystem("postgresql"),
//	    tapsql.WithDBName("orders"),
//	)
func Open(driverName, dsn string, opts ...Option) (*sql.DB, error) {
	o := newOptions(opts...)

	mon := o.monitor
	if mon == nil {
		var err error
		mon, err = newMonitor(o)
		if err != nil {
			return nil, err
		}
	} else if mon.closed.Load() {
		return nil, ErrMonitorClosed
	}

	// The monitor ID keys the registration: each monitor carries its own
	// aggregation state, so two monitors over the same driver must not
	// share a wrapped driver entry.
	wrappedName := fmt.Sprintf("sqltap:%s:%s", driverName, mon.ID())

	registryMu.RLock()
	_, exists := registry[wrappedName]
	registryMu.RUnlock()

	if !exists {
		// Borrow a handle to reach the underlying driver value.
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		original := db.Driver()
		db.Close()

		wrapped := &tapDriver{driver: original, mon: mon}

		registryMu.Lock()
		// Double-check after acquiring write lock
		if _, exists := registry[wrappedName]; !exists {
			registry[wrappedName] = wrapped
			sql.Register(wrappedName, wrapped)
		}
		registryMu.Unlock()
	}

	mon.explain.setSource(driverName, dsn)

	return sql.Open(wrappedName, dsn)
}

// WrapDriver wraps a driver.Driver with query instrumentation. Use this
// when you need to control driver registration yourself. An already
// wrapped driver is returned unchanged.
//
// Example:
//
//	wrapped, err := tapsql.WrapDriver(myDriver, tapsql.WithMonitor(mon))
//	sql.Register("tapsql-postgres", wrapped)
func WrapDriver(d driver.Driver, opts ...Option) (driver.Driver, error) {
	if _, ok := d.(*tapDriver); ok {
		return d, nil
	}

	o := newOptions(opts...)
	mon := o.monitor
	if mon == nil {
		var err error
		mon, err = newMonitor(o)
		if err != nil {
			return nil, err
		}
	} else if mon.closed.Load() {
		return nil, ErrMonitorClosed
	}
	return &tapDriver{driver: d, mon: mon}, nil
}

// Register wraps the driver and registers it under the given name.
//
// Example:
//
//	err := tapsql.Register("tapsql-postgres", pgDriver, tapsql.WithMonitor(mon))
//	db, _ := sql.Open("tapsql-postgres", dsn)
func Register(name string, d driver.Driver, opts ...Option) error {
	wrapped, err := WrapDriver(d, opts...)
	if err != nil {
		return err
	}
	sql.Register(name, wrapped)
	return nil
}

// tapDriver wraps a driver.Driver, attaching every connection it opens to
// the monitor.
type tapDriver struct {
	driver driver.Driver
	mon    *Monitor
}

// Open implements driver.Driver.
func (d *tapDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.driver.Open(name)
	if err != nil {
		return nil, err
	}
	return newTapConn(conn, d.mon), nil
}

// OpenConnector implements driver.DriverContext.
func (d *tapDriver) OpenConnector(name string) (driver.Connector, error) {
	if dc, ok := d.driver.(driver.DriverContext); ok {
		connector, err := dc.OpenConnector(name)
		if err != nil {
			return nil, err
		}
		return &tapConnector{
			connector: connector,
			driver:    d,
		}, nil
	}
	// Fallback for drivers that don't implement DriverContext
	return &dsnConnector{
		dsn:    name,
		driver: d,
	}, nil
}

// tapConnector wraps a driver.Connector with instrumentation.
type tapConnector struct {
	connector driver.Connector
	driver    *tapDriver
}

// Connect implements driver.Connector.
func (c *tapConnector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return newTapConn(conn, c.driver.mon), nil
}

// Driver implements driver.Connector.
func (c *tapConnector) Driver() driver.Driver {
	return c.driver
}

// dsnConnector is a fallback connector for drivers that don't implement DriverContext.
type dsnConnector struct {
	dsn    string
	driver *tapDriver
}

// Connect implements driver.Connector.
func (c *dsnConnector) Connect(_ context.Context) (driver.Conn, error) {
	conn, err := c.driver.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return newTapConn(conn, c.driver.mon), nil
}

// Driver implements driver.Connector.
func (c *dsnConnector) Driver() driver.Driver {
	return c.driver
}
