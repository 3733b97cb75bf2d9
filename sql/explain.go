package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// explainTimeout bounds a single plan capture round trip.
	explainTimeout = 2 * time.Second

	// maxPlanBytes caps the stored plan text per fingerprint.
	maxPlanBytes = 1024
)

// QueryerDB is the read surface needed for plan capture. *sql.DB satisfies
// it; pass an uninstrumented handle so EXPLAIN traffic does not feed back
// into the monitor's own statistics.
type QueryerDB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// explainRunner captures EXPLAIN output for slow SELECTs in the background.
// Captures are rate limited and deduplicated by fingerprint so a burst of
// identical slow queries costs at most one round trip. All methods are safe
// on a nil receiver, which stands for plan capture being disabled.
type explainRunner struct {
	m       *Monitor
	group   singleflight.Group
	limiter *rate.Limiter
	wg      sync.WaitGroup
	closed  atomic.Bool

	mu         sync.Mutex
	driverName string
	dsn        string
	db         QueryerDB
	owned      *sql.DB
}

func newExplainRunner(m *Monitor) *explainRunner {
	return &explainRunner{
		m:       m,
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// setSource records where a lazily opened handle would come from. The first
// Open wins; a monitor shared across databases captures plans against the
// first one it saw.
func (r *explainRunner) setSource(driverName, dsn string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driverName == "" {
		r.driverName = driverName
		r.dsn = dsn
	}
}

// setDB installs a caller-provided handle, which takes precedence over the
// lazily opened one.
func (r *explainRunner) setDB(db QueryerDB) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db = db
}

// maybeRun schedules a plan capture for the fingerprint if the rate limiter
// permits one. The raw statement runs with its original arguments; only the
// plan text is retained.
func (r *explainRunner) maybeRun(fingerprint, rawSQL string, args []driver.NamedValue) {
	if r == nil || r.closed.Load() || !r.limiter.Allow() {
		return
	}

	// Copy the arguments now: drivers may reuse the backing slice once the
	// original call returns.
	expanded := make([]any, 0, len(args))
	for _, a := range args {
		if a.Name != "" {
			expanded = append(expanded, sql.Named(a.Name, a.Value))
		} else {
			expanded = append(expanded, a.Value)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.m.recoverFault()
		r.run(fingerprint, rawSQL, expanded)
	}()
}

func (r *explainRunner) run(fingerprint, rawSQL string, args []any) {
	v, err, _ := r.group.Do(fingerprint, func() (any, error) {
		db, err := r.handle()
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), explainTimeout)
		defer cancel()

		rows, err := db.QueryContext(ctx, "EXPLAIN "+rawSQL, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		plan, err := formatPlanRows(rows)
		if err != nil {
			return nil, err
		}
		return plan, nil
	})
	if err != nil {
		r.m.log.Debug().Err(err).Str("fingerprint", fingerprint).Msg("explain capture failed")
		return
	}

	plan, _ := v.(string)
	if plan == "" {
		return
	}
	r.m.rollups.setPlan(fingerprint, plan)
	r.m.log.Debug().Str("fingerprint", fingerprint).Msg("captured query plan")
}

// handle returns the database handle for plan capture, opening a private
// single-connection one on first use when the caller did not supply any.
func (r *explainRunner) handle() (QueryerDB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, errors.New("explain runner closed")
	}
	if r.db != nil {
		return r.db, nil
	}
	if r.owned != nil {
		return r.owned, nil
	}
	if r.driverName == "" {
		return nil, errors.New("no explain source configured")
	}

	db, err := sql.Open(r.driverName, r.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	r.owned = db
	return db, nil
}

func (r *explainRunner) close() error {
	if r == nil {
		return nil
	}
	r.closed.Store(true)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owned != nil {
		err := r.owned.Close()
		r.owned = nil
		return err
	}
	return nil
}

// formatPlanRows renders an EXPLAIN result set as text, one row per line
// with columns separated by " | ". Database-specific plan shapes vary too
// much to model, so the rendering is deliberately generic.
func formatPlanRows(rows *sql.Rows) (string, error) {
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		for i, v := range vals {
			if i > 0 {
				b.WriteString(" | ")
			}
			switch tv := v.(type) {
			case nil:
				b.WriteString("NULL")
			case []byte:
				b.Write(tv)
			default:
				fmt.Fprintf(&b, "%v", tv)
			}
		}
		if b.Len() > maxPlanBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	return truncateSQL(b.String(), maxPlanBytes), nil
}
