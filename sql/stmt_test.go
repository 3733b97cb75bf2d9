package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStmt_LegacyDriverFallback(t *testing.T) {
	t.Run("given driver without context support, then exec still runs and is counted once", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &legacyConn{affected: 1}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		res, err := db.ExecContext(context.Background(), "UPDATE t SET v = 1")

		require.NoError(t, err)
		affected, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		assert.Equal(t, []string{"UPDATE t SET v = 1"}, conn.prepared)
		assert.Equal(t, []string{"UPDATE t SET v = 1"}, conn.execs)
		assert.Equal(t, uint64(1), mon.Stats().Total, "prepared-path retry must count once")
	})

	t.Run("given driver without context support, then query rows flow through", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &legacyConn{
			cols: []string{"v"},
			data: [][]driver.Value{{int64(1)}, {int64(2)}},
		}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		rows, err := db.QueryContext(context.Background(), "SELECT v FROM t")
		require.NoError(t, err)

		var got []int64
		for rows.Next() {
			var v int64
			require.NoError(t, rows.Scan(&v))
			got = append(got, v)
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())

		assert.Equal(t, []int64{1, 2}, got)
		snap := mon.Stats()
		assert.Equal(t, uint64(1), snap.Total)
		require.Len(t, snap.TopByCount, 1)
		assert.Equal(t, int64(2), snap.TopByCount[0].LastRows)
	})

	t.Run("given named parameter and legacy driver, then a clear error surfaces", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &legacyConn{}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.ExecContext(context.Background(), "UPDATE t SET v = :v", sql.Named("v", 5))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Named Parameters")
		assert.Empty(t, conn.execs, "statement must not reach the driver")
	})
}

func TestStmt_ErrSkipRetry(t *testing.T) {
	t.Run("given conn that skips direct calls, then prepared retry is counted once", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &errSkipConn{legacyConn: legacyConn{affected: 2}}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		res, err := db.ExecContext(context.Background(), "UPDATE t SET v = 1")

		require.NoError(t, err)
		affected, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(2), affected)

		assert.GreaterOrEqual(t, conn.skips.Load(), int64(1))
		assert.Equal(t, []string{"UPDATE t SET v = 1"}, conn.execs)
		assert.Equal(t, uint64(1), mon.Stats().Total, "skipped direct call must not be recorded")
	})

	t.Run("given conn that skips direct queries, then rows come from the prepared path", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &errSkipConn{legacyConn: legacyConn{
			cols: []string{"v"},
			data: [][]driver.Value{{int64(7)}},
		}}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		rows, err := db.QueryContext(context.Background(), "SELECT v FROM t")
		require.NoError(t, err)
		require.True(t, rows.Next())
		var v int64
		require.NoError(t, rows.Scan(&v))
		assert.False(t, rows.Next())
		require.NoError(t, rows.Close())

		assert.Equal(t, int64(7), v)
		assert.Equal(t, uint64(1), mon.Stats().Total)
	})
}

func TestStmt_PreparedReuse(t *testing.T) {
	t.Run("given prepared statement, then each execution is counted", func(t *testing.T) {
		mon := newTestMonitor(t)
		conn := &fakeConn{affected: 1}
		db, err := openFake(conn, WithMonitor(mon))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		stmt, err := db.PrepareContext(context.Background(), "UPDATE t SET v = 1")
		require.NoError(t, err)
		t.Cleanup(func() { _ = stmt.Close() })

		for i := 0; i < 3; i++ {
			_, err := stmt.ExecContext(context.Background())
			require.NoError(t, err)
		}

		snap := mon.Stats()
		assert.Equal(t, uint64(3), snap.Total)
		require.Len(t, snap.TopByCount, 1)
		assert.Equal(t, uint64(3), snap.TopByCount[0].Count)
	})
}

func TestTapStmt_ContextCancellation(t *testing.T) {
	t.Run("given cancelled context and legacy statement, then driver is never called", func(t *testing.T) {
		mon := newTestMonitor(t)
		var calls int
		inner := &legacyStmt{exec: func(string) error { calls++; return nil }}
		st := newTapStmt(inner, mon, "UPDATE t SET v = 1")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := st.ExecContext(ctx, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
		assert.Zero(t, mon.Stats().InFlight)
	})
}

func TestTapStmt_DeprecatedEntrypoints(t *testing.T) {
	t.Run("given legacy Exec call, then execution is still observed", func(t *testing.T) {
		mon := newTestMonitor(t)
		executed := false
		inner := &legacyStmt{exec: func(string) error { executed = true; return nil }}
		st := newTapStmt(inner, mon, "UPDATE t SET v = 1")

		_, err := st.Exec([]driver.Value{})

		require.NoError(t, err)
		assert.True(t, executed)
		assert.Equal(t, uint64(1), mon.Stats().Total)
	})

	t.Run("given legacy Query call, then execution is still observed", func(t *testing.T) {
		mon := newTestMonitor(t)
		inner := &legacyStmt{
			exec: func(string) error { return nil },
			cols: []string{"v"},
		}
		st := newTapStmt(inner, mon, "SELECT v FROM t")

		rows, err := st.Query([]driver.Value{})

		require.NoError(t, err)
		require.NotNil(t, rows)
		assert.Equal(t, uint64(1), mon.Stats().Total)
	})
}

func TestTapConn_CheckNamedValue(t *testing.T) {
	t.Run("given conn without checker, then default conversion is requested", func(t *testing.T) {
		mon := newTestMonitor(t)
		c := newTapConn(&legacyConn{}, mon)

		err := c.CheckNamedValue(&driver.NamedValue{Ordinal: 1, Value: 1})

		assert.ErrorIs(t, err, driver.ErrSkip)
	})
}
