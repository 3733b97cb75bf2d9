package sql

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// TestIntegration_SQLite drives a real driver end to end: DDL, writes, reads,
// a constraint violation, a prepared statement, and a transaction, then checks
// the aggregates, the audit trail, and the captured plan against what ran.
func TestIntegration_SQLite(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "queries.ndjson")
	mon := newTestMonitor(t,
		WithSlowQueryThreshold(time.Nanosecond),
		WithAuditFile(auditPath),
		WithLogEveryQuery(),
		WithLogParams(),
		WithSlowExplain(),
	)

	dsn := "file:" + filepath.Join(t.TempDir(), "it.db") + "?_pragma=busy_timeout(10000)"
	db, err := Open("sqlite", dsn,
		WithMonitor(mon),
		WithDBSystem("sqlite"),
		WithDBName("it"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, "CREATE TABLE ledgers (id INTEGER PRIMARY KEY, amount REAL, note TEXT)")
	require.NoError(t, err)

	insertSQL := "INSERT INTO ledgers(id, amount, note) VALUES(?, ?, ?)"
	for i := 1; i <= 3; i++ {
		_, err := db.ExecContext(ctx, insertSQL, i, float64(i)*1.5, fmt.Sprintf("n%d", i))
		require.NoError(t, err)
	}

	selectSQL := "SELECT id, amount, note FROM ledgers ORDER BY id"
	rows, err := db.QueryContext(ctx, selectSQL)
	require.NoError(t, err)
	var scanned int
	for rows.Next() {
		var (
			id     int64
			amount float64
			note   string
		)
		require.NoError(t, rows.Scan(&id, &amount, &note))
		scanned++
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, 3, scanned)

	// The captured plan lands asynchronously once the slow SELECT finishes.
	selectFP := Classify(selectSQL).Fingerprint
	require.Eventually(t, func() bool {
		_, _, slowest, _ := mon.rollups.snapshot(10)
		for _, r := range slowest {
			if r.Fingerprint == selectFP && r.LastPlan != "" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "EXPLAIN output never captured")

	_, err = db.ExecContext(ctx, insertSQL, 1, 0.0, "dup")
	require.Error(t, err)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, StatementInsert, qe.Type)
	assert.Equal(t, "ledgers", qe.Table)
	assert.Contains(t, strings.ToLower(err.Error()), "constraint")

	res, err := db.ExecContext(WithTraceID(ctx, "req-42"), "UPDATE ledgers SET amount = amount + 1")
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	stmt, err := db.PrepareContext(ctx, "SELECT note FROM ledgers WHERE id = ?")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stmt.Close() })
	var note string
	require.NoError(t, stmt.QueryRowContext(ctx, 2).Scan(&note))
	assert.Equal(t, "n2", note)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, insertSQL, 100, 4.5, "wire")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	snap := mon.Stats()
	assert.Equal(t, uint64(9), snap.Total)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(9), snap.Slow, "nanosecond threshold marks everything slow")
	assert.Equal(t, 5, snap.Fingerprints)
	assert.Zero(t, snap.InFlight)

	insertFP := Classify(insertSQL).Fingerprint
	insertRollup := findRollup(t, snap.TopByCount, insertFP)
	assert.Equal(t, uint64(5), insertRollup.Count, "three seeds, one duplicate, one in the transaction")
	assert.Equal(t, uint64(1), insertRollup.Errors)

	selectRollup := findRollup(t, snap.TopByCount, selectFP)
	assert.Equal(t, int64(3), selectRollup.LastRows)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(auditPath)
		return err == nil && strings.Count(string(data), "\n") == 9
	}, 5*time.Second, 10*time.Millisecond, "audit trail incomplete")

	lines := readAuditLines(t, auditPath)
	require.Len(t, lines, 9)

	assert.Equal(t, StatementDDL, lines[0].Type)
	assert.Equal(t, auditKindSlow, lines[0].Kind)

	var errorLine, updateLine, txInsertLine *auditRecord
	for i := range lines {
		switch {
		case lines[i].Kind == auditKindError:
			errorLine = &lines[i]
		case lines[i].Type == StatementUpdate:
			updateLine = &lines[i]
		case lines[i].Type == StatementInsert:
			txInsertLine = &lines[i]
		}
	}

	require.NotNil(t, errorLine)
	assert.Contains(t, strings.ToLower(errorLine.Error), "constraint")
	assert.Nil(t, errorLine.Params, "error lines must not carry parameters")

	require.NotNil(t, updateLine)
	assert.Equal(t, "req-42", updateLine.TraceID)
	require.NotNil(t, updateLine.Rows)
	assert.Equal(t, int64(3), *updateLine.Rows)

	require.NotNil(t, txInsertLine, "last insert seen wins")
	assert.Equal(t, []any{float64(100), 4.5, "wire"}, txInsertLine.Params)

	_, err = time.Parse(time.RFC3339Nano, lines[0].TS)
	assert.NoError(t, err)
}
