package database

import (
	"context"
)

// CreateSchema creates the accounts table if it does not exist.
func (db *DB) CreateSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			email TEXT NOT NULL,
			balance REAL NOT NULL DEFAULT 0
		)
	`
	_, err := db.ExecContext(ctx, query)
	return err
}

// Seed inserts the demo accounts. Emails land masked in the audit trail.
func (db *DB) Seed(ctx context.Context) error {
	accounts := []struct {
		ID      int64
		Owner   string
		Email   string
		Balance float64
	}{
		{1, "Alice", "alice@example.com", 120.50},
		{2, "Bob", "bob@example.com", 85.00},
		{3, "Charlie", "charlie@example.com", 310.75},
	}

	for _, a := range accounts {
		_, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO accounts(id, owner, email, balance) VALUES(?, ?, ?, ?)",
			a.ID, a.Owner, a.Email, a.Balance,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// List scans all accounts and logs the count.
func (db *DB) List(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, "SELECT id, owner, balance FROM accounts ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id      int64
			owner   string
			balance float64
		)
		if err := rows.Scan(&id, &owner, &balance); err != nil {
			return err
		}
		count++
	}
	db.log.Info().Int("accounts", count).Msg("listed accounts")
	return rows.Err()
}

// BurnCPU runs a deliberately heavy recursive query so the slow path,
// including asynchronous EXPLAIN capture, has something to chew on.
func (db *DB) BurnCPU(ctx context.Context) error {
	query := `
		WITH RECURSIVE cnt(x) AS (
			SELECT 1 UNION ALL SELECT x + 1 FROM cnt WHERE x < 200000
		)
		SELECT count(*) FROM cnt
	`
	var total int64
	if err := db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return err
	}
	db.log.Debug().Int64("rows", total).Msg("heavy scan finished")
	return nil
}

// InsertDuplicate violates the primary key on purpose, feeding the error
// counters and the audit trail's error lines.
func (db *DB) InsertDuplicate(ctx context.Context) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO accounts(id, owner, email, balance) VALUES(?, ?, ?, ?)",
		int64(1), "Mallory", "mallory@example.com", 0.0,
	)
	return err
}
