package sql

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Type(t *testing.T) {
	type args struct {
		query string
	}

	tests := []struct {
		name     string
		args     args
		wantType StatementType
	}{
		{
			name:     "given SELECT, then classifies as SELECT",
			args:     args{query: "SELECT * FROM users WHERE id = 1"},
			wantType: StatementSelect,
		},
		{
			name:     "given lowercase select, then classifies as SELECT",
			args:     args{query: "select id from users"},
			wantType: StatementSelect,
		},
		{
			name:     "given WITH CTE, then classifies as SELECT",
			args:     args{query: "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent"},
			wantType: StatementSelect,
		},
		{
			name:     "given SHOW, then classifies as SELECT",
			args:     args{query: "SHOW TABLES"},
			wantType: StatementSelect,
		},
		{
			name:     "given EXPLAIN, then classifies as SELECT",
			args:     args{query: "EXPLAIN SELECT * FROM users"},
			wantType: StatementSelect,
		},
		{
			name:     "given DESCRIBE, then classifies as SELECT",
			args:     args{query: "DESCRIBE users"},
			wantType: StatementSelect,
		},
		{
			name:     "given INSERT, then classifies as INSERT",
			args:     args{query: "INSERT INTO users (name) VALUES ('ann')"},
			wantType: StatementInsert,
		},
		{
			name:     "given REPLACE, then classifies as INSERT",
			args:     args{query: "REPLACE INTO users (id, name) VALUES (1, 'ann')"},
			wantType: StatementInsert,
		},
		{
			name:     "given UPDATE, then classifies as UPDATE",
			args:     args{query: "UPDATE users SET name = 'bo' WHERE id = 2"},
			wantType: StatementUpdate,
		},
		{
			name:     "given DELETE, then classifies as DELETE",
			args:     args{query: "DELETE FROM users WHERE id = 3"},
			wantType: StatementDelete,
		},
		{
			name:     "given CREATE TABLE, then classifies as DDL",
			args:     args{query: "CREATE TABLE users (id INT)"},
			wantType: StatementDDL,
		},
		{
			name:     "given ALTER TABLE, then classifies as DDL",
			args:     args{query: "ALTER TABLE users ADD COLUMN email TEXT"},
			wantType: StatementDDL,
		},
		{
			name:     "given DROP TABLE, then classifies as DDL",
			args:     args{query: "DROP TABLE IF EXISTS users"},
			wantType: StatementDDL,
		},
		{
			name:     "given TRUNCATE, then classifies as DDL",
			args:     args{query: "TRUNCATE TABLE audit_log"},
			wantType: StatementDDL,
		},
		{
			name:     "given leading block comment, then classifies the statement behind it",
			args:     args{query: "/* service:billing */ SELECT 1"},
			wantType: StatementSelect,
		},
		{
			name:     "given leading line comment, then classifies the statement behind it",
			args:     args{query: "-- retry\nUPDATE users SET active = 1"},
			wantType: StatementUpdate,
		},
		{
			name:     "given unknown statement, then classifies as OTHER",
			args:     args{query: "VACUUM"},
			wantType: StatementOther,
		},
		{
			name:     "given empty string, then classifies as OTHER",
			args:     args{query: ""},
			wantType: StatementOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.args.query)
			assert.Equal(t, tt.wantType, got.Type)
		})
	}
}

func TestClassify_Table(t *testing.T) {
	type args struct {
		query string
	}

	tests := []struct {
		name      string
		args      args
		wantTable string
	}{
		{
			name:      "given simple SELECT, then extracts FROM table",
			args:      args{query: "SELECT * FROM users WHERE id = 1"},
			wantTable: "users",
		},
		{
			name:      "given DELETE, then extracts FROM table",
			args:      args{query: "DELETE FROM sessions WHERE expired = 1"},
			wantTable: "sessions",
		},
		{
			name:      "given INSERT, then extracts INTO table",
			args:      args{query: "INSERT INTO orders (total) VALUES (9.99)"},
			wantTable: "orders",
		},
		{
			name:      "given UPDATE, then extracts target table",
			args:      args{query: "UPDATE accounts SET balance = 0"},
			wantTable: "accounts",
		},
		{
			name:      "given UPDATE LOW_PRIORITY IGNORE, then extracts target table",
			args:      args{query: "UPDATE LOW_PRIORITY IGNORE accounts SET balance = 0"},
			wantTable: "accounts",
		},
		{
			name:      "given CREATE TABLE IF NOT EXISTS, then extracts table",
			args:      args{query: "CREATE TABLE IF NOT EXISTS metrics (v REAL)"},
			wantTable: "metrics",
		},
		{
			name:      "given DROP TABLE IF EXISTS, then extracts table",
			args:      args{query: "DROP TABLE IF EXISTS metrics"},
			wantTable: "metrics",
		},
		{
			name:      "given schema-qualified table, then keeps qualification",
			args:      args{query: "SELECT * FROM billing.invoices"},
			wantTable: "billing.invoices",
		},
		{
			name:      "given backtick-quoted table, then strips quotes",
			args:      args{query: "SELECT * FROM `users`"},
			wantTable: "users",
		},
		{
			name:      "given multi-table FROM list, then refuses to pick one",
			args:      args{query: "SELECT * FROM a, b WHERE a.id = b.id"},
			wantTable: "",
		},
		{
			name:      "given FROM inside a string literal, then ignores it",
			args:      args{query: "SELECT 'from evil' FROM t"},
			wantTable: "t",
		},
		{
			name:      "given statement without table, then returns empty",
			args:      args{query: "SELECT 1 + 1"},
			wantTable: "",
		},
		{
			name:      "given OTHER statement, then returns empty",
			args:      args{query: "VACUUM"},
			wantTable: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.args.query)
			assert.Equal(t, tt.wantTable, got.Table)
		})
	}
}

func TestNormalizeSQL(t *testing.T) {
	type args struct {
		query string
	}

	tests := []struct {
		name      string
		args      args
		wantQuery string
	}{
		{
			name:      "given numeric literal, then replaces with placeholder",
			args:      args{query: "SELECT * FROM users WHERE id = 123"},
			wantQuery: "SELECT * FROM USERS WHERE ID = ?",
		},
		{
			name:      "given string literal, then replaces with placeholder",
			args:      args{query: "SELECT * FROM users WHERE name = 'john'"},
			wantQuery: "SELECT * FROM USERS WHERE NAME = ?",
		},
		{
			name:      "given escaped quote inside literal, then replaces whole literal",
			args:      args{query: `SELECT * FROM users WHERE name = 'it\'s'`},
			wantQuery: "SELECT * FROM USERS WHERE NAME = ?",
		},
		{
			name:      "given float literal, then replaces with placeholder",
			args:      args{query: "SELECT * FROM products WHERE price = 19.99"},
			wantQuery: "SELECT * FROM PRODUCTS WHERE PRICE = ?",
		},
		{
			name:      "given hex literal, then replaces with placeholder",
			args:      args{query: "SELECT * FROM users WHERE id = 0xDEADBEEF"},
			wantQuery: "SELECT * FROM USERS WHERE ID = ?",
		},
		{
			name:      "given numbered placeholders, then folds to question marks",
			args:      args{query: "SELECT * FROM users WHERE id IN ($1, $2, $3)"},
			wantQuery: "SELECT * FROM USERS WHERE ID IN (?, ?, ?)",
		},
		{
			name:      "given block comment, then strips it",
			args:      args{query: "SELECT /* hint */ id FROM users"},
			wantQuery: "SELECT ID FROM USERS",
		},
		{
			name:      "given trailing line comment, then strips it",
			args:      args{query: "SELECT id FROM users -- all of them"},
			wantQuery: "SELECT ID FROM USERS",
		},
		{
			name:      "given hash comment, then strips it",
			args:      args{query: "SELECT id FROM users # mysql style"},
			wantQuery: "SELECT ID FROM USERS",
		},
		{
			name:      "given ragged whitespace, then collapses it",
			args:      args{query: "SELECT\n\tid\n FROM   users"},
			wantQuery: "SELECT ID FROM USERS",
		},
		{
			name:      "given identifier with digits, then keeps it intact",
			args:      args{query: "SELECT col1 FROM t2"},
			wantQuery: "SELECT COL1 FROM T2",
		},
		{
			name:      "given empty query, then returns empty",
			args:      args{query: ""},
			wantQuery: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSQL(tt.args.query)
			assert.Equal(t, tt.wantQuery, got)
		})
	}
}

func TestFingerprint_Stability(t *testing.T) {
	t.Run("given same shape with different literals, then fingerprints match", func(t *testing.T) {
		a := Classify("SELECT * FROM users WHERE id = 1")
		b := Classify("SELECT * FROM users WHERE id = 982734")
		c := Classify("select  *  from users where id = 'x'")

		require.NotEmpty(t, a.Fingerprint)
		assert.Equal(t, a.Fingerprint, b.Fingerprint)
		assert.Equal(t, a.Fingerprint, c.Fingerprint)
	})

	t.Run("given different shapes, then fingerprints differ", func(t *testing.T) {
		a := Classify("SELECT * FROM users WHERE id = 1")
		b := Classify("SELECT * FROM orders WHERE id = 1")

		assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	})

	t.Run("given any query, then fingerprint has the q_ hex form", func(t *testing.T) {
		form := regexp.MustCompile(`^q_[0-9a-f]{8}$`)

		assert.Regexp(t, form, Fingerprint(""))
		assert.Regexp(t, form, Classify("SELECT 1").Fingerprint)
		assert.Regexp(t, form, Classify("no sql at all").Fingerprint)
	})
}

func TestFingerprint_NoCollisionsAcrossShapes(t *testing.T) {
	t.Run("given a thousand distinct shapes, then no fingerprints collide", func(t *testing.T) {
		seen := make(map[string]string, 1200)

		record := func(query string) {
			cls := Classify(query)
			if prev, ok := seen[cls.Fingerprint]; ok {
				require.Equal(t, prev, cls.Normalized,
					"fingerprint %s collides across shapes", cls.Fingerprint)
				return
			}
			seen[cls.Fingerprint] = cls.Normalized
		}

		for i := 0; i < 400; i++ {
			record(fmt.Sprintf("SELECT c%d FROM table_%d WHERE k = ?", i, i))
			record(fmt.Sprintf("INSERT INTO table_%d (a, b) VALUES (?, ?)", i))
		}
		for i := 0; i < 200; i++ {
			record(fmt.Sprintf("UPDATE shard_%d SET v = ? WHERE id = ?", i))
		}

		assert.GreaterOrEqual(t, len(seen), 1000)
	})
}

func TestSpanName(t *testing.T) {
	type args struct {
		query string
	}

	tests := []struct {
		name     string
		args     args
		wantName string
	}{
		{
			name:     "given SELECT query, then returns SELECT",
			args:     args{query: "SELECT * FROM users WHERE id = 1"},
			wantName: "SELECT",
		},
		{
			name:     "given INSERT query, then returns INSERT",
			args:     args{query: "INSERT INTO users (name) VALUES ('test')"},
			wantName: "INSERT",
		},
		{
			name:     "given empty query, then returns SQL default",
			args:     args{query: ""},
			wantName: "SQL",
		},
		{
			name:     "given whitespace only, then returns SQL default",
			args:     args{query: "   "},
			wantName: "SQL",
		},
		{
			name:     "given lowercase query, then returns uppercase operation",
			args:     args{query: "select * from users"},
			wantName: "SELECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := spanName(tt.args.query)
			assert.Equal(t, tt.wantName, got)
		})
	}
}

func TestExtractOperation(t *testing.T) {
	type args struct {
		query string
	}

	tests := []struct {
		name          string
		args          args
		wantOperation string
	}{
		{
			name:          "given SELECT statement, then returns SELECT",
			args:          args{query: "SELECT id FROM users"},
			wantOperation: "SELECT",
		},
		{
			name:          "given empty string, then returns empty string",
			args:          args{query: ""},
			wantOperation: "",
		},
		{
			name:          "given single word command, then returns that word uppercased",
			args:          args{query: "commit"},
			wantOperation: "COMMIT",
		},
		{
			name:          "given query with newline after operation, then returns operation",
			args:          args{query: "SELECT\n* FROM users"},
			wantOperation: "SELECT",
		},
		{
			name:          "given operation followed by parenthesis, then returns operation",
			args:          args{query: "VALUES(1)"},
			wantOperation: "VALUES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractOperation(tt.args.query)
			assert.Equal(t, tt.wantOperation, got)
		})
	}
}

func TestTruncateSQL(t *testing.T) {
	type args struct {
		s   string
		max int
	}

	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "given text within limit, then returns unchanged",
			args: args{s: "SELECT 1", max: 100},
			want: "SELECT 1",
		},
		{
			name: "given text over limit, then truncates with ellipsis",
			args: args{s: "SELECT something long", max: 6},
			want: "SELECT...",
		},
		{
			name: "given zero limit, then disables truncation",
			args: args{s: "SELECT something long", max: 0},
			want: "SELECT something long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateSQL(tt.args.s, tt.args.max)
			assert.Equal(t, tt.want, got)
		})
	}
}
