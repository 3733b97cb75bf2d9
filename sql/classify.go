package sql

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
)

// StatementType is the coarse classification of a SQL statement.
type StatementType string

const (
	StatementSelect StatementType = "SELECT"
	StatementInsert StatementType = "INSERT"
	StatementUpdate StatementType = "UPDATE"
	StatementDelete StatementType = "DELETE"
	StatementDDL    StatementType = "DDL"
	StatementOther  StatementType = "OTHER"
)

// Classification is the derived identity of a single SQL statement.
// Normalized is the literal-free shape used for grouping; Fingerprint
// is a stable short hash of that shape. Table is best-effort and empty
// when the primary table cannot be determined safely.
type Classification struct {
	Type        StatementType
	Table       string
	Normalized  string
	Fingerprint string
}

// Regex patterns for comment stripping and literal normalization.
var (
	// blockCommentRegex matches /* ... */ comments, including multi-line ones.
	blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// lineCommentRegex matches -- and # comments to end of line.
	lineCommentRegex = regexp.MustCompile(`(?m)(?:--|#)[^\n]*`)

	// stringLiteralRegex matches single-quoted strings, handling escaped quotes.
	// Example matches: 'hello', 'it\'s', 'foo''bar'
	stringLiteralRegex = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)

	// doubleQuotedRegex matches double-quoted strings, handling escaped quotes.
	doubleQuotedRegex = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

	// hexLiteralRegex matches hex literals.
	// Example matches: 0xDEADBEEF, 0xFF, 0x1a2b
	hexLiteralRegex = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)

	// numericLiteralRegex matches numeric literals (integers and floats).
	// Example matches: 123, 45.67, 0.5
	numericLiteralRegex = regexp.MustCompile(`\b\d+\.?\d*\b`)

	// bindPlaceholderRegex matches positional placeholders like $1 so that
	// drivers with numbered parameters group with ?-style drivers.
	bindPlaceholderRegex = regexp.MustCompile(`\$\d+`)

	// whitespaceRegex collapses runs of whitespace.
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// sqlIdent matches an optionally quoted, optionally schema-qualified identifier.
const sqlIdent = "[`\"]?([A-Za-z_][A-Za-z0-9_$]*(?:\\.[A-Za-z_][A-Za-z0-9_$]*)?)[`\"]?"

// Table extraction patterns, one per statement family. All best-effort.
var (
	fromTableRegex   = regexp.MustCompile(`(?is)\bFROM\s+` + sqlIdent)
	intoTableRegex   = regexp.MustCompile(`(?is)\bINTO\s+` + sqlIdent)
	updateTableRegex = regexp.MustCompile(`(?is)\bUPDATE\s+(?:LOW_PRIORITY\s+)?(?:IGNORE\s+)?` + sqlIdent)
	ddlTableRegex    = regexp.MustCompile(`(?is)\bTABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?` + sqlIdent)
)

// Classify derives type, primary table, normalized shape, and fingerprint
// from a raw SQL text. It never fails: unrecognizable input degrades to
// StatementOther with an empty table.
func Classify(query string) Classification {
	delit := replaceLiterals(stripComments(query))
	normalized := collapseCase(delit)
	typ := statementTypeOf(extractOperation(delit))
	return Classification{
		Type:        typ,
		Table:       extractTable(typ, delit),
		Normalized:  normalized,
		Fingerprint: Fingerprint(normalized),
	}
}

// NormalizeSQL strips comments and replaces literal values so that
// statements differing only in literals produce identical text.
//
// Example:
//
//	NormalizeSQL("SELECT * FROM users WHERE id = 123")
//	// returns "SELECT * FROM USERS WHERE ID = ?"
func NormalizeSQL(query string) string {
	return collapseCase(replaceLiterals(stripComments(query)))
}

// Fingerprint hashes a normalized statement shape into a short stable
// identifier of the form "q_" + 8 hex chars (32-bit FNV-1a).
func Fingerprint(normalized string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalized))
	return fmt.Sprintf("q_%08x", h.Sum32())
}

func stripComments(query string) string {
	query = blockCommentRegex.ReplaceAllString(query, " ")
	query = lineCommentRegex.ReplaceAllString(query, " ")
	return query
}

// replaceLiterals substitutes every literal value with ? while preserving
// case and spacing, so that table extraction still sees real identifiers.
func replaceLiterals(query string) string {
	query = stringLiteralRegex.ReplaceAllString(query, "?")
	query = doubleQuotedRegex.ReplaceAllString(query, "?")
	query = hexLiteralRegex.ReplaceAllString(query, "?")
	query = numericLiteralRegex.ReplaceAllString(query, "?")
	return bindPlaceholderRegex.ReplaceAllString(query, "?")
}

func collapseCase(query string) string {
	query = whitespaceRegex.ReplaceAllString(query, " ")
	return strings.ToUpper(strings.TrimSpace(query))
}

// statementTypeOf maps a leading keyword to a StatementType. CTEs and
// metadata commands that produce result sets count as SELECT; REPLACE
// counts as INSERT.
func statementTypeOf(op string) StatementType {
	switch op {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "DESCRIBE", "DESC":
		return StatementSelect
	case "INSERT", "REPLACE":
		return StatementInsert
	case "UPDATE":
		return StatementUpdate
	case "DELETE":
		return StatementDelete
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME":
		return StatementDDL
	default:
		return StatementOther
	}
}

// extractTable returns the primary table of a statement, or "" when it
// cannot be determined without guessing (multi-table FROM lists,
// subqueries, statements without a table clause).
func extractTable(typ StatementType, delit string) string {
	var re *regexp.Regexp
	switch typ {
	case StatementSelect, StatementDelete:
		re = fromTableRegex
	case StatementInsert:
		re = intoTableRegex
	case StatementUpdate:
		re = updateTableRegex
	case StatementDDL:
		re = ddlTableRegex
	default:
		return ""
	}

	m := re.FindStringSubmatchIndex(delit)
	if m == nil {
		return ""
	}
	table := delit[m[2]:m[3]]

	// A comma right after the identifier means a multi-table list; refuse
	// to pick one.
	rest := strings.TrimLeft(delit[m[1]:], " \t\n\r")
	if strings.HasPrefix(rest, ",") {
		return ""
	}
	return table
}

// spanName returns a span name from a SQL query.
// Returns the SQL operation (SELECT, INSERT, etc.) or "SQL" for empty/unknown queries.
// This is used for OpenTelemetry span names which must not be empty.
func spanName(query string) string {
	op := extractOperation(query)
	if op != "" {
		return op
	}
	return "SQL"
}

// extractOperation extracts the SQL operation (first word) from a query.
// Returns uppercase operation name or empty string if query is empty.
//
// Example:
//
//	extractOperation("SELECT * FROM users") // returns "SELECT"
//	extractOperation("insert into users")   // returns "INSERT"
func extractOperation(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	spaceIdx := strings.IndexAny(query, " \t\n\r(")
	if spaceIdx == -1 {
		return strings.ToUpper(query)
	}

	return strings.ToUpper(query[:spaceIdx])
}

// truncateSQL bounds SQL text carried in audit lines, rollup samples, and
// errors. max <= 0 disables truncation.
func truncateSQL(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
