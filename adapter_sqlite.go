package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter implements Dialect for SQLite files. Attached databases play
// the role of schemas; the default is "main". Credentials are not used by
// the driver.
type SQLiteAdapter struct{}

func (a *SQLiteAdapter) Name() string       { return "sqlite" }
func (a *SQLiteAdapter) DriverName() string { return "sqlite" }
func (a *SQLiteAdapter) URIScheme() string  { return "sqlite" }

func (a *SQLiteAdapter) BuildDSN(cfg *Config) (string, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return "", fmt.Errorf("sqlite target must be a file path")
	}
	return path, nil
}

func (a *SQLiteAdapter) DefaultSchema(cfg *Config) string { return "main" }

func (a *SQLiteAdapter) NormalizeIdentifier(name string) string { return name }

func (a *SQLiteAdapter) ListTablesQuery(schema string) (string, []any) {
	// sqlite_master cannot be bound; schema has passed the identifier allow-list.
	return fmt.Sprintf(`SELECT name AS table_name,
			CASE type WHEN 'view' THEN 'VIEW' ELSE 'TABLE' END AS table_type
		FROM %s.sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%'
		ORDER BY name`, schema), nil
}

func (a *SQLiteAdapter) DescribeTableQuery(schema, table string) (string, []any) {
	return `SELECT name, type, "notnull", dflt_value, cid
		FROM pragma_table_info(?, ?)
		ORDER BY cid`, []any{table, schema}
}

var declaredTypeArgs = regexp.MustCompile(`^\s*([^(]+?)\s*\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)`)

func (a *SQLiteAdapter) ScanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	var (
		name, declType string
		notNull, cid   int
		def            sql.NullString
	)
	if err := rows.Scan(&name, &declType, &notNull, &def, &cid); err != nil {
		return ColumnDescriptor{}, err
	}

	col := ColumnDescriptor{
		Name:         name,
		DataType:     strings.ToUpper(declType),
		Nullable:     notNull == 0,
		Position:     cid + 1,
		DefaultValue: nullTrimmedString(def),
	}

	// VARCHAR(20) carries a length, DECIMAL(10,2) a precision and scale.
	if m := declaredTypeArgs.FindStringSubmatch(declType); m != nil {
		col.DataType = strings.ToUpper(m[1])
		first, _ := strconv.ParseInt(m[2], 10, 64)
		if m[3] != "" {
			second, _ := strconv.ParseInt(m[3], 10, 64)
			col.Precision, col.Scale = &first, &second
		} else if strings.Contains(col.DataType, "CHAR") {
			col.Length = &first
		} else {
			col.Precision = &first
		}
	}
	return col, nil
}

func (a *SQLiteAdapter) SampleQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", schema, table, limit)
}

func (a *SQLiteAdapter) VersionQuery() string { return "SELECT 'SQLite ' || sqlite_version()" }

func (a *SQLiteAdapter) IdentityQuery() string {
	return "SELECT NULL, name FROM pragma_database_list WHERE seq = 0"
}

func (a *SQLiteAdapter) ProbeQuery() string {
	return "SELECT 1 AS test_col, 'Hello from SQLite!' AS message"
}

// BeginReadOnly switches the connection to query_only before starting the
// transaction. The pragma stays on for the pooled connection, which only a
// read-only client ever reaches.
func (a *SQLiteAdapter) BeginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, err
	}
	return conn.BeginTx(ctx, nil)
}

var sqliteForbiddenPatterns = []forbiddenPattern{
	functionPattern("load_extension"),
	functionPattern("writefile"),
	functionPattern("edit"),
	functionPattern("fts3_tokenizer"),
	keywordPattern("REPLACE INTO"),
	keywordPattern("ATTACH"),
	keywordPattern("DETACH"),
	rawPattern(`(?i)\bPRAGMA\s+\w+\s*=`, "PRAGMA write"),
}

func (a *SQLiteAdapter) ForbiddenReadPatterns() []forbiddenPattern {
	return sqliteForbiddenPatterns
}

// RemoveStringsAndComments strips string literals and comments from SQL.
// SQLite-specific: no # comments, no backslash escaping, supports backtick
// and [bracket] identifiers.
func (a *SQLiteAdapter) RemoveStringsAndComments(sql string) string {
	return sqlScanner{identQuotes: "\"`", bracketIdents: true}.strip(sql)
}
