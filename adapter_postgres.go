package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresAdapter implements Dialect for PostgreSQL databases.
type PostgresAdapter struct{}

func (a *PostgresAdapter) Name() string       { return "postgres" }
func (a *PostgresAdapter) DriverName() string { return "postgres" }
func (a *PostgresAdapter) URIScheme() string  { return "postgres" }

// BuildDSN accepts a postgres:// URL or host[:port]/dbname and injects the
// configured credentials.
func (a *PostgresAdapter) BuildDSN(cfg *Config) (string, error) {
	target := strings.TrimSpace(cfg.DSN)
	lower := strings.ToLower(target)
	if !strings.HasPrefix(lower, "postgres://") && !strings.HasPrefix(lower, "postgresql://") {
		target = "postgres://" + strings.TrimPrefix(target, "//")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid postgres target %s: %w", maskDSN(target, cfg.Password), redactURLError(err))
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return "", fmt.Errorf("postgres target %q must look like host[:port]/dbname", cfg.DSN)
	}
	u.User = url.UserPassword(cfg.User, cfg.Password)

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "prefer")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *PostgresAdapter) DefaultSchema(cfg *Config) string { return "public" }

func (a *PostgresAdapter) NormalizeIdentifier(name string) string {
	return strings.ToLower(name)
}

func (a *PostgresAdapter) ListTablesQuery(schema string) (string, []any) {
	return `SELECT table_name,
			CASE table_type WHEN 'VIEW' THEN 'VIEW' ELSE 'TABLE' END AS table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, []any{schema}
}

func (a *PostgresAdapter) DescribeTableQuery(schema, table string) (string, []any) {
	return `SELECT column_name, data_type, character_maximum_length, numeric_precision,
			numeric_scale, is_nullable, ordinal_position, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, []any{schema, table}
}

func (a *PostgresAdapter) ScanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	return scanStandardColumn(rows)
}

func (a *PostgresAdapter) SampleQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", schema, table, limit)
}

func (a *PostgresAdapter) VersionQuery() string  { return "SELECT version()" }
func (a *PostgresAdapter) IdentityQuery() string { return "SELECT current_user, current_database()" }
func (a *PostgresAdapter) ProbeQuery() string {
	return "SELECT 1 AS test_col, 'Hello from PostgreSQL!' AS message"
}

func (a *PostgresAdapter) BeginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	return conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
}

var postgresForbiddenPatterns = []forbiddenPattern{
	rawPattern(`(?i)\bCOPY\b`, "COPY"),
	functionPattern("pg_read_file"),
	functionPattern("pg_read_binary_file"),
	functionPattern("pg_ls_dir"),
	functionPattern("lo_import"),
	functionPattern("lo_export"),
	functionPattern("pg_sleep"),
	functionPattern("pg_sleep_for"),
	functionPattern("pg_sleep_until"),
	functionPattern("pg_advisory_lock"),
	functionPattern("pg_advisory_xact_lock"),
	functionPattern("pg_try_advisory_lock"),
	functionPattern("dblink_exec"),
}

func (a *PostgresAdapter) ForbiddenReadPatterns() []forbiddenPattern {
	return postgresForbiddenPatterns
}

// RemoveStringsAndComments strips string literals and comments from SQL.
// PostgreSQL-specific: no # comments, handles $$ dollar-quoted strings, no
// backslash escaping by default.
func (a *PostgresAdapter) RemoveStringsAndComments(sql string) string {
	return sqlScanner{dollarQuotes: true, identQuotes: `"`}.strip(sql)
}
