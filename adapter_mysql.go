package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQLAdapter implements Dialect for MySQL databases. MySQL has no schema
// separate from the database, so the default schema is the DSN's database.
type MySQLAdapter struct{}

func (a *MySQLAdapter) Name() string       { return "mysql" }
func (a *MySQLAdapter) DriverName() string { return "mysql" }
func (a *MySQLAdapter) URIScheme() string  { return "mysql" }

// BuildDSN accepts a go-sql-driver DSN (user@tcp(host:port)/db) or
// host[:port]/db and injects the configured credentials.
func (a *MySQLAdapter) BuildDSN(cfg *Config) (string, error) {
	mc, err := a.parseTarget(cfg.DSN)
	if err != nil {
		return "", err
	}
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

func (a *MySQLAdapter) parseTarget(target string) (*mysql.Config, error) {
	target = strings.TrimSpace(target)
	if strings.Contains(target, "@") || strings.Contains(target, "(") {
		mc, err := mysql.ParseDSN(target)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql DSN: %w", err)
		}
		return mc, nil
	}

	slash := strings.Index(target, "/")
	if slash <= 0 {
		return nil, fmt.Errorf("mysql target %q must look like host[:port]/dbname", target)
	}
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = target[:slash]
	if !strings.Contains(mc.Addr, ":") {
		mc.Addr += ":3306"
	}
	mc.DBName = target[slash+1:]
	return mc, nil
}

func (a *MySQLAdapter) DefaultSchema(cfg *Config) string {
	mc, err := a.parseTarget(cfg.DSN)
	if err != nil {
		return ""
	}
	return mc.DBName
}

func (a *MySQLAdapter) NormalizeIdentifier(name string) string { return name }

func (a *MySQLAdapter) ListTablesQuery(schema string) (string, []any) {
	return `SELECT table_name,
			CASE table_type WHEN 'VIEW' THEN 'VIEW' ELSE 'TABLE' END AS table_type
		FROM information_schema.tables
		WHERE table_schema = ?
		ORDER BY table_name`, []any{schema}
}

func (a *MySQLAdapter) DescribeTableQuery(schema, table string) (string, []any) {
	return `SELECT column_name, data_type, character_maximum_length, numeric_precision,
			numeric_scale, is_nullable, ordinal_position, column_default
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{schema, table}
}

func (a *MySQLAdapter) ScanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	return scanStandardColumn(rows)
}

func (a *MySQLAdapter) SampleQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", schema, table, limit)
}

func (a *MySQLAdapter) VersionQuery() string  { return "SELECT CONCAT('MySQL ', VERSION())" }
func (a *MySQLAdapter) IdentityQuery() string { return "SELECT CURRENT_USER(), DATABASE()" }
func (a *MySQLAdapter) ProbeQuery() string {
	return "SELECT 1 AS test_col, 'Hello from MySQL!' AS message"
}

func (a *MySQLAdapter) BeginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	return conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
}

var mysqlForbiddenPatterns = []forbiddenPattern{
	rawPattern(`(?i)\bINTO\s+OUTFILE\b`, "INTO OUTFILE"),
	rawPattern(`(?i)\bINTO\s+DUMPFILE\b`, "INTO DUMPFILE"),
	rawPattern(`(?i)\bINTO\s+@`, "INTO @variable"),
	functionPattern("LOAD_FILE"),
	functionPattern("SLEEP"),
	functionPattern("BENCHMARK"),
	functionPattern("GET_LOCK"),
	functionPattern("RELEASE_LOCK"),
	functionPattern("IS_FREE_LOCK"),
	functionPattern("IS_USED_LOCK"),
	functionPattern("MASTER_POS_WAIT"),
	functionPattern("SOURCE_POS_WAIT"),
}

func (a *MySQLAdapter) ForbiddenReadPatterns() []forbiddenPattern {
	return mysqlForbiddenPatterns
}

// RemoveStringsAndComments strips string literals and comments from SQL.
// MySQL-specific: supports # comments, backtick identifiers, double-quoted
// strings and backslash escaping in strings.
func (a *MySQLAdapter) RemoveStringsAndComments(sql string) string {
	return sqlScanner{
		hashComments:       true,
		backslashEscapes:   true,
		doubleQuoteStrings: true,
		identQuotes:        "`",
	}.strip(sql)
}
