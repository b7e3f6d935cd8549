package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Dialect defines the contract for database-specific behavior.
// Oracle is the default; PostgreSQL, MySQL and SQLite share the same client.
type Dialect interface {
	// Name is the configuration value selecting this dialect (e.g. "oracle").
	Name() string

	// DriverName returns the database/sql driver name.
	DriverName() string

	// URIScheme returns the resource URI scheme (e.g. "oracle").
	URIScheme() string

	// BuildDSN combines the configured target and credentials into a driver DSN.
	BuildDSN(cfg *Config) (string, error)

	// DefaultSchema is the schema used when the caller does not name one.
	DefaultSchema(cfg *Config) string

	// NormalizeIdentifier applies the dialect's case folding for unquoted names.
	NormalizeIdentifier(name string) string

	// ListTablesQuery returns the query and arguments listing tables and views
	// of schema as (table_name, table_type) rows.
	ListTablesQuery(schema string) (string, []any)

	// DescribeTableQuery returns the query and arguments reading column
	// metadata ordered by physical position.
	DescribeTableQuery(schema, table string) (string, []any)

	// ScanColumn scans one row of DescribeTableQuery.
	ScanColumn(rows *sql.Rows) (ColumnDescriptor, error)

	// SampleQuery returns a bounded read of schema.table. Both identifiers
	// have already passed the allow-list.
	SampleQuery(schema, table string, limit int) string

	// VersionQuery returns a single-column, single-row version banner query.
	VersionQuery() string

	// IdentityQuery returns a (current user, database name) single-row query.
	IdentityQuery() string

	// ProbeQuery is a trivial read used by the check command.
	ProbeQuery() string

	// BeginReadOnly opens a transaction on conn in which the database itself
	// rejects writes. The caller always rolls it back.
	BeginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error)

	// ForbiddenReadPatterns lists extra patterns rejected in read-only mode.
	ForbiddenReadPatterns() []forbiddenPattern

	// RemoveStringsAndComments strips string literals and comments from SQL
	// for safe keyword detection.
	RemoveStringsAndComments(sql string) string
}

var dialects = map[string]Dialect{
	"oracle":   &OracleAdapter{},
	"postgres": &PostgresAdapter{},
	"mysql":    &MySQLAdapter{},
	"sqlite":   &SQLiteAdapter{},
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(dialects))
		for n := range dialects {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: unsupported driver %q (supported: %s)",
			ErrInvalidConfiguration, name, strings.Join(names, ", "))
	}
	return d, nil
}

// TableInfo is one entry of a table listing.
type TableInfo struct {
	TableName string `json:"table_name"`
	TableType string `json:"table_type"`
}

// Table kinds reported by ListTables.
const (
	TableTypeTable = "TABLE"
	TableTypeView  = "VIEW"
)

// TableDescriptor describes a table and its columns in physical order.
type TableDescriptor struct {
	TableName string             `json:"table_name"`
	Schema    string             `json:"schema"`
	Columns   []ColumnDescriptor `json:"columns"`
}

// ColumnDescriptor describes one column. Nil pointers mean "not applicable".
type ColumnDescriptor struct {
	Name         string  `json:"column_name"`
	DataType     string  `json:"data_type"`
	Length       *int64  `json:"length"`
	Precision    *int64  `json:"precision"`
	Scale        *int64  `json:"scale"`
	Nullable     bool    `json:"nullable"`
	Position     int     `json:"position"`
	DefaultValue *string `json:"default_value"`
}

// redactURLError drops the target that *url.Error echoes back, since it
// carries credentials.
func redactURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// beginWithStatement opens a transaction on conn and runs stmt first in it.
func beginWithStatement(ctx context.Context, conn *sql.Conn, stmt string) (*sql.Tx, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return tx, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTrimmedString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := strings.TrimSpace(v.String)
	if s == "" {
		return nil
	}
	return &s
}

// scanStandardColumn scans the information_schema shaped row used by the
// PostgreSQL and MySQL dialects: name, type, length, precision, scale,
// is_nullable (YES/NO), ordinal position, default.
func scanStandardColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	var (
		name, dataType, isNullable string
		length, precision, scale   sql.NullInt64
		position                   int
		def                        sql.NullString
	)
	if err := rows.Scan(&name, &dataType, &length, &precision, &scale, &isNullable, &position, &def); err != nil {
		return ColumnDescriptor{}, err
	}
	return ColumnDescriptor{
		Name:         name,
		DataType:     dataType,
		Length:       nullInt(length),
		Precision:    nullInt(precision),
		Scale:        nullInt(scale),
		Nullable:     strings.EqualFold(isNullable, "YES"),
		Position:     position,
		DefaultValue: nullTrimmedString(def),
	}, nil
}
