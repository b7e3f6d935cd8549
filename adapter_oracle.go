package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"
)

const oracleDefaultPort = 1521

// OracleAdapter implements Dialect for Oracle 12c+ using the pure Go go-ora driver.
type OracleAdapter struct{}

func (a *OracleAdapter) Name() string       { return "oracle" }
func (a *OracleAdapter) DriverName() string { return "oracle" }
func (a *OracleAdapter) URIScheme() string  { return "oracle" }

// BuildDSN accepts an oracle:// URL, an easy-connect target
// (host[:port]/service), or a full connect descriptor.
func (a *OracleAdapter) BuildDSN(cfg *Config) (string, error) {
	target := strings.TrimSpace(cfg.DSN)

	if strings.HasPrefix(strings.ToLower(target), "oracle://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", fmt.Errorf("invalid oracle URL %s: %w", maskDSN(target, cfg.Password), redactURLError(err))
		}
		u.User = url.UserPassword(cfg.User, cfg.Password)
		return u.String(), nil
	}

	if strings.HasPrefix(target, "(") {
		return go_ora.BuildJDBC(cfg.User, cfg.Password, target, nil), nil
	}

	host, port, service, err := parseEasyConnect(target)
	if err != nil {
		return "", err
	}
	return go_ora.BuildUrl(host, port, service, cfg.User, cfg.Password, nil), nil
}

// parseEasyConnect splits [//]host[:port]/service.
func parseEasyConnect(target string) (host string, port int, service string, err error) {
	target = strings.TrimPrefix(target, "//")
	slash := strings.Index(target, "/")
	if slash <= 0 || slash == len(target)-1 {
		return "", 0, "", fmt.Errorf("oracle target %q must look like host[:port]/service", target)
	}
	hostPort, service := target[:slash], target[slash+1:]

	host, port = hostPort, oracleDefaultPort
	if colon := strings.LastIndex(hostPort, ":"); colon >= 0 {
		host = hostPort[:colon]
		port, err = strconv.Atoi(hostPort[colon+1:])
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, "", fmt.Errorf("oracle target %q has an invalid port", target)
		}
	}
	if host == "" {
		return "", 0, "", fmt.Errorf("oracle target %q has no host", target)
	}
	return host, port, service, nil
}

func (a *OracleAdapter) DefaultSchema(cfg *Config) string {
	return strings.ToUpper(cfg.User)
}

func (a *OracleAdapter) NormalizeIdentifier(name string) string {
	return strings.ToUpper(name)
}

func (a *OracleAdapter) ListTablesQuery(schema string) (string, []any) {
	return `SELECT table_name, 'TABLE' AS table_type
		FROM all_tables
		WHERE owner = :1
		UNION ALL
		SELECT view_name AS table_name, 'VIEW' AS table_type
		FROM all_views
		WHERE owner = :2
		ORDER BY table_name`, []any{schema, schema}
}

func (a *OracleAdapter) DescribeTableQuery(schema, table string) (string, []any) {
	return `SELECT column_name, data_type, data_length, data_precision, data_scale,
			nullable, column_id, data_default
		FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2
		ORDER BY column_id`, []any{schema, table}
}

func (a *OracleAdapter) ScanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	var (
		name, dataType, nullable string
		length, precision, scale sql.NullInt64
		position                 int
		def                      sql.NullString
	)
	if err := rows.Scan(&name, &dataType, &length, &precision, &scale, &nullable, &position, &def); err != nil {
		return ColumnDescriptor{}, err
	}
	return ColumnDescriptor{
		Name:         name,
		DataType:     dataType,
		Length:       nullInt(length),
		Precision:    nullInt(precision),
		Scale:        nullInt(scale),
		Nullable:     nullable == "Y",
		Position:     position,
		DefaultValue: nullTrimmedString(def),
	}, nil
}

func (a *OracleAdapter) SampleQuery(schema, table string, limit int) string {
	return fmt.Sprintf("SELECT * FROM %s.%s FETCH FIRST %d ROWS ONLY", schema, table, limit)
}

func (a *OracleAdapter) VersionQuery() string {
	return "SELECT banner FROM v$version WHERE ROWNUM = 1"
}

func (a *OracleAdapter) IdentityQuery() string {
	return "SELECT USER, SYS_CONTEXT('USERENV', 'DB_NAME') FROM dual"
}

func (a *OracleAdapter) ProbeQuery() string {
	return "SELECT 1 AS test_col, 'Hello from Oracle!' AS message FROM dual"
}

// BeginReadOnly starts a read-only transaction. SET TRANSACTION must be the
// first statement of the transaction it applies to.
func (a *OracleAdapter) BeginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	return beginWithStatement(ctx, conn, "SET TRANSACTION READ ONLY")
}

var oracleForbiddenPatterns = []forbiddenPattern{
	functionPattern("DBMS_LOCK.SLEEP"),
	functionPattern("DBMS_SESSION.SLEEP"),
	functionPattern("DBMS_PIPE.RECEIVE_MESSAGE"),
	rawPattern(`(?i)\bUTL_(HTTP|FILE|TCP|SMTP|INADDR)\b`, "UTL_* network/file package"),
	keywordPattern("EXECUTE"),
}

func (a *OracleAdapter) ForbiddenReadPatterns() []forbiddenPattern {
	return oracleForbiddenPatterns
}

// RemoveStringsAndComments strips string literals and comments from SQL.
// Oracle-specific: q'[...]' alternative quoting, double-quoted identifiers,
// no backslash escaping.
func (a *OracleAdapter) RemoveStringsAndComments(sql string) string {
	return sqlScanner{oracleQQuotes: true, identQuotes: `"`}.strip(sql)
}
