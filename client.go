package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Operation names used in logs, metrics and errors.
const (
	opInitialize     = "initialize"
	opQuery          = "execute_query"
	opStatement      = "execute_statement"
	opListTables     = "list_tables"
	opDescribeTable  = "describe_table"
	opSampleTable    = "sample_table"
	opTestConnection = "test_connection"
)

// Connection status values.
const (
	StatusConnected = "connected"
	StatusError     = "error"
)

const logStatementLength = 100

var errClientClosed = fmt.Errorf("%w: client is closed", ErrConnection)

// ConnectionStatus is the result of TestConnection. On failure only Status
// and Error are set.
type ConnectionStatus struct {
	Status          string `json:"status"`
	DatabaseVersion string `json:"database_version,omitempty"`
	ConnectedUser   string `json:"connected_user,omitempty"`
	DatabaseName    string `json:"database_name,omitempty"`
	DSN             string `json:"dsn,omitempty"`
	ReadOnlyMode    *bool  `json:"read_only_mode,omitempty"`
	Error           string `json:"error,omitempty"`
}

// StatementResult is the outcome of a committed DML/DDL statement.
type StatementResult struct {
	RowsAffected int64  `json:"rows_affected"`
	Message      string `json:"message"`
}

// Client is the single point of contact with the database. It owns the pool
// for its lifetime; every operation acquires one connection and releases it
// before returning.
type Client struct {
	cfg     *Config
	dialect Dialect
	logger  *zap.Logger
	metrics *Metrics

	mu sync.RWMutex
	db *sql.DB
}

// NewClient opens the pool described by cfg and warms cfg.PoolMin
// connections. Any failure closes the pool and returns ErrConnection.
func NewClient(ctx context.Context, cfg *Config, logger *zap.Logger, metrics *Metrics) (*Client, error) {
	start := time.Now()
	if logger == nil {
		logger = zap.NewNop()
	}

	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := dialect.BuildDSN(cfg)
	if err != nil {
		err = newDBError(opInitialize, ErrConnection, err, "invalid connection target %s", cfg.MaskedDSN())
		metrics.observe(opInitialize, start, err)
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		err = newDBError(opInitialize, ErrConnection, err, "failed to create pool for %s", cfg.ConnectionString())
		metrics.observe(opInitialize, start, err)
		return nil, err
	}
	db.SetMaxOpenConns(cfg.PoolMax)
	db.SetMaxIdleConns(cfg.PoolMin)

	if err := warmPool(ctx, db, cfg.PoolMin, cfg.Timeout()); err != nil {
		_ = db.Close()
		err = newDBError(opInitialize, ErrConnection, err, "failed to connect to %s", cfg.ConnectionString())
		metrics.observe(opInitialize, start, err)
		logger.Error("connection pool initialization failed", zap.Object("config", cfg), zap.Error(err))
		return nil, err
	}

	metrics.observe(opInitialize, start, nil)
	logger.Info("connection pool created",
		zap.String("dialect", dialect.Name()),
		zap.String("connection", cfg.ConnectionString()),
		zap.Int("pool_min", cfg.PoolMin),
		zap.Int("pool_max", cfg.PoolMax),
		zap.Duration("duration", time.Since(start)))

	return newClientWithDB(cfg, dialect, db, logger, metrics), nil
}

func newClientWithDB(cfg *Config, dialect Dialect, db *sql.DB, logger *zap.Logger, metrics *Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		dialect: dialect,
		db:      db,
		logger:  logger,
		metrics: metrics,
	}
}

// warmPool opens n connections at once so the idle set starts at pool_min.
func warmPool(ctx context.Context, db *sql.DB, n int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	for i := 0; i < n; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, conn)
		if err := conn.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Dialect returns the dialect the client was opened with.
func (c *Client) Dialect() Dialect { return c.dialect }

// Config returns the configuration the client was opened with.
func (c *Client) Config() *Config { return c.cfg }

// withConn runs fn on a single pooled connection bounded by the configured
// query timeout. The connection is released on every path.
func (c *Client) withConn(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()
	if db == nil {
		return errClientClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(ctx, conn)
}

// ExecuteQuery runs a read and returns the fully converted result set.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	return c.runQuery(ctx, opQuery, query)
}

func (c *Client) runQuery(ctx context.Context, op, query string) (*QueryResult, error) {
	start := time.Now()
	log := c.logger.With(zap.String("operation", op), zap.String("statement", truncate(query, logStatementLength)))

	if c.cfg.ReadOnly {
		if err := checkReadOnlyQuery(c.dialect, query); err != nil {
			perr := newDBError(op, ErrPolicyViolation, nil, "%s", err.Error())
			log.Warn("query rejected by read-only policy", zap.Error(perr))
			c.metrics.observe(op, start, perr)
			return nil, perr
		}
	}

	log.Debug("executing query")

	var result *QueryResult
	err := c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var q interface {
			QueryContext(context.Context, string, ...any) (*sql.Rows, error)
		} = conn
		if c.cfg.ReadOnly {
			tx, err := c.dialect.BeginReadOnly(ctx, conn)
			if err != nil {
				return fmt.Errorf("failed to start read-only transaction: %w", err)
			}
			defer func() { _ = tx.Rollback() }()
			q = tx
		}

		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		result, err = readRows(rows)
		return err
	})
	if err != nil {
		err = c.wrapExecError(op, ErrQuery, "query failed", err)
		log.Error("query failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		c.metrics.observe(op, start, err)
		return nil, err
	}

	log.Info("query executed",
		zap.Int("rows", result.RowCount),
		zap.Int("columns", len(result.Columns)),
		zap.Duration("duration", time.Since(start)))
	c.metrics.observe(op, start, nil)
	return result, nil
}

func readRows(rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columns = uniqueColumnNames(columns)

	dbTypes := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			dbTypes[i] = ct.DatabaseTypeName()
		}
	}

	result := &QueryResult{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(result.Rows)+1, err)
		}

		values := make([]any, len(columns))
		for i, v := range raw {
			if values[i], err = convertValue(v, dbTypes[i]); err != nil {
				return nil, fmt.Errorf("failed to read column %s of row %d: %w", columns[i], len(result.Rows)+1, err)
			}
		}
		result.Rows = append(result.Rows, newRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// uniqueColumnNames suffixes repeated names (ID, ID_1, ID_2) so every row
// serializes to distinct JSON keys.
func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	for _, name := range columns {
		taken[name] = true
	}

	out := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	for i, name := range columns {
		candidate := name
		if used[name] {
			for n := 1; ; n++ {
				candidate = fmt.Sprintf("%s_%d", name, n)
				if !taken[candidate] {
					break
				}
			}
			taken[candidate] = true
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// ExecuteStatement runs one DML/DDL statement in its own transaction. In
// read-only mode it fails before touching the database.
func (c *Client) ExecuteStatement(ctx context.Context, statement string) (*StatementResult, error) {
	start := time.Now()
	log := c.logger.With(zap.String("operation", opStatement), zap.String("statement", truncate(statement, logStatementLength)))

	if c.cfg.ReadOnly {
		err := newDBError(opStatement, ErrPolicyViolation, nil, "DML/DDL statements are not allowed in read-only mode")
		log.Warn("statement rejected by read-only policy")
		c.metrics.observe(opStatement, start, err)
		return nil, err
	}

	log.Debug("executing statement")

	var affected int64
	err := c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, statement)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error("rollback failed", zap.Error(rbErr))
			}
			return err
		}

		if n, err := res.RowsAffected(); err == nil {
			affected = n
		}
		return tx.Commit()
	})
	if err != nil {
		err = c.wrapExecError(opStatement, ErrStatement, "statement failed", err)
		log.Error("statement failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		c.metrics.observe(opStatement, start, err)
		return nil, err
	}

	log.Info("statement executed",
		zap.Int64("rows_affected", affected),
		zap.Duration("duration", time.Since(start)))
	c.metrics.observe(opStatement, start, nil)

	return &StatementResult{
		RowsAffected: affected,
		Message:      fmt.Sprintf("Statement executed successfully. %d rows affected.", affected),
	}, nil
}

func (c *Client) wrapExecError(op string, kind error, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newDBError(op, kind, err, "%s: timed out after %ds", msg, c.cfg.QueryTimeout)
	}
	return newDBError(op, kind, err, "%s", msg)
}

// resolveSchema returns the normalized schema, defaulting to the dialect's.
func (c *Client) resolveSchema(schema string) (string, error) {
	if schema == "" {
		return c.dialect.DefaultSchema(c.cfg), nil
	}
	if err := validateIdentifier("schema", schema); err != nil {
		return "", err
	}
	return c.dialect.NormalizeIdentifier(schema), nil
}

// ListTables returns the tables and views of schema sorted by name.
func (c *Client) ListTables(ctx context.Context, schema string) ([]TableInfo, error) {
	start := time.Now()

	schema, err := c.resolveSchema(schema)
	if err != nil {
		err = newDBError(opListTables, ErrInvalidArgument, err, "invalid schema")
		c.metrics.observe(opListTables, start, err)
		return nil, err
	}

	log := c.logger.With(zap.String("operation", opListTables), zap.String("schema", schema))
	query, args := c.dialect.ListTablesQuery(schema)

	var tables []TableInfo
	err = c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var t TableInfo
			if err := rows.Scan(&t.TableName, &t.TableType); err != nil {
				return err
			}
			tables = append(tables, t)
		}
		return rows.Err()
	})
	if err != nil {
		err = c.wrapExecError(opListTables, ErrQuery, fmt.Sprintf("failed to list tables in %s", schema), err)
		log.Error("list tables failed", zap.Error(err))
		c.metrics.observe(opListTables, start, err)
		return nil, err
	}

	sort.SliceStable(tables, func(i, j int) bool { return tables[i].TableName < tables[j].TableName })
	if tables == nil {
		tables = []TableInfo{}
	}

	log.Info("tables listed", zap.Int("count", len(tables)), zap.Duration("duration", time.Since(start)))
	c.metrics.observe(opListTables, start, nil)
	return tables, nil
}

// DescribeTable returns the columns of schema.table in physical order.
func (c *Client) DescribeTable(ctx context.Context, table, schema string) (*TableDescriptor, error) {
	start := time.Now()

	if err := validateIdentifier("table name", table); err != nil {
		err = newDBError(opDescribeTable, ErrInvalidArgument, err, "invalid table name")
		c.metrics.observe(opDescribeTable, start, err)
		return nil, err
	}
	schema, err := c.resolveSchema(schema)
	if err != nil {
		err = newDBError(opDescribeTable, ErrInvalidArgument, err, "invalid schema")
		c.metrics.observe(opDescribeTable, start, err)
		return nil, err
	}
	table = c.dialect.NormalizeIdentifier(table)

	log := c.logger.With(zap.String("operation", opDescribeTable), zap.String("table", schema+"."+table))
	query, args := c.dialect.DescribeTableQuery(schema, table)

	var columns []ColumnDescriptor
	err = c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			col, err := c.dialect.ScanColumn(rows)
			if err != nil {
				return err
			}
			columns = append(columns, col)
		}
		return rows.Err()
	})
	if err != nil {
		err = c.wrapExecError(opDescribeTable, ErrQuery, fmt.Sprintf("failed to describe %s.%s", schema, table), err)
		log.Error("describe table failed", zap.Error(err))
		c.metrics.observe(opDescribeTable, start, err)
		return nil, err
	}

	if len(columns) == 0 {
		err := newDBError(opDescribeTable, ErrNotFound, nil, "table %s.%s not found or not accessible", schema, table)
		log.Warn("table not found")
		c.metrics.observe(opDescribeTable, start, err)
		return nil, err
	}

	// Physical ids can have gaps after dropped columns.
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
	for i := range columns {
		columns[i].Position = i + 1
	}

	log.Info("table described", zap.Int("columns", len(columns)), zap.Duration("duration", time.Since(start)))
	c.metrics.observe(opDescribeTable, start, nil)

	return &TableDescriptor{TableName: table, Schema: schema, Columns: columns}, nil
}

// SampleTable reads up to limit rows of schema.table. Identifiers are
// allow-listed before they are interpolated into the query text.
func (c *Client) SampleTable(ctx context.Context, table string, limit int, schema string) (*QueryResult, error) {
	start := time.Now()

	invalid := func(err error, msg string) (*QueryResult, error) {
		err = newDBError(opSampleTable, ErrInvalidArgument, err, "%s", msg)
		c.metrics.observe(opSampleTable, start, err)
		return nil, err
	}

	if limit < 1 {
		return invalid(nil, fmt.Sprintf("limit must be at least 1, got %d", limit))
	}
	if err := validateIdentifier("table name", table); err != nil {
		return invalid(err, "invalid table name")
	}
	schema, err := c.resolveSchema(schema)
	if err != nil {
		return invalid(err, "invalid schema")
	}
	if err := validateIdentifier("schema", schema); err != nil {
		return invalid(err, "invalid default schema")
	}

	query := c.dialect.SampleQuery(schema, c.dialect.NormalizeIdentifier(table), limit)
	return c.runQuery(ctx, opSampleTable, query)
}

// TestConnection reports the server version, current user and database
// name. It never returns an error; failures are reported in the status.
func (c *Client) TestConnection(ctx context.Context) *ConnectionStatus {
	start := time.Now()

	var version string
	var user, dbName sql.NullString
	err := c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, c.dialect.VersionQuery()).Scan(&version); err != nil {
			return fmt.Errorf("reading version: %w", err)
		}
		if err := conn.QueryRowContext(ctx, c.dialect.IdentityQuery()).Scan(&user, &dbName); err != nil {
			return fmt.Errorf("reading session identity: %w", err)
		}
		return nil
	})
	c.metrics.observe(opTestConnection, start, err)

	if err != nil {
		c.logger.Warn("connection test failed", zap.String("operation", opTestConnection), zap.Error(err))
		return &ConnectionStatus{Status: StatusError, Error: err.Error()}
	}

	readOnly := c.cfg.ReadOnly
	status := &ConnectionStatus{
		Status:          StatusConnected,
		DatabaseVersion: version,
		ConnectedUser:   user.String,
		DatabaseName:    dbName.String,
		DSN:             c.cfg.MaskedDSN(),
		ReadOnlyMode:    &readOnly,
	}
	c.logger.Debug("connection test passed",
		zap.String("operation", opTestConnection),
		zap.String("database_version", version),
		zap.Duration("duration", time.Since(start)))
	return status
}

// Close releases the pool. It is safe to call more than once and on a nil
// or never-initialized client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.logger.Info("connection pool closed")
	return err
}
