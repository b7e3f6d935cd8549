package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sqliteTestConfig(path string, readOnly bool) *Config {
	return &Config{
		Driver:       "sqlite",
		User:         "local",
		Password:     "unused",
		DSN:          path,
		PoolMin:      1,
		PoolMax:      4,
		QueryTimeout: 10,
		ReadOnly:     readOnly,
		LogLevel:     "debug",
	}
}

// newSQLiteClient opens a writable client on a fresh database file seeded
// with a small orders schema.
func newSQLiteClient(t *testing.T) (*Client, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")

	client, err := NewClient(context.Background(), sqliteTestConfig(path, false), zaptest.NewLogger(t), NewMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	for _, stmt := range []string{
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			name VARCHAR(20) NOT NULL DEFAULT 'n/a'
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER NOT NULL,
			total DECIMAL(10,2),
			status TEXT
		)`,
		`CREATE TABLE attachments (id INTEGER PRIMARY KEY, payload BLOB)`,
		`CREATE VIEW order_totals AS SELECT customer_id, SUM(total) AS total FROM orders GROUP BY customer_id`,
		`INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Linus')`,
		`INSERT INTO orders (id, customer_id, total, status) VALUES
			(1, 1, 9.99, 'NEW'), (2, 1, 20.00, 'NEW'), (3, 2, 5.50, 'SHIPPED')`,
		`INSERT INTO attachments (id, payload) VALUES (1, X'CAFE')`,
	} {
		_, err := client.ExecuteStatement(ctx, stmt)
		require.NoError(t, err, stmt)
	}
	return client, path
}

func TestSQLiteClient_ListTables(t *testing.T) {
	client, _ := newSQLiteClient(t)

	tables, err := client.ListTables(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []TableInfo{
		{TableName: "attachments", TableType: TableTypeTable},
		{TableName: "customers", TableType: TableTypeTable},
		{TableName: "order_totals", TableType: TableTypeView},
		{TableName: "orders", TableType: TableTypeTable},
	}, tables)
}

func TestSQLiteClient_DescribeTable(t *testing.T) {
	client, _ := newSQLiteClient(t)

	desc, err := client.DescribeTable(context.Background(), "customers", "")
	require.NoError(t, err)
	assert.Equal(t, "main", desc.Schema)
	require.Len(t, desc.Columns, 2)

	name := desc.Columns[1]
	assert.Equal(t, "name", name.Name)
	assert.Equal(t, "VARCHAR", name.DataType)
	require.NotNil(t, name.Length)
	assert.Equal(t, int64(20), *name.Length)
	assert.False(t, name.Nullable)
	assert.Equal(t, 2, name.Position)
	require.NotNil(t, name.DefaultValue)
	assert.Equal(t, "'n/a'", *name.DefaultValue)

	desc, err = client.DescribeTable(context.Background(), "orders", "main")
	require.NoError(t, err)
	total := desc.Columns[2]
	assert.Equal(t, "DECIMAL", total.DataType)
	require.NotNil(t, total.Precision)
	require.NotNil(t, total.Scale)
	assert.Equal(t, int64(10), *total.Precision)
	assert.Equal(t, int64(2), *total.Scale)
	assert.True(t, total.Nullable)

	_, err = client.DescribeTable(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteClient_QueryAndSample(t *testing.T) {
	client, _ := newSQLiteClient(t)
	ctx := context.Background()

	result, err := client.ExecuteQuery(ctx, "SELECT id, status FROM orders ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
	for _, row := range result.Rows {
		assert.Equal(t, len(result.Columns), row.Len())
	}

	sample, err := client.SampleTable(ctx, "orders", 2, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, sample.RowCount, 2)
	assert.Equal(t, []string{"id", "customer_id", "total", "status"}, sample.Columns)

	blobs, err := client.ExecuteQuery(ctx, "SELECT payload FROM attachments")
	require.NoError(t, err)
	require.Len(t, blobs.Rows, 1)
	payload, _ := blobs.Rows[0].Get("payload")
	assert.Equal(t, "cafe", payload)
}

func TestSQLiteClient_ExecuteStatement(t *testing.T) {
	client, _ := newSQLiteClient(t)
	ctx := context.Background()

	res, err := client.ExecuteStatement(ctx, "UPDATE orders SET status = 'SHIPPED' WHERE customer_id = 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)
	assert.Equal(t, "Statement executed successfully. 2 rows affected.", res.Message)

	_, err = client.ExecuteStatement(ctx, "INSERT INTO customers (id, name) VALUES (1, 'dup')")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatement)

	result, err := client.ExecuteQuery(ctx, "SELECT COUNT(*) AS n FROM customers")
	require.NoError(t, err)
	n, _ := result.Rows[0].Get("n")
	assert.EqualValues(t, 2, n, "failed insert was rolled back")
}

func TestSQLiteClient_ReadOnly(t *testing.T) {
	_, path := newSQLiteClient(t)

	client, err := NewClient(context.Background(), sqliteTestConfig(path, true), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.ExecuteStatement(context.Background(), "DELETE FROM orders")
	assert.ErrorIs(t, err, ErrPolicyViolation)

	_, err = client.ExecuteQuery(context.Background(), "DELETE FROM orders")
	assert.ErrorIs(t, err, ErrPolicyViolation)

	result, err := client.ExecuteQuery(context.Background(), "SELECT COUNT(*) AS n FROM orders")
	require.NoError(t, err)
	n, _ := result.Rows[0].Get("n")
	assert.EqualValues(t, 3, n)

	status := client.TestConnection(context.Background())
	assert.Equal(t, StatusConnected, status.Status)
	assert.Contains(t, status.DatabaseVersion, "SQLite")
	assert.Equal(t, "main", status.DatabaseName)
	require.NotNil(t, status.ReadOnlyMode)
	assert.True(t, *status.ReadOnlyMode)
}

func TestSQLiteClient_ReadOnlyTransactionRejectsWrites(t *testing.T) {
	writer, path := newSQLiteClient(t)
	ctx := context.Background()

	client, err := NewClient(ctx, sqliteTestConfig(path, true), zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer client.Close()

	conn, err := client.db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := client.dialect.BeginReadOnly(ctx, conn)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, "UPDATE orders SET status = 'PAID'")
	require.Error(t, err, "writes that slip past the statement filter still fail")
	assert.Contains(t, err.Error(), "readonly")

	var n int
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&n))
	assert.Equal(t, 3, n)

	result, err := writer.ExecuteQuery(ctx, "SELECT COUNT(*) AS paid FROM orders WHERE status = 'PAID'")
	require.NoError(t, err)
	paid, _ := result.Rows[0].Get("paid")
	assert.EqualValues(t, 0, paid)
}

func TestNewClient_Failures(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want error
	}{
		{"unknown driver", &Config{Driver: "db2", DSN: "x", PoolMin: 1, PoolMax: 1, QueryTimeout: 1}, ErrInvalidConfiguration},
		{"empty sqlite path", sqliteTestConfig("  ", false), ErrConnection},
		{"unreachable sqlite path", sqliteTestConfig(filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"), false), ErrConnection},
		{"malformed oracle target", &Config{Driver: "oracle", User: "u", Password: "p", DSN: "nohost", PoolMin: 1, PoolMax: 1, QueryTimeout: 1}, ErrConnection},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, zaptest.NewLogger(t), NewMetrics())
			require.Error(t, err)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
