package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeDatabase records the arguments it receives and answers with canned
// results. Unset hooks return zero values.
type fakeDatabase struct {
	queryFn     func(query string) (*QueryResult, error)
	statementFn func(statement string) (*StatementResult, error)
	listFn      func(schema string) ([]TableInfo, error)
	describeFn  func(table, schema string) (*TableDescriptor, error)
	sampleFn    func(table string, limit int, schema string) (*QueryResult, error)
	status      *ConnectionStatus

	calls []string
}

func (f *fakeDatabase) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeDatabase) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	f.record("query %s", query)
	if f.queryFn == nil {
		return &QueryResult{Rows: []Row{}}, nil
	}
	return f.queryFn(query)
}

func (f *fakeDatabase) ExecuteStatement(ctx context.Context, statement string) (*StatementResult, error) {
	f.record("statement %s", statement)
	if f.statementFn == nil {
		return &StatementResult{Message: "Statement executed successfully. 0 rows affected."}, nil
	}
	return f.statementFn(statement)
}

func (f *fakeDatabase) ListTables(ctx context.Context, schema string) ([]TableInfo, error) {
	f.record("list %q", schema)
	if f.listFn == nil {
		return []TableInfo{}, nil
	}
	return f.listFn(schema)
}

func (f *fakeDatabase) DescribeTable(ctx context.Context, table, schema string) (*TableDescriptor, error) {
	f.record("describe %s %q", table, schema)
	return f.describeFn(table, schema)
}

func (f *fakeDatabase) SampleTable(ctx context.Context, table string, limit int, schema string) (*QueryResult, error) {
	f.record("sample %s %d %q", table, limit, schema)
	if f.sampleFn == nil {
		return &QueryResult{Rows: []Row{}}, nil
	}
	return f.sampleFn(table, limit, schema)
}

func (f *fakeDatabase) TestConnection(ctx context.Context) *ConnectionStatus {
	f.record("test")
	return f.status
}

func numberedResult(n int) *QueryResult {
	result := &QueryResult{Columns: []string{"N"}, Rows: make([]Row, 0, n), RowCount: n}
	for i := 1; i <= n; i++ {
		result.Rows = append(result.Rows, newRow(result.Columns, []any{int64(i)}))
	}
	return result
}

func newTestDispatcher(t *testing.T, db *fakeDatabase) *Dispatcher {
	return NewDispatcher(db, "oracle", zaptest.NewLogger(t))
}

func TestDispatch_MissingArguments(t *testing.T) {
	db := &fakeDatabase{}
	d := newTestDispatcher(t, db)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"execute_query", nil, "query parameter is required"},
		{"execute_query", map[string]any{"query": "   "}, "query parameter is required"},
		{"execute_query", map[string]any{"query": nil}, "query parameter is required"},
		{"describe_table", map[string]any{"schema": "APP"}, "table_name parameter is required"},
		{"preview_table", map[string]any{}, "table_name parameter is required"},
		{"execute_dml", map[string]any{"statement": ""}, "statement parameter is required"},
	}

	for _, tc := range tests {
		t.Run(tc.tool, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), tc.tool, tc.args)
			assert.True(t, resp.IsError)
			assert.True(t, strings.HasPrefix(resp.Text, "Error: "), resp.Text)
			assert.Contains(t, resp.Text, tc.want)
		})
	}

	assert.Empty(t, db.calls, "missing arguments never reach the database")
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := newTestDispatcher(t, &fakeDatabase{})

	resp := d.Dispatch(context.Background(), "drop_everything", nil)
	assert.True(t, resp.IsError)
	assert.Equal(t, "Error: invalid argument: unknown tool: drop_everything", resp.Text)
}

func TestDispatch_PreviewLimitCoercion(t *testing.T) {
	tests := []struct {
		name  string
		limit any
		want  string
	}{
		{"absent uses default", nil, "sample ORDERS 10 \"\""},
		{"json number", float64(5), "sample ORDERS 5 \"\""},
		{"int", 3, "sample ORDERS 3 \"\""},
		{"numeric string", " 7 ", "sample ORDERS 7 \"\""},
		{"json.Number", json.Number("12"), "sample ORDERS 12 \"\""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := &fakeDatabase{}
			d := newTestDispatcher(t, db)

			args := map[string]any{"table_name": "ORDERS"}
			if tc.limit != nil {
				args["limit"] = tc.limit
			}
			resp := d.Dispatch(context.Background(), "preview_table", args)
			require.False(t, resp.IsError, resp.Text)
			assert.Equal(t, []string{tc.want}, db.calls)
		})
	}
}

func TestDispatch_PreviewLimitInvalid(t *testing.T) {
	for _, limit := range []any{"ten", 2.5, true, []any{1}} {
		db := &fakeDatabase{}
		d := newTestDispatcher(t, db)

		resp := d.Dispatch(context.Background(), "preview_table", map[string]any{"table_name": "ORDERS", "limit": limit})
		assert.True(t, resp.IsError, "%v", limit)
		assert.Contains(t, resp.Text, "limit must be an integer")
		assert.Empty(t, db.calls)
	}
}

func TestDispatch_NonStringArgument(t *testing.T) {
	d := newTestDispatcher(t, &fakeDatabase{})

	resp := d.Dispatch(context.Background(), "execute_query", map[string]any{"query": 42})
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Text, "query must be a string")
}

func TestDispatch_ContainsPanics(t *testing.T) {
	db := &fakeDatabase{listFn: func(string) ([]TableInfo, error) { panic("boom") }}
	d := newTestDispatcher(t, db)

	var resp Response
	require.NotPanics(t, func() {
		resp = d.Dispatch(context.Background(), "list_tables", nil)
	})
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Text, "internal error")
	assert.Contains(t, resp.Text, "boom")
}

func TestDispatch_ErrorsRenderDetail(t *testing.T) {
	db := &fakeDatabase{queryFn: func(string) (*QueryResult, error) {
		return nil, newDBError(opQuery, ErrPolicyViolation, nil, "only SELECT queries are allowed in read-only mode")
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "execute_query", map[string]any{"query": "DELETE FROM t"})
	assert.True(t, resp.IsError)
	assert.Equal(t, "Error: only SELECT queries are allowed in read-only mode", resp.Text)
}

func TestDispatch_ExecuteQueryCapsDisplay(t *testing.T) {
	db := &fakeDatabase{queryFn: func(string) (*QueryResult, error) { return numberedResult(150), nil }}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "execute_query", map[string]any{"query": "SELECT n FROM big"})
	require.False(t, resp.IsError, resp.Text)

	assert.True(t, strings.HasPrefix(resp.Text, "Query returned 150 rows\n\nColumns: N\n\nResults:\n1. {'N': 1}\n"))
	assert.Contains(t, resp.Text, "100. {'N': 100}\n")
	assert.NotContains(t, resp.Text, "101. ")
	assert.True(t, strings.HasSuffix(resp.Text, "\n... (50 more rows not shown)\n"))

	full, err := d.Query(context.Background(), "SELECT n FROM big")
	require.NoError(t, err)
	assert.Equal(t, 150, full.RowCount)
	assert.Len(t, full.Rows, 150)
}

func TestDispatch_ExecuteQueryNoRows(t *testing.T) {
	db := &fakeDatabase{queryFn: func(string) (*QueryResult, error) {
		return &QueryResult{Columns: []string{"ID", "NAME"}, Rows: []Row{}}, nil
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "execute_query", map[string]any{"query": "SELECT id, name FROM t WHERE 1 = 0"})
	assert.Equal(t, "Query returned 0 rows\n\nColumns: ID, NAME\n\n", resp.Text)
}

func TestDispatch_ListTables(t *testing.T) {
	db := &fakeDatabase{listFn: func(schema string) ([]TableInfo, error) {
		return []TableInfo{
			{TableName: "CUSTOMERS", TableType: TableTypeTable},
			{TableName: "ORDER_V", TableType: TableTypeView},
		}, nil
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "list_tables", map[string]any{"schema": " hr "})
	require.False(t, resp.IsError)
	assert.Equal(t, "Found 2 tables/views:\n\n- CUSTOMERS (TABLE)\n- ORDER_V (VIEW)\n", resp.Text)
	assert.Equal(t, []string{`list "hr"`}, db.calls)
}

func TestDispatch_DescribeTable(t *testing.T) {
	ten, two, hundred := int64(10), int64(2), int64(100)
	def := "'x'"
	db := &fakeDatabase{describeFn: func(table, schema string) (*TableDescriptor, error) {
		return &TableDescriptor{
			TableName: "ORDERS",
			Schema:    "APP",
			Columns: []ColumnDescriptor{
				{Name: "ID", DataType: "NUMBER", Precision: &ten, Nullable: false, Position: 1},
				{Name: "PRICE", DataType: "NUMBER", Precision: &ten, Scale: &two, Nullable: true, Position: 2},
				{Name: "NAME", DataType: "VARCHAR2", Length: &hundred, Nullable: true, Position: 3, DefaultValue: &def},
				{Name: "CREATED", DataType: "DATE", Nullable: true, Position: 4},
			},
		}, nil
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "describe_table", map[string]any{"table_name": "orders"})
	require.False(t, resp.IsError)
	assert.Equal(t, "Table: APP.ORDERS\n\nColumns (4):\n\n"+
		"1. ID: NUMBER(10) NOT NULL\n"+
		"2. PRICE: NUMBER(10,2) NULL\n"+
		"3. NAME: VARCHAR2(100) NULL DEFAULT 'x'\n"+
		"4. CREATED: DATE NULL\n", resp.Text)
}

func TestDispatch_DescribeTableNotFound(t *testing.T) {
	db := &fakeDatabase{describeFn: func(table, schema string) (*TableDescriptor, error) {
		return nil, newDBError(opDescribeTable, ErrNotFound, nil, "table APP.NOPE not found or not accessible")
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "describe_table", map[string]any{"table_name": "nope"})
	assert.True(t, resp.IsError)
	assert.Equal(t, "Error: table APP.NOPE not found or not accessible", resp.Text)
}

func TestDispatch_PreviewTable(t *testing.T) {
	db := &fakeDatabase{sampleFn: func(table string, limit int, schema string) (*QueryResult, error) {
		return numberedResult(2), nil
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "preview_table", map[string]any{"table_name": "ORDERS", "limit": float64(2)})
	require.False(t, resp.IsError)
	assert.Equal(t, "Preview of ORDERS (showing 2 rows):\n\nColumns: N\n\n1. {'N': 1}\n2. {'N': 2}\n", resp.Text)
}

func TestDispatch_ExecuteDML(t *testing.T) {
	db := &fakeDatabase{statementFn: func(string) (*StatementResult, error) {
		return &StatementResult{RowsAffected: 4, Message: "Statement executed successfully. 4 rows affected."}, nil
	}}
	d := newTestDispatcher(t, db)

	resp := d.Dispatch(context.Background(), "execute_dml", map[string]any{"statement": "UPDATE t SET x = 1"})
	require.False(t, resp.IsError)
	assert.Equal(t, "Statement executed successfully. 4 rows affected.", resp.Text)
}

func TestDispatcher_Operations(t *testing.T) {
	d := newTestDispatcher(t, &fakeDatabase{})

	required := map[string][]string{}
	for _, op := range d.Operations() {
		required[op.Name] = op.Required()

		var schema struct {
			Type       string                    `json:"type"`
			Properties map[string]map[string]any `json:"properties"`
			Required   []string                  `json:"required"`
		}
		require.NoError(t, json.Unmarshal(op.InputSchema(), &schema), op.Name)
		assert.Equal(t, "object", schema.Type)
		assert.Equal(t, op.Required(), schema.Required)
		assert.Len(t, schema.Properties, len(op.Params))
	}

	assert.Equal(t, map[string][]string{
		"execute_query":  {"query"},
		"list_tables":    nil,
		"describe_table": {"table_name"},
		"preview_table":  {"table_name"},
		"execute_dml":    {"statement"},
	}, required)
}

func TestDispatcher_ReadResource(t *testing.T) {
	readOnly := true
	db := &fakeDatabase{
		status: &ConnectionStatus{Status: StatusConnected, DatabaseVersion: "Oracle 19c", ReadOnlyMode: &readOnly},
		listFn: func(string) ([]TableInfo, error) {
			return []TableInfo{{TableName: "A", TableType: TableTypeTable}, {TableName: "B", TableType: TableTypeView}}, nil
		},
	}
	d := newTestDispatcher(t, db)

	uris := []string{}
	for _, r := range d.Resources() {
		uris = append(uris, r.URI)
		assert.Equal(t, "application/json", r.MIMEType)
	}
	assert.Equal(t, []string{"oracle://connection", "oracle://schema"}, uris)

	text, err := d.ReadResource(context.Background(), "oracle://connection")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &status))
	assert.Equal(t, "connected", status["status"])
	assert.Equal(t, true, status["read_only_mode"])
	assert.NotContains(t, status, "error")

	text, err = d.ReadResource(context.Background(), "oracle://schema")
	require.NoError(t, err)
	assert.JSONEq(t, `{"table_count":2,"tables":[{"table_name":"A","table_type":"TABLE"},{"table_name":"B","table_type":"VIEW"}]}`, text)

	_, err = d.ReadResource(context.Background(), "oracle://secrets")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDispatcher_ReadResourceSchemaFailure(t *testing.T) {
	db := &fakeDatabase{listFn: func(string) ([]TableInfo, error) {
		return nil, newDBError(opListTables, ErrQuery, nil, "failed to list tables in APP")
	}}
	d := newTestDispatcher(t, db)

	_, err := d.ReadResource(context.Background(), "oracle://schema")
	assert.ErrorIs(t, err, ErrQuery)
}
