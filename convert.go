package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	go_ora "github.com/sijms/go-ora/v2"
)

// QueryResult is a fully-read result set. Every row carries exactly Columns,
// in order.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     []Row    `json:"rows"`
	RowCount int      `json:"row_count"`
}

// Row is one result row keyed by column name. It marshals as a JSON object
// whose keys follow the column order.
type Row struct {
	columns []string
	values  []any
}

func newRow(columns []string, values []any) Row {
	return Row{columns: columns, values: values}
}

// Columns returns the row's keys in order.
func (r Row) Columns() []string { return r.columns }

// Values returns the converted values in column order.
func (r Row) Values() []any { return r.values }

// Len is the number of keys in the row.
func (r Row) Len() int { return len(r.columns) }

// Get returns the value of column name and whether the row has it.
func (r Row) Get(name string) (any, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the row the way the display formatter prints it:
// {'A': 1, 'B': 'x'}.
func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "'%s': %s", c, displayValue(r.values[i]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func displayValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return "'" + strings.ReplaceAll(x, "'", `\'`) + "'"
	case bool:
		if x {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(x)
	}
}

// convertValue maps a driver-native value to a transport-safe one. dbType is
// the column's DatabaseTypeName and decides whether raw bytes are text or
// binary.
func convertValue(v any, dbType string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return formatTime(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return formatTime(*x), nil
	case go_ora.TimeStamp:
		return formatTime(time.Time(x)), nil
	case go_ora.TimeStampTZ:
		return formatTime(time.Time(x)), nil
	case go_ora.Clob:
		if !x.Valid {
			return nil, nil
		}
		return x.String, nil
	case go_ora.Blob:
		if x.Data == nil {
			return nil, nil
		}
		return hex.EncodeToString(x.Data), nil
	case []byte:
		if isBinaryType(dbType) {
			return hex.EncodeToString(x), nil
		}
		if utf8.Valid(x) {
			return string(x), nil
		}
		return hex.EncodeToString(x), nil
	case io.Reader:
		data, err := io.ReadAll(x)
		if err != nil {
			return nil, fmt.Errorf("failed to read LOB value: %w", err)
		}
		if isBinaryType(dbType) || !utf8.Valid(data) {
			return hex.EncodeToString(data), nil
		}
		return string(data), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return v, nil
	}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// isBinaryType reports whether a column type carries raw bytes. Columns with
// no reported type fall back to a UTF-8 check in convertValue.
func isBinaryType(dbType string) bool {
	t := strings.ToUpper(strings.ReplaceAll(dbType, " ", ""))
	switch {
	case t == "":
		return false
	case t == "RAW", t == "LONGRAW", t == "BFILE", t == "OCIFILELOCATOR", t == "BYTEA", t == "GEOMETRY":
		return true
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BINARY"):
		return true
	}
	return false
}
