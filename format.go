package main

import (
	"errors"
	"fmt"
	"strings"
)

// maxDisplayRows caps the rows rendered by formatQueryResult. The result
// itself is never truncated.
const maxDisplayRows = 100

func formatQueryResult(result *QueryResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query returned %d rows\n\n", result.RowCount)
	fmt.Fprintf(&sb, "Columns: %s\n\n", strings.Join(result.Columns, ", "))

	if len(result.Rows) == 0 {
		return sb.String()
	}

	sb.WriteString("Results:\n")
	for i, row := range result.Rows {
		if i == maxDisplayRows {
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, row)
	}
	if result.RowCount > maxDisplayRows {
		fmt.Fprintf(&sb, "\n... (%d more rows not shown)\n", result.RowCount-maxDisplayRows)
	}
	return sb.String()
}

func formatTables(tables []TableInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d tables/views:\n\n", len(tables))
	for _, t := range tables {
		fmt.Fprintf(&sb, "- %s (%s)\n", t.TableName, t.TableType)
	}
	return sb.String()
}

func formatTableDescriptor(desc *TableDescriptor) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Table: %s.%s\n\n", desc.Schema, desc.TableName)
	fmt.Fprintf(&sb, "Columns (%d):\n\n", len(desc.Columns))

	for _, col := range desc.Columns {
		nullable := "NOT NULL"
		if col.Nullable {
			nullable = "NULL"
		}
		fmt.Fprintf(&sb, "%d. %s: %s %s", col.Position, col.Name, columnType(col), nullable)
		if col.DefaultValue != nil && *col.DefaultValue != "" {
			fmt.Fprintf(&sb, " DEFAULT %s", *col.DefaultValue)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// columnType renders NUMBER(10,2), VARCHAR2(50) or the bare type name.
func columnType(col ColumnDescriptor) string {
	switch {
	case col.Precision != nil && *col.Precision != 0:
		if col.Scale != nil && *col.Scale != 0 {
			return fmt.Sprintf("%s(%d,%d)", col.DataType, *col.Precision, *col.Scale)
		}
		return fmt.Sprintf("%s(%d)", col.DataType, *col.Precision)
	case col.Length != nil && *col.Length != 0:
		return fmt.Sprintf("%s(%d)", col.DataType, *col.Length)
	default:
		return col.DataType
	}
}

func formatPreview(table string, result *QueryResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Preview of %s (showing %d rows):\n\n", table, result.RowCount)
	fmt.Fprintf(&sb, "Columns: %s\n\n", strings.Join(result.Columns, ", "))
	for i, row := range result.Rows {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, row)
	}
	return sb.String()
}

// formatError renders any error as the single-line text returned to callers.
func formatError(err error) string {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return "Error: " + dbErr.Detail()
	}
	return "Error: " + err.Error()
}
