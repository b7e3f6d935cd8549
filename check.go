package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const checkListLimit = 10

// runCheck walks through configuration, connection, table listing and a probe
// query, printing a report to out. It is the diagnostic behind the check
// command.
func runCheck(ctx context.Context, out io.Writer, s *Shell) error {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "SQL MCP Connection Test")
	fmt.Fprintln(out, rule)
	fmt.Fprintln(out)

	fail := func(err error) error {
		fmt.Fprintf(out, "   [ERROR] %v\n", err)
		if errors.Is(err, ErrMissingRequiredSetting) || errors.Is(err, ErrInvalidConfiguration) {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Please check your .env file and ensure all required variables are set.")
		}
		return err
	}

	fmt.Fprintln(out, "1. Loading and validating configuration...")
	cfg, err := s.loadConfig()
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(out, "   [OK] Configuration is valid")
	fmt.Fprintf(out, "   - Driver: %s\n", cfg.Driver)
	fmt.Fprintf(out, "   - User: %s\n", cfg.User)
	fmt.Fprintf(out, "   - DSN: %s\n", cfg.MaskedDSN())
	fmt.Fprintf(out, "   - Read-only mode: %t\n", cfg.ReadOnly)
	fmt.Fprintln(out)

	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return fail(err)
	}

	fmt.Fprintln(out, "2. Initializing database client...")
	db, err := s.openClient(ctx, cfg, s.logger, s.metrics)
	if err != nil {
		return fail(err)
	}
	defer db.Close()
	fmt.Fprintln(out, "   [OK] Database client initialized")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "3. Testing database connection...")
	status := db.TestConnection(ctx)
	if status.Status != StatusConnected {
		return fail(fmt.Errorf("%w: connection failed: %s", ErrStartup, status.Error))
	}
	fmt.Fprintln(out, "   [OK] Connection successful!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "   Connection Details:")
	fmt.Fprintf(out, "   - Database: %s\n", status.DatabaseName)
	fmt.Fprintf(out, "   - Version: %s\n", status.DatabaseVersion)
	fmt.Fprintf(out, "   - Connected as: %s\n", status.ConnectedUser)
	fmt.Fprintf(out, "   - DSN: %s\n", status.DSN)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "4. Listing tables in schema...")
	tables, err := db.ListTables(ctx, "")
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(out, "   [OK] Found %d tables/views\n", len(tables))
	if len(tables) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "   First %d tables/views:\n", checkListLimit)
		for i, t := range tables {
			if i == checkListLimit {
				break
			}
			fmt.Fprintf(out, "   %d. %s (%s)\n", i+1, t.TableName, t.TableType)
		}
		if len(tables) > checkListLimit {
			fmt.Fprintf(out, "   ... and %d more\n", len(tables)-checkListLimit)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "5. Testing query execution...")
	result, err := db.ExecuteQuery(ctx, dialect.ProbeQuery())
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(out, "   [OK] Query executed successfully")
	fmt.Fprintf(out, "   - Columns: %s\n", strings.Join(result.Columns, ", "))
	fmt.Fprintf(out, "   - Row count: %d\n", result.RowCount)
	if len(result.Rows) > 0 {
		fmt.Fprintf(out, "   - Result: %s\n", result.Rows[0])
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, rule)
	fmt.Fprintln(out, "[SUCCESS] ALL TESTS PASSED!")
	fmt.Fprintln(out, rule)
	return nil
}
