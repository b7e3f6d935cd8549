package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Database is the set of client operations the dispatcher delegates to.
// *Client implements it.
type Database interface {
	ExecuteQuery(ctx context.Context, query string) (*QueryResult, error)
	ExecuteStatement(ctx context.Context, statement string) (*StatementResult, error)
	ListTables(ctx context.Context, schema string) ([]TableInfo, error)
	DescribeTable(ctx context.Context, table, schema string) (*TableDescriptor, error)
	SampleTable(ctx context.Context, table string, limit int, schema string) (*QueryResult, error)
	TestConnection(ctx context.Context) *ConnectionStatus
}

// Dispatcher maps named operations to Database calls and renders their
// results as display text. No error or panic escapes Dispatch.
type Dispatcher struct {
	db       Database
	scheme   string
	logger   *zap.Logger
	specs    map[string]OperationSpec
	handlers map[string]toolHandler
}

// NewDispatcher builds a dispatcher over db. scheme prefixes the resource URIs.
func NewDispatcher(db Database, scheme string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		db:     db,
		scheme: scheme,
		logger: logger,
		specs:  make(map[string]OperationSpec, len(operationSpecs)),
	}
	for _, spec := range operationSpecs {
		d.specs[spec.Name] = spec
	}
	d.handlers = d.toolHandlers()
	return d
}

// Operations returns the static tool declarations.
func (d *Dispatcher) Operations() []OperationSpec {
	return operationSpecs
}

// Resources returns the informational resources served by ReadResource.
func (d *Dispatcher) Resources() []ResourceSpec {
	return []ResourceSpec{
		{
			URI:         d.connectionURI(),
			Name:        "Database Connection Info",
			Description: "Information about the current database connection",
			MIMEType:    "application/json",
		},
		{
			URI:         d.schemaURI(),
			Name:        "Schema Information",
			Description: "Information about the connected database schema",
			MIMEType:    "application/json",
		},
	}
}

func (d *Dispatcher) connectionURI() string { return d.scheme + "://connection" }
func (d *Dispatcher) schemaURI() string     { return d.scheme + "://schema" }

// Dispatch runs one tool call. Failures, including panics, are rendered as
// an error response.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (resp Response) {
	start := time.Now()
	log := d.logger.With(zap.String("request_id", uuid.NewString()), zap.String("tool", name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("tool call panicked", zap.Any("panic", r), zap.Stack("stack"))
			resp = Response{Text: formatError(fmt.Errorf("internal error: %v", r)), IsError: true}
		}
	}()

	text, err := d.call(ctx, name, args)
	if err != nil {
		log.Error("tool call failed",
			zap.String("kind", errorKind(err)),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return Response{Text: formatError(err), IsError: true}
	}

	log.Info("tool call completed", zap.Duration("duration", time.Since(start)))
	return Response{Text: text}
}

func (d *Dispatcher) call(ctx context.Context, name string, args map[string]any) (string, error) {
	spec, ok := d.specs[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown tool: %s", ErrInvalidArgument, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := checkRequired(spec, args); err != nil {
		return "", err
	}
	return d.handlers[name](ctx, args)
}

// Query returns the full result set of query with no display cap.
func (d *Dispatcher) Query(ctx context.Context, query string) (*QueryResult, error) {
	return d.db.ExecuteQuery(ctx, query)
}

type schemaSummary struct {
	TableCount int         `json:"table_count"`
	Tables     []TableInfo `json:"tables"`
}

// ReadResource renders the resource at uri as indented JSON.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (string, error) {
	var doc any
	switch uri {
	case d.connectionURI():
		doc = d.db.TestConnection(ctx)
	case d.schemaURI():
		tables, err := d.db.ListTables(ctx, "")
		if err != nil {
			d.logger.Error("reading resource failed", zap.String("uri", uri), zap.Error(err))
			return "", err
		}
		doc = schemaSummary{TableCount: len(tables), Tables: tables}
	default:
		return "", fmt.Errorf("%w: unknown resource: %s", ErrNotFound, uri)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
