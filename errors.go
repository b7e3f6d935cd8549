package main

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the config loader, the database client
// and the dispatcher matches exactly one of these with errors.Is.
var (
	ErrMissingRequiredSetting = errors.New("missing required setting")
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrConnection             = errors.New("connection error")
	ErrPolicyViolation        = errors.New("policy violation")
	ErrQuery                  = errors.New("query error")
	ErrStatement              = errors.New("statement error")
	ErrNotFound               = errors.New("not found")
	ErrMissingArgument        = errors.New("missing argument")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrStartup                = errors.New("startup error")
)

// DBError carries the operation that failed, its kind and the underlying cause.
type DBError struct {
	Op      string
	Kind    error
	Message string
	Cause   error
}

func (e *DBError) Error() string {
	msg := e.Op + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Detail is the error text without the operation prefix.
func (e *DBError) Detail() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *DBError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newDBError(op string, kind error, cause error, format string, args ...any) *DBError {
	return &DBError{
		Op:      op,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// errorKind returns the short label of the first known kind err matches.
func errorKind(err error) string {
	for _, kind := range []error{
		ErrPolicyViolation,
		ErrNotFound,
		ErrMissingArgument,
		ErrInvalidArgument,
		ErrQuery,
		ErrStatement,
		ErrConnection,
		ErrMissingRequiredSetting,
		ErrInvalidConfiguration,
		ErrStartup,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal error"
}
