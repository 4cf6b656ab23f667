// Package util provides the logger and the error taxonomy shared by the client,
// the schema catalog and the managers.
package util

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors. Every typed error below unwraps to exactly one of these.
var (
	ErrSchemaMalformed = errors.New("schema malformed")
	ErrNotFound        = errors.New("resource not found")
	ErrValueInvalid    = errors.New("value does not fit field")
	ErrMatchKeyInvalid = errors.New("invalid match key")
	ErrTransport       = errors.New("transport failure")
	ErrOrdering        = errors.New("operation out of order")
	ErrSessionFailed   = errors.New("session is in failed state")
	ErrNotBound        = errors.New("no program bound to session")
)

// SchemaError reports a malformed or incomplete schema artifact
type SchemaError struct {
	Resource string
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.Resource == "" {
		return "schema malformed: " + e.Reason
	}
	return fmt.Sprintf("schema malformed at %s: %s", e.Resource, e.Reason)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaMalformed
}

// NewSchemaError creates a schema error
func NewSchemaError(resource, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Resource: resource, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a name that did not resolve against the catalog
type NotFoundError struct {
	Kind  string
	Name  string
	Scope string
}

func (e *NotFoundError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s '%s' not found in %s", e.Kind, e.Name, e.Scope)
	}
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(kind, name, scope string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name, Scope: scope}
}

// ValueError reports a value that cannot be encoded into its declared field
type ValueError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValueError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid value %v: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid value %v for %s: %s", e.Value, e.Field, e.Reason)
}

func (e *ValueError) Unwrap() error {
	return ErrValueInvalid
}

// NewValueError creates a value error
func NewValueError(field string, value interface{}, format string, args ...interface{}) *ValueError {
	return &ValueError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

// MatchKeyError reports a violated ternary/range/lpm invariant
type MatchKeyError struct {
	Field  string
	Reason string
}

func (e *MatchKeyError) Error() string {
	return fmt.Sprintf("invalid match key %s: %s", e.Field, e.Reason)
}

func (e *MatchKeyError) Unwrap() error {
	return ErrMatchKeyInvalid
}

// NewMatchKeyError creates a match key error
func NewMatchKeyError(field, format string, args ...interface{}) *MatchKeyError {
	return &MatchKeyError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failed RPC with the operation and resource it targeted
type TransportError struct {
	Operation string
	Resource  string
	Err       error
}

func (e *TransportError) Error() string {
	msg := "transport error during " + e.Operation
	if e.Resource != "" {
		msg += " on " + e.Resource
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return ErrTransport
}

// Code returns the gRPC status code of the underlying error, codes.Unknown
// if it did not come from gRPC.
func (e *TransportError) Code() codes.Code {
	if s, ok := status.FromError(e.Err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// Rejected is true when the pipeline answered and refused the request, as
// opposed to the pipeline being unreachable.
func (e *TransportError) Rejected() bool {
	switch e.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unknown:
		return false
	}
	return true
}

// NewTransportError creates a transport error
func NewTransportError(operation, resource string, err error) *TransportError {
	return &TransportError{Operation: operation, Resource: resource, Err: err}
}

// OrderingError reports a call that violates a required call order
type OrderingError struct {
	Operation string
	Resource  string
	Requires  string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("cannot %s %s: %s", e.Operation, e.Resource, e.Requires)
}

func (e *OrderingError) Unwrap() error {
	return ErrOrdering
}

// NewOrderingError creates an ordering error
func NewOrderingError(operation, resource, requires string) *OrderingError {
	return &OrderingError{Operation: operation, Resource: resource, Requires: requires}
}

// MultiError collects the failures of a best-effort sweep
type MultiError struct {
	Operation string
	Errors    []error
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 1 {
		return e.Operation + ": " + e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%s: %d failures:\n  - %s", e.Operation, len(e.Errors), strings.Join(msgs, "\n  - "))
}

// Unwrap exposes the collected errors to errors.Is / errors.As.
func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// Add appends err if it is not nil
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// ErrorOrNil returns nil when nothing failed
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}
