// pkg/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors shared across packages
var (
	ErrNotFound    = errors.New("resource not found")
	ErrInvalidArg  = errors.New("invalid argument")
	ErrUnavailable = errors.New("service unavailable")
	ErrTimeout     = errors.New("operation timed out")
)

// Is provides compatibility with the standard errors package
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As provides compatibility with the standard errors package
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New creates a new error with the given message
func New(message string) error {
	return errors.New(message)
}

// Error represents a domain error with additional context
type Error struct {
	// Original is the underlying cause, if any
	Original error
	// Domain is the domain of the error (e.g., "payment", "ledger", "custody")
	Domain string
	// Code is a machine-readable error code
	Code string
	// Message is a human-readable message that is safe to return to callers
	Message string
	// Operation is the operation that failed (e.g., "Preflight", "SubmitTransaction")
	Operation string
	// Fields contains structured context about the failure
	Fields map[string]interface{}
}

// Error implements the error interface.
// Format: [Domain.Operation] Code=CODE: Message: Original
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("[")
	switch {
	case e.Domain != "" && e.Operation != "":
		sb.WriteString(e.Domain + "." + e.Operation)
	case e.Domain != "":
		sb.WriteString(e.Domain)
	default:
		sb.WriteString(e.Operation)
	}
	sb.WriteString("] ")

	if e.Code != "" {
		sb.WriteString("Code=")
		sb.WriteString(e.Code)
		sb.WriteString(": ")
	}

	sb.WriteString(e.Message)

	if e.Original != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Original.Error())
	}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Fields[k])
		}
		sb.WriteString("}")
	}

	return sb.String()
}

// Unwrap implements the errors.Unwrapper interface
func (e *Error) Unwrap() error {
	return e.Original
}

// clone copies e so that wrappers never mutate an error someone else holds.
func (e *Error) clone() *Error {
	c := *e
	if e.Fields != nil {
		c.Fields = make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// Wrap wraps an error with a message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		c := domainErr.clone()
		c.Message = message
		return c
	}

	return &Error{Original: err, Message: message}
}

// WrapWithOperation wraps an error with an operation
func WrapWithOperation(err error, operation string) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		c := domainErr.clone()
		c.Operation = operation
		return c
	}

	return &Error{Original: err, Operation: operation}
}

// WrapWithField wraps an error with a field
func WrapWithField(err error, key string, value interface{}) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		c := domainErr.clone()
		if c.Fields == nil {
			c.Fields = make(map[string]interface{})
		}
		c.Fields[key] = value
		return c
	}

	return &Error{Original: err, Fields: map[string]interface{}{key: value}}
}

// CodeOf returns the code of the first domain error in err's chain, or "".
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// FieldOf returns a structured field from the first domain error in err's chain.
func FieldOf(err error, key string) (interface{}, bool) {
	var domainErr *Error
	if !errors.As(err, &domainErr) || domainErr.Fields == nil {
		return nil, false
	}
	v, ok := domainErr.Fields[key]
	return v, ok
}
