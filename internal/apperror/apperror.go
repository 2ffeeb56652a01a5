// Package apperror defines the error taxonomy shared by the core services.
// Services return *Error values; the HTTP layer translates kinds to status codes
// and never inspects raw messages.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a field-level input error, recoverable by user correction.
	KindValidation
	KindNotFound
	// KindConflict covers optimistic-version mismatches and ownership violations.
	KindConflict
	// KindBusinessRule is a precondition failure on an otherwise well-formed request.
	KindBusinessRule
	// KindExternal is an Ahjo/Talpa call failure; the operation aborted without state change.
	KindExternal
	// KindIntegrity marks malformed persisted data requiring manual remediation.
	KindIntegrity
)

// FieldError indexes a validation failure to a snake_cased request field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Code)
		}
		return fmt.Sprintf("%s (%s)", e.Code, strings.Join(parts, ", "))
	}
	return e.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation builds a single-field validation error.
func Validation(field, code, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    "validation_error",
		Message: message,
		Fields:  []FieldError{{Field: field, Code: code, Message: message}},
	}
}

// ValidationFields builds a multi-field validation error.
func ValidationFields(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Code: "validation_error", Fields: fields}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: resource + "_not_found", Message: resource + " not found"}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func BusinessRule(code, message string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: message}
}

func External(system string, err error) *Error {
	msg := system + " request failed"
	if err != nil {
		msg = fmt.Sprintf("%s request failed: %v", system, err)
	}
	return &Error{Kind: KindExternal, Code: system + "_unavailable", Message: msg}
}

func Integrity(message string) *Error {
	return &Error{Kind: KindIntegrity, Code: "data_integrity", Message: message}
}

// KindOf unwraps err and reports its kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError unwraps err into *Error when possible.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
