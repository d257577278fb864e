package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindConflict      ErrorKind = "CONFLICT"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindUnauthorized  ErrorKind = "UNAUTHORIZED"
	KindTerminalState ErrorKind = "TERMINAL_STATE"
	KindTransient     ErrorKind = "TRANSIENT"
)

// Error is the failure type every scheduling operation returns. Fields holds
// per-field messages for validation failures.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is true only for transient failures.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "invalid request", Fields: fields}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Message: op + " failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
