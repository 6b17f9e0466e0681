package rest

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/edgeflare/restlet/pkg/query"
	"github.com/edgeflare/restlet/pkg/schema"
)

// Error is a request-scoped error carrying the HTTP status it maps to.
//
//	return nil, rest.BadRequest("invalid body").WithField("age", "not a number")
type Error struct {
	Status  int
	Message string
	Code    string
	Fields  map[string]string
	Err     error

	// Allow lists the accepted methods of a 405.
	Allow []string

	stack []byte
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason is the standard status text, e.g. "Not Found".
func (e *Error) Reason() string {
	return http.StatusText(e.Status)
}

// Stack is the goroutine stack captured when an internal error was created.
func (e *Error) Stack() string {
	return string(e.stack)
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithField records a problem with one input field.
func (e *Error) WithField(field, problem string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = problem
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(status int, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Status: status, Message: msg}
}

func BadRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newError(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(http.StatusForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(http.StatusNotFound, format, args...)
}

func MethodNotAllowed(format string, args ...any) *Error {
	return newError(http.StatusMethodNotAllowed, format, args...)
}

func NotImplemented(format string, args ...any) *Error {
	return newError(http.StatusNotImplemented, format, args...)
}

func InternalError(format string, args ...any) *Error {
	e := newError(http.StatusInternalServerError, format, args...)
	e.stack = debug.Stack()
	return e
}

// ConfigurationError reports an invalid resource declaration found while
// building a Descriptor.
func ConfigurationError(format string, args ...any) *Error {
	return newError(http.StatusInternalServerError, format, args...).WithCode("configuration")
}

// AsError converts err into an *Error. Unsupported lookups become 501 and
// anything not already an *Error becomes a 500 wrapping err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, query.ErrUnsupportedLookup):
		return NotImplemented("%s", err.Error()).WithCode("unsupported_lookup")
	case errors.Is(err, schema.ErrTableNotFound):
		return NotFound("%s", err.Error())
	}
	return InternalError("").Wrap(err)
}
