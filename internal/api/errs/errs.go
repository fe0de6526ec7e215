// Package errs provides the error type returned by API handlers.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrCode is the category of an API error.
type ErrCode struct {
	value  int
	name   string
	status int
}

// Value returns the numeric code.
func (ec ErrCode) Value() int { return ec.value }

// String returns the code name.
func (ec ErrCode) String() string { return ec.name }

// Error codes.
var (
	InvalidArgument    = ErrCode{value: 1, name: "invalid_argument", status: http.StatusBadRequest}
	NotFound           = ErrCode{value: 2, name: "not_found", status: http.StatusNotFound}
	FailedPrecondition = ErrCode{value: 3, name: "failed_precondition", status: http.StatusPreconditionFailed}
	Internal           = ErrCode{value: 4, name: "internal", status: http.StatusInternalServerError}
	Unavailable        = ErrCode{value: 5, name: "unavailable", status: http.StatusServiceUnavailable}
	BadGateway         = ErrCode{value: 6, name: "bad_gateway", status: http.StatusBadGateway}
	Canceled           = ErrCode{value: 7, name: "canceled", status: 499}
)

// Error is the error envelope written to clients as {"error": ..., "fields": ...}.
type Error struct {
	Code     ErrCode           `json:"-"`
	Message  string            `json:"error"`
	Fields   map[string]string `json:"fields,omitempty"`
	FuncName string            `json:"-"`
	FileName string            `json:"-"`
}

// New wraps err with code, recording the caller for logs.
func New(code ErrCode, err error) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	e := &Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}

	var fe FieldErrors
	if errors.As(err, &fe) {
		e.Message = "validation failed"
		e.Fields = fe.Fields()
	}
	return e
}

// Newf builds an error from a format string.
func Newf(code ErrCode, format string, v ...any) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, v...),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	return data, "application/json", err
}

// HTTPStatus implements the web.HTTPStatusSetter interface.
func (e *Error) HTTPStatus() int { return e.Code.status }

// Equal reports whether e carries the same code and message as err.
func (e *Error) Equal(err *Error) bool {
	return e.Code == err.Code && e.Message == err.Message
}

// IsError reports whether err wraps an *Error.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns the *Error wrapped by err, if any.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}
