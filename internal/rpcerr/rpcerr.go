// Package rpcerr implements the wire error taxonomy and response envelope
// shared by the HTTP and WebSocket transports.
package rpcerr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Reason is one of the §7 wire error codes.
type Reason string

const (
	ReasonBadRequest    Reason = "bad_request"
	ReasonBadSignature  Reason = "bad_signature"
	ReasonIncorrectCode Reason = "incorrect_code"
	ReasonServerError   Reason = "server_error"
	ReasonStale         Reason = "stale"
	ReasonForbidden     Reason = "forbidden"
)

// httpStatus maps each reason to the HTTP status the gin handlers return.
var httpStatus = map[Reason]int{
	ReasonBadRequest:    http.StatusBadRequest,
	ReasonBadSignature:  http.StatusUnauthorized,
	ReasonIncorrectCode: http.StatusUnauthorized,
	ReasonServerError:   http.StatusInternalServerError,
	ReasonStale:         http.StatusConflict,
	ReasonForbidden:     http.StatusForbidden,
}

// Error is a wire-taxonomy error carrying an optional detail payload for
// the §7 "details" envelope field (used by the "stale" reason to report
// the server's resolved value).
type Error struct {
	Reason  Reason
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the status code the §6 HTTP surface uses for e.Reason.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Reason]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds a bare taxonomy error.
func New(reason Reason, message string) *Error {
	return &Error{Reason: reason, Message: message}
}

// Wrap attaches reason to an underlying cause, preserving errors.Is/As.
func Wrap(reason Reason, cause error, message string) *Error {
	return &Error{Reason: reason, Message: message, cause: cause}
}

// WithDetails attaches a details payload, used by the "stale" reason to
// carry the server's current resolved value back to a rejected client (§7).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Envelope is the §6 JSON response shape: {success, data|reason, details?}.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// OK wraps a successful payload.
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail converts err into a response Envelope, defaulting to server_error
// for errors that don't carry taxonomy information.
func Fail(err error) Envelope {
	var rerr *Error
	if errors.As(err, &rerr) {
		return Envelope{Success: false, Reason: rerr.Reason, Message: rerr.Error(), Details: rerr.Details}
	}
	return Envelope{Success: false, Reason: ReasonServerError, Message: err.Error()}
}

// Status returns the HTTP status for err, defaulting to 500.
func Status(err error) int {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
