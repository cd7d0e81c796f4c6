// Package apierr defines the error taxonomy surfaced over HTTP by the TUS
// endpoint: a typed *Error carrying a Code and the HTTP status it maps to,
// plus a JSON error envelope, generalizing the teacher's ad hoc
// string-sniffing (strings.Contains(err.Error(), "not found")) into a Code
// field that callers compare after errors.As.
package apierr

import (
	"encoding/json"
	"net/http"
)

// Code identifies a class of protocol error.
type Code string

const (
	CodeMissingHeader  Code = "missing_header"
	CodeInvalidHeader  Code = "invalid_header"
	CodeNotFound       Code = "not_found"
	CodeOffsetMismatch Code = "offset_conflict"
	CodeDuplicate      Code = "duplicate"
	CodeTooLarge       Code = "too_large"
	CodeInternal       Code = "internal"
)

// Error is a protocol-level error carrying the HTTP status it should be
// reported with.
type Error struct {
	Code    Code
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(code Code, status int, message string, err error) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

type envelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Write serializes err as a JSON error envelope and sends it with err's
// status code. Non-*Error values are reported as 500 internal errors.
func Write(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = Wrap(CodeInternal, http.StatusInternalServerError, "internal error", err)
	}

	var body envelope
	body.Error.Message = apiErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(body)
}
