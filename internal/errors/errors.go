// Package errors maps tuner errors onto HTTP and JSON-RPC responses.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/copyleftdev/acctune/internal/optimization"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeNotFound       = -32001
	CodeConflict       = -32002
)

var (
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = stderrors.New("run not found")
	// ErrConflict is returned when a run is already in a terminal state.
	ErrConflict = stderrors.New("run already finished")
	// ErrBadRequest marks malformed request bodies.
	ErrBadRequest = stderrors.New("bad request")
)

// Error is an error with its HTTP status and JSON-RPC code.
type Error struct {
	// Status is the HTTP status code.
	Status int
	// Code is the JSON-RPC error code.
	Code int
	// Message is safe to return to clients.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// From classifies err. Errors that are already an *Error are returned as
// they are.
func From(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	switch {
	case stderrors.Is(err, ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	case stderrors.Is(err, ErrConflict):
		return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: err.Error(), Err: err}
	case stderrors.Is(err, optimization.ErrIndeterminate):
		return &Error{Status: http.StatusUnprocessableEntity, Code: CodeInvalidParams, Message: err.Error(), Err: err}
	case stderrors.Is(err, ErrBadRequest),
		stderrors.Is(err, optimization.ErrUnknownMethod),
		stderrors.Is(err, optimization.ErrInvalidBounds),
		stderrors.Is(err, optimization.ErrInvalidConfig),
		stderrors.Is(err, optimization.ErrNoSamples):
		return &Error{Status: http.StatusBadRequest, Code: CodeInvalidParams, Message: err.Error(), Err: err}
	}
	return &Error{Status: http.StatusInternalServerError, Code: CodeServerError, Message: "internal server error", Err: err}
}

// WriteJSON writes err as {"error": message} with the mapped status.
func WriteJSON(w http.ResponseWriter, err error) {
	e := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Message})
}
