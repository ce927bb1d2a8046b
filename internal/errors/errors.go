// Package errors defines the JSON error envelope returned by the local HTTP
// server and helpers to write it.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Error codes used in HTTP error envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorBody is the "error" member of an error response.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON shape of every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HTTPError is an error that knows its HTTP status and envelope code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying details.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates an HTTPError.
func New(status int, code, message string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message, Err: err}
}

// BadRequest reports a malformed request.
func BadRequest(message string, err error) *HTTPError {
	return New(http.StatusBadRequest, CodeBadRequest, message, err)
}

// NotFound reports an unknown route or resource.
func NotFound(message string) *HTTPError {
	return New(http.StatusNotFound, CodeNotFound, message, nil)
}

// MethodNotAllowed reports a known route used with the wrong method.
func MethodNotAllowed(message string) *HTTPError {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, message, nil)
}

// ServiceUnavailable reports a failing health or dependency check.
func ServiceUnavailable(message string, details map[string]any) *HTTPError {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, message, nil).WithDetails(details)
}

// RespondWithError writes err as a JSON error envelope. Errors that are not
// *HTTPError become a 500 INTERNAL_ERROR without leaking their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = New(http.StatusInternalServerError, CodeInternal, "internal server error", err)
	}

	body := ErrorBody{
		Code:    httpErr.Code,
		Message: httpErr.Message,
		Details: httpErr.Details,
	}
	if r != nil {
		body.RequestID = chimw.GetReqID(r.Context())
	}
	WriteError(w, httpErr.Status, body)
}

// WriteError writes body with status as application/json.
func WriteError(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
