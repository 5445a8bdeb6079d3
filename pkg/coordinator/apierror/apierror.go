package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/visage-live/visage/pkg/core/realtime"
)

type Type string

const (
	ErrInvalidRequest Type = "invalid_request_error"
	ErrNotFound       Type = "not_found_error"
	ErrUnavailable    Type = "unavailable_error"
	ErrUpstream       Type = "upstream_error"
	ErrAPI            Type = "api_error"
)

// Error is the canonical wire error for every coordinator endpoint.
type Error struct {
	Type      Type   `json:"type"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Param     string `json:"param,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string { return string(e.Type) + ": " + e.Message }

type Envelope struct {
	Error *Error `json:"error"`
}

// FromError normalizes any error into the wire shape and an HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, statusFromType(out.Type)
	}

	// Speech-service negotiation failures carry their own status and code.
	var negErr *realtime.NegotiateError
	if errors.As(err, &negErr) && negErr != nil {
		return &Error{
			Type:      ErrUpstream,
			Message:   negErr.Message,
			Code:      negErr.Code,
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	if errors.Is(err, realtime.ErrNotReady) {
		return &Error{
			Type:      ErrUnavailable,
			Message:   "realtime transport not ready",
			Code:      "transport_not_ready",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t Type) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Write sends one error envelope.
func Write(w http.ResponseWriter, status int, e *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}

// WriteFrom normalizes and sends in one step.
func WriteFrom(w http.ResponseWriter, err error, requestID string) {
	e, status := FromError(err, requestID)
	Write(w, status, e)
}
