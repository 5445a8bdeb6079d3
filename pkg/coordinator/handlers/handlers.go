package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{
		Type:      apierror.ErrInvalidRequest,
		Message:   "method not allowed",
		RequestID: reqID,
	})
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	reqID, _ := mw.RequestIDFrom(r.Context())
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "invalid request body: " + err.Error(),
			RequestID: reqID,
		})
		return false
	}
	return true
}

// checkConfigured rejects session operations while credentials are missing.
// This is the structured-error surface for an half-configured deployment;
// the process itself stays up.
func checkConfigured(w http.ResponseWriter, r *http.Request, cfg config.Config) bool {
	problems := cfg.Problems()
	if len(problems) == 0 {
		return true
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusServiceUnavailable, &apierror.Error{
		Type:      apierror.ErrUnavailable,
		Code:      "configuration_incomplete",
		Message:   strings.Join(problems, "; "),
		RequestID: reqID,
	})
	return false
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &apierror.Error{
		Type:      apierror.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}
