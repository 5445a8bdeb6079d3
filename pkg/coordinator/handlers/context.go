package handlers

import (
	"net/http"
	"strings"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/mw"
	"github.com/visage-live/visage/pkg/coordinator/sessions"
)

// ContextHandler stores external context for a session and attempts to
// inject it into the live conversation.
type ContextHandler struct {
	Config  config.Config
	Manager *sessions.Manager
}

func (h ContextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !checkConfigured(w, r, h.Config) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if !decodeBody(w, r, h.Config.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "sessionId is required",
			Param:     "sessionId",
			RequestID: reqID,
		})
		return
	}
	if req.Text == "" {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "text is required",
			Param:     "text",
			RequestID: reqID,
		})
		return
	}

	status, err := h.Manager.InjectContext(r.Context(), req.SessionID, req.Text)
	if err != nil {
		apierror.WriteFrom(w, err, reqID)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ContextStatusHandler reports whether a session's stored context has been
// injected.
type ContextStatusHandler struct {
	Manager *sessions.Manager
}

func (h ContextStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if sessionID == "" {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "sessionId is required",
			Param:     "sessionId",
			RequestID: reqID,
		})
		return
	}
	writeJSON(w, http.StatusOK, h.Manager.ContextStatus(sessionID))
}
