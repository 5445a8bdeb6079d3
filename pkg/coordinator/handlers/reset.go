package handlers

import (
	"net/http"
	"strings"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/mw"
	"github.com/visage-live/visage/pkg/coordinator/sessions"
)

// ResetHandler clears a logical session's stored context and injection
// history without tearing down its transport.
type ResetHandler struct {
	Config  config.Config
	Manager *sessions.Manager
}

func (h ResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req struct {
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, h.Config.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "session_id is required",
			Param:     "session_id",
			RequestID: reqID,
		})
		return
	}

	h.Manager.Reset(r.Context(), req.SessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
