package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/mw"
	"github.com/visage-live/visage/pkg/coordinator/sessions"
)

// MessageHandler accepts session commands: text turns, control actions, and
// the client's connection-ready signal.
type MessageHandler struct {
	Config  config.Config
	Manager *sessions.Manager
	Logger  *slog.Logger
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Control   string `json:"control,omitempty"`
}

type messageResponse struct {
	Delivered bool   `json:"delivered"`
	Via       string `json:"via,omitempty"`
}

func (h MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !checkConfigured(w, r, h.Config) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req messageRequest
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

	switch req.Type {
	case "text":
		if strings.TrimSpace(req.Text) == "" {
			apierror.Write(w, http.StatusBadRequest, &apierror.Error{
				Type:      apierror.ErrInvalidRequest,
				Message:   "text is required for a text message",
				Param:     "text",
				RequestID: reqID,
			})
			return
		}
		delivered, err := h.Manager.SubmitText(r.Context(), req.SessionID, req.Text)
		if err != nil {
			apierror.WriteFrom(w, err, reqID)
			return
		}
		via := "fallback"
		if delivered {
			via = "realtime"
		}
		if h.Logger != nil {
			h.Logger.Debug("text turn handled", "session_id", req.SessionID, "via", via, "request_id", reqID)
		}
		writeJSON(w, http.StatusOK, messageResponse{Delivered: delivered, Via: via})

	case "control":
		h.control(w, r, req, reqID)

	case "connection_ready":
		if err := h.Manager.ConnectionReady(r.Context(), req.SessionID); err != nil {
			apierror.WriteFrom(w, err, reqID)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Delivered: true})

	default:
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "type must be one of text, control, connection_ready",
			Param:     "type",
			RequestID: reqID,
		})
	}
}

func (h MessageHandler) control(w http.ResponseWriter, r *http.Request, req messageRequest, reqID string) {
	switch req.Control {
	case "connect":
		if err := h.Manager.Connect(r.Context(), req.SessionID); err != nil {
			apierror.WriteFrom(w, err, reqID)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Delivered: true})
	case "interrupt":
		if err := h.Manager.Interrupt(r.Context(), req.SessionID); err != nil {
			apierror.WriteFrom(w, err, reqID)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{Delivered: true})
	default:
		apierror.Write(w, http.StatusBadRequest, &apierror.Error{
			Type:      apierror.ErrInvalidRequest,
			Message:   "control must be one of connect, interrupt",
			Param:     "control",
			RequestID: reqID,
		})
	}
}
