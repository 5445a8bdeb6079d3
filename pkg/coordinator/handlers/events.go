package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/hub"
	"github.com/visage-live/visage/pkg/coordinator/mw"
	"github.com/visage-live/visage/pkg/coordinator/sse"
)

// EventsHandler streams a logical session's events over SSE. Clients that
// omit session_id attach to the legacy untagged stream.
type EventsHandler struct {
	Config config.Config
	Hub    *hub.Hub
	Logger *slog.Logger
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	writer, err := sse.New(w)
	if err != nil {
		apierror.Write(w, http.StatusInternalServerError, &apierror.Error{
			Type:      apierror.ErrAPI,
			Message:   "streaming unsupported",
			RequestID: reqID,
		})
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	sub := h.Hub.Subscribe(sessionID)
	defer sub.Close()
	if h.Logger != nil {
		h.Logger.Debug("sse client attached", "session_id", sessionID, "request_id", reqID)
	}

	if err := writer.Send("stream.connected", map[string]string{
		"session_id": sessionID,
		"request_id": reqID,
	}); err != nil {
		return
	}

	ping := time.NewTicker(h.Config.SSEPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := writer.Ping(); err != nil {
				return
			}
		case env, ok := <-sub.C:
			if !ok {
				// Dropped by the hub for falling behind.
				return
			}
			if err := writer.Send(env.Event, env); err != nil {
				return
			}
		}
	}
}
