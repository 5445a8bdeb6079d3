package handlers

import (
	"net/http"

	"github.com/visage-live/visage/pkg/coordinator/config"
	"github.com/visage-live/visage/pkg/coordinator/hub"
)

type HealthHandler struct {
	Config config.Config
	Hub    *hub.Hub
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		OK        bool     `json:"ok"`
		Transport string   `json:"transport"`
		Sessions  int      `json:"sessions"`
		Issues    []string `json:"issues,omitempty"`
	}

	issues := h.Config.Problems()

	sessions := 0
	if h.Hub != nil {
		sessions = h.Hub.SessionCount()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResp{
		OK:        ok,
		Transport: string(h.Config.Transport),
		Sessions:  sessions,
		Issues:    issues,
	})
}
