package service

import (
	"net/http"
	"time"
)

/*
	Handlers that are meant for system-level operations (not blob-level operations)
*/

type statusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// statusHandler reports liveness only. Blob counts and storage details stay
// private; a host-blind gateway has nothing else to say about itself.
func (s *Service) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uptime := time.Duration(0)
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status: "ok",
		Uptime: uptime.Round(time.Second).String(),
	})
}
