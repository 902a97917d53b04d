package handler

import (
	"net/http"
	"time"
)

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status: "healthy",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. The node is ready once it holds the cluster key.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, StatusResponse{
			Status: "waiting_for_key",
			Time:   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status: "ready",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
