package handler

import (
	"net/http"

	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
)

// InitializeKey handles POST /_cloudlock/api/_initialize_key. The aggregated
// node document is returned with 200 when every node accepted the key and
// with 500 otherwise.
func (h *Handler) InitializeKey(w http.ResponseWriter, r *http.Request) {
	var req InitializeKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	res, err := h.keys.Initialize(r.Context(), req.Key)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusInternalServerError
		logger.L(r.Context()).Warn("cluster key distribution incomplete",
			"key_id", res.KeyID,
			"failures", len(res.Distribution.Failures))
	} else {
		logger.L(r.Context()).Info("cluster key initialized",
			"key_id", res.KeyID,
			"created", res.Created,
			"rerouted", res.Rerouted)
	}
	h.writeJSON(w, status, res)
}

// KeyStatus handles GET /_cloudlock/api/_key_status.
func (h *Handler) KeyStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.keys.Status(r.Context()))
}
