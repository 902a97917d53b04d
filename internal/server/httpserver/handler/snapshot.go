package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CreateSnapshot handles PUT /indices/{name}/_snapshot.
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	man, err := h.snaps.CreateSnapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newSnapshotResponse(man))
}

// ListSnapshots handles GET /indices/{name}/_snapshot.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	all, err := h.snaps.ListSnapshots(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	resp := SnapshotListResponse{Snapshots: make([]SnapshotResponse, 0, len(all))}
	for _, man := range all {
		resp.Snapshots = append(resp.Snapshots, newSnapshotResponse(man))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetSnapshot handles GET /indices/{name}/_snapshot/{id}. With ?verify=true
// every file is read back before the snapshot is reported.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	verify, _ := strconv.ParseBool(r.URL.Query().Get("verify"))
	man, err := h.snaps.GetSnapshot(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"), verify)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	resp := newSnapshotResponse(man)
	resp.Verified = verify
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteSnapshot handles DELETE /indices/{name}/_snapshot/{id}.
func (h *Handler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.snaps.DeleteSnapshot(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreSnapshot handles POST /indices/{name}/_snapshot/{id}/_restore.
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var req RestoreSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	idx, err := h.snaps.RestoreSnapshot(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"), req.Target)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newIndexResponse(idx))
}
