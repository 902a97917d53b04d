package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// EncryptedIndices handles GET /_cloudlock/api/_encrypted_indices.
func (h *Handler) EncryptedIndices(w http.ResponseWriter, r *http.Request) {
	list, err := h.indices.ListEncryptedIndices(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, EncryptedIndicesResponse{Indices: list})
}

// CreateIndex handles PUT /indices/{name}.
func (h *Handler) CreateIndex(w http.ResponseWriter, r *http.Request) {
	var req CreateIndexRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	idx, err := h.indices.CreateIndex(r.Context(), chi.URLParam(r, "name"), domain.IndexSettings{
		Shards:            req.Shards,
		Encrypted:         req.Encrypted,
		StoreTypeOriginal: req.StoreTypeOriginal,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newIndexResponse(idx))
}

// GetIndex handles GET /indices/{name}.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := h.indices.GetIndex(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newIndexResponse(idx))
}

// ListIndices handles GET /indices.
func (h *Handler) ListIndices(w http.ResponseWriter, r *http.Request) {
	all, err := h.indices.ListIndices(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	out := IndexListResponse{Indices: make([]IndexResponse, 0, len(all))}
	for _, idx := range all {
		out.Indices = append(out.Indices, newIndexResponse(idx))
	}
	h.writeJSON(w, http.StatusOK, out)
}
