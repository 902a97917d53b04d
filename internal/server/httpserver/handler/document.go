package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/core/service"
)

// IndexDocument handles PUT /indices/{name}/_doc/{id}.
func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails("read body").WithCause(err))
		return
	}
	if len(body) > maxDocumentBytes {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetails("document too large"))
		return
	}

	doc, err := h.docs.IndexDocument(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"), body)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if doc.Result == service.ResultCreated {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, newDocumentResponse(doc))
}

// GetDocument handles GET /indices/{name}/_doc/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetDocument(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	found := true
	resp := newDocumentResponse(doc)
	resp.Found = &found
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteDocument handles DELETE /indices/{name}/_doc/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.DeleteDocument(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newDocumentResponse(doc))
}
