package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/core/service"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
)

// maxBodyBytes bounds request bodies. A 4096-bit PKCS#8 key in base64 is
// about 3.2 KiB.
const maxBodyBytes = 64 << 10

// maxDocumentBytes bounds a document source.
const maxDocumentBytes = 1 << 20

// Handler serves the admin API.
type Handler struct {
	keys    *service.KeyService
	indices *service.IndexService
	docs    *service.DocumentService
	snaps   *service.SnapshotService
	ready   func() bool
	logger  *slog.Logger
}

// New creates a Handler. ready reports whether this node holds the
// cluster key.
func New(keys *service.KeyService, indices *service.IndexService, docs *service.DocumentService, snaps *service.SnapshotService, ready func() bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Handler{keys: keys, indices: indices, docs: docs, snaps: snaps, ready: ready, logger: logger}
}

// writeJSON writes data as the JSON response body.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes the error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("X-Error-Code", code)
	h.writeJSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: logger.RequestIDFromContext(r.Context()),
	})
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := StatusForCode(de.Code)
		if status >= http.StatusInternalServerError {
			logger.L(r.Context()).Error("request failed", "code", de.Code, "error", err)
		}
		msg := de.Message
		if de.Details != "" {
			msg += ": " + de.Details
		}
		h.writeError(w, r, status, de.Code, msg)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, domain.ErrInternal.Message)
}

// StatusForCode maps an error code to its HTTP status. The first three
// digits of the numeric suffix are the status, so CL-KEY-5030 is 503.
func StatusForCode(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 < 3 {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(code[i+1 : i+4])
	if err != nil || status < 400 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return domain.ErrInvalidArgument.WithDetails("read body").WithCause(err)
	}
	if len(body) > maxBodyBytes {
		return domain.ErrInvalidArgument.WithDetails("request body too large")
	}
	if len(body) == 0 {
		return domain.ErrInvalidArgument.WithDetails("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrInvalidArgument.WithDetails("invalid JSON body").WithCause(err)
	}
	return nil
}
