package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yndnr/cloudlock-go/internal/server/httpserver/handler"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// APIPrefix is the prefix of the key management endpoints.
const APIPrefix = "/_cloudlock/api"

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Handler *handler.Handler
	Metrics *metric.Registry
	Logger  *slog.Logger

	// RateLimit is the per client request rate (requests/second). Zero disables limiting.
	RateLimit int
	RateBurst int

	// AdminAllowList restricts the key and index endpoints to these IPs or
	// CIDRs. Empty means no restriction.
	AdminAllowList []string
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimit: 100,
		RateBurst: 200,
	}
}

// NewRouter builds the admin API router.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := cfg.Handler

	r := chi.NewRouter()
	r.Use(Recover(cfg.Logger))
	r.Use(RequestID())
	r.Use(AccessLog(cfg.Logger, cfg.Metrics))
	if cfg.RateLimit > 0 {
		r.Use(RateLimit(cfg.RateLimit, cfg.RateBurst))
	}

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if len(cfg.AdminAllowList) > 0 {
			r.Use(NetworkACL(cfg.AdminAllowList, cfg.Logger))
		}
		r.Route(APIPrefix, func(r chi.Router) {
			r.Post("/_initialize_key", h.InitializeKey)
			r.Get("/_encrypted_indices", h.EncryptedIndices)
			r.Get("/_key_status", h.KeyStatus)
		})
		r.Get("/indices", h.ListIndices)
		r.Put("/indices/{name}", h.CreateIndex)
		r.Get("/indices/{name}", h.GetIndex)
		r.Put("/indices/{name}/_doc/{id}", h.IndexDocument)
		r.Get("/indices/{name}/_doc/{id}", h.GetDocument)
		r.Delete("/indices/{name}/_doc/{id}", h.DeleteDocument)
		r.Put("/indices/{name}/_snapshot", h.CreateSnapshot)
		r.Get("/indices/{name}/_snapshot", h.ListSnapshots)
		r.Get("/indices/{name}/_snapshot/{id}", h.GetSnapshot)
		r.Delete("/indices/{name}/_snapshot/{id}", h.DeleteSnapshot)
		r.Post("/indices/{name}/_snapshot/{id}/_restore", h.RestoreSnapshot)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, codeNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})
	return r
}

const (
	codeNotFound         = "CL-REQ-4041"
	codeMethodNotAllowed = "CL-REQ-4050"
)
