package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/biocypher/biochatter/internal/log"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewHealthHandler creates a health handler. pool may be nil when no
// database is configured.
func NewHealthHandler(pool *pgxpool.Pool, logger log.Logger) *HealthHandler {
	return &HealthHandler{pool: pool, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness pings the database when one is configured. A deployment
// without a retrieval store is ready as long as the process is up.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	database := "not_configured"
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database not reachable")
			return
		}
		database = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": database,
	})
}
