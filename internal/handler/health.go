package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mronstro/rondb-tools/internal/pkg/response"
)

const readyTimeout = 5 * time.Second

// Healthz reports liveness: the process is up and serving.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}

// Readyz reports readiness. The only hard dependency is the shared MySQL
// server; nginx and the load generator binary are exercised lazily.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			response.JSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":    "unavailable",
				"component": "mysql",
			})
			return
		}
	}
	response.OK(w, map[string]string{"status": "ok"})
}
