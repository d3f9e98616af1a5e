package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns a chi router with all demo routes configured. session
// is the cookie middleware; probes and metrics stay outside it so they
// never mint sessions or contend on the state locks.
func (h *Handler) Routes(session func(next http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(session)

		r.Get("/", h.Index)
		r.Get("/favicon.png", h.Favicon)
		r.Get("/try", h.Try)
		r.Get("/viewmodel", h.ViewModel)
		r.Get("/create-database", h.CreateDatabase)
		r.Get("/run-loadgen", h.RunLoadgen)
	})

	return r
}
