// Package handler serves the demo UI endpoints. Every gated route runs
// behind the session middleware, which holds the locks; handlers decide
// when to drop the global lock and which transition to run.
package handler

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/mronstro/rondb-tools/internal/eventlog"
	"github.com/mronstro/rondb-tools/internal/middleware"
	"github.com/mronstro/rondb-tools/internal/pkg/response"
	"github.com/mronstro/rondb-tools/internal/service"
)

// Pinger reports backend reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the endpoint dependencies.
type Handler struct {
	svc       *service.Service
	staticDir string
	log       *eventlog.Logger
	db        Pinger
}

// New creates a handler. db may be nil, in which case readiness only
// reflects that the server is up.
func New(svc *service.Service, staticDir string, log *eventlog.Logger, db Pinger) *Handler {
	return &Handler{
		svc:       svc,
		staticDir: staticDir,
		log:       log,
		db:        db,
	}
}

// Index handles GET /. The page is static; all state arrives later via
// the view model.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	scope.ReleaseGlobal()
	http.ServeFile(w, r, filepath.Join(h.staticDir, "index.html"))
}

// Favicon handles GET /favicon.png.
func (h *Handler) Favicon(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	scope.ReleaseGlobal()
	http.ServeFile(w, r, filepath.Join(h.staticDir, "favicon.png"))
}

// Try handles GET /try, the entry link handed out in invitations. The
// key identifies the invitation batch; it is recorded and the visitor
// lands on the UI with a session cookie already set.
func (h *Handler) Try(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	scope.ReleaseGlobal()
	h.log.Info("Accessed /try", "key", r.URL.Query().Get("key"), "session", scope.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ViewModel handles GET /viewmodel.
func (h *Handler) ViewModel(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	scope.ReleaseGlobal()
	response.OK(w, h.svc.ViewModel(scope))
}

// CreateDatabase handles GET /create-database. On success the session is
// mid-creation and the response carries the updated view model.
func (h *Handler) CreateDatabase(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	if err := h.svc.CreateDatabase(scope); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, h.svc.ViewModel(scope))
}

// RunLoadgen handles GET /run-loadgen. On success the launch job is in
// flight and the response carries the updated view model.
func (h *Handler) RunLoadgen(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFrom(r.Context())
	if err := h.svc.RunLoadgen(scope); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, h.svc.ViewModel(scope))
}
