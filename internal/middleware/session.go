// Package middleware provides the HTTP middleware stack for the demo
// server: session cookie handling, request logging and Prometheus
// metrics.
package middleware

import (
	"context"
	"net/http"

	"github.com/mronstro/rondb-tools/internal/models"
	"github.com/mronstro/rondb-tools/internal/pkg/response"
	"github.com/mronstro/rondb-tools/internal/service"
)

// AuthCookieName is the session cookie. Its value is the visitor's
// session token; everything about the session is keyed on it.
const AuthCookieName = "X-AUTH"

type scopeContextKey struct{}

// ScopeFrom returns the open session scope stored by EnsureAuthCookie.
// Every gated route runs behind that middleware, so a missing scope is a
// routing bug and panics into the recoverer.
func ScopeFrom(ctx context.Context) *service.RequestScope {
	scope, _ := ctx.Value(scopeContextKey{}).(*service.RequestScope)
	if scope == nil {
		panic("middleware: no session scope in request context")
	}
	return scope
}

// EnsureAuthCookie resolves the visitor's session from the X-AUTH cookie,
// minting a fresh token when the cookie is missing or malformed. It opens
// the request scope (global lock, session lookup or creation, session
// lock), stores it in the context, and closes it when the handler
// returns. Handlers drop the global lock early via the scope.
func EnsureAuthCookie(svc *service.Service) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(AuthCookieName); err == nil {
				token = c.Value
			}
			minted := false
			if !models.ValidGUISecret(token) {
				token = models.NewGUISecret()
				minted = true
			}

			scope, err := svc.BeginRequest(token, minted)
			if err != nil {
				response.Error(w, err)
				return
			}
			defer scope.End()

			if minted {
				// Hidden from JavaScript, attached to every same-site
				// request, and usable over plain HTTP inside the demo
				// cluster.
				http.SetCookie(w, &http.Cookie{
					Name:     AuthCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Secure:   false,
				})
			}

			ctx := context.WithValue(r.Context(), scopeContextKey{}, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
