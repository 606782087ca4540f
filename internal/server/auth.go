package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/raphaelgruber/vserve/internal/identity"
)

type scopeKey struct{}

// authenticate resolves the bearer token into a request-lifetime Scope.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the access_token query parameter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, s.logger, identity.ErrUnauthorized)
			return
		}
		p, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		sc := identity.ForPrincipal(p, s.logger)
		defer sc.SignOut()

		ctx := identity.WithPrincipal(r.Context(), p)
		ctx = context.WithValue(ctx, scopeKey{}, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

func scopeFrom(r *http.Request) *identity.Scope {
	sc, _ := r.Context().Value(scopeKey{}).(*identity.Scope)
	return sc
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.FromContext(r.Context())
		if !ok || !p.IsAdmin() {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
