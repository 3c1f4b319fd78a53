// Package http provides HTTP middleware for the MCP server.
package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/maratron-ai/maratron-monorepo/pkg/auth"
)

// APIKeyHeader is the header carrying an API key.
const APIKeyHeader = "X-API-Key"

// TokenFromHeader returns the credential presented in h: a Bearer token
// from Authorization, or else the X-API-Key value.
func TokenFromHeader(h http.Header) string {
	if after, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(h.Get(APIKeyHeader))
}

// AuthMiddleware authenticates every request with authenticator. On
// success the raw token and the resulting identity are added to the request
// context; on failure the request is rejected with 401 and a
// WWW-Authenticate challenge.
func AuthMiddleware(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if token := TokenFromHeader(r.Header); token != "" {
				ctx = auth.WithToken(ctx, token)
			}

			uc, err := authenticator.Authenticate(ctx)
			if err != nil || uc == nil {
				slog.Debug("rejected http request", "path", r.URL.Path, "error", err)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUserContext(ctx, uc)))
		})
	}
}
