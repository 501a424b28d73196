package auth

import (
	"log/slog"
	"net/http"
)

// TokenVerifier is satisfied by *Verifier.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Middleware enforces bearer token auth and injects claims into the request context.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				respondError(w, http.StatusUnauthorized, "auth verifier not configured")
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				slog.Warn("auth failure: missing Authorization header", "path", r.URL.Path)
				respondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			token, ok := extractBearerToken(authHeader)
			if !ok {
				slog.Warn("auth failure: malformed Authorization header", "path", r.URL.Path)
				respondError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				slog.Warn("auth failure: token invalid", "path", r.URL.Path, "error", err)
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
