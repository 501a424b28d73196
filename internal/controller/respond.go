// internal/controller/respond.go
package controller

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/unclebandit/steadyletters-backend/internal/auth"
	appErrors "github.com/unclebandit/steadyletters-backend/internal/errors"
	"github.com/unclebandit/steadyletters-backend/internal/service"
)

// Responder writes error responses for a controller. With Details set, 5xx
// bodies carry the underlying error string; only enable it in development.
type Responder struct {
	Details bool
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error maps application errors onto HTTP statuses.
func (p Responder) Error(w http.ResponseWriter, err error) {
	var (
		quota    *appErrors.ErrQuotaExceeded
		dispatch *appErrors.ErrDispatch
	)

	switch {
	case appErrors.IsUnauthorized(err):
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case appErrors.IsValidation(err):
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case appErrors.IsNotFound(err):
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &quota):
		WriteJSON(w, http.StatusForbidden, map[string]any{
			"error": err.Error(),
			"code":  "quota_exceeded",
			"used":  quota.Used,
			"limit": quota.Limit,
		})
	case errors.As(err, &dispatch), errors.Is(err, service.ErrNothingGenerated):
		body := map[string]string{"error": "upstream request failed"}
		if p.Details {
			body["details"] = err.Error()
		}
		WriteJSON(w, http.StatusBadGateway, body)
	default:
		slog.Error("request failed", "error", err)
		body := map[string]string{"error": "internal server error"}
		if p.Details {
			body["details"] = err.Error()
		}
		WriteJSON(w, http.StatusInternalServerError, body)
	}
}

// AccountID returns the verified subject placed in the context by auth.Middleware.
func AccountID(r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// RequireAccount writes a 401 and returns false when the request has no identity.
func (p Responder) RequireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := AccountID(r)
	if !ok {
		p.Error(w, appErrors.NewUnauthorized("missing identity"))
	}
	return id, ok
}

func (p Responder) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		p.Error(w, appErrors.NewValidation("body", "invalid JSON"))
		return false
	}
	return true
}
