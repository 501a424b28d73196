package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// SignatureHeader carries the provider's HMAC of the raw webhook body.
const SignatureHeader = "X-Thanks-Signature"

// Authenticator verifies a caller-supplied credential against a shared secret.
type Authenticator interface {
	Verify(rawBody []byte, signature, secret string) bool
}

// HMACAuthenticator checks a hex HMAC-SHA256 of the raw body. A "sha256="
// prefix on the signature is accepted.
type HMACAuthenticator struct{}

func (HMACAuthenticator) Verify(rawBody []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(rawBody, secret))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign encoded the way the provider sends it.
func SignHex(body []byte, secret string) string {
	return hex.EncodeToString(Sign(body, secret))
}

// BearerAuthenticator compares a bearer token with the secret in constant
// time. The body is ignored.
type BearerAuthenticator struct{}

func (BearerAuthenticator) Verify(_ []byte, signature, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := extractBearerToken(signature)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

var (
	_ Authenticator = HMACAuthenticator{}
	_ Authenticator = BearerAuthenticator{}
)

// CronMiddleware guards scheduled-task endpoints. An unset secret is a server
// misconfiguration and answers 500 rather than letting the call through.
func CronMiddleware(secret string) func(http.Handler) http.Handler {
	authn := BearerAuthenticator{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				slog.Error("cron secret not configured", "path", r.URL.Path)
				respondError(w, http.StatusInternalServerError, "cron secret not configured")
				return
			}
			if !authn.Verify(nil, r.Header.Get("Authorization"), secret) {
				slog.Warn("cron auth failure", "path", r.URL.Path)
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
