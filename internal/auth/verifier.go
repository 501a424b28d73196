// Package auth verifies Supabase access tokens, webhook signatures and the
// cron shared secret.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 30 * time.Second

// Verifier validates Supabase JWTs, either with the project's HS256 secret or
// against a JWKS endpoint.
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewVerifier prefers jwksURL when set and falls back to the shared secret.
func NewVerifier(secret, jwksURL, issuer string) (*Verifier, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(defaultLeeway), jwt.WithExpirationRequired()}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	var kf jwt.Keyfunc
	switch {
	case jwksURL != "":
		provider, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		kf = provider.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name, jwt.SigningMethodES256.Name,
		}))
	case secret != "":
		key := []byte(secret)
		kf = func(*jwt.Token) (any, error) { return key, nil }
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	default:
		return nil, errors.New("either a JWT secret or a JWKS URL must be set")
	}

	return &Verifier{keyfunc: kf, parser: jwt.NewParser(opts...)}, nil
}

// Verify parses and validates a JWT, returning extracted claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyfunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Subject: readString(mapClaims, "sub"),
		Email:   readString(mapClaims, "email"),
		Raw:     mapClaims,
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	return claims, nil
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
