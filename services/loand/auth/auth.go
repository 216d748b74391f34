// Package auth authenticates loand HTTP callers from a bearer JWT carrying
// the caller's bech32 address, the same token-gate shape
// gateway/middleware.Authenticator uses for the wallet gateway.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"loanforge/crypto"
)

type contextKey string

const callerContextKey contextKey = "loand.caller"

// Config configures the HMAC verifier.
type Config struct {
	// Secret is the HMAC signing key. An empty secret disables
	// authentication entirely, useful for local development and tests.
	Secret string
	// ClockSkew tolerates minor clock drift between issuer and verifier.
	ClockSkew time.Duration
}

// Authenticator validates bearer tokens and extracts the caller's address.
type Authenticator struct {
	secret    []byte
	clockSkew time.Duration
}

// NewAuthenticator builds an Authenticator from cfg.
func NewAuthenticator(cfg Config) *Authenticator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{secret: []byte(strings.TrimSpace(cfg.Secret)), clockSkew: skew}
}

// Middleware validates the bearer token on every request and injects the
// caller's address into the request context. With no secret configured, it
// passes every request through unauthenticated (local/dev mode).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		caller, err := a.parseCaller(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parseCaller(tokenString string) (crypto.Address, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.clockSkew))
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return crypto.Address{}, errors.New("claims not map")
	}
	sub, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(sub) == "" {
		return crypto.Address{}, errors.New("missing subject claim")
	}
	return crypto.DecodeAddress(sub)
}

func extractBearer(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Caller returns the authenticated caller's address from ctx, or the zero
// address if the request was not authenticated (no secret configured).
func Caller(ctx context.Context) crypto.Address {
	addr, _ := ctx.Value(callerContextKey).(crypto.Address)
	return addr
}
