package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type AdminClaims struct {
	jwt.RegisteredClaims
}

// NewAdminToken mints a bearer token for the administrative endpoints.
// Operators generate these out-of-band; the broker only verifies them.
func NewAdminToken(secret []byte, exp time.Duration) (string, error) {
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
			Issuer:    "roomcast",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// AdminAuth rejects requests that do not carry a valid admin bearer
// token.
func AdminAuth(secret []byte) ApiMiddleware {
	return func(next http.Handler) ApiHandleFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			authz := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok || raw == "" {
				return NewApiError("Unauthorized", http.StatusUnauthorized)
			}

			claims := &AdminClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
			if err != nil || !token.Valid {
				return NewApiError("Unauthorized", http.StatusUnauthorized)
			}

			next.ServeHTTP(w, r)
			return nil
		}
	}
}
