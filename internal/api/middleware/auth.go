package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/pacgate/internal/api/response"
	"github.com/edvin/pacgate/internal/platform"
)

type contextKey string

// AdminKeyIDKey carries the authenticated admin key's ID.
const AdminKeyIDKey contextKey = "admin_key_id"

// KeyLookup resolves an admin key hash to its ID. Implemented by the admin
// key store; kept narrow so the middleware is testable without a database.
type KeyLookup interface {
	LookupKeyHash(ctx context.Context, keyHash string) (string, error)
}

// Auth returns a middleware that validates the X-API-Key header against the
// admin_keys table. Lookups are exact hash matches only.
func Auth(keys KeyLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			id, err := keys.LookupKeyHash(r.Context(), platform.HashToken(key))
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), AdminKeyIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
