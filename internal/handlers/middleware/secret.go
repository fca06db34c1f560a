package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/focusmate/tokenvault/internal/handlers/render"
)

// BearerSecret guards a route with a shared secret carried as
// "Authorization: Bearer <secret>". The comparison is constant time.
// An empty configured secret rejects everything: a route guarded by an
// unset secret must be closed, not open.
func BearerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || secret == "" {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
