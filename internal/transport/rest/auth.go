package rest

import (
	"context"
	"net/http"
	"strings"

	"github.com/abgdnv/storefront/pkg/auth"
)

type contextKey string

const operatorContextKey = contextKey("operator")

// RequireRole verifies the bearer token and rejects callers without role.
// The token subject is stored in the request context as the operator id, and the raw token
// is kept so backend calls made for the operator carry it.
func RequireRole(verifier auth.Verifier, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Bearer token is required", http.StatusUnauthorized)
				return
			}

			token, err := verifier.Verify(r.Context(), tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			subject, ok := token.Subject()
			if !ok {
				http.Error(w, "no claim `sub`", http.StatusUnauthorized)
				return
			}
			if !auth.HasRole(token, role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey, subject)
			ctx = auth.WithBearer(ctx, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the operator id stored by RequireRole.
func Operator(ctx context.Context) string {
	if v, ok := ctx.Value(operatorContextKey).(string); ok {
		return v
	}
	return ""
}
