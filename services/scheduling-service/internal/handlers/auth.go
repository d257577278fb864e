package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/carebook/libs/httpx"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/identity"
	"github.com/md-rashed-zaman/carebook/services/scheduling-service/internal/model"
)

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

func ContextWithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// RequireAuth resolves the bearer token and stores the caller's identity on
// the request context.
func RequireAuth(resolver identity.Resolver) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, string(model.KindUnauthorized), "missing or invalid Authorization header", false)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			who, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, string(model.KindUnauthorized), "invalid token", false)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), who)))
		})
	}
}
