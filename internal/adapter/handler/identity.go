package handler

import (
	"context"
	"net/http"
)

type actorContextKey struct{}

const defaultActor = "system"

// WithActor copies the X-Actor header into the request context so the
// services can stamp ledger events with the acting user.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get("X-Actor"); actor != "" {
			r = r.WithContext(context.WithValue(r.Context(), actorContextKey{}, actor))
		}
		next.ServeHTTP(w, r)
	})
}

// HeaderIdentity resolves the current actor from the request context.
type HeaderIdentity struct{}

func (HeaderIdentity) CurrentActor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey{}).(string); ok && actor != "" {
		return actor
	}
	return defaultActor
}
