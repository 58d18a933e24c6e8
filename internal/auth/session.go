package auth

import (
	"context"

	"ms-pickup/internal/lifecycle"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor stashes the authenticated actor in the request context.
func WithActor(ctx context.Context, actor lifecycle.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom retrieves the authenticated actor. ok is false when the request
// never passed the auth middleware.
func ActorFrom(ctx context.Context) (lifecycle.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(lifecycle.Actor)
	return actor, ok
}
