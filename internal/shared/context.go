package shared

import "context"

type contextKey string

const actorKey contextKey = "actor"

// ContextWithActor stores the acting user id on the context. Handlers
// read it from the X-Actor-Id header until a real identity layer lands.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(actorKey).(int64); ok {
		return v
	}
	return 0
}
