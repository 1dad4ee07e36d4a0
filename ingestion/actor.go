package ingestion

import "context"

type actorKey struct{}

// ContextWithActor attaches the identity of the acting user or service to ctx.
// Records created under ctx carry it as CreatedBy.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor attached to ctx, or "".
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}
