package register

import (
	"context"

	"github.com/millerdave152-droid/quotation-app-sub010/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}
