package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

const HeaderActorID = "X-USER-ID"

type actorKey struct{}

// Actor stores the caller id set by the auth gateway in the request context.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actor == "" {
			actor = "system"
		}
		c.Request = c.Request.WithContext(WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns "system" when no actor was attached.
func ActorFromContext(ctx context.Context) string {
	actor, ok := ctx.Value(actorKey{}).(string)
	if !ok || actor == "" {
		return "system"
	}
	return actor
}
