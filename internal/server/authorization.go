package server

import (
	"strings"

	"github.com/andyvauliln/paysync/internal/auditcontext"
	obscontext "github.com/andyvauliln/paysync/internal/observability/context"
	"github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/gin-gonic/gin"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired reads the actor asserted by the authenticating gateway.
// "system" is reserved for automation; any other id is a user.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))

		actor := domain.Actor{Type: domain.ActorTypeUser, ID: id, Role: role}
		if id == string(domain.ActorTypeSystem) {
			actor = domain.SystemActor()
		}

		ctx := c.Request.Context()
		ctx = obscontext.WithActor(ctx, string(actor.Type), actor.ID)
		ctx = auditcontext.WithActor(ctx, string(actor.Type), actor.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.Subject(), actor.Role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (domain.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	return actor, ok
}
