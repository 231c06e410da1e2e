package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/authorization"
	obscontext "github.com/smallbiznis/dashvault/internal/observability/context"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
)

const contextPrincipalKey = "operator_principal"

// OperatorKeyRequired authenticates operator routes with a bearer operator
// key. The key row carries the role used for authorization.
func (s *Server) OperatorKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.operatorKeySvc.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			if errors.Is(err, operatorkeydomain.ErrUnauthenticated) {
				err = ErrUnauthorized
			}
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeOperatorKey), principal.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextPrincipalKey, principal)
		c.Next()
	}
}

func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := principalFromContext(c)
		if principal == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), authorization.Actor{
			Type: string(auditdomain.ActorTypeOperatorKey),
			ID:   principal.KeyID,
			Role: principal.Role,
		}, object, action)
		if err != nil {
			if errors.Is(err, authorization.ErrForbidden) || errors.Is(err, authorization.ErrInvalidActor) {
				err = ErrForbidden
			}
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalFromContext(c *gin.Context) *operatorkeydomain.Principal {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil
	}
	principal, _ := value.(*operatorkeydomain.Principal)
	return principal
}
