package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/workspace-hub-api/internal/models"
	appErrors "github.com/noah-isme/workspace-hub-api/pkg/errors"
	"github.com/noah-isme/workspace-hub-api/pkg/response"
)

// RequireGlobalRoles gates routes to callers holding one of the platform
// roles. Workspace and document level checks live in the services; this
// guard only covers platform operations such as plan catalog management.
func RequireGlobalRoles(roles ...models.GlobalRole) gin.HandlerFunc {
	allowed := make(map[models.GlobalRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
