package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-billing-api/pkg/errors"
	"github.com/noah-isme/enrollment-billing-api/pkg/response"
)

// RequireRoles allows the request through only for the listed roles. Ownership checks
// for students happen in the services.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.WithDetails(appErrors.ErrForbidden, "", map[string]interface{}{"role": string(claims.Role)}))
			c.Abort()
			return
		}
		c.Next()
	}
}
