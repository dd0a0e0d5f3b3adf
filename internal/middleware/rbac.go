// Package middleware (rbac.go) implements scope-based authorization middleware.
//
// Scopes travel in the caller's JWT and are placed in the gin context by
// AuthMiddleware or OptionalAuthMiddleware.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgdirectory/orgdirectory/internal/auth"
)

// RequireScope checks if the authenticated caller has the required scope.
// Anonymous callers get 401, authenticated callers without the scope get 403.
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		scopesVal, exists := c.Get(ScopesKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		userScopes, ok := scopesVal.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Invalid scopes format",
			})
			return
		}

		if !auth.HasScope(userScopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope),
			})
			return
		}

		c.Next()
	}
}
