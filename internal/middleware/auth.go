// Package middleware provides Gin HTTP middleware for request identification,
// metrics, authentication, authorization, rate limiting and security headers.
//
// Middleware ordering is enforced in router.go:
//
//	Recovery → RequestID → Metrics → Logger → Security → OptionalAuth → RateLimit → RBAC → Handler
//
// Optional auth runs before rate limiting so authenticated callers are
// limited per user rather than per IP.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orgdirectory/orgdirectory/internal/auth"
)

// Context keys set by the auth middleware
const (
	// UserIDKey holds the authenticated caller's user id (string)
	UserIDKey = "user_id"
	// ScopesKey holds the caller's scopes ([]string)
	ScopesKey = "scopes"
	// LoginKey holds the caller's login when the token carries one
	LoginKey = "login"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. ok is false when the header is missing or malformed.
func bearerToken(c *gin.Context) (token string, msg string, ok bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header", false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Authorization header must start with 'Bearer '", false
	}
	token = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "Authorization token is empty", false
	}
	return token, "", true
}

func setCaller(c *gin.Context, claims *auth.Claims) {
	scopes := claims.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	c.Set(UserIDKey, claims.UserID)
	c.Set(ScopesKey, scopes)
	if claims.Login != "" {
		c.Set(LoginKey, claims.Login)
	}
}

// AuthMiddleware requires a valid bearer JWT and aborts with 401 otherwise
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, msg, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		setCaller(c, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware - same as AuthMiddleware but continues anonymously
// when no usable token is presented
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}

		if claims, err := auth.ValidateJWT(token); err == nil {
			setCaller(c, claims)
		}
		c.Next()
	}
}

// CallerID returns the authenticated user id, or "" for anonymous requests
func CallerID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// CallerScopes returns the authenticated caller's scopes, or nil
func CallerScopes(c *gin.Context) []string {
	return c.GetStringSlice(ScopesKey)
}
