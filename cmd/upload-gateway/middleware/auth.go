package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/qazdrive/uploadhub/internal/auth"
	"github.com/qazdrive/uploadhub/pkg/types"
)

// AuthMiddleware validates JWT tokens and API keys and rejects
// unauthenticated requests
func AuthMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := authenticate(c, authService); user != nil {
			c.Set("user", user)
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
	}
}

// OptionalAuthMiddleware attaches the user when credentials are valid but
// lets anonymous requests through. Whether an anonymous caller may
// actually upload is decided by the upload service.
func OptionalAuthMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := authenticate(c, authService); user != nil {
			c.Set("user", user)
		}
		c.Next()
	}
}

// authenticate tries the Authorization header, then the X-API-Key header,
// then the api_key query parameter
func authenticate(c *gin.Context, authService *auth.Service) *types.User {
	ctx := c.Request.Context()

	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if user, err := authService.ValidateToken(ctx, token); err == nil {
			return user
		}
	}

	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		if user, _, err := authService.ValidateAPIKey(ctx, apiKey); err == nil {
			return user
		}
	}

	if apiKey := c.Query("api_key"); apiKey != "" {
		if user, _, err := authService.ValidateAPIKey(ctx, apiKey); err == nil {
			return user
		}
	}

	return nil
}

// GetUserFromContext extracts the authenticated user from gin context
func GetUserFromContext(c *gin.Context) (*types.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	typedUser, ok := user.(*types.User)
	return typedUser, ok
}
