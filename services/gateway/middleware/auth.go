// Package middleware provides the gateway's HTTP middleware.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it through the configured AuthProvider, and stores the resulting
// Identity in the Gin context for downstream handlers.
//
// With the default NopAuthProvider every request is authenticated as the
// local single-tenant identity, so the gateway works without any identity
// infrastructure. Platform deployments plug in a provider that validates
// real tokens and returns real user/company identities.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weam-ai/ollama-gateway/pkg/extensions"
)

// identityKey is the context key for the authenticated identity. A typed
// key string prevents collisions with other context values.
const identityKey = "gateway_identity"

// SetIdentity stores the authenticated identity in the Gin context. Called
// by AuthMiddleware after successful validation.
func SetIdentity(c *gin.Context, ident *extensions.Identity) {
	c.Set(identityKey, ident)
}

// GetIdentity retrieves the authenticated identity, or nil when the request
// was not authenticated.
func GetIdentity(c *gin.Context) *extensions.Identity {
	if v, exists := c.Get(identityKey); exists {
		if ident, ok := v.(*extensions.Identity); ok {
			return ident
		}
	}
	return nil
}

// AuthMiddleware authenticates every request through the provider and
// stores the Identity for handlers. A validation failure aborts with 401;
// handlers never see an unauthenticated request.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		ident, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"code":    "Unauthorized",
					"message": "unauthorized",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "Unauthorized",
				"message": "authentication failed",
			})
			return
		}

		SetIdentity(c, ident)
		c.Next()
	}
}

// extractBearerToken parses "Authorization: Bearer <token>". Returns the
// empty string when the header is missing or malformed; the "Bearer"
// prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
