package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gigdesk/realtime-server/internal/auth"
	appctx "github.com/gigdesk/realtime-server/internal/context"
)

// BearerAuth returns a Gin middleware that verifies the bearer token
// from the Authorization header and injects the identity claims into
// the context.
func BearerAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <token>)",
			})
			return
		}

		claims, err := verifier.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(appctx.CtxKeyClaims, claims)
		c.Next()
	}
}

// extractBearerToken gets the token from "Authorization: Bearer <token>".
func extractBearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ServiceTokenAuth returns a Gin middleware that validates the shared
// service token used by backend collaborators pushing realtime events.
func ServiceTokenAuth(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceToken == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service authentication not configured",
			})
			return
		}

		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header (expected: Bearer <service-token>)",
			})
			return
		}

		if token != serviceToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid service token",
			})
			return
		}

		c.Next()
	}
}
