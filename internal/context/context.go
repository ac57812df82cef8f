package context

import (
	"github.com/gin-gonic/gin"

	"github.com/gigdesk/realtime-server/internal/auth"
)

// Context key for the authenticated identity claims.
const CtxKeyClaims = "auth_claims"

// MustGetClaims extracts the verified claims from the Gin context.
// Panics if not present (should only be called behind BearerAuth).
func MustGetClaims(c *gin.Context) *auth.Claims {
	v, exists := c.Get(CtxKeyClaims)
	if !exists {
		panic("MustGetClaims called without BearerAuth middleware")
	}
	return v.(*auth.Claims)
}

// GetUserID is a shorthand that returns the authenticated user ID.
func GetUserID(c *gin.Context) string {
	return MustGetClaims(c).UserID
}
