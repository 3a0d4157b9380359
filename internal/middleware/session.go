package middleware

import (
	"github.com/gin-gonic/gin"

	"certportal/internal/security"
)

const identityKey = "current_user"

type SessionVerifier interface {
	Verify(token string) (security.Identity, bool)
}

// Session resolves the session cookie into an identity for the rest of the
// chain. A missing or unusable cookie leaves the request anonymous.
func Session(verifier SessionVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err == nil && token != "" {
			if identity, ok := verifier.Verify(token); ok {
				c.Set(identityKey, identity)
			}
		}
		c.Next()
	}
}

func CurrentIdentity(c *gin.Context) (security.Identity, bool) {
	val, exists := c.Get(identityKey)
	if !exists {
		return security.Identity{}, false
	}
	identity, ok := val.(security.Identity)
	return identity, ok
}
