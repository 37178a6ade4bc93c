package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/career-counselor/internal/auth"
	"github.com/suPer8Hu/career-counselor/internal/common"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"
	ClientIPKey = "client_ip"
)

// Identity resolves the caller once per request. Bad or missing tokens are
// not an error here; the caller is simply anonymous.
func Identity(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := resolver.Resolve(c.Request.Context(), auth.BearerToken(c.GetHeader("Authorization")))
		c.Set(IdentityKey, id)
		if id.Authenticated {
			c.Set(UserIDKey, id.UserID)
		}
		c.Set(ClientIPKey, clientIP(c))
		c.Next()
	}
}

// AuthRequired rejects anonymous callers. It must run after Identity.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityFrom(c).Authenticated {
			common.FailErr(c, common.Unauthorized("unauthorized"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) auth.Identity {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Anonymous()
	}
	id, ok := v.(auth.Identity)
	if !ok {
		return auth.Anonymous()
	}
	return id
}

func ClientIPFrom(c *gin.Context) string {
	if ip := c.GetString(ClientIPKey); ip != "" {
		return ip
	}
	return clientIP(c)
}

// clientIP is the socket peer unless it is a trusted proxy, in which case
// gin walks the forwarding headers set on the engine.
func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
