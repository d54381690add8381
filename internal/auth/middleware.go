package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"volunteerportal/internal/model"
)

const actorKey = "actor"

// ActorAuth enforces bearer access tokens and stores the caller's identity
// on the request context.
func ActorAuth(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(header[len("bearer "):])
		claims, err := issuer.Parse(tokenStr, TypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

// ActorFrom returns the identity stored by ActorAuth. Requests that did not
// pass through it get the zero Actor, which every policy denies.
func ActorFrom(c *gin.Context) model.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(model.Actor)
	return actor
}
