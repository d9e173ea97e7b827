// Package context carries request-scoped values between middleware and
// handlers.
package context

import (
	"github.com/gin-gonic/gin"

	"github.com/mysticorb/mysticorb-server/internal/auth"
)

const userKey = "mysticorb/user"

// SetUser stores the authenticated user for downstream handlers.
func SetUser(c *gin.Context, u *auth.User) {
	c.Set(userKey, u)
}

// MustGetUser returns the user placed by the API key middleware. Routes
// outside the authenticated group have no user, so calling this there
// is a programming error, hence the panic.
func MustGetUser(c *gin.Context) *auth.User {
	u, ok := c.Get(userKey)
	if !ok {
		panic("no authenticated user in request context")
	}
	return u.(*auth.User)
}

// GetUserID returns just the ID of the authenticated user.
func GetUserID(c *gin.Context) string {
	return MustGetUser(c).ID
}
