package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mysticorb/mysticorb-server/internal/auth"
	appctx "github.com/mysticorb/mysticorb-server/internal/context"
)

// APIKeyAuth authenticates the business routes. Clients send their
// sk- key as a bearer token; the matching user lands in the request
// context for the handlers behind it.
func APIKeyAuth(userSvc auth.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, "authorization required: Bearer <api-key>")
			return
		}

		user, err := userSvc.GetByAPIKey(c.Request.Context(), key)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unknown api key")
			return
		}
		if user.Status != "active" {
			abort(c, http.StatusForbidden, "account is "+user.Status)
			return
		}

		appctx.SetUser(c, user)
		c.Next()
	}
}

// AdminTokenAuth guards the admin group with a static bearer token.
// There is no user lookup; admin requests act as the operator.
func AdminTokenAuth(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			abort(c, http.StatusServiceUnavailable, "admin access is not configured")
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || token != adminToken {
			abort(c, http.StatusUnauthorized, "admin token rejected")
			return
		}
		c.Next()
	}
}

// WebhookSecretAuth checks the payment provider's shared secret sent
// in the X-Webhook-Secret header.
func WebhookSecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, http.StatusServiceUnavailable, "webhook secret is not configured")
			return
		}
		if c.GetHeader("X-Webhook-Secret") != secret {
			abort(c, http.StatusUnauthorized, "webhook secret rejected")
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
