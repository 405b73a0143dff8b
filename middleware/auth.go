package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/identity"
)

const actorKey = "actor"

// Identity resolves the caller once per request and stores the
// ActorContext. It never rejects a request: the chat engine decides what each
// actor may do. A failing session store answers 500.
func Identity(resolver *identity.Resolver, cookies config.CookieConfig, sessionTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		authCookie, _ := c.Cookie(cookies.AuthName)
		sessionID, _ := c.Cookie(cookies.SessionID)

		ac, err := resolver.Resolve(c.Request.Context(), identity.Credentials{
			Authorization: c.GetHeader("Authorization"),
			AuthCookie:    authCookie,
			SessionID:     sessionID,
		})
		if err != nil {
			GetLogger(c).Error("resolve identity", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "internal server error",
			})
			return
		}

		ac.OnSessionIssued(func(id string) {
			SetCookie(c, cookies, cookies.SessionID, id, sessionTTL)
		})
		c.Set(actorKey, ac)
		c.Next()
	}
}

// RequireStaff rejects everyone but staff members and admins.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFrom(c).Actor.(identity.Staff); !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "staff only"})
			return
		}
		c.Next()
	}
}

// RequireAccount rejects callers without a signed-in account.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.UserID(ActorFrom(c).Actor); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the request's ActorContext, Anonymous when Identity did
// not run.
func ActorFrom(c *gin.Context) *identity.ActorContext {
	if v, ok := c.Get(actorKey); ok {
		if ac, ok := v.(*identity.ActorContext); ok {
			return ac
		}
	}
	return identity.NewActorContext(identity.Anonymous{}, nil, 0)
}

// SetCookie writes an HttpOnly, SameSite=Lax cookie. ttl <= 0 deletes it.
func SetCookie(c *gin.Context, cookies config.CookieConfig, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl <= 0 {
		maxAge = -1
		value = ""
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, cookies.Path, cookies.Domain, cookies.Secure, true)
}
