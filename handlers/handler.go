// Package handlers exposes the chat engine over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egor/permitchat/chat"
	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/faqbot"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/limiter"
	"github.com/egor/permitchat/middleware"
	"github.com/egor/permitchat/models"
)

// DefaultMaxBody bounds a request body: the largest attachment plus room for
// the form fields around it.
const DefaultMaxBody = 51 << 20

// UserStore looks up accounts for login. *queries.Store implements it.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// NotificationStore backs the notification endpoints.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID int64, staff bool, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID int64, staff bool, ids []int64) (int64, error)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of Handler. FAQ, Limiter and DB may be nil.
type Deps struct {
	Chat          *chat.Service
	FAQ           *faqbot.Bot
	Users         UserStore
	Notifications NotificationStore
	Tokens        *identity.TokenManager
	Cookies       config.CookieConfig
	Limiter       limiter.Limiter
	DB            Pinger
	MaxBody       int64
}

// Handler serves the chat dispatch endpoint and its supporting routes.
type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.MaxBody <= 0 {
		d.MaxBody = DefaultMaxBody
	}
	return &Handler{Deps: d}
}

func statusFor(k chat.Kind) int {
	switch k {
	case chat.KindAuthRequired:
		return http.StatusUnauthorized
	case chat.KindForbidden:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {success:false,error} for err. Internal causes are
// logged and never sent to the client.
func respondError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	var ce *chat.Error
	if errors.As(err, &ce) {
		status = statusFor(ce.Kind)
		if ce.Message != "" {
			msg = ce.Message
		}
	}

	log := middleware.GetLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.String("reason", msg))
	}
	fail(c, status, msg)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(http.StatusOK, body)
}

func invalid(msg string) error {
	return &chat.Error{Kind: chat.KindValidation, Message: msg}
}

// Health reports liveness and, when a database is wired, its reachability.
func (h *Handler) Health(c *gin.Context) {
	if h.DB != nil {
		if err := h.DB.PingContext(c.Request.Context()); err != nil {
			middleware.GetLogger(c).Error("health check: database unreachable", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "status": "degraded"})
			return
		}
	}
	ok(c, gin.H{"status": "ok"})
}

// NotFound answers unknown routes.
func NotFound(c *gin.Context) {
	fail(c, http.StatusNotFound, "not found")
}
