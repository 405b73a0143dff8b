package handlers

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/limiter"
	"github.com/egor/permitchat/middleware"
)

// RouterConfig carries what the router needs beyond the handler itself.
type RouterConfig struct {
	Resolver     *identity.Resolver
	SessionTTL   time.Duration
	CORSOrigins  []string
	LoginLimiter limiter.Limiter
	// UploadsDir is served under UploadsRoute when both are set (local
	// storage backend only).
	UploadsDir   string
	UploadsRoute string
	Log          *zap.Logger
}

// NewRouter assembles the gin engine.
func NewRouter(h *Handler, rc RouterConfig) *gin.Engine {
	log := rc.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))

	if len(rc.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     rc.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", h.Health)
	if rc.UploadsDir != "" && strings.HasPrefix(rc.UploadsRoute, "/") {
		r.Static(rc.UploadsRoute, rc.UploadsDir)
	}

	api := r.Group("/api")
	api.Use(middleware.Identity(rc.Resolver, h.Cookies, rc.SessionTTL))
	{
		api.GET("/chat", h.Dispatch)
		api.POST("/chat", h.Dispatch)

		auth := api.Group("/auth")
		if rc.LoginLimiter != nil {
			auth.POST("/login", middleware.RateLimit(rc.LoginLimiter), h.Login)
		} else {
			auth.POST("/login", h.Login)
		}
		auth.POST("/logout", h.Logout)

		notifications := api.Group("/notifications", middleware.RequireAccount())
		{
			notifications.GET("", h.ListNotifications)
			notifications.POST("/read", h.ReadNotifications)
		}

		staff := api.Group("/staff", middleware.RequireStaff())
		{
			staff.GET("/queue", h.StaffQueue)
		}
	}

	r.NoRoute(NotFound)
	return r
}

// StaffQueue is list_chats for staff dashboards that poll a plain route.
func (h *Handler) StaffQueue(c *gin.Context) {
	list, err := h.Chat.List(c.Request.Context(), middleware.ActorFrom(c), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"chats": list})
}
