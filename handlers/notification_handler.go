package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/middleware"
)

// ListNotifications lists unread notices for the signed-in account. Staff also
// see broadcast queue notices.
func (h *Handler) ListNotifications(c *gin.Context) {
	userID, staff := account(c)
	list, err := h.Notifications.ListNotifications(c.Request.Context(), userID, staff, queries.DefaultPageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"notifications": list})
}

// ReadNotifications flags the posted ids as read.
func (h *Handler) ReadNotifications(c *gin.Context) {
	var req struct {
		IDs []int64 `json:"ids" form:"ids" binding:"required,min=1,max=200"`
	}
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, "ids is required")
		return
	}

	userID, staff := account(c)
	n, err := h.Notifications.MarkNotificationsRead(c.Request.Context(), userID, staff, req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"updated": n})
}

// account must run behind middleware.RequireAccount.
func account(c *gin.Context) (int64, bool) {
	actor := middleware.ActorFrom(c).Actor
	id, _ := identity.UserID(actor)
	_, staff := actor.(identity.Staff)
	return id, staff
}
