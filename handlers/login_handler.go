package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/middleware"
)

const msgBadCredentials = "invalid email or password"

// Login checks portal credentials, sets the auth cookie and returns the token
// for clients that prefer the Authorization header.
func (h *Handler) Login(c *gin.Context) {
	var credentials struct {
		Email    string `json:"email" form:"email" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&credentials); err != nil {
		fail(c, http.StatusBadRequest, "email and password are required")
		return
	}

	log := middleware.GetLogger(c)
	user, err := h.Users.GetUserByEmail(c.Request.Context(), credentials.Email)
	switch {
	case errors.Is(err, queries.ErrNotFound):
		log.Info("login failed: unknown account")
		fail(c, http.StatusUnauthorized, msgBadCredentials)
		return
	case err != nil:
		respondError(c, err)
		return
	}
	if !user.Active || !queries.VerifyPassword(user, credentials.Password) {
		log.Info("login failed", zap.Int64("user_id", user.ID))
		fail(c, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	token, expires, err := h.Tokens.Generate(user)
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.SetCookie(c, h.Cookies, h.Cookies.AuthName, token, time.Until(expires))

	log.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	ok(c, gin.H{
		"token":     token,
		"expiresAt": expires,
		"user":      user,
	})
}

// Logout clears the auth cookie and drops the server-side session together
// with any guest binding.
func (h *Handler) Logout(c *gin.Context) {
	ac := middleware.ActorFrom(c)
	if err := ac.EndSession(c.Request.Context()); err != nil {
		middleware.GetLogger(c).Warn("end session", zap.Error(err))
	}
	middleware.SetCookie(c, h.Cookies, h.Cookies.AuthName, "", 0)
	middleware.SetCookie(c, h.Cookies, h.Cookies.SessionID, "", 0)
	ok(c, nil)
}
