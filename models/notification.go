package models

import (
	"time"
)

// Notification audiences.
const (
	AudienceUser  = "user"
	AudienceStaff = "staff"
)

// Notification kinds raised by the chat engine.
const (
	KindChatRequested   = "chat_requested"
	KindChatClosed      = "chat_closed"
	KindChatTransferred = "chat_transferred"
)

// Notification is an in-app notice. UserID nil with audience staff means every
// staff member sees it.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"userId,omitempty"`
	Audience  string    `json:"audience"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ChatID    *int64    `json:"chatId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
