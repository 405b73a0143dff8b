package models

import (
	"time"
)

// SenderRole is who wrote a chat message.
type SenderRole string

const (
	SenderUser  SenderRole = "user"
	SenderStaff SenderRole = "staff"
	SenderGuest SenderRole = "guest"
	SenderBot   SenderRole = "bot"
)

// DefaultName is shown when the sender has no resolvable profile.
func (r SenderRole) DefaultName() string {
	switch r {
	case SenderStaff:
		return "Staff"
	case SenderGuest:
		return "Guest"
	case SenderBot:
		return "Assistant"
	default:
		return "User"
	}
}

// Message is an immutable chat_messages row. Body is already HTML-safe.
type Message struct {
	ID         int64      `json:"id"`
	ChatID     int64      `json:"-"`
	SenderID   *int64     `json:"-"`
	SenderRole SenderRole `json:"sender_role"`
	SenderName string     `json:"sender_name"`
	Body       string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
}
