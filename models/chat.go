package models

import (
	"time"
)

// ChatStatus is the lifecycle state of a live chat.
type ChatStatus string

const (
	StatusPending ChatStatus = "Pending"
	StatusActive  ChatStatus = "Active"
	StatusClosed  ChatStatus = "Closed"
)

// Chat is one applicant/guest-to-staff conversation (live_chats row).
type Chat struct {
	ID            int64      `json:"id"`
	OwnerUserID   *int64     `json:"userId,omitempty"` // nil: opened by a guest
	GuestName     *string    `json:"guestName,omitempty"`
	StaffID       *int64     `json:"staffId,omitempty"`
	Status        ChatStatus `json:"status"`
	UserIsTyping  bool       `json:"userIsTyping"`
	StaffIsTyping bool       `json:"staffIsTyping"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
}

// IsGuest reports whether the chat was opened without an account.
func (c *Chat) IsGuest() bool {
	return c.OwnerUserID == nil
}

// ChatStatusSnapshot is the status block returned with every poll.
type ChatStatusSnapshot struct {
	Status        ChatStatus `json:"status"`
	UserIsTyping  bool       `json:"userIsTyping"`
	StaffIsTyping bool       `json:"staffIsTyping"`
}

// Snapshot extracts the polled status block.
func (c *Chat) Snapshot() ChatStatusSnapshot {
	return ChatStatusSnapshot{
		Status:        c.Status,
		UserIsTyping:  c.UserIsTyping,
		StaffIsTyping: c.StaffIsTyping,
	}
}

// ChatSummary is a row of the staff/applicant chat queue.
type ChatSummary struct {
	ID           int64      `json:"id"`
	Status       ChatStatus `json:"status"`
	OwnerName    string     `json:"ownerName"`
	StaffID      *int64     `json:"staffId,omitempty"`
	StaffName    *string    `json:"staffName,omitempty"`
	LastMessage  *string    `json:"lastMessage,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
	CreatedAt    time.Time  `json:"createdAt"`
}
