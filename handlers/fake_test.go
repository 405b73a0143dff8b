package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/egor/permitchat/database"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/models"
)

var errDown = errors.New("connection refused")

// memRepo is a small in-memory chat.Repository for transport tests.
type memRepo struct {
	mu       sync.Mutex
	chats    map[int64]*models.Chat
	messages []models.Message
	users    map[int64]*models.User
	next     int64
	broken   map[int64]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		chats:  make(map[int64]*models.Chat),
		broken: make(map[int64]bool),
		users: map[int64]*models.User{
			1: {ID: 1, FullName: "Ivan Ivanov", Email: "ivan@example.org", Role: models.RoleUser, Active: true},
			5: {ID: 5, FullName: "Olga Petrova", Email: "olga@permits.example.org", Role: models.RoleStaff, Active: true},
			6: {ID: 6, FullName: "Anna Smirnova", Email: "anna@permits.example.org", Role: models.RoleStaff, Active: true},
		},
	}
}

func (r *memRepo) Capabilities() database.Capabilities { return database.FullCapabilities() }

func (r *memRepo) CreateChat(_ context.Context, owner *int64, guestName *string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	c := &models.Chat{ID: r.next, OwnerUserID: owner, GuestName: guestName, Status: models.StatusPending, CreatedAt: time.Now()}
	r.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetChat(_ context.Context, id int64) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken[id] {
		return nil, errDown
	}
	c, found := r.chats[id]
	if !found {
		return nil, queries.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) ClaimChat(_ context.Context, id, staffID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.chats[id]
	if !found || c.Status != models.StatusPending {
		return false, nil
	}
	c.Status = models.StatusActive
	c.StaffID = &staffID
	return true, nil
}

func (r *memRepo) CloseChat(_ context.Context, id int64) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.chats[id]
	if !found {
		return nil, queries.ErrNotFound
	}
	c.Status = models.StatusClosed
	cp := *c
	return &cp, nil
}

func (r *memRepo) TransferChat(_ context.Context, id, to int64, note func(*int64) (string, error)) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.chats[id]
	if !found {
		return nil, queries.ErrNotFound
	}
	if c.Status != models.StatusActive {
		return nil, queries.ErrChatNotActive
	}
	// note only reads users through GetUser, which takes the lock itself
	from := c.StaffID
	r.mu.Unlock()
	body, err := note(from)
	r.mu.Lock()
	if err != nil {
		return nil, err
	}
	c.StaffID = &to
	m := models.Message{ID: int64(len(r.messages) + 1), ChatID: id, SenderRole: models.SenderBot, Body: body}
	r.messages = append(r.messages, m)
	return &m, nil
}

func (r *memRepo) SetTyping(_ context.Context, id int64, side queries.TypingSide, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.chats[id]
	if !found {
		return queries.ErrNotFound
	}
	if side == queries.TypingStaff {
		c.StaffIsTyping = typing
	} else {
		c.UserIsTyping = typing
	}
	return nil
}

func (r *memRepo) ListChats(_ context.Context, f queries.ChatFilter) ([]models.ChatSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ChatSummary{}
	for id := int64(1); id <= r.next; id++ {
		c, found := r.chats[id]
		if !found {
			continue
		}
		if f.OwnerUserID != nil && (c.OwnerUserID == nil || *c.OwnerUserID != *f.OwnerUserID) {
			continue
		}
		out = append(out, models.ChatSummary{ID: c.ID, Status: c.Status, StaffID: c.StaffID})
	}
	return out, nil
}

func (r *memRepo) AppendMessage(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, found := r.chats[m.ChatID]
	if !found {
		return queries.ErrNotFound
	}
	if c.Status == models.StatusClosed {
		return queries.ErrChatClosed
	}
	m.ID = int64(len(r.messages) + 1)
	m.CreatedAt = time.Now()
	if m.SenderName == "" {
		m.SenderName = m.SenderRole.DefaultName()
	}
	r.messages = append(r.messages, *m)
	return nil
}

func (r *memRepo) MessagesSince(_ context.Context, chatID, after int64, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Message{}
	for _, m := range r.messages {
		if m.ChatID == chatID && m.ID > after && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memRepo) GetUser(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, found := r.users[id]
	if !found {
		return nil, queries.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, queries.ErrNotFound
}

type memNotifications struct {
	mu     sync.Mutex
	items  []models.Notification
	marked []int64
}

func (n *memNotifications) ListNotifications(_ context.Context, userID int64, staff bool, _ int) ([]models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []models.Notification{}
	for _, x := range n.items {
		mine := x.UserID != nil && *x.UserID == userID
		broadcast := staff && x.UserID == nil && x.Audience == models.AudienceStaff
		if mine || broadcast {
			out = append(out, x)
		}
	}
	return out, nil
}

func (n *memNotifications) MarkNotificationsRead(_ context.Context, _ int64, _ bool, ids []int64) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.marked = append(n.marked, ids...)
	return int64(len(ids)), nil
}

func (n *memNotifications) Notify(x models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	x.ID = int64(len(n.items) + 1)
	n.items = append(n.items, x)
}
