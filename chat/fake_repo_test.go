package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/egor/permitchat/database"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/models"
)

// fakeRepo is an in-memory Repository with the same conditional semantics
// as the SQL store.
type fakeRepo struct {
	mu       sync.Mutex
	caps     database.Capabilities
	chats    map[int64]*models.Chat
	messages []models.Message
	users    map[int64]*models.User
	nextChat int64
	nextMsg  int64
	claims   int

	typingErr error
	appendErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		caps:  database.FullCapabilities(),
		chats: make(map[int64]*models.Chat),
		users: map[int64]*models.User{
			1: {ID: 1, FullName: "Ivan Ivanov", Role: models.RoleUser, Active: true},
			2: {ID: 2, FullName: "Petr Sidorov", Role: models.RoleUser, Active: true},
			5: {ID: 5, FullName: "Olga Petrova", Role: models.RoleStaff, Active: true},
			6: {ID: 6, FullName: "Anna Smirnova", Role: models.RoleAdmin, Active: true},
			7: {ID: 7, FullName: "Retired Clerk", Role: models.RoleStaff, Active: false},
		},
	}
}

func (r *fakeRepo) Capabilities() database.Capabilities { return r.caps }

func (r *fakeRepo) CreateChat(_ context.Context, owner *int64, guestName *string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextChat++
	now := time.Now()
	c := &models.Chat{
		ID:          r.nextChat,
		OwnerUserID: owner,
		GuestName:   guestName,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.chats[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) GetChat(_ context.Context, id int64) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return nil, queries.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) ClaimChat(_ context.Context, id, staffID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok || c.Status != models.StatusPending {
		return false, nil
	}
	c.Status = models.StatusActive
	c.StaffID = &staffID
	r.claims++
	return true, nil
}

func (r *fakeRepo) CloseChat(_ context.Context, id int64) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return nil, queries.ErrNotFound
	}
	c.Status = models.StatusClosed
	if c.ClosedAt == nil {
		now := time.Now()
		c.ClosedAt = &now
	}
	c.UserIsTyping, c.StaffIsTyping = false, false
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) TransferChat(_ context.Context, id, to int64, note func(*int64) (string, error)) (*models.Message, error) {
	r.mu.Lock()
	c, ok := r.chats[id]
	if !ok {
		r.mu.Unlock()
		return nil, queries.ErrNotFound
	}
	if c.Status != models.StatusActive {
		r.mu.Unlock()
		return nil, queries.ErrChatNotActive
	}
	from := c.StaffID
	r.mu.Unlock()

	body, err := note(from)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c.StaffID = &to
	r.nextMsg++
	m := models.Message{ID: r.nextMsg, ChatID: id, SenderRole: models.SenderBot, SenderName: "Assistant", Body: body, CreatedAt: time.Now()}
	r.messages = append(r.messages, m)
	return &m, nil
}

func (r *fakeRepo) SetTyping(_ context.Context, id int64, side queries.TypingSide, typing bool) error {
	if r.typingErr != nil {
		return r.typingErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return queries.ErrNotFound
	}
	if side == queries.TypingStaff {
		c.StaffIsTyping = typing
	} else {
		c.UserIsTyping = typing
	}
	return nil
}

func (r *fakeRepo) ListChats(_ context.Context, f queries.ChatFilter) ([]models.ChatSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChatSummary
	for _, c := range r.chats {
		if f.OwnerUserID != nil && (c.OwnerUserID == nil || *c.OwnerUserID != *f.OwnerUserID) {
			continue
		}
		if f.StaffID != nil && c.Status != models.StatusPending && (c.StaffID == nil || *c.StaffID != *f.StaffID) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, models.ChatSummary{ID: c.ID, Status: c.Status, StaffID: c.StaffID})
	}
	return out, nil
}

func (r *fakeRepo) AppendMessage(_ context.Context, m *models.Message) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[m.ChatID]
	if !ok {
		return queries.ErrNotFound
	}
	if c.Status == models.StatusClosed {
		return queries.ErrChatClosed
	}
	r.nextMsg++
	m.ID = r.nextMsg
	m.CreatedAt = time.Now()
	r.messages = append(r.messages, *m)
	return nil
}

func (r *fakeRepo) MessagesSince(_ context.Context, chatID, after int64, limit int) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Message{}
	for _, m := range r.messages {
		if m.ChatID == chatID && m.ID > after {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) GetUser(_ context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, queries.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) messageCount(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.ChatID == chatID {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Notify(x models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, x)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, x := range n.sent {
		out = append(out, x.Kind)
	}
	return out
}

var errBoom = errors.New("boom")
