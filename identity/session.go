package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionData is the server-side half of the session cookie.
type SessionData struct {
	GuestChatID int64  `json:"guest_chat_id,omitempty"`
	GuestName   string `json:"guest_name,omitempty"`
}

// HasGuestChat reports whether a guest chat is bound.
func (d SessionData) HasGuestChat() bool {
	return d.GuestChatID > 0
}

// SessionStore persists SessionData by opaque id.
type SessionStore interface {
	// Get returns nil, nil for an unknown or expired id.
	Get(ctx context.Context, id string) (*SessionData, error)
	Save(ctx context.Context, id string, data SessionData, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// RedisSessionStore keeps sessions as JSON strings with a TTL.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSessionStore uses an already connected client.
func NewRedisSessionStore(client *redis.Client, keyPrefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisSessionStore) key(id string) string {
	return s.keyPrefix + id
}

// Get loads a session.
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*SessionData, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &data, nil
}

// Save writes a session and resets its TTL.
func (s *RedisSessionStore) Save(ctx context.Context, id string, data SessionData, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type memorySession struct {
	data      SessionData
	expiresAt time.Time
}

// MemorySessionStore is the single-process fallback used when Redis is
// disabled, and in tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

// Get loads a session, dropping it when expired.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if !sess.expiresAt.IsZero() && s.now().After(sess.expiresAt) {
		delete(s.sessions, id)
		return nil, nil
	}
	data := sess.data
	return &data, nil
}

// Save writes a session. A non-positive ttl never expires.
func (s *MemorySessionStore) Save(_ context.Context, id string, data SessionData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := memorySession{data: data}
	if ttl > 0 {
		sess.expiresAt = s.now().Add(ttl)
	}
	s.sessions[id] = sess
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
