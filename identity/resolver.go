package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Credentials are the identity-bearing parts of a request.
type Credentials struct {
	Authorization string // Authorization header value
	AuthCookie    string // auth cookie value
	SessionID     string // session cookie value
}

// Resolver resolves request credentials into an ActorContext.
type Resolver struct {
	tokens   *TokenManager
	sessions SessionStore
	ttl      time.Duration
	log      *zap.Logger
}

// NewResolver wires the token manager and session store.
func NewResolver(tokens *TokenManager, sessions SessionStore, ttl time.Duration, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{tokens: tokens, sessions: sessions, ttl: ttl, log: log}
}

// Tokens exposes the token manager to the login handler.
func (r *Resolver) Tokens() *TokenManager {
	return r.tokens
}

// Resolve checks, in order: a bearer token (header, then cookie), then a
// session with a bound guest chat. Invalid tokens count as absent. The
// session is loaded even for signed-in users so logout can drop it.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (*ActorContext, error) {
	ac := NewActorContext(Anonymous{}, r.sessions, r.ttl)

	if creds.SessionID != "" {
		data, err := r.sessions.Get(ctx, creds.SessionID)
		if err != nil {
			return nil, fmt.Errorf("resolve session: %w", err)
		}
		if data != nil {
			ac.SessionID = creds.SessionID
			ac.Session = data
		}
	}

	if token := bearerToken(creds); token != "" {
		actor, err := r.actorFromToken(token)
		if err == nil {
			ac.Actor = actor
			return ac, nil
		}
		r.log.Debug("ignoring unusable token", zap.Error(err))
	}

	if ac.Session != nil && ac.Session.HasGuestChat() {
		ac.Actor = Guest{ChatID: ac.Session.GuestChatID, DisplayName: ac.Session.GuestName}
	}
	return ac, nil
}

func (r *Resolver) actorFromToken(token string) (Actor, error) {
	claims, err := r.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	return ActorFromClaims(claims)
}

func bearerToken(creds Credentials) string {
	if h := strings.TrimSpace(creds.Authorization); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(creds.AuthCookie)
}
