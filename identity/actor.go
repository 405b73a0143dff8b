// Package identity turns an incoming request into the actor the chat engine
// authorizes against: an applicant, a staff member, a guest bound to one
// chat, or nobody.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor is one of Applicant, Staff, Guest or Anonymous.
type Actor interface {
	isActor()
}

// Applicant is a signed-in portal user.
type Applicant struct {
	UserID int64
}

// Staff is a signed-in staff member or admin.
type Staff struct {
	UserID int64
	Role   string
}

// Guest is a visitor without an account, scoped to the single chat bound to
// their session.
type Guest struct {
	ChatID      int64
	DisplayName string
}

// Anonymous carries no identity. It may only open a guest chat.
type Anonymous struct{}

func (Applicant) isActor() {}
func (Staff) isActor()     {}
func (Guest) isActor()     {}
func (Anonymous) isActor() {}

// ErrNoSessionStore is returned by BindGuest when the context was built
// without a session store.
var ErrNoSessionStore = errors.New("identity: no session store")

// ActorContext is the per-request identity handed to every chat operation.
type ActorContext struct {
	Actor     Actor
	SessionID string
	Session   *SessionData

	store   SessionStore
	ttl     time.Duration
	onIssue func(sessionID string)
}

// NewActorContext builds a context for actor. store may be nil when the
// request can never bind a guest chat.
func NewActorContext(actor Actor, store SessionStore, ttl time.Duration) *ActorContext {
	return &ActorContext{Actor: actor, store: store, ttl: ttl}
}

// OnSessionIssued registers fn to run when BindGuest mints a new session id,
// so the transport can set the session cookie.
func (a *ActorContext) OnSessionIssued(fn func(sessionID string)) {
	a.onIssue = fn
}

// BindGuest records chatID and name in the server-side session, creating the
// session when there is none, and switches the actor to Guest.
func (a *ActorContext) BindGuest(ctx context.Context, chatID int64, name string) error {
	if a.store == nil {
		return ErrNoSessionStore
	}
	fresh := a.SessionID == ""
	if fresh {
		a.SessionID = uuid.NewString()
	}

	data := SessionData{}
	if a.Session != nil {
		data = *a.Session
	}
	data.GuestChatID = chatID
	data.GuestName = name

	if err := a.store.Save(ctx, a.SessionID, data, a.ttl); err != nil {
		if fresh {
			a.SessionID = ""
		}
		return fmt.Errorf("bind guest chat %d: %w", chatID, err)
	}
	a.Session = &data
	a.Actor = Guest{ChatID: chatID, DisplayName: name}

	if fresh && a.onIssue != nil {
		a.onIssue(a.SessionID)
	}
	return nil
}

// EndSession deletes the server-side session, dropping any guest binding.
func (a *ActorContext) EndSession(ctx context.Context) error {
	if a.store == nil || a.SessionID == "" {
		return nil
	}
	if err := a.store.Delete(ctx, a.SessionID); err != nil {
		return err
	}
	a.SessionID = ""
	a.Session = nil
	return nil
}

// UserID returns the account id behind Applicant and Staff actors.
func UserID(actor Actor) (int64, bool) {
	switch a := actor.(type) {
	case Applicant:
		return a.UserID, true
	case Staff:
		return a.UserID, true
	default:
		return 0, false
	}
}
