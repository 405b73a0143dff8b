package chat

import (
	"errors"
	"fmt"
)

// Kind classifies chat engine failures for the transport layer.
type Kind int

const (
	KindAuthRequired Kind = iota + 1
	KindForbidden
	KindNotFound
	KindValidation
	KindRateLimited
	KindStorage
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "AuthRequired"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "ValidationError"
	case KindRateLimited:
		return "RateLimited"
	case KindStorage:
		return "StorageError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "Unknown"
	}
}

// Error is returned by every Service operation. Message is safe to show to
// the client; Err carries the internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &chat.Error{Kind: chat.KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// KindOf returns the kind of err, KindPersistence for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindPersistence
}

func authRequired(msg string) *Error { return &Error{Kind: KindAuthRequired, Message: msg} }
func forbidden(msg string) *Error    { return &Error{Kind: KindForbidden, Message: msg} }
func notFound(msg string) *Error     { return &Error{Kind: KindNotFound, Message: msg} }
func invalid(msg string) *Error      { return &Error{Kind: KindValidation, Message: msg} }

func storageFailed(err error) *Error {
	return &Error{Kind: KindStorage, Message: "could not store attachment", Err: err}
}

func persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: "internal server error", Err: fmt.Errorf("%s: %w", op, err)}
}

// Common client-facing messages.
const (
	msgChatNotFound  = "chat not found"
	msgChatClosed    = "chat is closed"
	msgNotYourChat   = "you do not have access to this chat"
	msgStaffOnly     = "only staff can do this"
	msgLoginRequired = "authentication required"
)
