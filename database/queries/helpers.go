package queries

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/egor/permitchat/database"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	dbQueryTimeout  = 5 * time.Second
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrChatClosed is returned when writing to a closed chat.
	ErrChatClosed = errors.New("chat is closed")
	// ErrChatNotActive is returned when a transfer targets a chat that is not Active.
	ErrChatNotActive = errors.New("chat is not active")
	// ErrUnsupported is returned when the schema lacks the columns a feature needs.
	ErrUnsupported = errors.New("feature not supported by schema")
)

// Store is the persistence adapter for chats, messages, users and notifications.
type Store struct {
	db      *sql.DB
	caps    database.Capabilities
	timeout time.Duration
}

// NewStore wraps an open pool. caps comes from database.DetectCapabilities.
func NewStore(db *sql.DB, caps database.Capabilities, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = dbQueryTimeout
	}
	return &Store{db: db, caps: caps, timeout: timeout}
}

// Capabilities returns the schema capabilities the store was built with.
func (s *Store) Capabilities() database.Capabilities {
	return s.caps
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullStringToPointer(ns sql.NullString) *string {
	if ns.Valid {
		s := ns.String
		return &s
	}
	return nil
}

func nullInt64ToPointer(ni sql.NullInt64) *int64 {
	if ni.Valid {
		v := ni.Int64
		return &v
	}
	return nil
}

func nullTimeToPointer(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

func int64PointerToNull(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func stringPointerToNull(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
