package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/egor/permitchat/models"
)

const userColumns = "id, full_name, email, password_hash, role, active, created_at"

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUser loads an account by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail loads an account by its case-insensitive e-mail.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(email) = $1", strings.ToLower(strings.TrimSpace(email)),
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UpsertUser creates the account or, when the e-mail exists, resets its name,
// role and password. Used by the seed-staff command.
func (s *Store) UpsertUser(ctx context.Context, fullName, email, password, role string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (full_name, email, password_hash, role, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (email) DO UPDATE
		   SET full_name = EXCLUDED.full_name,
		       password_hash = EXCLUDED.password_hash,
		       role = EXCLUDED.role,
		       active = TRUE
		RETURNING `+userColumns,
		fullName, strings.ToLower(strings.TrimSpace(email)), string(hash), role,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", email, err)
	}
	return u, nil
}

// VerifyPassword checks a plaintext password against the stored bcrypt hash.
func VerifyPassword(u *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
