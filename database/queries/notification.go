package queries

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/egor/permitchat/models"
)

// InsertNotification stores n and fills its ID and CreatedAt.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (user_id, audience, kind, title, body, chat_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		int64PointerToNull(n.UserID), n.Audience, n.Kind, n.Title, n.Body, int64PointerToNull(n.ChatID),
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns unread notices addressed to userID, plus the
// broadcast staff notices when staff is true. Newest first.
func (s *Store) ListNotifications(ctx context.Context, userID int64, staff bool, limit int) ([]models.Notification, error) {
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, audience, kind, title, body, chat_id, is_read, created_at
		  FROM notifications
		 WHERE is_read = FALSE
		   AND (user_id = $1 OR ($2 AND user_id IS NULL AND audience = 'staff'))
		 ORDER BY id DESC
		 LIMIT $3`,
		userID, staff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	list := []models.Notification{}
	for rows.Next() {
		var (
			n      models.Notification
			userID sql.NullInt64
			chatID sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &userID, &n.Audience, &n.Kind, &n.Title, &n.Body, &chatID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.UserID = nullInt64ToPointer(userID)
		n.ChatID = nullInt64ToPointer(chatID)
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationsRead flags the given ids read for userID. Broadcast staff
// notices are marked read for everyone once any staff member reads them.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID int64, staff bool, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		   SET is_read = TRUE
		 WHERE id = ANY($1)
		   AND (user_id = $2 OR ($3 AND user_id IS NULL AND audience = 'staff'))`,
		ids, userID, staff,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}
