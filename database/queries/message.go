package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/egor/permitchat/models"
)

// AppendMessage stores msg and fills its ID and CreatedAt. The chat row is
// locked so the closed check and the insert see the same status. The
// sender's typing flag is cleared in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			"SELECT status FROM live_chats WHERE id = $1 FOR UPDATE", msg.ChatID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if models.ChatStatus(status) == models.StatusClosed {
			return ErrChatClosed
		}

		if err := tx.QueryRowContext(ctx,
			"INSERT INTO chat_messages (chat_id, sender_id, sender_role, message) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
			msg.ChatID, int64PointerToNull(msg.SenderID), string(msg.SenderRole), msg.Body,
		).Scan(&msg.ID, &msg.CreatedAt); err != nil {
			return err
		}

		touch := "UPDATE live_chats SET updated_at = NOW()"
		if s.caps.TypingIndicator {
			switch msg.SenderRole {
			case models.SenderStaff:
				touch += ", staff_is_typing = FALSE"
			case models.SenderUser, models.SenderGuest:
				touch += ", user_is_typing = FALSE"
			}
		}
		_, err = tx.ExecContext(ctx, touch+" WHERE id = $1", msg.ChatID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrChatClosed) {
			return err
		}
		return fmt.Errorf("append message to chat %d: %w", msg.ChatID, err)
	}
	return nil
}

// MessagesSince returns up to limit messages with id > afterID in ascending
// id order, each carrying a resolved display name.
func (s *Store) MessagesSince(ctx context.Context, chatID, afterID int64, limit int) ([]models.Message, error) {
	if afterID < 0 {
		afterID = 0
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	guest := "NULL::text"
	if s.caps.GuestName {
		guest = "c.guest_name"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sender_id, m.sender_role, u.full_name, `+guest+`, m.message, m.created_at
		  FROM chat_messages m
		  JOIN live_chats c ON c.id = m.chat_id
		  LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1 AND m.id > $2
		 ORDER BY m.id ASC
		 LIMIT $3`,
		chatID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("messages of chat %d: %w", chatID, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			m         models.Message
			senderID  sql.NullInt64
			role      string
			fullName  sql.NullString
			guestName sql.NullString
		)
		if err := rows.Scan(&m.ID, &senderID, &role, &fullName, &guestName, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ChatID = chatID
		m.SenderID = nullInt64ToPointer(senderID)
		m.SenderRole = models.SenderRole(role)
		m.SenderName = senderName(m.SenderRole, fullName, guestName)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages of chat %d: %w", chatID, err)
	}
	return messages, nil
}

func senderName(role models.SenderRole, fullName, guestName sql.NullString) string {
	if fullName.Valid && fullName.String != "" {
		return fullName.String
	}
	if role == models.SenderGuest && guestName.Valid && guestName.String != "" {
		return guestName.String
	}
	return role.DefaultName()
}
