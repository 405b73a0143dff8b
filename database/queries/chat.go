package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/egor/permitchat/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// chatColumns lists live_chats columns in scanChat order, substituting
// constants for optional columns the schema does not have.
func (s *Store) chatColumns() string {
	guest := "NULL::text"
	if s.caps.GuestName {
		guest = "guest_name"
	}
	staff := "NULL::bigint"
	if s.caps.StaffAssignment {
		staff = "staff_id"
	}
	typing := "FALSE, FALSE"
	if s.caps.TypingIndicator {
		typing = "user_is_typing, staff_is_typing"
	}
	return "id, user_id, " + guest + ", " + staff + ", status, " + typing +
		", created_at, updated_at, closed_at"
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		chat      models.Chat
		userID    sql.NullInt64
		guestName sql.NullString
		staffID   sql.NullInt64
		status    string
		closedAt  sql.NullTime
	)
	if err := row.Scan(
		&chat.ID, &userID, &guestName, &staffID, &status,
		&chat.UserIsTyping, &chat.StaffIsTyping,
		&chat.CreatedAt, &chat.UpdatedAt, &closedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	chat.OwnerUserID = nullInt64ToPointer(userID)
	chat.GuestName = nullStringToPointer(guestName)
	chat.StaffID = nullInt64ToPointer(staffID)
	chat.Status = models.ChatStatus(status)
	chat.ClosedAt = nullTimeToPointer(closedAt)
	return &chat, nil
}

// CreateChat inserts a Pending chat. ownerUserID nil means a guest opened it.
func (s *Store) CreateChat(ctx context.Context, ownerUserID *int64, guestName *string) (*models.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row *sql.Row
	if s.caps.GuestName {
		row = s.db.QueryRowContext(ctx,
			"INSERT INTO live_chats (user_id, guest_name, status) VALUES ($1, $2, 'Pending') RETURNING "+s.chatColumns(),
			int64PointerToNull(ownerUserID), stringPointerToNull(guestName),
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			"INSERT INTO live_chats (user_id, status) VALUES ($1, 'Pending') RETURNING "+s.chatColumns(),
			int64PointerToNull(ownerUserID),
		)
	}
	chat, err := scanChat(row)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

// GetChat loads one chat; ErrNotFound when absent.
func (s *Store) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	chat, err := scanChat(s.db.QueryRowContext(ctx,
		"SELECT "+s.chatColumns()+" FROM live_chats WHERE id = $1", chatID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return chat, nil
}

// ClaimChat moves a Pending chat to Active for staffID in one conditional
// update. It reports false when the chat was no longer Pending, so under a
// race exactly one caller gets true.
func (s *Store) ClaimChat(ctx context.Context, chatID, staffID int64) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if s.caps.StaffAssignment {
		res, err = s.db.ExecContext(ctx,
			"UPDATE live_chats SET status = 'Active', staff_id = $1, updated_at = NOW() WHERE id = $2 AND status = 'Pending'",
			staffID, chatID,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE live_chats SET status = 'Active', updated_at = NOW() WHERE id = $1 AND status = 'Pending'",
			chatID,
		)
	}
	if err != nil {
		return false, fmt.Errorf("claim chat %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim chat %d: %w", chatID, err)
	}
	return n == 1, nil
}

// CloseChat marks the chat Closed. The first closed_at is kept.
func (s *Store) CloseChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set := "status = 'Closed', closed_at = COALESCE(closed_at, NOW()), updated_at = NOW()"
	if s.caps.TypingIndicator {
		set += ", user_is_typing = FALSE, staff_is_typing = FALSE"
	}
	chat, err := scanChat(s.db.QueryRowContext(ctx,
		"UPDATE live_chats SET "+set+" WHERE id = $1 RETURNING "+s.chatColumns(), chatID,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("close chat %d: %w", chatID, err)
	}
	return chat, nil
}

// TransferChat reassigns an Active chat to toStaffID and appends the bot note
// built from the previous assignee, both in one transaction.
func (s *Store) TransferChat(
	ctx context.Context,
	chatID, toStaffID int64,
	note func(fromStaffID *int64) (string, error),
) (*models.Message, error) {
	if !s.caps.StaffAssignment {
		return nil, ErrUnsupported
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var msg *models.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			status string
			from   sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			"SELECT status, staff_id FROM live_chats WHERE id = $1 FOR UPDATE", chatID,
		).Scan(&status, &from)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if models.ChatStatus(status) != models.StatusActive {
			return ErrChatNotActive
		}

		body, err := note(nullInt64ToPointer(from))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE live_chats SET staff_id = $1, updated_at = NOW() WHERE id = $2",
			toStaffID, chatID,
		); err != nil {
			return err
		}

		msg = &models.Message{
			ChatID:     chatID,
			SenderRole: models.SenderBot,
			SenderName: models.SenderBot.DefaultName(),
			Body:       body,
		}
		return tx.QueryRowContext(ctx,
			"INSERT INTO chat_messages (chat_id, sender_id, sender_role, message) VALUES ($1, NULL, $2, $3) RETURNING id, created_at",
			chatID, string(models.SenderBot), body,
		).Scan(&msg.ID, &msg.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrChatNotActive) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer chat %d: %w", chatID, err)
	}
	return msg, nil
}

// TypingSide selects which typing flag to write.
type TypingSide int

const (
	TypingUser TypingSide = iota
	TypingStaff
)

func (t TypingSide) column() string {
	if t == TypingStaff {
		return "staff_is_typing"
	}
	return "user_is_typing"
}

// SetTyping writes one typing flag. Last writer wins.
func (s *Store) SetTyping(ctx context.Context, chatID int64, side TypingSide, typing bool) error {
	if !s.caps.TypingIndicator {
		return ErrUnsupported
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		"UPDATE live_chats SET "+side.column()+" = $1 WHERE id = $2 AND status <> 'Closed'",
		typing, chatID,
	)
	if err != nil {
		return fmt.Errorf("set typing on chat %d: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	OwnerUserID *int64            // applicant's own chats
	StaffID     *int64            // Pending chats plus chats assigned to this staff member
	Status      models.ChatStatus // optional exact status
	Limit       int
}

// ListChats returns the chat queue ordered by last activity, each with its
// latest message.
func (s *Store) ListChats(ctx context.Context, f ChatFilter) ([]models.ChatSummary, error) {
	if f.Limit < 1 || f.Limit > MaxPageSize {
		f.Limit = DefaultPageSize
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OwnerUserID != nil {
		where = append(where, "c.user_id = "+arg(*f.OwnerUserID))
	}
	if f.StaffID != nil && s.caps.StaffAssignment {
		where = append(where, "(c.status = 'Pending' OR c.staff_id = "+arg(*f.StaffID)+")")
	}
	if f.Status != "" {
		where = append(where, "c.status = "+arg(string(f.Status)))
	}

	staffCols := "NULL::bigint, NULL::text"
	staffJoin := ""
	if s.caps.StaffAssignment {
		staffCols = "c.staff_id, st.full_name"
		staffJoin = "LEFT JOIN users st ON st.id = c.staff_id"
	}
	guest := "NULL::text"
	if s.caps.GuestName {
		guest = "c.guest_name"
	}

	q := `
		SELECT c.id, c.status, ow.full_name, ` + guest + `, ` + staffCols + `,
		       l.message, COALESCE(l.created_at, c.updated_at), c.created_at
		  FROM live_chats c
		  LEFT JOIN users ow ON ow.id = c.user_id
		  ` + staffJoin + `
		  LEFT JOIN LATERAL (
		      SELECT message, created_at
		        FROM chat_messages
		       WHERE chat_id = c.id
		       ORDER BY id DESC
		       LIMIT 1
		  ) l ON TRUE`
	if len(where) > 0 {
		q += "\n WHERE " + strings.Join(where, " AND ")
	}
	q += "\n ORDER BY COALESCE(l.created_at, c.updated_at) DESC\n LIMIT " + arg(f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	list := []models.ChatSummary{}
	for rows.Next() {
		var (
			sum       models.ChatSummary
			status    string
			ownerName sql.NullString
			guestName sql.NullString
			staffID   sql.NullInt64
			staffName sql.NullString
			last      sql.NullString
		)
		if err := rows.Scan(
			&sum.ID, &status, &ownerName, &guestName, &staffID, &staffName,
			&last, &sum.LastActivity, &sum.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat summary: %w", err)
		}
		sum.Status = models.ChatStatus(status)
		switch {
		case ownerName.Valid:
			sum.OwnerName = ownerName.String
		case guestName.Valid && guestName.String != "":
			sum.OwnerName = guestName.String
		default:
			sum.OwnerName = models.SenderGuest.DefaultName()
		}
		sum.StaffID = nullInt64ToPointer(staffID)
		sum.StaffName = nullStringToPointer(staffName)
		sum.LastMessage = nullStringToPointer(last)
		list = append(list, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return list, nil
}
