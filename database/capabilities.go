package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Capabilities records which optional live_chats columns exist. Older portal
// databases predate staff assignment and typing indicators; the chat engine
// keeps working on them with those features switched off.
type Capabilities struct {
	StaffAssignment bool
	TypingIndicator bool
	GuestName       bool
}

// FullCapabilities is what the embedded migrations produce.
func FullCapabilities() Capabilities {
	return Capabilities{StaffAssignment: true, TypingIndicator: true, GuestName: true}
}

const columnsQuery = `
	SELECT column_name
	  FROM information_schema.columns
	 WHERE table_schema = current_schema()
	   AND table_name = 'live_chats'`

// DetectCapabilities inspects the live_chats table once at startup.
func DetectCapabilities(ctx context.Context, db *sql.DB, log *zap.Logger) (Capabilities, error) {
	rows, err := db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return Capabilities{}, fmt.Errorf("inspect live_chats: %w", err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Capabilities{}, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return Capabilities{}, fmt.Errorf("inspect live_chats: %w", err)
	}
	if len(cols) == 0 {
		return Capabilities{}, fmt.Errorf("table live_chats not found")
	}

	caps := Capabilities{
		StaffAssignment: cols["staff_id"],
		TypingIndicator: cols["user_is_typing"] && cols["staff_is_typing"],
		GuestName:       cols["guest_name"],
	}
	if !caps.StaffAssignment || !caps.TypingIndicator || !caps.GuestName {
		log.Warn("live_chats schema is missing optional columns, features degraded",
			zap.Bool("staff_assignment", caps.StaffAssignment),
			zap.Bool("typing_indicator", caps.TypingIndicator),
			zap.Bool("guest_name", caps.GuestName),
		)
	}
	return caps, nil
}
