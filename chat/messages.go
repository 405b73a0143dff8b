package chat

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/egor/permitchat/attachments"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/models"
)

// Snapshot is what a poll returns: messages after the cursor plus the chat's
// status block.
type Snapshot struct {
	Messages []models.Message
	Status   models.ChatStatusSnapshot
}

// SendMessage appends a message from the caller. The sender role comes from
// the actor, never from the client. An attachment, when present, is stored
// first and linked from the body.
func (s *Service) SendMessage(ctx context.Context, ac *identity.ActorContext, chatID int64, rawText string, file *attachments.File) (int64, error) {
	chat, err := s.authorizedChat(ctx, ac, chatID)
	if err != nil {
		return 0, err
	}
	if chat.Status == models.StatusClosed {
		return 0, invalid(msgChatClosed)
	}

	if utf8.RuneCountInString(rawText) > s.opts.MaxMessageLen {
		return 0, invalid(fmt.Sprintf("message must be at most %d characters", s.opts.MaxMessageLen))
	}
	body := SanitizeText(rawText)
	if body == "" && file == nil {
		return 0, invalid("message is empty")
	}

	msg := &models.Message{ChatID: chat.ID}
	switch a := ac.Actor.(type) {
	case identity.Staff:
		msg.SenderRole = models.SenderStaff
		msg.SenderID = &a.UserID
	case identity.Applicant:
		msg.SenderRole = models.SenderUser
		msg.SenderID = &a.UserID
	case identity.Guest:
		msg.SenderRole = models.SenderGuest
	default:
		return 0, authRequired(msgLoginRequired)
	}

	var stored *attachments.Stored
	if file != nil {
		if s.uploads == nil {
			return 0, invalid("attachments are not accepted")
		}
		stored, err = s.uploads.Save(ctx, chat.ID, *file)
		if err != nil {
			if attachments.IsValidation(err) {
				return 0, invalid(uploadMessage(err))
			}
			return 0, storageFailed(err)
		}
		anchor := AttachmentAnchor(stored.URL, stored.Name)
		if body != "" {
			body += "<br>" + anchor
		} else {
			body = anchor
		}
	}
	msg.Body = body

	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		if stored != nil {
			if derr := s.uploads.Discard(ctx, stored); derr != nil {
				s.log.Warn("orphaned attachment", zap.String("key", stored.Key), zap.Error(derr))
			}
		}
		switch {
		case errors.Is(err, queries.ErrChatClosed):
			return 0, invalid(msgChatClosed)
		case errors.Is(err, queries.ErrNotFound):
			return 0, notFound(msgChatNotFound)
		default:
			return 0, persistence("append message", err)
		}
	}
	return msg.ID, nil
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, attachments.ErrTooLarge):
		return "file is too large"
	case errors.Is(err, attachments.ErrUnsupportedType):
		return "file type is not allowed; use PDF, JPEG, PNG, DOC or DOCX"
	default:
		return "file is empty"
	}
}

// Poll returns messages with id > cursor in id order together with the chat
// status. Staff viewing a Pending chat claim it.
func (s *Service) Poll(ctx context.Context, ac *identity.ActorContext, chatID, cursor int64) (*Snapshot, error) {
	chat, err := s.authorizedChat(ctx, ac, chatID)
	if err != nil {
		return nil, err
	}
	if staff, ok := ac.Actor.(identity.Staff); ok {
		chat, err = s.claimIfPending(ctx, chat, staff)
		if err != nil {
			return nil, err
		}
	}

	if cursor < 0 {
		cursor = 0
	}
	messages, err := s.repo.MessagesSince(ctx, chat.ID, cursor, s.opts.PollBatchLimit)
	if err != nil {
		return nil, persistence("load messages", err)
	}
	return &Snapshot{Messages: messages, Status: chat.Snapshot()}, nil
}
