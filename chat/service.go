// Package chat is the live chat session engine: chat lifecycle, access
// scoping per actor, and the message log clients poll.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/egor/permitchat/attachments"
	"github.com/egor/permitchat/database"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/models"
)

const (
	DefaultPollBatchLimit = 500
	DefaultMaxMessageLen  = 5000
	MaxGuestNameLen       = 100
)

// Repository is the persistence the engine needs. *queries.Store implements it.
type Repository interface {
	Capabilities() database.Capabilities

	CreateChat(ctx context.Context, ownerUserID *int64, guestName *string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (*models.Chat, error)
	ClaimChat(ctx context.Context, chatID, staffID int64) (bool, error)
	CloseChat(ctx context.Context, chatID int64) (*models.Chat, error)
	TransferChat(ctx context.Context, chatID, toStaffID int64, note func(fromStaffID *int64) (string, error)) (*models.Message, error)
	SetTyping(ctx context.Context, chatID int64, side queries.TypingSide, typing bool) error
	ListChats(ctx context.Context, f queries.ChatFilter) ([]models.ChatSummary, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	MessagesSince(ctx context.Context, chatID, afterID int64, limit int) ([]models.Message, error)

	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Notifier accepts notifications without blocking the caller.
type Notifier interface {
	Notify(n models.Notification)
}

// Options tunes the service. Zero values take defaults.
type Options struct {
	PollBatchLimit int
	MaxMessageLen  int
}

// Service implements every chat operation. All methods take the request's
// ActorContext and return *Error on failure.
type Service struct {
	repo     Repository
	uploads  *attachments.Uploader
	notifier Notifier
	opts     Options
	log      *zap.Logger
}

// NewService wires the engine. uploads may be nil to disable attachments.
func NewService(repo Repository, uploads *attachments.Uploader, notifier Notifier, opts Options, log *zap.Logger) *Service {
	if opts.PollBatchLimit <= 0 {
		opts.PollBatchLimit = DefaultPollBatchLimit
	}
	if opts.MaxMessageLen <= 0 {
		opts.MaxMessageLen = DefaultMaxMessageLen
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, uploads: uploads, notifier: notifier, opts: opts, log: log}
}

// Create opens a Pending chat for an applicant or a guest. A guest whose
// bound chat is still open gets that chat back.
func (s *Service) Create(ctx context.Context, ac *identity.ActorContext, guestName string) (int64, error) {
	switch a := ac.Actor.(type) {
	case identity.Staff:
		return 0, forbidden("staff members cannot open chats")

	case identity.Applicant:
		chat, err := s.repo.CreateChat(ctx, &a.UserID, nil)
		if err != nil {
			return 0, persistence("create chat", err)
		}
		s.notifyChatRequested(chat, s.userName(ctx, a.UserID, "An applicant"))
		return chat.ID, nil

	case identity.Guest:
		existing, err := s.repo.GetChat(ctx, a.ChatID)
		switch {
		case err == nil && existing.Status != models.StatusClosed:
			return existing.ID, nil
		case err != nil && !errors.Is(err, queries.ErrNotFound):
			return 0, persistence("load bound chat", err)
		}
		name := a.DisplayName
		if strings.TrimSpace(guestName) != "" {
			name = guestName
		}
		return s.createGuestChat(ctx, ac, name)

	case identity.Anonymous:
		if strings.TrimSpace(guestName) == "" {
			return 0, authRequired("sign in or enter your name to start a chat")
		}
		return s.createGuestChat(ctx, ac, guestName)

	default:
		return 0, authRequired(msgLoginRequired)
	}
}

func (s *Service) createGuestChat(ctx context.Context, ac *identity.ActorContext, rawName string) (int64, error) {
	name, err := normalizeGuestName(rawName)
	if err != nil {
		return 0, err
	}

	var stored *string
	if s.repo.Capabilities().GuestName {
		stored = &name
	}
	chat, err := s.repo.CreateChat(ctx, nil, stored)
	if err != nil {
		return 0, persistence("create guest chat", err)
	}
	if err := ac.BindGuest(ctx, chat.ID, name); err != nil {
		return 0, persistence("bind guest", err)
	}
	s.notifyChatRequested(chat, name)
	return chat.ID, nil
}

func normalizeGuestName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", invalid("guest name is required")
	}
	if utf8.RuneCountInString(name) > MaxGuestNameLen {
		return "", invalid(fmt.Sprintf("guest name must be at most %d characters", MaxGuestNameLen))
	}
	return name, nil
}

// Claim makes staff the assignee of a Pending chat. An Active or Closed chat
// is returned unchanged, so racing claimers all see the winner.
func (s *Service) Claim(ctx context.Context, ac *identity.ActorContext, chatID int64) (*models.Chat, error) {
	staff, ok := ac.Actor.(identity.Staff)
	if !ok {
		return nil, s.denyNonStaff(ac)
	}
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.claimIfPending(ctx, chat, staff)
}

func (s *Service) claimIfPending(ctx context.Context, chat *models.Chat, staff identity.Staff) (*models.Chat, error) {
	if chat.Status != models.StatusPending {
		return chat, nil
	}
	won, err := s.repo.ClaimChat(ctx, chat.ID, staff.UserID)
	if err != nil {
		return nil, persistence("claim chat", err)
	}
	if won {
		s.log.Info("chat claimed", zap.Int64("chat_id", chat.ID), zap.Int64("staff_id", staff.UserID))
		chat.Status = models.StatusActive
		if s.repo.Capabilities().StaffAssignment {
			id := staff.UserID
			chat.StaffID = &id
		}
		return chat, nil
	}
	return s.loadChat(ctx, chat.ID)
}

// Close ends a chat. Closing twice is a no-op.
func (s *Service) Close(ctx context.Context, ac *identity.ActorContext, chatID int64) error {
	staff, ok := ac.Actor.(identity.Staff)
	if !ok {
		return s.denyNonStaff(ac)
	}
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Status == models.StatusClosed {
		return nil
	}

	closed, err := s.repo.CloseChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, queries.ErrNotFound) {
			return notFound(msgChatNotFound)
		}
		return persistence("close chat", err)
	}
	s.log.Info("chat closed", zap.Int64("chat_id", chatID), zap.Int64("staff_id", staff.UserID))

	if closed.OwnerUserID != nil {
		s.notify(models.Notification{
			UserID:   closed.OwnerUserID,
			Audience: models.AudienceUser,
			Kind:     models.KindChatClosed,
			Title:    "Chat closed",
			Body:     fmt.Sprintf("Your support chat #%d was closed by staff.", chatID),
			ChatID:   &closed.ID,
		})
	}
	return nil
}

var errSameAssignee = errors.New("same assignee")

// Transfer hands an Active chat to another staff member and logs a bot
// message. It returns that message's text.
func (s *Service) Transfer(ctx context.Context, ac *identity.ActorContext, chatID, newStaffID int64) (string, error) {
	staff, ok := ac.Actor.(identity.Staff)
	if !ok {
		return "", s.denyNonStaff(ac)
	}
	if newStaffID <= 0 {
		return "", invalid("newStaffId is required")
	}
	if !s.repo.Capabilities().StaffAssignment {
		return "", invalid("chat transfer is not available")
	}

	target, err := s.repo.GetUser(ctx, newStaffID)
	if err != nil {
		if errors.Is(err, queries.ErrNotFound) {
			return "", notFound("staff member not found")
		}
		return "", persistence("load transfer target", err)
	}
	if !target.IsStaff() || !target.Active {
		return "", notFound("staff member not found")
	}

	note := func(from *int64) (string, error) {
		if from != nil && *from == newStaffID {
			return "", errSameAssignee
		}
		fromName := "unassigned"
		if from != nil {
			fromName = s.userName(ctx, *from, models.SenderStaff.DefaultName())
		}
		return html.EscapeString(fmt.Sprintf("Chat transferred from %s to %s", fromName, target.FullName)), nil
	}

	msg, err := s.repo.TransferChat(ctx, chatID, newStaffID, note)
	switch {
	case err == nil:
	case errors.Is(err, queries.ErrNotFound):
		return "", notFound(msgChatNotFound)
	case errors.Is(err, queries.ErrChatNotActive):
		return "", invalid("only active chats can be transferred")
	case errors.Is(err, errSameAssignee):
		return "", invalid("chat is already assigned to this staff member")
	case errors.Is(err, queries.ErrUnsupported):
		return "", invalid("chat transfer is not available")
	default:
		return "", persistence("transfer chat", err)
	}

	s.log.Info("chat transferred",
		zap.Int64("chat_id", chatID),
		zap.Int64("by_staff_id", staff.UserID),
		zap.Int64("to_staff_id", newStaffID),
	)
	s.notify(models.Notification{
		UserID:   &target.ID,
		Audience: models.AudienceStaff,
		Kind:     models.KindChatTransferred,
		Title:    "Chat transferred to you",
		Body:     fmt.Sprintf("Chat #%d was transferred to you.", chatID),
		ChatID:   &chatID,
	})
	return msg.Body, nil
}

// SetTyping records the caller's typing flag. Storage problems are logged
// and swallowed: typing is advisory.
func (s *Service) SetTyping(ctx context.Context, ac *identity.ActorContext, chatID int64, typing bool) error {
	chat, err := s.authorizedChat(ctx, ac, chatID)
	if err != nil {
		return err
	}

	side := queries.TypingUser
	if _, ok := ac.Actor.(identity.Staff); ok {
		side = queries.TypingStaff
	}
	if !s.repo.Capabilities().TypingIndicator {
		s.log.Debug("typing indicator unavailable", zap.Int64("chat_id", chat.ID))
		return nil
	}
	if err := s.repo.SetTyping(ctx, chat.ID, side, typing); err != nil {
		s.log.Warn("typing update dropped", zap.Int64("chat_id", chat.ID), zap.Error(err))
	}
	return nil
}

// List returns the caller's chat queue. Staff see Pending chats and their
// own; applicants see chats they opened.
func (s *Service) List(ctx context.Context, ac *identity.ActorContext, status string) ([]models.ChatSummary, error) {
	f := queries.ChatFilter{Limit: queries.MaxPageSize}
	if status != "" {
		switch st := models.ChatStatus(status); st {
		case models.StatusPending, models.StatusActive, models.StatusClosed:
			f.Status = st
		default:
			return nil, invalid("unknown status filter")
		}
	}

	switch a := ac.Actor.(type) {
	case identity.Staff:
		f.StaffID = &a.UserID
	case identity.Applicant:
		f.OwnerUserID = &a.UserID
	case identity.Guest:
		return nil, forbidden(msgNotYourChat)
	default:
		return nil, authRequired(msgLoginRequired)
	}

	list, err := s.repo.ListChats(ctx, f)
	if err != nil {
		return nil, persistence("list chats", err)
	}
	return list, nil
}

// authorizedChat loads chatID and checks the actor may address it. A guest
// asking for a foreign chat is refused before any lookup.
func (s *Service) authorizedChat(ctx context.Context, ac *identity.ActorContext, chatID int64) (*models.Chat, error) {
	if g, ok := ac.Actor.(identity.Guest); ok && g.ChatID != chatID {
		return nil, forbidden(msgNotYourChat)
	}
	if _, ok := ac.Actor.(identity.Anonymous); ok {
		return nil, authRequired(msgLoginRequired)
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	switch a := ac.Actor.(type) {
	case identity.Staff:
		return chat, nil
	case identity.Applicant:
		if chat.OwnerUserID == nil || *chat.OwnerUserID != a.UserID {
			return nil, forbidden(msgNotYourChat)
		}
		return chat, nil
	case identity.Guest:
		if !chat.IsGuest() {
			return nil, forbidden(msgNotYourChat)
		}
		return chat, nil
	default:
		return nil, authRequired(msgLoginRequired)
	}
}

func (s *Service) loadChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	if chatID <= 0 {
		return nil, invalid("chatId is required")
	}
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, queries.ErrNotFound) {
			return nil, notFound(msgChatNotFound)
		}
		return nil, persistence("load chat", err)
	}
	return chat, nil
}

func (s *Service) denyNonStaff(ac *identity.ActorContext) error {
	if _, ok := ac.Actor.(identity.Anonymous); ok {
		return authRequired(msgLoginRequired)
	}
	return forbidden(msgStaffOnly)
}

func (s *Service) userName(ctx context.Context, id int64, fallback string) string {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil || u.FullName == "" {
		return fallback
	}
	return u.FullName
}

func (s *Service) notifyChatRequested(chat *models.Chat, who string) {
	s.notify(models.Notification{
		Audience: models.AudienceStaff,
		Kind:     models.KindChatRequested,
		Title:    "New chat request",
		Body:     fmt.Sprintf("%s started chat #%d.", who, chat.ID),
		ChatID:   &chat.ID,
	})
}

func (s *Service) notify(n models.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(n)
}
