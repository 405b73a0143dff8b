package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/egor/permitchat/attachments"
	"github.com/egor/permitchat/chat"
	"github.com/egor/permitchat/faqbot"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/middleware"
)

type chatAction struct {
	post    bool // must arrive as POST
	limited bool // counts against the per-client rate limit
	run     func(h *Handler, c *gin.Context, ac *identity.ActorContext) (gin.H, error)
}

var chatActions = map[string]chatAction{
	"create":        {post: true, limited: true, run: (*Handler).createChat},
	"send_message":  {post: true, limited: true, run: (*Handler).sendMessage},
	"get_messages":  {run: (*Handler).getMessages},
	"update_typing": {post: true, run: (*Handler).updateTyping},
	"close":         {post: true, run: (*Handler).closeChat},
	"transfer":      {post: true, run: (*Handler).transferChat},
	"claim":         {post: true, run: (*Handler).claimChat},
	"list_chats":    {run: (*Handler).listChats},
	"faq":           {run: (*Handler).faqNode},
	"faq_search":    {run: (*Handler).faqSearch},
}

// Dispatch is the single chat endpoint. The action parameter selects the
// operation; every response carries success and, on failure, error.
func (h *Handler) Dispatch(c *gin.Context) {
	if c.Request.Method == http.MethodPost {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBody)
	}

	name := param(c, "action")
	c.Set("action", name)
	action, found := chatActions[name]
	if !found {
		fail(c, http.StatusBadRequest, "unknown action")
		return
	}
	if action.post && c.Request.Method != http.MethodPost {
		fail(c, http.StatusBadRequest, "action "+name+" requires POST")
		return
	}

	if action.limited {
		if err := h.allow(c, name); err != nil {
			respondError(c, err)
			return
		}
	}

	body, err := action.run(h, c, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, body)
}

func (h *Handler) allow(c *gin.Context, action string) error {
	if h.Limiter == nil {
		return nil
	}
	allowed, err := h.Limiter.Allow(c.Request.Context(), "chat:"+action+":"+c.ClientIP())
	if err != nil {
		middleware.GetLogger(c).Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		return &chat.Error{Kind: chat.KindRateLimited, Message: "too many requests, try again later"}
	}
	return nil
}

func (h *Handler) createChat(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	id, err := h.Chat.Create(c.Request.Context(), ac, param(c, "guestName"))
	if err != nil {
		return nil, err
	}
	return gin.H{"chatId": id}, nil
}

// sendMessage ignores senderRole: the role comes from the resolved actor.
func (h *Handler) sendMessage(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}

	var file *attachments.File
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			return nil, invalid("could not read uploaded file")
		}
		defer f.Close()
		file = &attachments.File{Name: fh.Filename, Content: f}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, invalid("file is too large")
		}
		return nil, invalid("malformed upload")
	}

	id, err := h.Chat.SendMessage(c.Request.Context(), ac, chatID, param(c, "message"), file)
	if err != nil {
		return nil, err
	}
	return gin.H{"messageId": id}, nil
}

func (h *Handler) getMessages(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}
	lastID, err := int64Param(c, "lastId", false)
	if err != nil {
		return nil, err
	}

	snap, err := h.Chat.Poll(c.Request.Context(), ac, chatID, lastID)
	if err != nil {
		return nil, err
	}
	return gin.H{"messages": snap.Messages, "status": snap.Status}, nil
}

func (h *Handler) updateTyping(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}
	typing, err := strconv.ParseBool(strings.TrimSpace(param(c, "isTyping")))
	if err != nil {
		return nil, invalid("isTyping must be true or false")
	}
	return nil, h.Chat.SetTyping(c.Request.Context(), ac, chatID, typing)
}

func (h *Handler) closeChat(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}
	return nil, h.Chat.Close(c.Request.Context(), ac, chatID)
}

func (h *Handler) transferChat(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}
	to, err := int64Param(c, "newStaffId", true)
	if err != nil {
		return nil, err
	}
	note, err := h.Chat.Transfer(c.Request.Context(), ac, chatID, to)
	if err != nil {
		return nil, err
	}
	return gin.H{"message": note}, nil
}

func (h *Handler) claimChat(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	chatID, err := int64Param(c, "chatId", true)
	if err != nil {
		return nil, err
	}
	claimed, err := h.Chat.Claim(c.Request.Context(), ac, chatID)
	if err != nil {
		return nil, err
	}
	return gin.H{"status": claimed.Status, "staffId": claimed.StaffID}, nil
}

func (h *Handler) listChats(c *gin.Context, ac *identity.ActorContext) (gin.H, error) {
	list, err := h.Chat.List(c.Request.Context(), ac, param(c, "status"))
	if err != nil {
		return nil, err
	}
	return gin.H{"chats": list}, nil
}

func (h *Handler) faqNode(c *gin.Context, _ *identity.ActorContext) (gin.H, error) {
	if h.FAQ == nil {
		return nil, &chat.Error{Kind: chat.KindNotFound, Message: "faq is not available"}
	}
	node, err := h.FAQ.Node(param(c, "nodeId"))
	if errors.Is(err, faqbot.ErrNodeNotFound) {
		return nil, &chat.Error{Kind: chat.KindNotFound, Message: "faq entry not found"}
	}
	if err != nil {
		return nil, err
	}
	return gin.H{"node": node}, nil
}

func (h *Handler) faqSearch(c *gin.Context, _ *identity.ActorContext) (gin.H, error) {
	if h.FAQ == nil {
		return nil, &chat.Error{Kind: chat.KindNotFound, Message: "faq is not available"}
	}
	q := strings.TrimSpace(param(c, "q"))
	if q == "" {
		return nil, invalid("q is required")
	}
	return gin.H{"results": h.FAQ.Search(q)}, nil
}

// param reads a form field, falling back to the query string.
func param(c *gin.Context, name string) string {
	if v, found := c.GetPostForm(name); found {
		return v
	}
	return c.Query(name)
}

func int64Param(c *gin.Context, name string, required bool) (int64, error) {
	raw := strings.TrimSpace(param(c, name))
	if raw == "" {
		if required {
			return 0, invalid(name + " is required")
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, invalid("invalid " + name)
	}
	return v, nil
}
