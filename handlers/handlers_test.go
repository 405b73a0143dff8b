package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/egor/permitchat/attachments"
	"github.com/egor/permitchat/chat"
	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/faqbot"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/limiter"
	"github.com/egor/permitchat/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testCookies = config.CookieConfig{Path: "/", AuthName: "permit_token", SessionID: "permit_sid"}

type testEnv struct {
	router     *gin.Engine
	repo       *memRepo
	notes      *memNotifications
	tokens     *identity.TokenManager
	uploadsDir string
}

func newEnv(t *testing.T, lim limiter.Limiter) *testEnv {
	t.Helper()
	repo := newMemRepo()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	for _, u := range repo.users {
		u.PasswordHash = string(hash)
	}

	dir := t.TempDir()
	storage, err := attachments.NewLocalStorage(dir, "/uploads/chat")
	require.NoError(t, err)

	notes := &memNotifications{}
	svc := chat.NewService(repo, attachments.NewUploader(storage, 0), notes, chat.Options{}, zap.NewNop())
	faq, err := faqbot.Load("")
	require.NoError(t, err)

	tokens := identity.NewTokenManager(config.JWTConfig{
		Secret:     "handlers-test-secret-handlers-test",
		Expiration: time.Hour,
		Issuer:     "permitchat",
	})
	resolver := identity.NewResolver(tokens, identity.NewMemorySessionStore(), time.Hour, zap.NewNop())

	h := New(Deps{
		Chat:          svc,
		FAQ:           faq,
		Users:         repo,
		Notifications: notes,
		Tokens:        tokens,
		Cookies:       testCookies,
		Limiter:       lim,
	})
	router := NewRouter(h, RouterConfig{
		Resolver:     resolver,
		SessionTTL:   time.Hour,
		UploadsDir:   dir,
		UploadsRoute: "/uploads/chat",
	})
	return &testEnv{router: router, repo: repo, notes: notes, tokens: tokens, uploadsDir: dir}
}

func (e *testEnv) token(t *testing.T, userID int64) string {
	t.Helper()
	u, err := e.repo.GetUser(context.Background(), userID)
	require.NoError(t, err)
	tok, _, err := e.tokens.Generate(u)
	require.NoError(t, err)
	return tok
}

type caller struct {
	bearer  string
	cookies []*http.Cookie
}

func (e *testEnv) do(t *testing.T, who caller, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	if who.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+who.bearer)
	}
	for _, c := range who.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func (e *testEnv) post(t *testing.T, who caller, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, who, req)
}

func (e *testEnv) get(t *testing.T, who caller, query url.Values) (*httptest.ResponseRecorder, map[string]any) {
	return e.do(t, who, httptest.NewRequest(http.MethodGet, "/api/chat?"+query.Encode(), nil))
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookies.SessionID {
			return c
		}
	}
	return nil
}

func statusOf(body map[string]any) string {
	st, _ := body["status"].(map[string]any)
	s, _ := st["status"].(string)
	return s
}

func TestGuestChatOverHTTP(t *testing.T) {
	env := newEnv(t, nil)
	staff := caller{bearer: env.token(t, 5)}

	w, body := env.post(t, caller{}, url.Values{"action": {"create"}, "guestName": {"Maria"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["chatId"])
	cookie := sessionCookie(w)
	require.NotNil(t, cookie, "guest session cookie")
	assert.True(t, cookie.HttpOnly)
	guest := caller{cookies: []*http.Cookie{cookie}}

	_, body = env.get(t, guest, url.Values{"action": {"get_messages"}, "chatId": {"1"}, "lastId": {"0"}})
	assert.Equal(t, "Pending", statusOf(body))
	assert.Empty(t, body["messages"])

	_, body = env.get(t, staff, url.Values{"action": {"get_messages"}, "chatId": {"1"}, "lastId": {"0"}})
	assert.Equal(t, "Active", statusOf(body))

	w, body = env.post(t, guest, url.Values{
		"action": {"send_message"}, "chatId": {"1"}, "message": {"I need help with <b>my</b> permit"}, "senderRole": {"staff"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["messageId"])

	w, _ = env.post(t, staff, url.Values{"action": {"close"}, "chatId": {"1"}})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = env.post(t, guest, url.Values{"action": {"send_message"}, "chatId": {"1"}, "message": {"hello?"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "chat is closed", body["error"])

	_, body = env.get(t, guest, url.Values{"action": {"get_messages"}, "chatId": {"1"}, "lastId": {"0"}})
	assert.Equal(t, "Closed", statusOf(body))
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 1)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "guest", first["sender_role"])
	assert.Equal(t, "I need help with &lt;b&gt;my&lt;/b&gt; permit", first["message"])
}

func TestDispatchErrors(t *testing.T) {
	env := newEnv(t, nil)
	staff := caller{bearer: env.token(t, 5)}
	applicant := caller{bearer: env.token(t, 1)}

	w, _ := env.post(t, applicant, url.Values{"action": {"create"}})
	require.Equal(t, http.StatusOK, w.Code)
	env.repo.broken[7] = true

	tests := []struct {
		name    string
		who     caller
		method  string
		params  url.Values
		status  int
		message string
	}{
		{"unknown action", staff, http.MethodGet, url.Values{"action": {"nope"}}, http.StatusBadRequest, "unknown action"},
		{"missing action", staff, http.MethodGet, url.Values{}, http.StatusBadRequest, "unknown action"},
		{"write over GET", applicant, http.MethodGet, url.Values{"action": {"create"}}, http.StatusBadRequest, "action create requires POST"},
		{"anonymous poll", caller{}, http.MethodGet, url.Values{"action": {"get_messages"}, "chatId": {"1"}}, http.StatusUnauthorized, "authentication required"},
		{"applicant closes", applicant, http.MethodPost, url.Values{"action": {"close"}, "chatId": {"1"}}, http.StatusForbidden, "only staff can do this"},
		{"missing chat", staff, http.MethodGet, url.Values{"action": {"get_messages"}, "chatId": {"42"}}, http.StatusNotFound, "chat not found"},
		{"bad chat id", staff, http.MethodGet, url.Values{"action": {"get_messages"}, "chatId": {"abc"}}, http.StatusBadRequest, "invalid chatId"},
		{"chat id required", staff, http.MethodPost, url.Values{"action": {"close"}}, http.StatusBadRequest, "chatId is required"},
		{"bad typing flag", applicant, http.MethodPost, url.Values{"action": {"update_typing"}, "chatId": {"1"}, "isTyping": {"maybe"}}, http.StatusBadRequest, "isTyping must be true or false"},
		{"transfer target required", staff, http.MethodPost, url.Values{"action": {"transfer"}, "chatId": {"1"}}, http.StatusBadRequest, "newStaffId is required"},
		{"storage outage", staff, http.MethodGet, url.Values{"action": {"get_messages"}, "chatId": {"7"}}, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				w    *httptest.ResponseRecorder
				body map[string]any
			)
			if tt.method == http.MethodPost {
				w, body = env.post(t, tt.who, tt.params)
			} else {
				w, body = env.get(t, tt.who, tt.params)
			}
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.message, body["error"])
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestStaffActions(t *testing.T) {
	env := newEnv(t, nil)
	olga := caller{bearer: env.token(t, 5)}
	applicant := caller{bearer: env.token(t, 1)}

	_, body := env.post(t, applicant, url.Values{"action": {"create"}})
	require.Equal(t, float64(1), body["chatId"])

	_, body = env.get(t, olga, url.Values{"action": {"list_chats"}, "status": {"Pending"}})
	chats, _ := body["chats"].([]any)
	assert.Len(t, chats, 1)

	w, body := env.post(t, olga, url.Values{"action": {"claim"}, "chatId": {"1"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Active", body["status"])
	assert.Equal(t, float64(5), body["staffId"])

	w, _ = env.post(t, olga, url.Values{"action": {"update_typing"}, "chatId": {"1"}, "isTyping": {"1"}})
	require.Equal(t, http.StatusOK, w.Code)
	_, body = env.get(t, applicant, url.Values{"action": {"get_messages"}, "chatId": {"1"}})
	st := body["status"].(map[string]any)
	assert.Equal(t, true, st["staffIsTyping"])

	w, body = env.post(t, olga, url.Values{"action": {"transfer"}, "chatId": {"1"}, "newStaffId": {"6"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Chat transferred from Olga Petrova to Anna Smirnova", body["message"])

	w, body = env.do(t, olga, httptest.NewRequest(http.MethodGet, "/api/staff/queue", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["chats"], 1)

	w, _ = env.do(t, applicant, httptest.NewRequest(http.MethodGet, "/api/staff/queue", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func pngBytes() []byte {
	b := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	return append(b, bytes.Repeat([]byte{0}, 64)...)
}

func multipartRequest(t *testing.T, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.Copy(fw, bytes.NewReader(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestSendMessageWithAttachment(t *testing.T) {
	env := newEnv(t, nil)
	applicant := caller{bearer: env.token(t, 1)}
	_, body := env.post(t, applicant, url.Values{"action": {"create"}})
	require.Equal(t, float64(1), body["chatId"])

	req := multipartRequest(t, map[string]string{"action": "send_message", "chatId": "1", "message": "site plan"}, "plan.png", pngBytes())
	w, body := env.do(t, applicant, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])

	entries, err := os.ReadDir(env.uploadsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "chat_1_"))
	assert.True(t, strings.HasSuffix(name, ".png"))

	_, body = env.get(t, applicant, url.Values{"action": {"get_messages"}, "chatId": {"1"}})
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	text := msgs[0].(map[string]any)["message"].(string)
	assert.True(t, strings.HasPrefix(text, "site plan<br><a href=\"/uploads/chat/"+name+"\""), text)

	w, _ = env.do(t, caller{}, httptest.NewRequest(http.MethodGet, "/uploads/chat/"+name, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req = multipartRequest(t, map[string]string{"action": "send_message", "chatId": "1"}, "notes.txt", []byte("just text"))
	w, body = env.do(t, applicant, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "file type is not allowed")
}

func TestCreateRateLimited(t *testing.T) {
	env := newEnv(t, limiter.NewMemoryLimiter(1, time.Minute))

	w, _ := env.post(t, caller{}, url.Values{"action": {"create"}, "guestName": {"Maria"}})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := env.post(t, caller{}, url.Values{"action": {"create"}, "guestName": {"Maria"}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, false, body["success"])

	// polling is not limited
	w, _ = env.get(t, caller{}, url.Values{"action": {"faq"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFAQActions(t *testing.T) {
	env := newEnv(t, nil)

	w, body := env.get(t, caller{}, url.Values{"action": {"faq"}})
	require.Equal(t, http.StatusOK, w.Code)
	node := body["node"].(map[string]any)
	assert.Equal(t, "root", node["id"])

	w, body = env.get(t, caller{}, url.Values{"action": {"faq"}, "nodeId": {"missing"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "faq entry not found", body["error"])

	w, body = env.get(t, caller{}, url.Values{"action": {"faq_search"}, "q": {"refund"}})
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]any)
	require.NotEmpty(t, results)
	assert.Equal(t, "fees-refund", results[0].(map[string]any)["id"])

	w, _ = env.get(t, caller{}, url.Values{"action": {"faq_search"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func loginRequest(email, password string) *http.Request {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginLogout(t *testing.T) {
	env := newEnv(t, nil)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
	}{
		{"ok", "Olga@permits.example.org", "correct horse", http.StatusOK},
		{"wrong password", "olga@permits.example.org", "battery staple", http.StatusUnauthorized},
		{"unknown account", "nobody@example.org", "correct horse", http.StatusUnauthorized},
		{"missing password", "olga@permits.example.org", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(t, caller{}, loginRequest(tt.email, tt.password))
			assert.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				assert.Equal(t, false, body["success"])
				return
			}
			assert.NotEmpty(t, body["token"])
			user := body["user"].(map[string]any)
			assert.Equal(t, "staff", user["role"])
			assert.NotContains(t, w.Body.String(), "PasswordHash")

			var auth *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == testCookies.AuthName {
					auth = c
				}
			}
			require.NotNil(t, auth)

			// the cookie alone authenticates
			w, body = env.get(t, caller{cookies: []*http.Cookie{auth}}, url.Values{"action": {"list_chats"}})
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, true, body["success"])
		})
	}

	w, body := env.do(t, caller{}, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookies.AuthName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestNotifications(t *testing.T) {
	env := newEnv(t, nil)
	applicant := caller{bearer: env.token(t, 1)}
	staff := caller{bearer: env.token(t, 5)}

	w, _ := env.do(t, caller{}, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, body := env.post(t, applicant, url.Values{"action": {"create"}})
	require.Equal(t, true, body["success"])
	_, _ = env.post(t, staff, url.Values{"action": {"close"}, "chatId": {"1"}})

	w, body = env.do(t, applicant, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := body["notifications"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, models.KindChatClosed, list[0].(map[string]any)["kind"])

	w, body = env.do(t, staff, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["notifications"], 1)

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/read", strings.NewReader(`{"ids":[1,2]}`))
	req.Header.Set("Content-Type", "application/json")
	w, body = env.do(t, applicant, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["updated"])

	req = httptest.NewRequest(http.MethodPost, "/api/notifications/read", strings.NewReader(`{"ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w, _ = env.do(t, applicant, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndNoRoute(t *testing.T) {
	env := newEnv(t, nil)

	w, body := env.do(t, caller{}, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = env.do(t, caller{}, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
}
