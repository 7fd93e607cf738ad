package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/casedesk/config"
	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/services"
	"github.com/akinalp/casedesk/ws"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "casedesk.db")},
		JWT:      config.JWTConfig{Secret: "e2e-secret", AccessTokenExpiry: 15, RefreshTokenExpiry: 7},
		Upload:   config.UploadConfig{Dir: filepath.Join(dir, "uploads"), MaxSize: 1 << 20},
		Chat: config.ChatConfig{
			PageSize:      4,
			MaxPageSize:   20,
			SendEvery:     time.Millisecond,
			SendBurst:     100,
			MembershipTTL: time.Minute,
		},
	}

	a, err := newApp(cfg)
	require.NoError(t, err)
	a.start()
	srv := httptest.NewServer(a.handler)
	t.Cleanup(func() {
		srv.Close()
		a.close()
	})
	return &testServer{t: t, srv: srv}
}

func (s *testServer) do(method, path, token, contentType string, body []byte) (int, envelope) {
	s.t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(body))
	require.NoError(s.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) json(method, path, token string, in, out any) int {
	s.t.Helper()
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		require.NoError(s.t, err)
	}
	status, env := s.do(method, path, token, "application/json", body)
	if out != nil && env.Success {
		require.NoError(s.t, json.Unmarshal(env.Data, out))
	}
	return status
}

func (s *testServer) register(name string, role models.UserRole) services.AuthTokens {
	s.t.Helper()
	var tokens services.AuthTokens
	status := s.json(http.MethodPost, "/api/auth/register", "", models.CreateUserRequest{
		Username: name, Password: "password123", Role: role,
	}, &tokens)
	require.Equal(s.t, http.StatusCreated, status)
	return tokens
}

func texts(page models.MessagePage) []string {
	out := make([]string, len(page.Messages))
	for i, m := range page.Messages {
		out[i] = m.Text()
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var health struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, "/api/health", "", nil, &health))
	assert.Equal(t, "ok", health.Status)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(http.MethodGet, "/api/chats", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)

	status, _ = s.do(http.MethodGet, "/api/chats", "not-a-jwt", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginLimitIgnoresForwardedForFromClients(t *testing.T) {
	s := newTestServer(t)
	s.register("alice", models.RoleAttorney)

	body, err := json.Marshal(models.LoginRequest{Username: "alice", Password: "wrong-password"})
	require.NoError(t, err)

	login := func(i int) int {
		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/auth/login", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	for i := range loginBurst {
		require.Equal(t, http.StatusUnauthorized, login(i))
	}
	assert.Equal(t, http.StatusTooManyRequests, login(loginBurst))
}

func TestChatPagingFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice", models.RoleAttorney)
	bob := s.register("bob", models.RoleClient)
	mallory := s.register("mallory", models.RoleMarketing)

	var chat models.Chat
	require.Equal(t, http.StatusCreated, s.json(http.MethodPost, "/api/chats", alice.AccessToken,
		models.CreateChatRequest{Title: "Smith v. Jones", MatterRef: "2026-014", MemberIDs: []string{bob.User.ID}}, &chat))
	assert.Len(t, chat.Members, 2)

	var ids []string
	for i := 1; i <= 10; i++ {
		var msg models.Message
		require.Equal(t, http.StatusCreated, s.json(http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.AccessToken,
			models.CreateMessageRequest{Content: fmt.Sprintf("m%d", i)}, &msg))
		ids = append(ids, msg.ID)
	}

	base := "/api/chats/" + chat.ID + "/messages"

	var page models.MessagePage
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, base, bob.AccessToken, nil, &page))
	assert.Equal(t, []string{"m7", "m8", "m9", "m10"}, texts(page))
	assert.Equal(t, models.PageInitial, page.Position)
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)

	page = models.MessagePage{}
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, base+"?direction=head&cursor="+ids[6], bob.AccessToken, nil, &page))
	assert.Equal(t, []string{"m3", "m4", "m5", "m6"}, texts(page))
	assert.True(t, page.HasNext)

	page = models.MessagePage{}
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, base+"?direction=tail&cursor="+ids[7]+"&limit=5", bob.AccessToken, nil, &page))
	assert.Equal(t, []string{"m9", "m10"}, texts(page))
	assert.False(t, page.HasNext)
	assert.True(t, page.HasPrev)

	status, _ := s.do(http.MethodGet, base+"?cursor="+ids[0], bob.AccessToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(http.MethodGet, base, mallory.AccessToken, "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = s.do(http.MethodGet, "/api/chats/"+chat.ID, mallory.AccessToken, "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	// bob reads up to m5, then opens the chat around it
	var rs models.ReadState
	require.Equal(t, http.StatusOK, s.json(http.MethodPost, "/api/chats/"+chat.ID+"/read", bob.AccessToken,
		models.MarkReadRequest{MessageID: ids[4]}, &rs))
	assert.Equal(t, ids[4], *rs.LastReadMessageID)

	page = models.MessagePage{}
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, base+"/last-read?limit=4", bob.AccessToken, nil, &page))
	assert.Equal(t, []string{"m4", "m5", "m6", "m7"}, texts(page))
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)

	var unread []models.UnreadInfo
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, "/api/chats/unread", bob.AccessToken, nil, &unread))
	require.Len(t, unread, 1)
	assert.Equal(t, 5, unread[0].UnreadCount)

	var got models.Chat
	require.Equal(t, http.StatusOK, s.json(http.MethodGet, "/api/chats/"+chat.ID, bob.AccessToken, nil, &got))
	assert.True(t, got.HasUnread())
	assert.Equal(t, ids[9], *got.LastMessageID)
}

func TestMultipartMessageWithAttachment(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice", models.RoleAttorney)
	bob := s.register("bob", models.RoleClient)

	var chat models.Chat
	require.Equal(t, http.StatusCreated, s.json(http.MethodPost, "/api/chats", alice.AccessToken,
		models.CreateChatRequest{Title: "Lease", MemberIDs: []string{bob.User.ID}}, &chat))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", "signed copy"))
	part := textproto.MIMEHeader{}
	part.Set("Content-Disposition", `form-data; name="files"; filename="lease.txt"`)
	part.Set("Content-Type", "text/plain")
	fw, err := mw.CreatePart(part)
	require.NoError(t, err)
	_, err = fw.Write([]byte("the lease"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	status, env := s.do(http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.AccessToken, mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusCreated, status, env.Error)

	var msg models.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "lease.txt", msg.Attachments[0].Filename)

	resp, err := http.Get(s.srv.URL + msg.Attachments[0].FileURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketReceivesNewMessages(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice", models.RoleAttorney)
	bob := s.register("bob", models.RoleClient)

	var chat models.Chat
	require.Equal(t, http.StatusCreated, s.json(http.MethodPost, "/api/chats", alice.AccessToken,
		models.CreateChatRequest{Title: "Probate", MemberIDs: []string{bob.User.ID}}, &chat))

	wsURL := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + bob.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.InboundEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev ws.InboundEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	assert.Equal(t, ws.OpReady, read().Op)

	require.Equal(t, http.StatusCreated, s.json(http.MethodPost, "/api/chats/"+chat.ID+"/messages", alice.AccessToken,
		models.CreateMessageRequest{Content: "hello bob"}, nil))

	ev := read()
	require.Equal(t, ws.OpMessageCreate, ev.Op)
	var msg models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "hello bob", msg.Text())
	assert.Equal(t, chat.ID, msg.ChatID)
	assert.Positive(t, ev.Seq)
}
