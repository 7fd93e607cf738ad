// Package chatclient talks to the casedesk API: REST for chats and message
// pages, the websocket for messages as they arrive.
//
// A Client is safe for concurrent use. Login or Register stores the access
// token used by every later call.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/paginator"
	"github.com/akinalp/casedesk/pkg"
)

// DefaultHeartbeat matches the server's expectation of one heartbeat every
// 30 seconds.
const DefaultHeartbeat = 30 * time.Second

// Client is an API client for one user.
type Client struct {
	baseURL   string
	http      *http.Client
	dialer    *websocket.Dialer
	clock     clock.Clock
	log       *zap.Logger
	pageSize  int
	heartbeat time.Duration

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock replaces the wall clock driving heartbeats.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithPageSize sets the limit sent with page requests. Zero lets the server
// decide.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHeartbeat sets the websocket heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// WithToken starts the client with an access token obtained elsewhere.
func WithToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// New creates a Client for the API at baseURL, e.g. "https://chat.example.com".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      http.DefaultClient,
		dialer:    websocket.DefaultDialer,
		clock:     clock.New(),
		log:       zap.NewNop(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current access token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type authTokens struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// Register creates an account and logs in as it.
func (c *Client) Register(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	var tokens authTokens
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", req, &tokens); err != nil {
		return nil, err
	}
	c.storeTokens(tokens)
	return &tokens.User, nil
}

// Login authenticates and stores the tokens.
func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	var tokens authTokens
	req := models.LoginRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", req, &tokens); err != nil {
		return nil, err
	}
	c.storeTokens(tokens)
	return &tokens.User, nil
}

// Refresh trades the stored refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	body := map[string]string{"refresh_token": c.refreshToken}
	c.mu.RUnlock()

	var tokens authTokens
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", body, &tokens); err != nil {
		return err
	}
	c.storeTokens(tokens)
	return nil
}

func (c *Client) storeTokens(t authTokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = t.AccessToken
	c.refreshToken = t.RefreshToken
}

// ListChats returns the caller's chats, most recently active first.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat returns one chat with the caller's read watermark.
func (c *Client) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat opens a chat with the caller and req.MemberIDs.
func (c *Client) CreateChat(ctx context.Context, req models.CreateChatRequest) (*models.Chat, error) {
	var chat models.Chat
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats", req, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// MessagesPageWithLastRead returns the page a chat opens on, around the
// caller's last read message.
func (c *Client) MessagesPageWithLastRead(ctx context.Context, chat models.Chat) (paginator.Page[models.Message], error) {
	q := url.Values{}
	c.setLimit(q)
	return c.page(ctx, chat.ID, "/messages/last-read", q)
}

// LastPageMessages returns the newest page of a chat.
func (c *Client) LastPageMessages(ctx context.Context, chat models.Chat) (paginator.Page[models.Message], error) {
	q := url.Values{}
	c.setLimit(q)
	return c.page(ctx, chat.ID, "/messages", q)
}

// MessagesPage returns the page next to edge in dir: older than its first
// message for Head, newer than its last for Tail. Without an edge the last
// page is returned.
func (c *Client) MessagesPage(ctx context.Context, chat models.Chat, edge *paginator.Page[models.Message], dir paginator.Direction) (paginator.Page[models.Message], error) {
	if !dir.Valid() {
		return paginator.Page[models.Message]{}, paginator.ErrInvalidDirection
	}
	if edge == nil || len(edge.Items) == 0 {
		return c.LastPageMessages(ctx, chat)
	}

	cursor := edge.Items[len(edge.Items)-1].ID
	if dir == paginator.Head {
		cursor = edge.Items[0].ID
	}
	return c.pageFrom(ctx, chat.ID, dir, cursor)
}

func (c *Client) pageFrom(ctx context.Context, chatID string, dir paginator.Direction, cursor string) (paginator.Page[models.Message], error) {
	q := url.Values{}
	q.Set("direction", string(dir))
	q.Set("cursor", cursor)
	c.setLimit(q)
	return c.page(ctx, chatID, "/messages", q)
}

func (c *Client) setLimit(q url.Values) {
	if c.pageSize > 0 {
		q.Set("limit", strconv.Itoa(c.pageSize))
	}
}

func (c *Client) page(ctx context.Context, chatID, suffix string, q url.Values) (paginator.Page[models.Message], error) {
	path := "/api/chats/" + url.PathEscape(chatID) + suffix
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var dto models.MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return paginator.Page[models.Message]{}, err
	}
	return toPage(dto), nil
}

func toPage(dto models.MessagePage) paginator.Page[models.Message] {
	return paginator.Page[models.Message]{
		Items:    dto.Messages,
		Position: paginator.Position(dto.Position),
		Next:     dto.HasNext,
		Prev:     dto.HasPrev,
	}
}

// SetLastReadMessage moves the caller's watermark in chat to msg. The
// server ignores watermarks older than the stored one.
func (c *Client) SetLastReadMessage(ctx context.Context, chat models.Chat, msg models.Message) error {
	path := "/api/chats/" + url.PathEscape(chat.ID) + "/read"
	return c.doJSON(ctx, http.MethodPost, path, models.MarkReadRequest{MessageID: msg.ID}, nil)
}

// SendTextMessage posts a message. Text-only messages go as JSON, messages
// with files as multipart/form-data.
func (c *Client) SendTextMessage(ctx context.Context, chat models.Chat, text string, files []models.FileUpload) (*models.Message, error) {
	path := "/api/chats/" + url.PathEscape(chat.ID) + "/messages"
	var msg models.Message

	if len(files) == 0 {
		if err := c.doJSON(ctx, http.MethodPost, path, models.CreateMessageRequest{Content: text}, &msg); err != nil {
			return nil, err
		}
		return &msg, nil
	}

	body, contentType, err := multipartBody(text, files)
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodPost, path, body, contentType, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func multipartBody(text string, files []models.FileUpload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("content", text); err != nil {
		return nil, "", err
	}
	for _, f := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Filename))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

// do sends one request and decodes the envelope. Non-2xx responses become
// the pkg error for their status, so callers can use errors.Is.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%w: %s %s: status %d", pkg.ErrorForStatus(resp.StatusCode), method, path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		c.log.Debug("api_error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", env.Error),
		)
		return fmt.Errorf("%w: %s", pkg.ErrorForStatus(resp.StatusCode), env.Error)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode data: %w", method, path, err)
	}
	return nil
}
