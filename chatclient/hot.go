package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/paginator"
	"github.com/akinalp/casedesk/ws"
)

// HotMessages streams the messages of chat newer than after. Every value
// sent is the full list so far, oldest first, without duplicates. The
// channel is closed when ctx is done or the connection fails.
//
// The websocket is opened before catching up over REST, so messages posted
// during the catch-up are not lost. With a nil after only messages posted
// from now on are streamed.
func (c *Client) HotMessages(ctx context.Context, chat models.Chat, after *models.Message) (<-chan []models.Message, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	h := &hotStream{
		c:      c,
		chatID: chat.ID,
		conn:   conn,
		out:    make(chan []models.Message, 1),
		events: make(chan models.Message, 64),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
		seen:   make(map[string]bool),
		log:    c.log.With(zap.String("chat_id", chat.ID)),
	}
	go h.read()
	go h.run(ctx, after)
	return h.out, nil
}

func (c *Client) wsURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?token=" + url.QueryEscape(c.Token())
}

type hotStream struct {
	c      *Client
	chatID string
	conn   *websocket.Conn
	out    chan []models.Message
	events chan models.Message
	failed chan error
	done   chan struct{}
	log    *zap.Logger

	list []models.Message
	seen map[string]bool
}

// read is the only reader of the connection.
func (h *hotStream) read() {
	for {
		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			h.failed <- err
			return
		}

		var ev ws.InboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.Op != ws.OpMessageCreate {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			h.log.Debug("invalid_message_event", zap.Error(err))
			continue
		}
		if msg.ChatID != h.chatID {
			continue
		}
		select {
		case h.events <- msg:
		case <-h.done:
			return
		}
	}
}

// run is the only writer of the connection and of out.
func (h *hotStream) run(ctx context.Context, after *models.Message) {
	defer close(h.out)
	defer close(h.done)
	defer h.conn.Close()

	if after != nil {
		if err := h.catchUp(ctx, after.ID); err != nil {
			if ctx.Err() == nil {
				h.log.Warn("hot_catch_up_failed", zap.Error(err))
			}
			return
		}
	}

	ticker := h.c.clock.Ticker(h.c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-h.failed:
			if ctx.Err() == nil {
				h.log.Warn("hot_stream_closed", zap.Error(err))
			}
			return
		case msg := <-h.events:
			if h.add([]models.Message{msg}) {
				h.emit()
			}
		case <-ticker.C:
			if err := h.conn.WriteJSON(ws.Event{Op: ws.OpHeartbeat}); err != nil {
				h.log.Warn("heartbeat_failed", zap.Error(err))
				return
			}
		}
	}
}

// catchUp reads tail pages after cursor until the end of history.
func (h *hotStream) catchUp(ctx context.Context, cursor string) error {
	for {
		page, err := h.c.pageFrom(ctx, h.chatID, paginator.Tail, cursor)
		if err != nil {
			return err
		}
		if h.add(page.Items) {
			h.emit()
		}
		if !page.Next || len(page.Items) == 0 {
			return nil
		}
		cursor = page.Items[len(page.Items)-1].ID
	}
}

func (h *hotStream) add(msgs []models.Message) bool {
	added := false
	for _, m := range msgs {
		if h.seen[m.ID] {
			continue
		}
		h.seen[m.ID] = true
		h.list = append(h.list, m)
		added = true
	}
	return added
}

// emit replaces an unread value in out with the current list.
func (h *hotStream) emit() {
	list := slices.Clone(h.list)
	select {
	case <-h.out:
	default:
	}
	h.out <- list
}
