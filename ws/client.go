package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection limits.
const (
	// writeWait bounds a single frame write. A peer that cannot take a frame
	// in this time is treated as gone.
	writeWait = 10 * time.Second

	// A client must send a heartbeat within pongWait or it is dropped.
	// Clients heartbeat every 30s, so three missed beats end the connection.
	pongWait = 90 * time.Second

	// maxMessageSize caps inbound frames. Clients only send heartbeats and
	// typing notices over the socket; messages and files go through HTTP.
	maxMessageSize = 4096

	// sendBufferSize is the outbound queue per connection. When it is full
	// the client is too slow to keep up and is disconnected.
	sendBufferSize = 256
)

// Client is one websocket connection of a user.
//
// Each connection runs two goroutines:
//   - ReadPump reads heartbeats and typing notices and hands them to the hub.
//   - WritePump drains send into the socket.
//
// gorilla/websocket allows one concurrent reader and one concurrent writer
// per connection. ReadPump is the only reader and WritePump the only writer.
// Everything else, replies to the client included, is queued on send.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	mu     sync.Mutex // guards conn writes
}

// ReadPump reads frames until the connection fails, then unregisters the
// client. It runs on the handler goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("unexpected_close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var event InboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.hub.log.Debug("invalid_frame", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}
		c.handleEvent(event)
	}
}

func (c *Client) handleEvent(event InboundEvent) {
	switch event.Op {
	case OpHeartbeat:
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		c.sendEvent(Event{Op: OpHeartbeatAck})

	case OpTyping:
		var data TypingData
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ChatID == "" {
			return
		}
		if c.hub.onTyping != nil {
			go c.hub.onTyping(c.userID, c.hub.username(c.userID), data.ChatID)
		}

	default:
		c.hub.log.Debug("unknown_op", zap.String("user_id", c.userID), zap.String("op", event.Op))
	}
}

func (c *Client) sendEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("send_buffer_full", zap.String("user_id", c.userID))
		go c.hub.drop(c)
	}
}

// WritePump drains the send channel into the socket. It exits when the hub
// closes the channel.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.writeMessage(websocket.CloseMessage, nil)
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
