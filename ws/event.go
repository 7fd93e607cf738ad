// Package ws is the realtime side of the API: a hub of authenticated
// websocket connections that services publish events to.
//
// Every frame is a JSON Event. Server events carry a monotonically
// increasing seq so clients can spot gaps.
package ws

import "encoding/json"

// Event is one websocket frame.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// InboundEvent is an Event as decoded from a peer; Data is kept raw until the
// op is known.
type InboundEvent struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
}

// Client to server.
const (
	OpHeartbeat = "heartbeat"
	OpTyping    = "typing"
)

// Server to client.
const (
	OpReady           = "ready"
	OpHeartbeatAck    = "heartbeat_ack"
	OpMessageCreate   = "message_create"
	OpChatCreate      = "chat_create"
	OpReadStateUpdate = "read_state_update"
	OpTypingStart     = "typing_start"
)

// ReadyData is sent when a user comes online with the unread counts.
type ReadyData struct {
	UserID  string `json:"user_id"`
	Unreads any    `json:"unreads"`
}

// TypingData is the payload of a typing op.
type TypingData struct {
	ChatID string `json:"chat_id"`
}

// TypingStartData tells chat members that someone is typing.
type TypingStartData struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	ChatID   string `json:"chat_id"`
}
