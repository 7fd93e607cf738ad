package models

import "time"

// ReadState is a user's watermark in a chat: everything up to and including
// LastReadMessageID has been read. Unread counts are derived from it instead
// of flagging every message.
type ReadState struct {
	UserID            string    `json:"user_id"`
	ChatID            string    `json:"chat_id"`
	LastReadMessageID *string   `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}

// UnreadInfo carries the unread count of one chat.
type UnreadInfo struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}
