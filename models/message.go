package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxMessageLength is the longest text a message may carry, in runes.
const MaxMessageLength = 4000

// Message is one chat message. Author and Attachments are joined in when
// messages are listed so a client needs a single request per page.
type Message struct {
	Seq         int64        `json:"-"` // storage order within the chat
	ID          string       `json:"id"`
	ChatID      string       `json:"chat_id"`
	UserID      string       `json:"user_id"`
	Content     *string      `json:"content"` // nil for attachment-only messages
	CreatedAt   time.Time    `json:"created_at"`
	Author      *User        `json:"author,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// Text returns the content or an empty string.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Attachment is a file uploaded with a message.
type Attachment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Filename  string    `json:"filename"`
	FileURL   string    `json:"file_url"`
	FileSize  *int64    `json:"file_size"`
	MimeType  *string   `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
}

// PagePosition says where a page belongs relative to what a client holds.
type PagePosition string

const (
	PageHead    PagePosition = "head"
	PageTail    PagePosition = "tail"
	PageInitial PagePosition = "initial"
)

// PageDirection is the edge a page request extends.
type PageDirection string

const (
	DirectionHead PageDirection = "head"
	DirectionTail PageDirection = "tail"
)

// MessagePage is a cursor page of messages, oldest first.
//
// HasNext means newer messages exist after the last one in the page, HasPrev
// means older messages exist before the first one.
type MessagePage struct {
	Messages []Message    `json:"messages"`
	Position PagePosition `json:"position"`
	HasNext  bool         `json:"has_next"`
	HasPrev  bool         `json:"has_prev"`
}

// First returns the oldest message of the page.
func (p *MessagePage) First() *Message {
	if len(p.Messages) == 0 {
		return nil
	}
	return &p.Messages[0]
}

// Last returns the newest message of the page.
func (p *MessagePage) Last() *Message {
	if len(p.Messages) == 0 {
		return nil
	}
	return &p.Messages[len(p.Messages)-1]
}

// CreateMessageRequest is the body of a new message. Content may be empty
// when files are attached; that is checked by the service.
type CreateMessageRequest struct {
	Content string `json:"content"`
}

// Validate trims the content and enforces the length limit.
func (r *CreateMessageRequest) Validate() error {
	r.Content = strings.TrimSpace(r.Content)
	if utf8.RuneCountInString(r.Content) > MaxMessageLength {
		return fmt.Errorf("message content must be at most %d characters", MaxMessageLength)
	}
	return nil
}

// MarkReadRequest moves the caller's watermark in a chat.
type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}
