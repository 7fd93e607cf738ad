package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Chat is a conversation between practice members and their clients,
// typically tied to a matter.
//
// LastReadMessageID is per viewer: the API fills it with the watermark of the
// user making the request.
type Chat struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	MatterRef         *string   `json:"matter_ref"`
	CreatedBy         string    `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	Members           []User    `json:"members"`
	LastReadMessageID *string   `json:"last_read_message_id"`
	LastMessageID     *string   `json:"last_message_id"`
}

// HasUnread reports whether the chat has messages past the viewer's watermark.
func (c *Chat) HasUnread() bool {
	if c.LastMessageID == nil {
		return false
	}
	return c.LastReadMessageID == nil || *c.LastReadMessageID != *c.LastMessageID
}

// CreateChatRequest opens a chat with the given members. The creator is
// always added.
type CreateChatRequest struct {
	Title     string   `json:"title"`
	MatterRef string   `json:"matter_ref"`
	MemberIDs []string `json:"member_ids"`
}

// Validate trims the title and drops blank or duplicate member IDs.
func (r *CreateChatRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	n := utf8.RuneCountInString(r.Title)
	if n < 1 || n > 100 {
		return fmt.Errorf("title must be between 1 and 100 characters")
	}
	r.MatterRef = strings.TrimSpace(r.MatterRef)

	seen := make(map[string]bool, len(r.MemberIDs))
	ids := r.MemberIDs[:0]
	for _, id := range r.MemberIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	r.MemberIDs = ids
	return nil
}
