package repository

import (
	"context"

	"github.com/akinalp/casedesk/models"
)

// MessageRepository stores messages. Cursor queries work on the seq column:
// the cursor message is resolved to its seq with SeqOf and never included in
// the result. Methods named "newest first" return rows in descending seq
// order; callers reverse them.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	// SeqOf resolves a message ID within a chat. It returns pkg.ErrNotFound
	// when the message is unknown or belongs to another chat.
	SeqOf(ctx context.Context, chatID, messageID string) (int64, error)
	// Latest returns up to limit of the newest messages, newest first.
	Latest(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	// Oldest returns up to limit of the oldest messages, oldest first.
	Oldest(ctx context.Context, chatID string, limit int) ([]models.Message, error)
	// Before returns up to limit messages older than seq, newest first.
	Before(ctx context.Context, chatID string, seq int64, limit int) ([]models.Message, error)
	// After returns up to limit messages newer than seq, oldest first.
	After(ctx context.Context, chatID string, seq int64, limit int) ([]models.Message, error)
}
