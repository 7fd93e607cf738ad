package repository

import (
	"context"

	"github.com/akinalp/casedesk/models"
)

// ChatRepository stores chats and their membership.
type ChatRepository interface {
	// Create inserts the chat and its members.
	Create(ctx context.Context, chat *models.Chat, memberIDs []string) error
	// GetByID returns the chat with members, LastMessageID and the
	// watermark of viewerID.
	GetByID(ctx context.Context, id, viewerID string) (*models.Chat, error)
	// ListByUser returns the chats userID belongs to, most recently active
	// first.
	ListByUser(ctx context.Context, userID string) ([]models.Chat, error)
	GetMembers(ctx context.Context, chatID string) ([]models.User, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	AddMember(ctx context.Context, chatID, userID string) error
}
