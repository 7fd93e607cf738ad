package repository

import (
	"context"

	"github.com/akinalp/casedesk/models"
)

// ReadStateRepository stores per member read watermarks.
type ReadStateRepository interface {
	// Get returns the read state, or pkg.ErrNotFound when the user never
	// read anything in the chat.
	Get(ctx context.Context, userID, chatID string) (*models.ReadState, error)
	// Advance moves the watermark to messageID unless the stored watermark
	// is already at or past it. It reports whether the row changed.
	Advance(ctx context.Context, userID, chatID, messageID string) (bool, error)
	GetUnreadCounts(ctx context.Context, userID string) ([]models.UnreadInfo, error)
}
