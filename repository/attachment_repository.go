package repository

import (
	"context"

	"github.com/akinalp/casedesk/models"
)

// AttachmentRepository stores message attachments.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByMessageIDs(ctx context.Context, messageIDs []string) ([]models.Attachment, error)
}
