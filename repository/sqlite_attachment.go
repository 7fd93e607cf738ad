package repository

import (
	"context"
	"fmt"

	"github.com/akinalp/casedesk/database"
	"github.com/akinalp/casedesk/models"
)

type sqliteAttachmentRepo struct {
	db database.TxQuerier
}

// NewSQLiteAttachmentRepo returns an AttachmentRepository over db.
func NewSQLiteAttachmentRepo(db database.TxQuerier) AttachmentRepository {
	return &sqliteAttachmentRepo{db: db}
}

func (r *sqliteAttachmentRepo) Create(ctx context.Context, attachment *models.Attachment) error {
	query := `
		INSERT INTO attachments (id, message_id, filename, file_url, file_size, mime_type)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		attachment.ID,
		attachment.MessageID,
		attachment.Filename,
		attachment.FileURL,
		attachment.FileSize,
		attachment.MimeType,
	).Scan(&attachment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	return nil
}

func (r *sqliteAttachmentRepo) GetByMessageIDs(ctx context.Context, messageIDs []string) ([]models.Attachment, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, message_id, filename, file_url, file_size, mime_type, created_at
		FROM attachments WHERE message_id IN (%s)
		ORDER BY created_at ASC, filename ASC`, placeholders(len(messageIDs)))

	rows, err := r.db.QueryContext(ctx, query, stringArgs(messageIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(
			&a.ID, &a.MessageID, &a.Filename, &a.FileURL, &a.FileSize, &a.MimeType, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment row: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachment rows: %w", err)
	}
	return attachments, nil
}
