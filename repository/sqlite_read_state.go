package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/casedesk/database"
	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
)

type sqliteReadStateRepo struct {
	db database.TxQuerier
}

// NewSQLiteReadStateRepo returns a ReadStateRepository over db.
func NewSQLiteReadStateRepo(db database.TxQuerier) ReadStateRepository {
	return &sqliteReadStateRepo{db: db}
}

func (r *sqliteReadStateRepo) Get(ctx context.Context, userID, chatID string) (*models.ReadState, error) {
	rs := &models.ReadState{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, last_read_message_id, last_read_at
		FROM chat_reads WHERE user_id = ? AND chat_id = ?`, userID, chatID,
	).Scan(&rs.UserID, &rs.ChatID, &rs.LastReadMessageID, &rs.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no read state", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get read state: %w", err)
	}
	return rs, nil
}

// Advance relies on seq ordering: the upsert only fires when the new message
// is newer than the stored watermark (or there is none).
func (r *sqliteReadStateRepo) Advance(ctx context.Context, userID, chatID, messageID string) (bool, error) {
	query := `
		INSERT INTO chat_reads (user_id, chat_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, chat_id)
		DO UPDATE SET last_read_message_id = excluded.last_read_message_id,
		              last_read_at = excluded.last_read_at
		WHERE chat_reads.last_read_message_id IS NULL
		   OR (SELECT seq FROM messages WHERE id = chat_reads.last_read_message_id)
		    < (SELECT seq FROM messages WHERE id = excluded.last_read_message_id)`

	res, err := r.db.ExecContext(ctx, query, userID, chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to advance read state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqliteReadStateRepo) GetUnreadCounts(ctx context.Context, userID string) ([]models.UnreadInfo, error) {
	query := `
		SELECT chat_id, unread_count FROM (
			SELECT cm.chat_id,
			       (SELECT COUNT(*) FROM messages m
			        WHERE m.chat_id = cm.chat_id
			          AND m.user_id != ?
			          AND (cr.last_read_message_id IS NULL
			               OR m.seq > (SELECT seq FROM messages WHERE id = cr.last_read_message_id))
			       ) AS unread_count
			FROM chat_members cm
			LEFT JOIN chat_reads cr ON cr.chat_id = cm.chat_id AND cr.user_id = cm.user_id
			WHERE cm.user_id = ?
		) WHERE unread_count > 0`

	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unread counts: %w", err)
	}
	defer rows.Close()

	unreads := []models.UnreadInfo{}
	for rows.Next() {
		var info models.UnreadInfo
		if err := rows.Scan(&info.ChatID, &info.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan unread info: %w", err)
		}
		unreads = append(unreads, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread rows: %w", err)
	}
	return unreads, nil
}
