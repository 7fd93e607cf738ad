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

type sqliteMessageRepo struct {
	db database.TxQuerier
}

// NewSQLiteMessageRepo returns a MessageRepository over db.
func NewSQLiteMessageRepo(db database.TxQuerier) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

const messageSelect = `
	SELECT m.seq, m.id, m.chat_id, m.user_id, m.content, m.created_at,
	       u.id, u.username, u.display_name, u.role
	FROM messages m
	LEFT JOIN users u ON m.user_id = u.id`

func scanMessage(row interface{ Scan(...any) error }, msg *models.Message) error {
	var (
		authorID, username sql.NullString
		role               sql.NullString
		author             models.User
	)
	if err := row.Scan(
		&msg.Seq, &msg.ID, &msg.ChatID, &msg.UserID, &msg.Content, &msg.CreatedAt,
		&authorID, &username, &author.DisplayName, &role,
	); err != nil {
		return err
	}
	if authorID.Valid {
		author.ID = authorID.String
		author.Username = username.String
		author.Role = models.UserRole(role.String)
		msg.Author = &author
	}
	return nil
}

func (r *sqliteMessageRepo) Create(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (id, chat_id, user_id, content)
		VALUES (?, ?, ?, ?)
		RETURNING seq, created_at`

	err := r.db.QueryRowContext(ctx, query,
		message.ID,
		message.ChatID,
		message.UserID,
		message.Content,
	).Scan(&message.Seq, &message.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *sqliteMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{}
	err := scanMessage(r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id), msg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message not found", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by id: %w", err)
	}
	return msg, nil
}

func (r *sqliteMessageRepo) SeqOf(ctx context.Context, chatID, messageID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: message %s not found in chat", pkg.ErrNotFound, messageID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve message cursor: %w", err)
	}
	return seq, nil
}

func (r *sqliteMessageRepo) Latest(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.chat_id = ?
		ORDER BY m.seq DESC
		LIMIT ?`, chatID, limit)
}

func (r *sqliteMessageRepo) Oldest(ctx context.Context, chatID string, limit int) ([]models.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.chat_id = ?
		ORDER BY m.seq ASC
		LIMIT ?`, chatID, limit)
}

func (r *sqliteMessageRepo) Before(ctx context.Context, chatID string, seq int64, limit int) ([]models.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.chat_id = ? AND m.seq < ?
		ORDER BY m.seq DESC
		LIMIT ?`, chatID, seq, limit)
}

func (r *sqliteMessageRepo) After(ctx context.Context, chatID string, seq int64, limit int) ([]models.Message, error) {
	return r.list(ctx, messageSelect+`
		WHERE m.chat_id = ? AND m.seq > ?
		ORDER BY m.seq ASC
		LIMIT ?`, chatID, seq, limit)
}

func (r *sqliteMessageRepo) list(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := scanMessage(rows, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}
