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

type sqliteChatRepo struct {
	db database.TxQuerier
}

// NewSQLiteChatRepo returns a ChatRepository over db. Create runs several
// statements, so callers pass a *sql.Tx when they need it atomic.
func NewSQLiteChatRepo(db database.TxQuerier) ChatRepository {
	return &sqliteChatRepo{db: db}
}

// chatSelect joins the newest message and the watermark of the viewer (the
// first bound parameter).
const chatSelect = `
	SELECT c.id, c.title, c.matter_ref, c.created_by, c.created_at,
	       cr.last_read_message_id,
	       (SELECT m.id FROM messages m WHERE m.chat_id = c.id ORDER BY m.seq DESC LIMIT 1) AS last_message_id,
	       (SELECT MAX(m.seq) FROM messages m WHERE m.chat_id = c.id) AS last_seq
	FROM chats c
	LEFT JOIN chat_reads cr ON cr.chat_id = c.id AND cr.user_id = ?`

func scanChat(row interface{ Scan(...any) error }, c *models.Chat) error {
	var lastSeq sql.NullInt64
	return row.Scan(
		&c.ID, &c.Title, &c.MatterRef, &c.CreatedBy, &c.CreatedAt,
		&c.LastReadMessageID, &c.LastMessageID, &lastSeq,
	)
}

func (r *sqliteChatRepo) Create(ctx context.Context, chat *models.Chat, memberIDs []string) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO chats (id, title, matter_ref, created_by) VALUES (?, ?, ?, ?) RETURNING created_at`,
		chat.ID, chat.Title, chat.MatterRef, chat.CreatedBy,
	).Scan(&chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}

	for _, userID := range memberIDs {
		if err := r.AddMember(ctx, chat.ID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteChatRepo) AddMember(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_members (chat_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		chatID, userID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown user %s", pkg.ErrBadRequest, userID)
		}
		return fmt.Errorf("failed to add chat member: %w", err)
	}
	return nil
}

func (r *sqliteChatRepo) GetByID(ctx context.Context, id, viewerID string) (*models.Chat, error) {
	chat := &models.Chat{}
	err := scanChat(r.db.QueryRowContext(ctx, chatSelect+` WHERE c.id = ?`, viewerID, id), chat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chat not found", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}

	members, err := r.GetMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	chat.Members = members
	return chat, nil
}

func (r *sqliteChatRepo) ListByUser(ctx context.Context, userID string) ([]models.Chat, error) {
	query := chatSelect + `
		WHERE c.id IN (SELECT chat_id FROM chat_members WHERE user_id = ?)
		ORDER BY COALESCE(last_seq, 0) DESC, c.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []models.Chat{}
	for rows.Next() {
		var c models.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}

	for i := range chats {
		members, err := r.GetMembers(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Members = members
	}
	return chats, nil
}

func (r *sqliteChatRepo) GetMembers(ctx context.Context, chatID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.username, u.display_name, u.email, u.role, u.password_hash, u.created_at
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = ?
		ORDER BY cm.joined_at, u.username`

	rows, err := r.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat members: %w", err)
	}
	defer rows.Close()

	members := []models.User{}
	for rows.Next() {
		var u models.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		u.PasswordHash = ""
		members = append(members, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}
	return members, nil
}

func (r *sqliteChatRepo) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_members WHERE chat_id = ? AND user_id = ?`,
		chatID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}
	return n > 0, nil
}
