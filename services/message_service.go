package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/pkg/email"
	"github.com/akinalp/casedesk/pkg/logger"
	"github.com/akinalp/casedesk/pkg/ratelimit"
	"github.com/akinalp/casedesk/repository"
	"github.com/akinalp/casedesk/ws"
)

// PageQuery selects a page of messages. With an empty Cursor the newest
// page is returned; otherwise Direction says which side of the cursor to
// read.
type PageQuery struct {
	Direction models.PageDirection
	Cursor    string
	Limit     int
}

// MessageService reads message pages and posts messages.
type MessageService interface {
	Page(ctx context.Context, chatID, userID string, q PageQuery) (*models.MessagePage, error)
	// AroundLastRead returns the page a chat opens on: up to half of limit
	// up to and including the caller's watermark and the rest after it.
	// Without a watermark the oldest page is returned.
	AroundLastRead(ctx context.Context, chatID, userID string, limit int) (*models.MessagePage, error)
	Create(ctx context.Context, chatID, userID string, req *models.CreateMessageRequest, files []*multipart.FileHeader) (*models.Message, error)
}

// PageLimits bounds the page size accepted from clients.
type PageLimits struct {
	Default int
	Max     int
}

type messageService struct {
	messageRepo    repository.MessageRepository
	attachmentRepo repository.AttachmentRepository
	readStateRepo  repository.ReadStateRepository
	userRepo       repository.UserRepository
	chats          ChatService
	uploads        UploadService
	hub            ws.EventPublisher
	mailer         email.Sender
	limiter        *ratelimit.Limiter
	limits         PageLimits
	log            *zap.Logger
}

// NewMessageService creates a MessageService. limiter is keyed by user ID.
func NewMessageService(
	messageRepo repository.MessageRepository,
	attachmentRepo repository.AttachmentRepository,
	readStateRepo repository.ReadStateRepository,
	userRepo repository.UserRepository,
	chats ChatService,
	uploads UploadService,
	hub ws.EventPublisher,
	mailer email.Sender,
	limiter *ratelimit.Limiter,
	limits PageLimits,
) MessageService {
	return &messageService{
		messageRepo:    messageRepo,
		attachmentRepo: attachmentRepo,
		readStateRepo:  readStateRepo,
		userRepo:       userRepo,
		chats:          chats,
		uploads:        uploads,
		hub:            hub,
		mailer:         mailer,
		limiter:        limiter,
		limits:         limits,
		log:            logger.Named("message"),
	}
}

func (s *messageService) limit(n int) int {
	if n <= 0 {
		return s.limits.Default
	}
	return min(n, s.limits.Max)
}

func (s *messageService) Page(ctx context.Context, chatID, userID string, q PageQuery) (*models.MessagePage, error) {
	if err := s.chats.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	limit := s.limit(q.Limit)

	if q.Cursor == "" {
		if q.Direction != "" && q.Direction != models.DirectionHead && q.Direction != models.DirectionTail {
			return nil, fmt.Errorf("%w: unknown direction %q", pkg.ErrBadRequest, q.Direction)
		}
		msgs, err := s.messageRepo.Latest(ctx, chatID, limit+1)
		if err != nil {
			return nil, err
		}
		hasPrev := len(msgs) > limit
		msgs = reversed(truncate(msgs, limit))
		return s.page(ctx, msgs, models.PageInitial, false, hasPrev)
	}

	seq, err := s.messageRepo.SeqOf(ctx, chatID, q.Cursor)
	if err != nil {
		return nil, err
	}

	switch q.Direction {
	case models.DirectionHead:
		msgs, err := s.messageRepo.Before(ctx, chatID, seq, limit+1)
		if err != nil {
			return nil, err
		}
		hasPrev := len(msgs) > limit
		msgs = reversed(truncate(msgs, limit))
		return s.page(ctx, msgs, models.PageHead, true, hasPrev)

	case models.DirectionTail:
		msgs, err := s.messageRepo.After(ctx, chatID, seq, limit+1)
		if err != nil {
			return nil, err
		}
		hasNext := len(msgs) > limit
		return s.page(ctx, truncate(msgs, limit), models.PageTail, hasNext, true)

	default:
		return nil, fmt.Errorf("%w: direction must be head or tail when a cursor is given", pkg.ErrBadRequest)
	}
}

func (s *messageService) AroundLastRead(ctx context.Context, chatID, userID string, limit int) (*models.MessagePage, error) {
	if err := s.chats.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	limit = s.limit(limit)

	seq, ok, err := s.watermarkSeq(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		msgs, err := s.messageRepo.Oldest(ctx, chatID, limit+1)
		if err != nil {
			return nil, err
		}
		hasNext := len(msgs) > limit
		return s.page(ctx, truncate(msgs, limit), models.PageInitial, hasNext, false)
	}

	// seq+1 makes the watermark itself part of the older half.
	beforeLimit := max(limit/2, 1)
	older, err := s.messageRepo.Before(ctx, chatID, seq+1, beforeLimit+1)
	if err != nil {
		return nil, err
	}
	hasPrev := len(older) > beforeLimit
	older = reversed(truncate(older, beforeLimit))

	afterLimit := limit - len(older)
	newer, err := s.messageRepo.After(ctx, chatID, seq, afterLimit+1)
	if err != nil {
		return nil, err
	}
	hasNext := len(newer) > afterLimit
	newer = truncate(newer, afterLimit)

	return s.page(ctx, append(older, newer...), models.PageInitial, hasNext, hasPrev)
}

// watermarkSeq resolves the caller's watermark. A watermark pointing at a
// message that no longer exists counts as none.
func (s *messageService) watermarkSeq(ctx context.Context, chatID, userID string) (int64, bool, error) {
	rs, err := s.readStateRepo.Get(ctx, userID, chatID)
	if errors.Is(err, pkg.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if rs.LastReadMessageID == nil {
		return 0, false, nil
	}
	seq, err := s.messageRepo.SeqOf(ctx, chatID, *rs.LastReadMessageID)
	if errors.Is(err, pkg.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return seq, true, nil
}

func (s *messageService) page(ctx context.Context, msgs []models.Message, pos models.PagePosition, hasNext, hasPrev bool) (*models.MessagePage, error) {
	if err := s.attachFiles(ctx, msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &models.MessagePage{
		Messages: msgs,
		Position: pos,
		HasNext:  hasNext,
		HasPrev:  hasPrev,
	}, nil
}

func (s *messageService) attachFiles(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	attachments, err := s.attachmentRepo.GetByMessageIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to get attachments: %w", err)
	}
	byMessage := make(map[string][]models.Attachment)
	for _, a := range attachments {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], a)
	}

	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
		if msgs[i].Attachments == nil {
			msgs[i].Attachments = []models.Attachment{}
		}
	}
	return nil
}

func (s *messageService) Create(ctx context.Context, chatID, userID string, req *models.CreateMessageRequest, files []*multipart.FileHeader) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}
	if req.Content == "" && len(files) == 0 {
		return nil, fmt.Errorf("%w: message must have content or files", pkg.ErrBadRequest)
	}
	for _, f := range files {
		if err := s.uploads.Check(f); err != nil {
			return nil, err
		}
	}

	if err := s.chats.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if !s.limiter.Allow(userID) {
		return nil, fmt.Errorf("%w: slow down, retry in %ds", pkg.ErrTooManyRequests, s.limiter.RetryAfterSeconds(userID))
	}

	message := &models.Message{
		ID:     uuid.NewString(),
		ChatID: chatID,
		UserID: userID,
	}
	if req.Content != "" {
		message.Content = &req.Content
	}

	if err := s.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	author, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get message author: %w", err)
	}
	author.PasswordHash = ""
	author.Email = nil
	message.Author = author

	message.Attachments = []models.Attachment{}
	for _, f := range files {
		a, err := s.uploads.Upload(ctx, message.ID, f)
		if err != nil {
			s.log.Warn("attachment_upload_failed",
				zap.String("message_id", message.ID),
				zap.String("filename", f.Filename),
				zap.Error(err),
			)
			continue
		}
		message.Attachments = append(message.Attachments, *a)
	}

	// Sending implies having read everything up to the new message.
	if _, err := s.readStateRepo.Advance(ctx, userID, chatID, message.ID); err != nil {
		s.log.Warn("advance_own_read_state_failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	s.publish(ctx, message)
	return message, nil
}

// publish pushes message_create to online members and mails offline ones.
func (s *messageService) publish(ctx context.Context, message *models.Message) {
	memberIDs, err := s.chats.MemberIDs(ctx, message.ChatID)
	if err != nil {
		s.log.Error("broadcast_members_failed", zap.String("chat_id", message.ChatID), zap.Error(err))
		return
	}

	s.hub.BroadcastToUsers(memberIDs, ws.Event{Op: ws.OpMessageCreate, Data: message})

	offline := slices.DeleteFunc(memberIDs, func(id string) bool {
		return id == message.UserID || s.hub.IsOnline(id)
	})
	if len(offline) == 0 {
		return
	}
	go s.notifyOffline(message, offline)
}

func (s *messageService) notifyOffline(message *models.Message, userIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chat, err := s.chats.Get(ctx, message.ChatID, message.UserID)
	if err != nil {
		s.log.Warn("notify_chat_lookup_failed", zap.String("chat_id", message.ChatID), zap.Error(err))
		return
	}
	users, err := s.userRepo.GetByIDs(ctx, userIDs)
	if err != nil {
		s.log.Warn("notify_user_lookup_failed", zap.Error(err))
		return
	}

	for _, u := range users {
		if u.Email == nil {
			continue
		}
		err := s.mailer.SendNewMessage(ctx, email.NewMessageNotice{
			ToEmail:    *u.Email,
			ToName:     u.Name(),
			ChatID:     chat.ID,
			ChatTitle:  chat.Title,
			AuthorName: message.Author.Name(),
			Preview:    message.Text(),
		})
		if err != nil {
			s.log.Warn("new_message_email_failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
}

func truncate(msgs []models.Message, n int) []models.Message {
	if len(msgs) > n {
		return msgs[:n]
	}
	return msgs
}

func reversed(msgs []models.Message) []models.Message {
	slices.Reverse(msgs)
	return msgs
}
