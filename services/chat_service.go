package services

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/database"
	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/pkg/cache"
	"github.com/akinalp/casedesk/pkg/logger"
	"github.com/akinalp/casedesk/repository"
	"github.com/akinalp/casedesk/ws"
)

// ChatService manages chats and answers membership questions for the other
// services.
type ChatService interface {
	Create(ctx context.Context, creatorID string, req *models.CreateChatRequest) (*models.Chat, error)
	List(ctx context.Context, userID string) ([]models.Chat, error)
	Get(ctx context.Context, chatID, userID string) (*models.Chat, error)
	// RequireMember returns pkg.ErrForbidden unless userID belongs to
	// chatID. Unknown chats are reported the same way.
	RequireMember(ctx context.Context, chatID, userID string) error
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	// Typing relays a typing indicator to the other online members.
	Typing(ctx context.Context, userID, username, chatID string)
	Close()
}

type chatService struct {
	db       *sql.DB
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	hub      ws.EventPublisher
	members  *cache.TTLCache[string, bool]
	log      *zap.Logger
}

// NewChatService creates a ChatService. Membership lookups are cached for
// membershipTTL; Close stops the cache sweeper.
func NewChatService(
	db *sql.DB,
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	hub ws.EventPublisher,
	membershipTTL time.Duration,
) ChatService {
	return &chatService{
		db:       db,
		chatRepo: chatRepo,
		userRepo: userRepo,
		hub:      hub,
		members:  cache.New[string, bool](membershipTTL, 5*time.Minute),
		log:      logger.Named("chat"),
	}
}

func memberKey(chatID, userID string) string {
	return chatID + ":" + userID
}

func (s *chatService) Create(ctx context.Context, creatorID string, req *models.CreateChatRequest) (*models.Chat, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	memberIDs := []string{creatorID}
	for _, id := range req.MemberIDs {
		if !slices.Contains(memberIDs, id) {
			memberIDs = append(memberIDs, id)
		}
	}
	if len(memberIDs) < 2 {
		return nil, fmt.Errorf("%w: a chat needs at least one other member", pkg.ErrBadRequest)
	}

	chat := &models.Chat{
		ID:        uuid.NewString(),
		Title:     req.Title,
		CreatedBy: creatorID,
	}
	if req.MatterRef != "" {
		chat.MatterRef = &req.MatterRef
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return repository.NewSQLiteChatRepo(tx).Create(ctx, chat, memberIDs)
	})
	if err != nil {
		return nil, err
	}

	created, err := s.chatRepo.GetByID(ctx, chat.ID, creatorID)
	if err != nil {
		return nil, err
	}

	for _, id := range memberIDs {
		s.members.Set(memberKey(chat.ID, id), true)
	}
	s.hub.BroadcastToUsers(memberIDs, ws.Event{Op: ws.OpChatCreate, Data: created})
	s.log.Info("chat_created", zap.String("chat_id", chat.ID), zap.Int("members", len(memberIDs)))

	return created, nil
}

func (s *chatService) List(ctx context.Context, userID string) ([]models.Chat, error) {
	return s.chatRepo.ListByUser(ctx, userID)
}

func (s *chatService) Get(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	if err := s.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.chatRepo.GetByID(ctx, chatID, userID)
}

func (s *chatService) RequireMember(ctx context.Context, chatID, userID string) error {
	key := memberKey(chatID, userID)
	ok, cached := s.members.Get(key)
	if !cached {
		var err error
		ok, err = s.chatRepo.IsMember(ctx, chatID, userID)
		if err != nil {
			return err
		}
		s.members.Set(key, ok)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of this chat", pkg.ErrForbidden)
	}
	return nil
}

func (s *chatService) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	members, err := s.chatRepo.GetMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids, nil
}

func (s *chatService) Typing(ctx context.Context, userID, username, chatID string) {
	if err := s.RequireMember(ctx, chatID, userID); err != nil {
		return
	}
	ids, err := s.MemberIDs(ctx, chatID)
	if err != nil {
		s.log.Warn("typing_members_failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}
	others := slices.DeleteFunc(ids, func(id string) bool { return id == userID })
	s.hub.BroadcastToUsers(others, ws.Event{
		Op:   ws.OpTypingStart,
		Data: ws.TypingStartData{UserID: userID, Username: username, ChatID: chatID},
	})
}

func (s *chatService) Close() {
	s.members.Close()
}
