package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/pkg"
	"github.com/akinalp/casedesk/repository"
	"github.com/akinalp/casedesk/ws"
)

// ReadStateService moves read watermarks.
type ReadStateService interface {
	// MarkRead advances the caller's watermark to messageID. Marking an
	// older message than the current watermark is accepted and ignored.
	MarkRead(ctx context.Context, chatID, userID, messageID string) (*models.ReadState, error)
	GetUnreadCounts(ctx context.Context, userID string) ([]models.UnreadInfo, error)
}

type readStateService struct {
	readStateRepo repository.ReadStateRepository
	messageRepo   repository.MessageRepository
	chats         ChatService
	hub           ws.EventPublisher
}

// NewReadStateService creates a ReadStateService.
func NewReadStateService(
	readStateRepo repository.ReadStateRepository,
	messageRepo repository.MessageRepository,
	chats ChatService,
	hub ws.EventPublisher,
) ReadStateService {
	return &readStateService{
		readStateRepo: readStateRepo,
		messageRepo:   messageRepo,
		chats:         chats,
		hub:           hub,
	}
}

func (s *readStateService) MarkRead(ctx context.Context, chatID, userID, messageID string) (*models.ReadState, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, fmt.Errorf("%w: message_id is required", pkg.ErrBadRequest)
	}
	if err := s.chats.RequireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if _, err := s.messageRepo.SeqOf(ctx, chatID, messageID); err != nil {
		return nil, err
	}

	changed, err := s.readStateRepo.Advance(ctx, userID, chatID, messageID)
	if err != nil {
		return nil, err
	}

	rs, err := s.readStateRepo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	if changed {
		// Other devices of the same user clear their unread badges.
		s.hub.BroadcastToUser(userID, ws.Event{Op: ws.OpReadStateUpdate, Data: rs})
	}
	return rs, nil
}

func (s *readStateService) GetUnreadCounts(ctx context.Context, userID string) ([]models.UnreadInfo, error) {
	return s.readStateRepo.GetUnreadCounts(ctx, userID)
}
