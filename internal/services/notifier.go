package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-marketplace/backend/internal/events"
	"github.com/mesh-marketplace/backend/internal/models"
)

type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

// NotificationService persists notifications and fans them out over
// pub/sub for websocket and webhook delivery. Notify swallows all
// failures: a dropped notification is a logging event, never a reason
// to fail the escrow operation that produced it.
type NotificationService struct {
	store     NotificationStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewNotificationService(store NotificationStore, publisher events.Publisher, log *zap.Logger) *NotificationService {
	return &NotificationService{store: store, publisher: publisher, log: log}
}

func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, title, message, typ string, metadata map[string]any) {
	n := &models.Notification{
		UserID:   userID,
		Title:    title,
		Message:  message,
		Type:     typ,
		Metadata: metadata,
	}
	if err := s.store.Insert(ctx, n); err != nil {
		s.log.Error("failed to persist notification",
			zap.String("user_id", userID.String()),
			zap.String("type", typ),
			zap.Error(err),
		)
		return
	}

	if err := s.publisher.Publish(ctx, events.StreamNotification, events.Event{
		Type: events.EventNotificationCreated,
		Payload: map[string]any{
			"id":      n.ID.String(),
			"user_id": userID.String(),
			"title":   title,
			"message": message,
			"type":    typ,
		},
	}); err != nil {
		s.log.Warn("failed to publish notification event",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	return s.store.ListForUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return s.store.MarkRead(ctx, id, userID)
}
