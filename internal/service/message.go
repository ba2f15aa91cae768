package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/store"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
)

// Outbound describes a reply to record.
type Outbound struct {
	Content         string
	Delivered       bool
	ResponseSeconds *float64
	At              time.Time
}

// MessageService stores messages and mirrors them to the publisher.
type MessageService struct {
	store     *store.Store
	publisher Publisher
	logger    *logger.Logger
}

// NewMessageService creates a new message service. A nil publisher discards
// published messages.
func NewMessageService(st *store.Store, publisher Publisher, log *logger.Logger) *MessageService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &MessageService{store: st, publisher: publisher, logger: log.Named("messages")}
}

// RecordInbound stores a contact message keyed by the gateway message id.
// It returns store.ErrDuplicateMessage when the key was seen before.
func (s *MessageService) RecordInbound(ctx context.Context, conv *model.Conversation, ev *model.WebhookEvent, at time.Time) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Direction:      model.DirectionReceived,
		Kind:           ev.Kind(),
		Content:        ev.Text(),
		PushName:       ev.Data.PushName,
		CreatedAt:      at,
	}
	if key := ev.Data.Key.ID; key != "" {
		msg.IdempotencyKey = &key
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.stored(ctx, msg)
	return msg, nil
}

// RecordOutbound stores a bot reply. Undelivered replies are kept with the
// error flag set.
func (s *MessageService) RecordOutbound(ctx context.Context, conv *model.Conversation, out Outbound) (*model.Message, error) {
	msg := &model.Message{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationID:  conv.ID,
		TenantID:        conv.TenantID,
		Direction:       model.DirectionSent,
		Kind:            model.KindText,
		Content:         out.Content,
		ByBot:           true,
		Delivered:       out.Delivered,
		Error:           !out.Delivered,
		ResponseSeconds: out.ResponseSeconds,
		CreatedAt:       out.At,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.stored(ctx, msg)
	return msg, nil
}

// FindByKey returns the tenant's inbound message stored under the gateway
// message id.
func (s *MessageService) FindByKey(ctx context.Context, tenantID, key string) (*model.Message, error) {
	return s.store.FindMessageByKey(ctx, tenantID, key)
}

// ReplyTo returns the first bot message sent after inbound.
func (s *MessageService) ReplyTo(ctx context.Context, inbound *model.Message) (*model.Message, error) {
	return s.store.FindReplyAfter(ctx, inbound.ConversationID, inbound.ID)
}

// List returns a page of a tenant's conversation history.
func (s *MessageService) List(ctx context.Context, tenantID, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListMessages(ctx, conversationID, limit, offset)
}

func (s *MessageService) stored(ctx context.Context, msg *model.Message) {
	metrics.MessagesTotal.WithLabelValues(msg.TenantID, string(msg.Direction)).Inc()
	if err := s.publisher.PublishMessage(ctx, msg); err != nil {
		s.logger.Warn("failed to publish message",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
	}
}
