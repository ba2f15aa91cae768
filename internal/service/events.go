package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

// Publisher receives every stored message and every conversation event.
// Publishing is best effort; failures are logged by the caller.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
	PublishEvent(ctx context.Context, event *model.ConversationEvent) error
}

// NopPublisher discards everything. It is used when no stream is configured.
type NopPublisher struct{}

// PublishMessage implements Publisher.
func (NopPublisher) PublishMessage(context.Context, *model.Message) error { return nil }

// PublishEvent implements Publisher.
func (NopPublisher) PublishEvent(context.Context, *model.ConversationEvent) error { return nil }

func newEvent(conv *model.Conversation, typ model.EventType, reason string, meta map[string]any) *model.ConversationEvent {
	return &model.ConversationEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Type:           typ,
		Reason:         reason,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
}
