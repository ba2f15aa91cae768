// Package service implements the conversation engine's use cases on top of
// the store, the gateway and the answering pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/store"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
)

// ErrConversationNotFound is returned for unknown or foreign conversations.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationService handles conversation lifecycle.
type ConversationService struct {
	store  *store.Store
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st *store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{store: st, logger: log.Named("conversations")}
}

// Open returns the contact's open conversation, creating one when none
// exists. created reports whether the conversation is new. A conversation
// waiting for a human is handed back to the bot.
func (s *ConversationService) Open(ctx context.Context, tenantID, contactID, contactName string, at time.Time) (conv *model.Conversation, created bool, err error) {
	conv, err = s.store.FindOpenConversation(ctx, tenantID, contactID)
	switch {
	case err == nil:
		changed := false
		if conv.Status == model.StatusAwaitingHuman {
			conv.Status = model.StatusActive
			changed = true
		}
		if name := strings.TrimSpace(contactName); name != "" && name != conv.ContactName {
			conv.ContactName = name
			changed = true
		}
		if changed {
			if err := s.store.SaveConversation(ctx, conv); err != nil {
				return nil, false, err
			}
		}
		return conv, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	conv = &model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       tenantID,
		ContactID:      contactID,
		ContactName:    strings.TrimSpace(contactName),
		Status:         model.StatusActive,
		StartedAt:      at,
		LastActivityAt: at,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}

	metrics.ConversationsTotal.WithLabelValues(tenantID).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("tenant_id", tenantID),
		zap.String("contact_id", contactID),
	)
	return conv, true, nil
}

// Save persists every field of conv.
func (s *ConversationService) Save(ctx context.Context, conv *model.Conversation) error {
	return s.store.SaveConversation(ctx, conv)
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListConversations(ctx, tenantID, limit, offset)
}

// Finish closes an open conversation. The contact's next message starts a
// new one.
func (s *ConversationService) Finish(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Status.Open() {
		return conv, nil
	}

	now := time.Now().UTC()
	conv.Status = model.StatusFinished
	conv.FinishedAt = &now
	conv.Context = model.ConversationContext{}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("finish conversation: %w", err)
	}
	return conv, nil
}
