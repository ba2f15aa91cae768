package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

// Store reads and writes conversations and messages.
type Store struct {
	db *gorm.DB
}

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// FindOpenConversation returns the contact's active or awaiting conversation.
func (s *Store) FindOpenConversation(ctx context.Context, tenantID, contactID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND contact_id = ? AND status IN ?", tenantID, contactID,
			[]model.ConversationStatus{model.StatusActive, model.StatusAwaitingHuman}).
		Order("started_at DESC").
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open conversation: %w", err)
	}
	return &conv, nil
}

// CreateConversation inserts conv.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// SaveConversation writes every field of conv.
func (s *Store) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.db.WithContext(ctx).Save(conv).Error; err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// GetConversation returns a conversation scoped to its tenant.
func (s *Store) GetConversation(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations pages through a tenant's conversations, newest activity first.
func (s *Store) ListConversations(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	scoped := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&model.Conversation{}).Where("tenant_id = ?", tenantID)
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	convs := []model.Conversation{}
	if err := scoped().Order("last_activity_at DESC").Limit(limit).Offset(offset).Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}

// CreateMessage appends msg. Reusing an idempotency key yields
// ErrDuplicateMessage.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	err := s.db.WithContext(ctx).Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// FindMessageByKey returns the tenant's inbound message stored under key.
func (s *Store) FindMessageByKey(ctx context.Context, tenantID, key string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message by key: %w", err)
	}
	return &msg, nil
}

// FindReplyAfter returns the first outbound message of the conversation
// created after the message with id afterID.
func (s *Store) FindReplyAfter(ctx context.Context, conversationID, afterID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND direction = ? AND id > ?", conversationID, model.DirectionSent, afterID).
		Order("id ASC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find reply: %w", err)
	}
	return &msg, nil
}

// ListMessages pages through a conversation's messages in order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) (*model.ListMessagesResponse, error) {
	msgs := []model.Message{}
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Limit(limit + 1).
		Offset(offset).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return &model.ListMessagesResponse{Messages: msgs, HasMore: hasMore}, nil
}
