// Package model defines data structures for the messaging agent.
package model

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	StatusActive        ConversationStatus = "active"
	StatusAwaitingHuman ConversationStatus = "awaiting_human"
	StatusFinished      ConversationStatus = "finished"
	StatusAbandoned     ConversationStatus = "abandoned"
)

// Open reports whether a conversation in this status still receives messages.
func (s ConversationStatus) Open() bool {
	return s == StatusActive || s == StatusAwaitingHuman
}

// Conversation is one contact's thread with a tenant.
type Conversation struct {
	ID          string             `json:"id" gorm:"primaryKey;size:36"`
	TenantID    string             `json:"tenant_id" gorm:"size:64;not null;index:idx_conversations_lookup,priority:1"`
	ContactID   string             `json:"contact_id" gorm:"size:64;not null;index:idx_conversations_lookup,priority:2"`
	ContactName string             `json:"contact_name,omitempty" gorm:"size:255"`
	Status      ConversationStatus `json:"status" gorm:"size:32;not null;index:idx_conversations_lookup,priority:3"`

	Context ConversationContext `json:"context" gorm:"type:text"`

	TotalMessages        int      `json:"total_messages"`
	BotMessages          int      `json:"bot_messages"`
	UserMessages         int      `json:"user_messages"`
	FirstResponseSeconds *float64 `json:"first_response_seconds,omitempty"`
	AvgResponseSeconds   *float64 `json:"avg_response_seconds,omitempty"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName pins the table name.
func (Conversation) TableName() string { return "conversations" }

// RecordReply folds one bot reply into the counters. responseSeconds is the
// time between the inbound message and the reply.
func (c *Conversation) RecordReply(responseSeconds float64, at time.Time) {
	c.TotalMessages++
	c.BotMessages++
	c.LastActivityAt = at

	if c.FirstResponseSeconds == nil {
		first := responseSeconds
		c.FirstResponseSeconds = &first
	}

	avg := responseSeconds
	if c.AvgResponseSeconds != nil && c.BotMessages > 1 {
		n := float64(c.BotMessages)
		avg = *c.AvgResponseSeconds + (responseSeconds-*c.AvgResponseSeconds)/n
	}
	c.AvgResponseSeconds = &avg
}

// RecordInbound folds one contact message into the counters.
func (c *Conversation) RecordInbound(at time.Time) {
	c.TotalMessages++
	c.UserMessages++
	c.LastActivityAt = at
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
