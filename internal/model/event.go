package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeEscalated         EventType = "escalated"
	EventTypeDuplicateReplayed EventType = "duplicate_replayed"
	EventTypeAIDegraded        EventType = "ai_degraded"
	EventTypeDeliveryFailed    EventType = "delivery_failed"
)

// ConversationEvent is an audit record published next to messages.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	TenantID       string         `json:"tenant_id"`
	Type           EventType      `json:"type"`
	Reason         string         `json:"reason"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
