package model

import (
	"time"
)

// Direction tells whether a message came from the contact or was sent to it.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// MessageKind is the media kind reported by the gateway.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindAudio    MessageKind = "audio"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
	KindOther    MessageKind = "other"
)

// Message is a single inbound or outbound message. Messages are append-only.
type Message struct {
	// Identity. IDs are UUIDv7 so lexical order follows creation order.
	ID             string `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string `json:"conversation_id" gorm:"size:36;not null;index"`
	TenantID       string `json:"tenant_id" gorm:"size:64;not null;index;uniqueIndex:idx_messages_tenant_key,priority:1"`

	// Content
	Direction Direction   `json:"direction" gorm:"size:16;not null"`
	Kind      MessageKind `json:"kind" gorm:"size:16;not null"`
	Content   string      `json:"content" gorm:"type:text"`
	PushName  string      `json:"push_name,omitempty" gorm:"size:255"`

	// IdempotencyKey is the gateway message id of an inbound message,
	// unique per tenant.
	IdempotencyKey *string `json:"idempotency_key,omitempty" gorm:"size:128;uniqueIndex:idx_messages_tenant_key,priority:2"`

	// Delivery bookkeeping for outbound messages
	ByBot           bool     `json:"by_bot"`
	Delivered       bool     `json:"delivered"`
	Read            bool     `json:"read"`
	Error           bool     `json:"error"`
	ResponseSeconds *float64 `json:"response_seconds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName pins the table name.
func (Message) TableName() string { return "messages" }

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
