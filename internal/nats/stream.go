package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

const (
	// StreamName is the name of the audit stream.
	StreamName = "AGENT_CONVERSATIONS"

	// SubjectPrefix is the prefix for all audit subjects.
	SubjectPrefix = "agent"
)

// publisher is the part of JetStream the stream manager publishes through.
type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager owns the audit stream and publishes to it.
type StreamManager struct {
	js  jetstream.JetStream
	pub publisher
}

// NewStreamManager creates a stream manager on client's JetStream context.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream(), pub: client.JetStream()}
}

// EnsureStream creates the audit stream when it does not exist yet.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  10 * time.Minute,
		DenyDelete:  true,
		Description: "WhatsApp conversation messages and events",
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject a message is published on.
func MessageSubject(tenantID, conversationID string, dir model.Direction) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, tenantID, conversationID, dir)
}

// EventSubject returns the subject an event is published on.
func EventSubject(tenantID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, tenantID, conversationID, eventType)
}

// ConversationFilter matches everything published for one conversation.
func ConversationFilter(tenantID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, tenantID, conversationID)
}

// PublishMessage publishes msg. The message id doubles as the JetStream
// de-duplication id.
func (m *StreamManager) PublishMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	subject := MessageSubject(msg.TenantID, msg.ConversationID, msg.Direction)
	if _, err := m.pub.Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishEvent publishes event.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := EventSubject(event.TenantID, event.ConversationID, event.Type)
	if _, err := m.pub.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
