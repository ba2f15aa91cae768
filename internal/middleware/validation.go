package middleware

import (
	"errors"

	"github.com/google/uuid"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
)

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID taken from a URL.
func ValidateTenantID(id string) error {
	if !tenant.ValidID(id) {
		return errors.New("invalid tenant ID")
	}
	return nil
}

// ValidateFileName validates a knowledge document name.
func ValidateFileName(name string) error {
	if err := knowledge.ValidateFileName(name); err != nil {
		return errors.New("invalid file name")
	}
	if _, err := knowledge.FileTypeOf(name); err != nil {
		return errors.New("unsupported file type, use .pdf, .docx or .txt")
	}
	return nil
}
