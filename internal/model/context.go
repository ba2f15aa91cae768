package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ActiveSubmenu records which root option's submenu the contact is browsing.
type ActiveSubmenu struct {
	Number string `json:"numero"`
	Title  string `json:"titulo"`
}

// ConversationContext is the navigation state persisted with a conversation.
// The zero value means "at the root menu".
type ConversationContext struct {
	ActiveSubmenu *ActiveSubmenu `json:"submenu_ativo,omitempty"`
	QuickQuestion bool           `json:"modo_pergunta_rapida,omitempty"`
}

// IsZero reports whether the context holds no navigation state.
func (c ConversationContext) IsZero() bool {
	return c.ActiveSubmenu == nil && !c.QuickQuestion
}

// ParseContext decodes a stored context blob. Empty input is the zero
// context; malformed input is an error.
func ParseContext(raw []byte) (ConversationContext, error) {
	var ctx ConversationContext
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return ctx, nil
	}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return ConversationContext{}, fmt.Errorf("decode conversation context: %w", err)
	}
	if ctx.ActiveSubmenu != nil && strings.TrimSpace(ctx.ActiveSubmenu.Number) == "" {
		ctx.ActiveSubmenu = nil
	}
	return ctx, nil
}

// Value implements driver.Valuer.
func (c ConversationContext) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. A corrupt blob resets navigation instead of
// failing the whole conversation read.
func (c *ConversationContext) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported conversation context type %T", src)
	}
	parsed, err := ParseContext(raw)
	if err != nil {
		parsed = ConversationContext{}
	}
	*c = parsed
	return nil
}
