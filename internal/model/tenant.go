package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Plan is the tenant's subscribed bot flavour.
type Plan string

const (
	PlanMenu      Plan = "menu"
	PlanAI        Plan = "ai"
	PlanFinancial Plan = "financial"
)

// HasAI reports whether the plan includes AI answering.
func (p Plan) HasAI() bool {
	return p == PlanAI || p == PlanFinancial
}

// GatewayCredentials address one tenant's instance on the messaging gateway.
type GatewayCredentials struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Instance string `yaml:"instance"`
}

// Complete reports whether every field needed to send is present.
func (g GatewayCredentials) Complete() bool {
	return strings.TrimSpace(g.BaseURL) != "" && strings.TrimSpace(g.APIKey) != "" && strings.TrimSpace(g.Instance) != ""
}

// Messages are the tenant-editable fixed texts.
type Messages struct {
	NotUnderstood string `yaml:"not_understood"`
	Hold          string `yaml:"hold"`
	NoAttendants  string `yaml:"no_attendants"`
	AIWelcome     string `yaml:"ai_welcome"`
}

// AIParams are the sampling parameters for answer generation.
type AIParams struct {
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// RAGParams control chunking and retrieval.
type RAGParams struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	SearchLimit  int `yaml:"search_limit"`
}

// TenantConfig is everything the engine reads about a tenant while handling
// one message.
type TenantConfig struct {
	TenantID        string             `yaml:"-"`
	Name            string             `yaml:"name"`
	Plan            Plan               `yaml:"plan"`
	Gateway         GatewayCredentials `yaml:"gateway"`
	Attendants      []string           `yaml:"attendants"`
	Messages        Messages           `yaml:"messages"`
	Timezone        string             `yaml:"timezone"`
	ReGreetAfter    time.Duration      `yaml:"regreet_after"`
	InteractiveMenu bool               `yaml:"interactive_menu"`
	HandoffKeywords []string           `yaml:"handoff_keywords"`
	MenuTitle       string             `yaml:"menu_title"`
	Menu            MenuTree           `yaml:"menu"`
	QuickReplies    []QuickReply       `yaml:"quick_replies"`
	AI              AIParams           `yaml:"ai"`
	RAG             RAGParams          `yaml:"rag"`
}

// Validate checks the configuration before it is used.
func (c *TenantConfig) Validate() error {
	if err := c.Menu.Validate(); err != nil {
		return err
	}
	for i, qr := range c.QuickReplies {
		if len(qr.Keywords) == 0 {
			return fmt.Errorf("quick reply %d: at least one keyword is required", i)
		}
		if strings.TrimSpace(qr.Reply) == "" {
			return fmt.Errorf("quick reply %d: reply is required", i)
		}
	}
	switch c.Plan {
	case "", PlanMenu, PlanAI, PlanFinancial:
	default:
		return fmt.Errorf("unknown plan %q", c.Plan)
	}
	if c.RAG.ChunkSize < 0 || c.RAG.ChunkOverlap < 0 {
		return errors.New("chunk size and overlap must not be negative")
	}
	if c.RAG.ChunkSize > 0 && c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return errors.New("chunk overlap must be smaller than chunk size")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Location returns the tenant's time zone, UTC when unset.
func (c *TenantConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
