// Package tenant loads per-tenant bot configuration.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

var (
	// ErrUnknownTenant is returned when no configuration exists for a tenant.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrNotConfigured is returned when a tenant exists but cannot send messages.
	ErrNotConfigured = errors.New("tenant gateway not configured")
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Provider returns a tenant's configuration. Implementations must not cache
// across calls; every message reads the current settings.
type Provider interface {
	Load(ctx context.Context, tenantID string) (*model.TenantConfig, error)
}

// Defaults fill tenant settings left blank.
type Defaults struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	ChunkSize    int
	ChunkOverlap int
	SearchLimit  int
	ReGreetAfter time.Duration
}

// Apply fills zero fields of cfg.
func (d Defaults) Apply(cfg *model.TenantConfig) {
	if cfg.Plan == "" {
		cfg.Plan = model.PlanMenu
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = d.Model
	}
	if cfg.AI.MaxTokens == 0 {
		cfg.AI.MaxTokens = d.MaxTokens
	}
	if cfg.AI.Temperature == 0 {
		cfg.AI.Temperature = d.Temperature
	}
	if cfg.AI.TopP == 0 {
		cfg.AI.TopP = d.TopP
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = d.ChunkSize
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = d.ChunkOverlap
	}
	if cfg.RAG.SearchLimit == 0 {
		cfg.RAG.SearchLimit = d.SearchLimit
	}
	if cfg.ReGreetAfter == 0 {
		cfg.ReGreetAfter = d.ReGreetAfter
	}
}

// ValidID reports whether id is safe to use as a tenant identifier.
func ValidID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// FileProvider reads <dir>/<tenantID>.yaml on every call.
type FileProvider struct {
	dir      string
	defaults Defaults
}

// NewFileProvider creates a provider rooted at dir.
func NewFileProvider(dir string, defaults Defaults) *FileProvider {
	return &FileProvider{dir: dir, defaults: defaults}
}

// Load implements Provider.
func (p *FileProvider) Load(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	if !ValidID(tenantID) {
		return nil, ErrUnknownTenant
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(p.dir, tenantID+".yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrUnknownTenant
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	cfg.TenantID = tenantID
	p.defaults.Apply(cfg)
	return cfg, nil
}

// Parse decodes and validates a YAML tenant document.
func Parse(data []byte) (*model.TenantConfig, error) {
	var cfg model.TenantConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode tenant config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tenant config: %w", err)
	}
	return &cfg, nil
}

// StaticProvider serves configurations held in memory.
type StaticProvider struct {
	mu      sync.RWMutex
	configs map[string]model.TenantConfig
}

// NewStaticProvider creates an empty in-memory provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{configs: make(map[string]model.TenantConfig)}
}

// Set stores cfg under its TenantID.
func (p *StaticProvider) Set(cfg model.TenantConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs[cfg.TenantID] = cfg
}

// Load implements Provider. It returns a copy so callers cannot mutate the
// stored configuration.
func (p *StaticProvider) Load(_ context.Context, tenantID string) (*model.TenantConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[tenantID]
	if !ok {
		return nil, ErrUnknownTenant
	}
	return &cfg, nil
}

// RequireGateway loads cfg and fails with ErrNotConfigured when the gateway
// credentials are incomplete.
func RequireGateway(ctx context.Context, p Provider, tenantID string) (*model.TenantConfig, error) {
	cfg, err := p.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.Gateway.Complete() {
		return nil, ErrNotConfigured
	}
	return cfg, nil
}
