package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// ErrIndexNotFound is returned when a tenant has no vector collection yet.
var ErrIndexNotFound = errors.New("knowledge index not found")

// Passage sources.
const (
	SourceLexical = "text_search"
	SourceVector  = "vector_search"
)

var chunkIDNamespace = uuid.MustParse("6f0e9a52-4c1b-4d55-9b7e-2f3c8a1d7e40")

// Chunk is one embedded slice of a document.
type Chunk struct {
	TenantID string
	FileName string
	Index    int
	Text     string
	Vector   []float32
}

// ID is stable for (tenant, file name, chunk index), so re-ingesting a file
// overwrites its chunks in place.
func (c Chunk) ID() string {
	return ChunkID(c.TenantID, c.FileName, c.Index)
}

// ChunkID derives the stable point id of a chunk.
func ChunkID(tenantID, fileName string, index int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(tenantID+"|"+fileName+"|"+strconv.Itoa(index))).String()
}

// Passage is a retrieved piece of text.
type Passage struct {
	Text     string  `json:"text"`
	FileName string  `json:"file_name"`
	Score    float64 `json:"score"`
	Source   string  `json:"source"`
}

// CollectionName is the per-tenant collection name.
func CollectionName(tenantID string) string {
	return "kb_" + tenantID
}

// Index stores chunk vectors, one collection per tenant.
type Index interface {
	CollectionExists(ctx context.Context, tenantID string) (bool, error)
	EnsureCollection(ctx context.Context, tenantID string, dim int) error
	Upsert(ctx context.Context, tenantID string, chunks []Chunk) error
	// Search returns ErrIndexNotFound when the tenant has no collection.
	Search(ctx context.Context, tenantID string, vector []float32, limit int) ([]Passage, error)
	DeleteFile(ctx context.Context, tenantID, fileName string) error
	FileNames(ctx context.Context, tenantID string) ([]string, error)
	Drop(ctx context.Context, tenantID string) error
}

// MemoryIndex is an in-process Index using cosine similarity.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim    int
	chunks map[string]Chunk
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memoryCollection)}
}

// CollectionExists implements Index.
func (m *MemoryIndex) CollectionExists(_ context.Context, tenantID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[CollectionName(tenantID)]
	return ok, nil
}

// EnsureCollection implements Index.
func (m *MemoryIndex) EnsureCollection(_ context.Context, tenantID string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := CollectionName(tenantID)
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = &memoryCollection{dim: dim, chunks: make(map[string]Chunk)}
	}
	return nil
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(_ context.Context, tenantID string, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[CollectionName(tenantID)]
	if !ok {
		return ErrIndexNotFound
	}
	for _, c := range chunks {
		if len(c.Vector) != col.dim {
			return errors.New("vector dimension mismatch")
		}
		col.chunks[c.ID()] = c
	}
	return nil
}

// Search implements Index.
func (m *MemoryIndex) Search(_ context.Context, tenantID string, vector []float32, limit int) ([]Passage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[CollectionName(tenantID)]
	if !ok {
		return nil, ErrIndexNotFound
	}

	type scored struct {
		id string
		c  Chunk
		s  float64
	}
	results := make([]scored, 0, len(col.chunks))
	for id, c := range col.chunks {
		results = append(results, scored{id: id, c: c, s: cosine(vector, c.Vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].s == results[j].s {
			return results[i].id < results[j].id
		}
		return results[i].s > results[j].s
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]Passage, len(results))
	for i, r := range results {
		out[i] = Passage{Text: r.c.Text, FileName: r.c.FileName, Score: r.s, Source: SourceVector}
	}
	return out, nil
}

// DeleteFile implements Index.
func (m *MemoryIndex) DeleteFile(_ context.Context, tenantID, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.collections[CollectionName(tenantID)]
	if !ok {
		return nil
	}
	for id, c := range col.chunks {
		if c.FileName == fileName {
			delete(col.chunks, id)
		}
	}
	return nil
}

// FileNames implements Index.
func (m *MemoryIndex) FileNames(_ context.Context, tenantID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, ok := m.collections[CollectionName(tenantID)]
	if !ok {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, c := range col.chunks {
		seen[c.FileName] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// Drop implements Index.
func (m *MemoryIndex) Drop(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, CollectionName(tenantID))
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
