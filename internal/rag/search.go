// Package rag answers free-form questions from a tenant's knowledge base.
package rag

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/llm"
	"github.com/capitalize-ai/messaging-agent/internal/textnorm"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

const (
	// DefaultSearchLimit is the number of passages kept when a tenant sets none.
	DefaultSearchLimit = 5

	maxSpecificWords = 10
	lexicalEnough    = 3
	dedupPrefixRunes = 100
)

var specificMarkers = []string{
	"qual", "quais", "como", "onde", "quando", "quanto", "quem",
	"mostre", "liste", "busque", "encontre", "procure",
}

// IsSpecific reports whether a question is short and carries an
// interrogative or imperative marker, which makes a verbatim text scan worth
// trying before embedding it.
func IsSpecific(question string) bool {
	if len(strings.Fields(question)) > maxSpecificWords {
		return false
	}
	folded := textnorm.Normalize(question)
	for _, m := range specificMarkers {
		if strings.Contains(folded, m) {
			return true
		}
	}
	return false
}

// Searcher runs the hybrid lexical and vector search.
type Searcher struct {
	embedder      llm.Embedder
	index         knowledge.Index
	docs          knowledge.DocumentStore
	embedTimeout  time.Duration
	searchTimeout time.Duration
	log           *logger.Logger
}

// SearcherOptions bound the network calls made by a Searcher.
type SearcherOptions struct {
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// NewSearcher creates a Searcher. docs may be nil to disable the lexical pass.
func NewSearcher(embedder llm.Embedder, index knowledge.Index, docs knowledge.DocumentStore, opts SearcherOptions, log *logger.Logger) *Searcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Searcher{
		embedder:      embedder,
		index:         index,
		docs:          docs,
		embedTimeout:  opts.EmbedTimeout,
		searchTimeout: opts.SearchTimeout,
		log:           log.Named("search"),
	}
}

// Search returns up to limit passages for question. Lexical hits come first.
// An error is returned only when the vector pass fails and the lexical pass
// found nothing to fall back on.
func (s *Searcher) Search(ctx context.Context, tenantID, question string, limit int) ([]knowledge.Passage, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var lexical []knowledge.Passage
	if s.docs != nil && IsSpecific(question) {
		docs, err := s.docs.Texts(ctx, tenantID)
		if err != nil {
			s.log.Warn("lexical search skipped", zap.String("tenant_id", tenantID), zap.Error(err))
		} else {
			lexical = knowledge.SearchDocuments(docs, question)
		}
		if len(lexical) >= lexicalEnough {
			return lexical, nil
		}
	}

	vector, err := s.vectorSearch(ctx, tenantID, question, limit)
	if errors.Is(err, knowledge.ErrIndexNotFound) {
		return lexical, nil
	}
	if err != nil {
		if len(lexical) > 0 {
			s.log.Warn("vector search failed, using text matches",
				zap.String("tenant_id", tenantID),
				zap.Int("text_matches", len(lexical)),
				zap.Error(err),
			)
			return lexical, nil
		}
		return nil, err
	}
	return Merge(lexical, vector, limit), nil
}

func (s *Searcher) vectorSearch(ctx context.Context, tenantID, question string, limit int) ([]knowledge.Passage, error) {
	exists, err := s.index.CollectionExists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		return nil, knowledge.ErrIndexNotFound
	}

	embedCtx, cancel := withTimeout(ctx, s.embedTimeout)
	vecs, err := s.embedder.Embed(embedCtx, []string{question})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("embed question: empty vector")
	}

	searchCtx, cancel := withTimeout(ctx, s.searchTimeout)
	defer cancel()
	passages, err := s.index.Search(searchCtx, tenantID, vecs[0], limit)
	if err != nil {
		if errors.Is(err, knowledge.ErrIndexNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return passages, nil
}

// Merge concatenates lexical and vector passages, dropping any passage whose
// first hundred characters were already seen, and keeps at most limit.
func Merge(lexical, vector []knowledge.Passage, limit int) []knowledge.Passage {
	seen := make(map[[sha256.Size]byte]struct{}, len(lexical)+len(vector))
	out := make([]knowledge.Passage, 0, len(lexical)+len(vector))
	for _, group := range [][]knowledge.Passage{lexical, vector} {
		for _, p := range group {
			key := sha256.Sum256([]byte(prefixRunes(p.Text, dedupPrefixRunes)))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
