package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/llm"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
)

// ErrEmptyDocument is returned when a document yields no text.
var ErrEmptyDocument = errors.New("document has no extractable text")

const embedBatchSize = 16

// Ingestor extracts, chunks, embeds and indexes documents.
type Ingestor struct {
	embedder     llm.Embedder
	index        Index
	docs         DocumentStore
	embedTimeout time.Duration
	log          *logger.Logger
}

// NewIngestor creates an Ingestor. docs may be nil, in which case extracted
// text is not cached for lexical search.
func NewIngestor(embedder llm.Embedder, index Index, docs DocumentStore, embedTimeout time.Duration, log *logger.Logger) *Ingestor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Ingestor{
		embedder:     embedder,
		index:        index,
		docs:         docs,
		embedTimeout: embedTimeout,
		log:          log.Named("ingest"),
	}
}

// Ingest indexes one document and returns the number of chunks written.
// Vectors from an earlier upload of the same file are removed first.
func (in *Ingestor) Ingest(ctx context.Context, tenantID, fileName string, raw []byte, ft FileType, params model.RAGParams) (int, error) {
	text, err := ExtractText(raw, ft)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyDocument
	}

	pieces := NewSplitter(params.ChunkSize, params.ChunkOverlap).Split(text)
	if len(pieces) == 0 {
		return 0, ErrEmptyDocument
	}

	vectors, err := in.embed(ctx, pieces)
	if err != nil {
		return 0, err
	}

	if err := in.index.EnsureCollection(ctx, tenantID, len(vectors[0])); err != nil {
		return 0, fmt.Errorf("ensure collection: %w", err)
	}
	if err := in.index.DeleteFile(ctx, tenantID, fileName); err != nil {
		return 0, fmt.Errorf("remove previous vectors: %w", err)
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = Chunk{TenantID: tenantID, FileName: fileName, Index: i, Text: p, Vector: vectors[i]}
	}
	if err := in.index.Upsert(ctx, tenantID, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}

	if in.docs != nil {
		if err := in.docs.SaveText(ctx, tenantID, fileName, text); err != nil {
			in.log.Warn("cache extracted text failed",
				zap.String("tenant_id", tenantID),
				zap.String("file_name", fileName),
				zap.Error(err),
			)
		}
	}

	metrics.ChunksIngestedTotal.WithLabelValues(tenantID).Add(float64(len(chunks)))
	in.log.Info("document ingested",
		zap.String("tenant_id", tenantID),
		zap.String("file_name", fileName),
		zap.Int("chunks", len(chunks)),
		zap.Int("dimensions", len(vectors[0])),
	)
	return len(chunks), nil
}

func (in *Ingestor) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := in.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	dim := len(out[0])
	if dim == 0 {
		return nil, errors.New("embedding service returned empty vectors")
	}
	for i, v := range out {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), dim)
		}
	}
	return out, nil
}

func (in *Ingestor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if in.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.embedTimeout)
		defer cancel()
	}
	vecs, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}
