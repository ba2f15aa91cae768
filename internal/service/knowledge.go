package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

// KnowledgeList is what a tenant has uploaded and what is searchable.
type KnowledgeList struct {
	Files      []knowledge.FileInfo `json:"files"`
	Vectorized []string             `json:"vectorized_files"`
}

// KnowledgeService administers a tenant's knowledge base.
type KnowledgeService struct {
	tenants  tenant.Provider
	ingestor *knowledge.Ingestor
	docs     knowledge.DocumentStore
	index    knowledge.Index
	logger   *logger.Logger
}

// NewKnowledgeService creates a new knowledge service.
func NewKnowledgeService(tenants tenant.Provider, ingestor *knowledge.Ingestor, docs knowledge.DocumentStore, index knowledge.Index, log *logger.Logger) *KnowledgeService {
	return &KnowledgeService{
		tenants:  tenants,
		ingestor: ingestor,
		docs:     docs,
		index:    index,
		logger:   log.Named("knowledge"),
	}
}

// Upload indexes a document and then stores it, returning the number of chunks.
// A document that cannot be indexed is not kept, and an earlier upload under
// the same name stays in place.
func (s *KnowledgeService) Upload(ctx context.Context, tenantID, fileName string, raw []byte) (int, error) {
	if err := knowledge.ValidateFileName(fileName); err != nil {
		return 0, err
	}
	ft, err := knowledge.FileTypeOf(fileName)
	if err != nil {
		return 0, err
	}
	cfg, err := s.tenants.Load(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	n, err := s.ingestor.Ingest(ctx, tenantID, fileName, raw, ft, cfg.RAG)
	if err != nil {
		return 0, err
	}

	if err := s.docs.Save(ctx, tenantID, fileName, raw); err != nil {
		if derr := s.index.DeleteFile(context.WithoutCancel(ctx), tenantID, fileName); derr != nil {
			s.logger.Warn("failed to remove vectors after store error",
				zap.String("tenant_id", tenantID),
				zap.String("file_name", fileName),
				zap.Error(derr),
			)
		}
		return 0, fmt.Errorf("store document: %w", err)
	}
	return n, nil
}

// List returns stored files and the file names present in the index.
func (s *KnowledgeService) List(ctx context.Context, tenantID string) (*KnowledgeList, error) {
	files, err := s.docs.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	names, err := s.index.FileNames(ctx, tenantID)
	if err != nil && !errors.Is(err, knowledge.ErrIndexNotFound) {
		return nil, fmt.Errorf("list indexed files: %w", err)
	}
	if files == nil {
		files = []knowledge.FileInfo{}
	}
	if names == nil {
		names = []string{}
	}
	return &KnowledgeList{Files: files, Vectorized: names}, nil
}

// Delete removes one document together with its vectors.
func (s *KnowledgeService) Delete(ctx context.Context, tenantID, fileName string) error {
	if err := knowledge.ValidateFileName(fileName); err != nil {
		return err
	}
	if err := s.index.DeleteFile(ctx, tenantID, fileName); err != nil && !errors.Is(err, knowledge.ErrIndexNotFound) {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := s.docs.Delete(ctx, tenantID, fileName); err != nil {
		return err
	}
	s.logger.Info("document deleted", zap.String("tenant_id", tenantID), zap.String("file_name", fileName))
	return nil
}

// Clear removes every document and the tenant's whole collection.
func (s *KnowledgeService) Clear(ctx context.Context, tenantID string) error {
	if err := s.index.Drop(ctx, tenantID); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if err := s.docs.Clear(ctx, tenantID); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	s.logger.Info("knowledge base cleared", zap.String("tenant_id", tenantID))
	return nil
}
