package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/middleware"
	"github.com/capitalize-ai/messaging-agent/internal/service"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

// KnowledgeHandler administers a tenant's knowledge base.
type KnowledgeHandler struct {
	service       *service.KnowledgeService
	maxUploadSize int64
	logger        *logger.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(svc *service.KnowledgeService, maxUploadSize int64, log *logger.Logger) *KnowledgeHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = 20 << 20
	}
	return &KnowledgeHandler{service: svc, maxUploadSize: maxUploadSize, logger: log}
}

// Upload handles POST /api/v1/knowledge with a multipart "file" field.
func (h *KnowledgeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if err := middleware.ValidateFileName(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if header.Size > h.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	chunks, err := h.service.Upload(ctx, tenantID, header.Filename, raw)
	switch {
	case errors.Is(err, knowledge.ErrEmptyDocument), errors.Is(err, knowledge.ErrUnsupportedFileType), errors.Is(err, knowledge.ErrInvalidFileName):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, tenant.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	case err != nil:
		h.logger.Error("failed to ingest document",
			zap.String("tenant_id", tenantID),
			zap.String("file_name", header.Filename),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to index document")
		return
	}

	h.logger.Info("document uploaded",
		zap.String("tenant_id", tenantID),
		zap.String("user_id", middleware.GetUserID(ctx)),
		zap.String("file_name", header.Filename),
		zap.Int("chunks", chunks),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"filename":     header.Filename,
		"chunks_count": chunks,
	})
}

// List handles GET /api/v1/knowledge
func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	list, err := h.service.List(ctx, tenantID)
	if err != nil {
		h.logger.Error("failed to list knowledge", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Delete handles DELETE /api/v1/knowledge/{fileName}
func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	fileName := chi.URLParam(r, "fileName")

	err := h.service.Delete(ctx, tenantID, fileName)
	switch {
	case errors.Is(err, knowledge.ErrInvalidFileName):
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	case errors.Is(err, knowledge.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return
	case err != nil:
		h.logger.Error("failed to delete document", zap.String("tenant_id", tenantID), zap.String("file_name", fileName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles DELETE /api/v1/knowledge
func (h *KnowledgeHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	if err := h.service.Clear(ctx, tenantID); err != nil {
		h.logger.Error("failed to clear knowledge", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear knowledge base")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
