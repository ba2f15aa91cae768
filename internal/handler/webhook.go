package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/middleware"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

// maxWebhookBody caps a gateway event. Media arrives by reference, not inline.
const maxWebhookBody = 1 << 20

// Dispatcher processes gateway events.
type Dispatcher interface {
	CheckTenant(ctx context.Context, tenantID string) error
	Handle(ctx context.Context, tenantID string, ev *model.WebhookEvent) error
}

// WebhookHandler acknowledges gateway events immediately and processes them
// in the background.
type WebhookHandler struct {
	dispatcher Dispatcher
	logger     *logger.Logger
	inflight   sync.WaitGroup
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(dispatcher Dispatcher, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, logger: log.Named("webhook")}
}

// Receive handles POST /webhooks/{tenantID}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := middleware.ValidateTenantID(tenantID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := h.dispatcher.CheckTenant(r.Context(), tenantID); {
	case errors.Is(err, tenant.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	case errors.Is(err, tenant.ErrNotConfigured):
		writeError(w, http.StatusPreconditionFailed, "gateway credentials not configured for tenant")
		return
	case err != nil:
		h.logger.Error("failed to load tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load tenant configuration")
		return
	}

	var ev model.WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}

	// The gateway retries slow deliveries, so the reply is produced after the
	// acknowledgment on a context that outlives the request.
	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("webhook processing panicked", zap.String("tenant_id", tenantID), zap.Any("panic", rec))
			}
		}()
		if err := h.dispatcher.Handle(ctx, tenantID, &ev); err != nil {
			h.logger.Warn("webhook processing failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// Drain waits for in-flight events until ctx is done.
func (h *WebhookHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
