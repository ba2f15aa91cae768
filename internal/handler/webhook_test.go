package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	checkErr error
	handled  []*model.WebhookEvent
	block    chan struct{}
}

func (f *fakeDispatcher) CheckTenant(context.Context, string) error {
	return f.checkErr
}

func (f *fakeDispatcher) Handle(ctx context.Context, _ string, ev *model.WebhookEvent) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, ev)
	return ctx.Err()
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

func webhookRouter(h *WebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{tenantID}", h.Receive)
	return r
}

const upsertBody = `{
	"event": "messages.upsert",
	"instance": "loja",
	"data": {
		"key": {"id": "ABC123", "remoteJid": "5565988887777@s.whatsapp.net", "fromMe": false},
		"pushName": "Maria",
		"messageType": "conversation",
		"message": {"conversation": "Oi"},
		"messageTimestamp": "1709544600"
	}
}`

func TestWebhookAcknowledgesAndDispatches(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewWebhookHandler(d, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/loja", strings.NewReader(upsertBody))
	rec := httptest.NewRecorder()
	webhookRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"received"}`, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Drain(ctx))
	require.Equal(t, 1, d.count())
	ev := d.handled[0]
	assert.Equal(t, "ABC123", ev.Data.Key.ID)
	assert.Equal(t, "5565988887777", ev.ContactID())
	assert.Equal(t, "Oi", ev.Text())
	assert.Equal(t, int64(1709544600), int64(ev.Data.MessageTimestamp))
}

func TestWebhookProcessingOutlivesRequest(t *testing.T) {
	d := &fakeDispatcher{block: make(chan struct{})}
	h := NewWebhookHandler(d, logger.NewNop())

	ctx, cancelReq := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/loja", strings.NewReader(upsertBody)).WithContext(ctx)
	rec := httptest.NewRecorder()
	webhookRouter(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	cancelReq()

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Drain(short), context.DeadlineExceeded)

	close(d.block)
	require.NoError(t, h.Drain(context.Background()))
	assert.Equal(t, 1, d.count())
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name     string
		tenantID string
		checkErr error
		body     string
		want     int
	}{
		{"not configured", "loja", tenant.ErrNotConfigured, upsertBody, http.StatusPreconditionFailed},
		{"unknown tenant", "outra", tenant.ErrUnknownTenant, upsertBody, http.StatusNotFound},
		{"invalid tenant id", "loja.x", nil, upsertBody, http.StatusBadRequest},
		{"invalid json", "loja", nil, `{"event":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{checkErr: tt.checkErr}
			h := NewWebhookHandler(d, logger.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/webhooks/"+tt.tenantID, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			webhookRouter(h).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			require.NoError(t, h.Drain(context.Background()))
			assert.Zero(t, d.count())
		})
	}
}
