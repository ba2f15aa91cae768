// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookEventsTotal counts gateway events by how they were handled.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Gateway webhook events by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// RepliesTotal counts replies by the state machine branch that produced them.
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replies_total",
			Help: "Replies sent by routing branch",
		},
		[]string{"tenant_id", "branch"},
	)

	// ReplyLatency tracks time from inbound message to reply.
	ReplyLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reply_latency_seconds",
			Help:    "Time between an inbound message and its reply",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"branch"},
	)

	// PipelineDuration tracks retrieval-augmented answers by outcome.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_pipeline_duration_seconds",
			Help:    "Retrieval-augmented answer duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
		[]string{"outcome"},
	)

	// LLMDuration tracks LLM completion duration.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// GatewaySendsTotal counts outbound gateway calls.
	GatewaySendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sends_total",
			Help: "Outbound gateway calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	// ChunksIngestedTotal counts knowledge chunks written to the index.
	ChunksIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "knowledge_chunks_ingested_total",
			Help: "Knowledge chunks embedded and indexed",
		},
		[]string{"tenant_id"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks stored messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages stored",
		},
		[]string{"tenant_id", "direction"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordWebhook records the outcome of one webhook event.
func RecordWebhook(tenantID, outcome string) {
	WebhookEventsTotal.WithLabelValues(tenantID, outcome).Inc()
}

// RecordReply records a reply and its latency.
func RecordReply(tenantID, branch string, latency float64) {
	RepliesTotal.WithLabelValues(tenantID, branch).Inc()
	ReplyLatency.WithLabelValues(branch).Observe(latency)
}

// RecordPipeline records one retrieval-augmented answer.
func RecordPipeline(outcome string, duration float64) {
	PipelineDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordLLM records metrics for an LLM completion.
func RecordLLM(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordGatewaySend records an outbound gateway call.
func RecordGatewaySend(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	GatewaySendsTotal.WithLabelValues(operation, status).Inc()
}
