package rag

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
	"github.com/capitalize-ai/messaging-agent/pkg/tracing"
)

// DefaultTimeout bounds a whole answer, generation included.
const DefaultTimeout = 120 * time.Second

// Outcome classifies how an answer was produced.
type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeNoContext Outcome = "no_context"
	OutcomeDegraded  Outcome = "degraded"
)

// Result is the text to send plus how it came about. Err is set for degraded
// answers and is informational only.
type Result struct {
	Text     string
	Outcome  Outcome
	Passages int
	Err      error
}

// Retriever finds passages relevant to a question.
type Retriever interface {
	Search(ctx context.Context, tenantID, question string, limit int) ([]knowledge.Passage, error)
}

// Generator writes an answer from passages.
type Generator interface {
	Synthesize(ctx context.Context, question string, passages []knowledge.Passage, params model.AIParams) (string, error)
}

// Pipeline composes retrieval and synthesis behind a single timeout.
type Pipeline struct {
	retriever Retriever
	generator Generator
	timeout   time.Duration
	log       *logger.Logger
}

// NewPipeline creates a Pipeline. A zero timeout uses DefaultTimeout.
func NewPipeline(retriever Retriever, generator Generator, timeout time.Duration, log *logger.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{retriever: retriever, generator: generator, timeout: timeout, log: log.Named("rag")}
}

// Answer never fails: upstream errors and timeouts yield a fixed text that
// points the contact to a human.
func (p *Pipeline) Answer(ctx context.Context, tenantID, question string, cfg *model.TenantConfig) Result {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "rag.answer", attribute.String("tenant_id", tenantID))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Text: AnswerFailed, Outcome: OutcomeDegraded, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- p.answer(ctx, tenantID, question, cfg)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Text: AnswerFailed, Outcome: OutcomeDegraded, Err: fmt.Errorf("answer: %w", ctx.Err())}
	}

	elapsed := time.Since(start)
	metrics.RecordPipeline(string(res.Outcome), elapsed.Seconds())
	span.SetAttributes(
		attribute.String("rag.outcome", string(res.Outcome)),
		attribute.Int("rag.passages", res.Passages),
	)
	tracing.RecordError(span, res.Err)

	fields := []zap.Field{
		zap.String("tenant_id", tenantID),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("passages", res.Passages),
		zap.Duration("elapsed", elapsed),
	}
	if res.Err != nil {
		p.log.Warn("answer degraded", append(fields, zap.Error(res.Err))...)
	} else {
		p.log.Info("answer ready", fields...)
	}
	return res
}

func (p *Pipeline) answer(ctx context.Context, tenantID, question string, cfg *model.TenantConfig) Result {
	var (
		params model.AIParams
		limit  int
	)
	if cfg != nil {
		params = cfg.AI
		limit = cfg.RAG.SearchLimit
	}

	passages, err := p.retriever.Search(ctx, tenantID, question, limit)
	if err != nil {
		return Result{Text: AnswerFailed, Outcome: OutcomeDegraded, Err: err}
	}
	if len(passages) == 0 {
		return Result{Text: NoInformation, Outcome: OutcomeNoContext}
	}

	text, err := p.generator.Synthesize(ctx, question, passages, params)
	if err != nil {
		return Result{Text: AnswerFailed, Outcome: OutcomeDegraded, Passages: len(passages), Err: err}
	}
	return Result{Text: text, Outcome: OutcomeAnswered, Passages: len(passages)}
}
