package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/internal/engine"
	"github.com/capitalize-ai/messaging-agent/internal/gateway"
	"github.com/capitalize-ai/messaging-agent/internal/lock"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/rag"
	"github.com/capitalize-ai/messaging-agent/internal/store"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
	"github.com/capitalize-ai/messaging-agent/pkg/tracing"
)

// Webhook outcomes, as recorded in metrics.
const (
	OutcomeIgnored   = "ignored"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
)

// DefaultEventMaxAge is how old an event may be and still be answered.
const DefaultEventMaxAge = 24 * time.Hour

// Answerer answers free-form questions from the tenant's knowledge base.
type Answerer interface {
	Answer(ctx context.Context, tenantID, question string, cfg *model.TenantConfig) rag.Result
}

// DispatcherOptions tune the dispatcher. Zero values use defaults.
type DispatcherOptions struct {
	EventMaxAge   time.Duration
	PresenceDelay time.Duration
}

// Dispatcher turns one gateway webhook event into at most one reply.
type Dispatcher struct {
	tenants       tenant.Provider
	conversations *ConversationService
	messages      *MessageService
	router        *engine.Router
	sender        gateway.Sender
	answerer      Answerer
	locker        lock.Locker
	publisher     Publisher
	opts          DispatcherOptions
	now           func() time.Time
	logger        *logger.Logger
}

// NewDispatcher wires a dispatcher. answerer may be nil when no tenant has
// AI enabled; AI tenants then get a fixed "unavailable" text.
func NewDispatcher(
	tenants tenant.Provider,
	conversations *ConversationService,
	messages *MessageService,
	sender gateway.Sender,
	answerer Answerer,
	locker lock.Locker,
	publisher Publisher,
	opts DispatcherOptions,
	log *logger.Logger,
) *Dispatcher {
	if opts.EventMaxAge <= 0 {
		opts.EventMaxAge = DefaultEventMaxAge
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Dispatcher{
		tenants:       tenants,
		conversations: conversations,
		messages:      messages,
		router:        engine.NewRouter(),
		sender:        sender,
		answerer:      answerer,
		locker:        locker,
		publisher:     publisher,
		opts:          opts,
		now:           time.Now,
		logger:        log.Named("dispatcher"),
	}
}

// WithClock replaces the dispatcher's clock, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	d.router = d.router.WithClock(now)
	return d
}

// CheckTenant fails fast when the tenant cannot be served, before the event
// is acknowledged.
func (d *Dispatcher) CheckTenant(ctx context.Context, tenantID string) error {
	_, err := tenant.RequireGateway(ctx, d.tenants, tenantID)
	return err
}

// outgoing is the reply about to be sent.
type outgoing struct {
	branch engine.Branch
	text   string
	menu   *engine.MenuView
	next   model.ConversationContext
	// escalate moves the conversation to a human after sending.
	escalate bool
}

// Handle processes one webhook event. Duplicates replay the earlier reply
// and never reach the router. Malformed, foreign and stale events are
// skipped without error.
func (d *Dispatcher) Handle(ctx context.Context, tenantID string, ev *model.WebhookEvent) error {
	receivedAt := d.now()
	ctx, span := tracing.StartSpan(ctx, "dispatcher.handle", attribute.String("tenant_id", tenantID))
	defer span.End()

	cfg, err := tenant.RequireGateway(ctx, d.tenants, tenantID)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordWebhook(tenantID, OutcomeFailed)
		return err
	}

	contactID := ev.ContactID()
	log := d.logger.ForContact(tenantID, contactID, ev.Data.Key.ID)

	if reason := skipReason(ev); reason != "" {
		log.Debug("event ignored", zap.String("reason", reason), zap.String("event", ev.Event))
		metrics.RecordWebhook(tenantID, OutcomeIgnored)
		return nil
	}
	if ts := ev.Data.MessageTimestamp.Time(); !ts.IsZero() && receivedAt.Sub(ts) > d.opts.EventMaxAge {
		log.Info("stale event ignored", zap.Time("message_time", ts))
		metrics.RecordWebhook(tenantID, OutcomeStale)
		return nil
	}

	key := "conversation:" + tenantID + ":" + contactID
	outcome := OutcomeProcessed
	err = d.locker.WithLock(ctx, key, func(ctx context.Context) error {
		replayed, err := d.process(ctx, cfg, ev, receivedAt, log)
		if replayed {
			outcome = OutcomeDuplicate
		}
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordWebhook(tenantID, OutcomeFailed)
		log.Error("event failed", zap.Error(err))
		return err
	}

	metrics.RecordWebhook(tenantID, outcome)
	log.Info("event handled", zap.String("outcome", outcome), zap.Duration("duration", d.now().Sub(receivedAt)))
	return nil
}

func skipReason(ev *model.WebhookEvent) string {
	switch {
	case !ev.IsMessageEvent():
		return "unhandled event type"
	case ev.Data.Key.FromMe:
		return "sent by the bot"
	case ev.ContactID() == "":
		return "missing contact"
	case ev.Text() == "":
		return "missing text"
	}
	return ""
}

// process runs under the conversation lock.
func (d *Dispatcher) process(ctx context.Context, cfg *model.TenantConfig, ev *model.WebhookEvent, receivedAt time.Time, log *logger.Logger) (replayed bool, err error) {
	contactID := ev.ContactID()

	if key := ev.Data.Key.ID; key != "" {
		prior, err := d.messages.FindByKey(ctx, cfg.TenantID, key)
		switch {
		case err == nil:
			return true, d.replay(ctx, cfg, contactID, prior, log)
		case !errors.Is(err, store.ErrNotFound):
			return false, err
		}
	}

	conv, created, err := d.conversations.Open(ctx, cfg.TenantID, contactID, ev.Data.PushName, receivedAt)
	if err != nil {
		return false, fmt.Errorf("open conversation: %w", err)
	}
	lastActivity := conv.LastActivityAt

	_, err = d.messages.RecordInbound(ctx, conv, ev, receivedAt)
	if errors.Is(err, store.ErrDuplicateMessage) {
		// Stored by another replica after the lookup above.
		prior, ferr := d.messages.FindByKey(ctx, cfg.TenantID, ev.Data.Key.ID)
		if ferr != nil {
			return true, ferr
		}
		return true, d.replay(ctx, cfg, contactID, prior, log)
	}
	if err != nil {
		return false, fmt.Errorf("record inbound: %w", err)
	}
	conv.RecordInbound(receivedAt)

	welcome := noWelcome
	switch {
	case created:
		welcome = firstWelcome
	case engine.ShouldReGreet(lastActivity, receivedAt, reGreetThreshold(cfg)):
		welcome = returnWelcome
	}
	if welcome != noWelcome {
		conv.Context = model.ConversationContext{}
	}

	out := d.decide(ctx, cfg, conv, ev.Text(), welcome, receivedAt, log)

	delivered := d.send(ctx, cfg, contactID, out, log)
	if !delivered {
		d.publish(ctx, newEvent(conv, model.EventTypeDeliveryFailed, "gateway send failed", nil), log)
	}

	sentAt := d.now()
	seconds := sentAt.Sub(receivedAt).Seconds()
	if _, err := d.messages.RecordOutbound(ctx, conv, Outbound{
		Content:         out.text,
		Delivered:       delivered,
		ResponseSeconds: &seconds,
		At:              sentAt,
	}); err != nil {
		return false, fmt.Errorf("record outbound: %w", err)
	}

	conv.RecordReply(seconds, sentAt)
	conv.Context = out.next
	if out.escalate {
		conv.Status = model.StatusAwaitingHuman
	}
	if err := d.conversations.Save(ctx, conv); err != nil {
		return false, fmt.Errorf("save conversation: %w", err)
	}

	if out.escalate {
		d.notifyAttendants(ctx, cfg, conv, sentAt, log)
		d.publish(ctx, newEvent(conv, model.EventTypeEscalated, "contact asked for a human", map[string]any{
			"attendants": len(cfg.Attendants),
		}), log)
	}

	metrics.RecordReply(cfg.TenantID, string(out.branch), seconds)
	log.Info("reply sent",
		zap.String("conversation_id", conv.ID),
		zap.String("branch", string(out.branch)),
		zap.Bool("welcome", welcome != noWelcome),
		zap.Bool("delivered", delivered),
		zap.Float64("response_seconds", seconds),
	)
	return false, nil
}

func reGreetThreshold(cfg *model.TenantConfig) time.Duration {
	if cfg.ReGreetAfter == 0 {
		return engine.DefaultReGreetAfter
	}
	return cfg.ReGreetAfter
}

// welcomeKind tells decide whether the reply opens a conversation.
type welcomeKind int

const (
	noWelcome welcomeKind = iota
	firstWelcome
	returnWelcome
)

// decide picks the reply for a fresh inbound message. A menu tenant's first
// message gets the welcome menu; a returning contact's input is still routed,
// behind a greeting.
func (d *Dispatcher) decide(ctx context.Context, cfg *model.TenantConfig, conv *model.Conversation, text string, welcome welcomeKind, at time.Time, log *logger.Logger) outgoing {
	if welcome == firstWelcome && !cfg.Plan.HasAI() {
		w := engine.Welcome(cfg, conv.ContactName, at)
		return outgoing{branch: engine.BranchWelcome, text: w.Text, menu: w.Menu}
	}

	decision := d.router.Route(conv.Context, cfg, text)
	out := outgoing{branch: decision.Branch, next: decision.Context}

	switch r := decision.Reply.(type) {
	case engine.StaticText:
		out.text, out.menu = r.Text, r.Menu
	case engine.EscalateToHuman:
		out.text = r.Hold
		out.escalate = true
	case engine.DelegateToAI:
		out.text = d.answer(ctx, cfg, conv, r.Question, log)
	}

	if welcome != noWelcome && decision.Branch != engine.BranchGreeting {
		intro := engine.WelcomeIntro(cfg)
		if !cfg.Plan.HasAI() {
			intro = engine.ReturnIntro(cfg, conv.ContactName, at)
		}
		out.text = engine.PrefixWelcome(intro, out.text)
		if out.menu != nil {
			view := *out.menu
			if view.Intro == "" {
				view.Intro = intro
			} else {
				view.Intro = engine.PrefixWelcome(intro, view.Intro)
			}
			out.menu = &view
		}
	}
	return out
}

func (d *Dispatcher) answer(ctx context.Context, cfg *model.TenantConfig, conv *model.Conversation, question string, log *logger.Logger) string {
	if d.answerer == nil {
		return engine.AIUnavailable
	}

	if d.opts.PresenceDelay > 0 {
		if err := d.sender.SendPresence(ctx, cfg.Gateway, conv.ContactID, gateway.PresenceComposing, d.opts.PresenceDelay); err != nil {
			log.Debug("presence not sent", zap.Error(err))
		}
	}

	res := d.answerer.Answer(ctx, cfg.TenantID, question, cfg)

	if d.opts.PresenceDelay > 0 {
		if err := d.sender.SendPresence(ctx, cfg.Gateway, conv.ContactID, gateway.PresencePaused, 0); err != nil {
			log.Debug("presence not cleared", zap.Error(err))
		}
	}
	if res.Outcome == rag.OutcomeDegraded {
		reason := "answer unavailable"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		d.publish(ctx, newEvent(conv, model.EventTypeAIDegraded, reason, nil), log)
	}
	return res.Text
}

// send delivers out, preferring reply buttons or an interactive list for
// menus when the tenant enables it and falling back to text.
func (d *Dispatcher) send(ctx context.Context, cfg *model.TenantConfig, to string, out outgoing, log *logger.Logger) bool {
	if cfg.InteractiveMenu && out.menu != nil {
		err := d.sendMenu(ctx, cfg, to, *out.menu)
		if err == nil {
			return true
		}
		log.Warn("interactive menu failed, sending text", zap.Error(err))
	}
	if err := d.sender.SendText(ctx, cfg.Gateway, to, out.text); err != nil {
		log.Warn("failed to send reply", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) sendMenu(ctx context.Context, cfg *model.TenantConfig, to string, v engine.MenuView) error {
	if n := len(v.Items); n > 0 && n <= gateway.MaxButtons {
		buttons := make([]gateway.Button, n)
		for i, it := range v.Items {
			buttons[i] = gateway.Button{ID: it.Number, Text: it.Title}
		}
		return d.sender.SendButtons(ctx, cfg.Gateway, to, v.Title, menuDescription(v), v.Footer, buttons)
	}
	return d.sender.SendList(ctx, cfg.Gateway, to, menuList(v))
}

func menuDescription(v engine.MenuView) string {
	if v.Intro == "" {
		return "Escolha uma das opções abaixo."
	}
	return v.Intro
}

func menuList(v engine.MenuView) gateway.List {
	rows := make([]gateway.ListRow, len(v.Items))
	for i, it := range v.Items {
		rows[i] = gateway.ListRow{ID: it.Number, Title: it.Title, Description: it.Description}
	}
	return gateway.List{
		Title:       v.Title,
		Description: menuDescription(v),
		ButtonText:  "Ver opções",
		FooterText:  v.Footer,
		SectionName: v.Title,
		Rows:        rows,
	}
}

// replay re-sends the reply that followed prior, verbatim.
func (d *Dispatcher) replay(ctx context.Context, cfg *model.TenantConfig, to string, prior *model.Message, log *logger.Logger) error {
	reply, err := d.messages.ReplyTo(ctx, prior)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("duplicate event without a stored reply", zap.String("conversation_id", prior.ConversationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("find reply: %w", err)
	}

	if err := d.sender.SendText(ctx, cfg.Gateway, to, reply.Content); err != nil {
		log.Warn("failed to replay reply", zap.Error(err))
	}

	conv := &model.Conversation{ID: prior.ConversationID, TenantID: prior.TenantID}
	d.publish(ctx, newEvent(conv, model.EventTypeDuplicateReplayed, "duplicate webhook delivery", map[string]any{
		"reply_id": reply.ID,
	}), log)
	log.Info("duplicate event replayed", zap.String("conversation_id", prior.ConversationID), zap.String("reply_id", reply.ID))
	return nil
}

func (d *Dispatcher) notifyAttendants(ctx context.Context, cfg *model.TenantConfig, conv *model.Conversation, at time.Time, log *logger.Logger) {
	alert := engine.AttendantAlert(conv.ContactName, conv.ContactID, conv.ID, at.In(cfg.Location()))
	for _, attendant := range cfg.Attendants {
		if err := d.sender.SendText(ctx, cfg.Gateway, attendant, alert); err != nil {
			log.Warn("failed to notify attendant", zap.String("attendant", attendant), zap.Error(err))
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, event *model.ConversationEvent, log *logger.Logger) {
	if err := d.publisher.PublishEvent(ctx, event); err != nil {
		log.Warn("failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
