package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/messaging-agent/internal/engine"
	"github.com/capitalize-ai/messaging-agent/internal/gateway"
	"github.com/capitalize-ai/messaging-agent/internal/lock"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/rag"
	"github.com/capitalize-ai/messaging-agent/internal/store"
	"github.com/capitalize-ai/messaging-agent/internal/tenant"
	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

const (
	contact   = "5565988887777"
	attendant = "5565999990000"
)

type sentText struct {
	to   string
	text string
}

type fakeSender struct {
	mu        sync.Mutex
	texts     []sentText
	lists     []gateway.List
	buttons   [][]gateway.Button
	presences []string
	failText  bool
	failList  bool
}

func (f *fakeSender) SendText(_ context.Context, _ model.GatewayCredentials, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText {
		return errors.New("gateway down")
	}
	f.texts = append(f.texts, sentText{to: to, text: text})
	return nil
}

func (f *fakeSender) SendList(_ context.Context, _ model.GatewayCredentials, _ string, list gateway.List) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return errors.New("lists disabled")
	}
	f.lists = append(f.lists, list)
	return nil
}

func (f *fakeSender) SendButtons(_ context.Context, _ model.GatewayCredentials, _, _, _, _ string, buttons []gateway.Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return errors.New("buttons disabled")
	}
	f.buttons = append(f.buttons, buttons)
	return nil
}

func (f *fakeSender) SendPresence(_ context.Context, _ model.GatewayCredentials, _, presence string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, presence)
	return nil
}

func (f *fakeSender) textsTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.texts {
		if s.to == to {
			out = append(out, s.text)
		}
	}
	return out
}

type fakeAnswerer struct {
	mu     sync.Mutex
	calls  int
	result rag.Result
}

func (f *fakeAnswerer) Answer(context.Context, string, string, *model.TenantConfig) rag.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type fakePublisher struct {
	mu       sync.Mutex
	messages int
	events   []model.EventType
}

func (f *fakePublisher) PublishMessage(context.Context, *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages++
	return nil
}

func (f *fakePublisher) PublishEvent(_ context.Context, ev *model.ConversationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev.Type)
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store      *store.Store
	sender     *fakeSender
	publisher  *fakePublisher
	tenants    *tenant.StaticProvider
	clock      *clock
	dispatcher *Dispatcher
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open(store.Config{
		Driver:   "sqlite",
		DSN:      fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background(), db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.New(db)
}

func menuTenant() model.TenantConfig {
	return model.TenantConfig{
		TenantID:   "loja",
		Name:       "Loja Exemplo",
		Plan:       model.PlanMenu,
		Gateway:    model.GatewayCredentials{BaseURL: "http://gateway", APIKey: "key", Instance: "loja"},
		Attendants: []string{attendant},
		Menu: model.MenuTree{
			{Number: "1", Title: "Horários", Action: model.StaticReply{Text: "Seg a Sex, 8h às 18h"}},
			{Number: "2", Title: "Produtos", Action: model.OpenSubmenu{Options: []model.SubOption{
				{Number: "1", Title: "Camisetas", Reply: "Camisetas a partir de R$ 50"},
				{Number: "2", Title: "Calças", Reply: "Calças a partir de R$ 90"},
			}}},
			{Number: "3", Title: "Falar com atendente", Action: model.Escalate{}},
		},
	}
}

func aiTenant() model.TenantConfig {
	cfg := menuTenant()
	cfg.Plan = model.PlanAI
	return cfg
}

func newHarness(t *testing.T, cfg model.TenantConfig, answerer Answerer) *harness {
	t.Helper()
	h := &harness{
		store:     newTestStore(t),
		sender:    &fakeSender{},
		publisher: &fakePublisher{},
		tenants:   tenant.NewStaticProvider(),
		clock:     &clock{t: time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)},
	}
	h.tenants.Set(cfg)

	log := logger.NewNop()
	h.dispatcher = NewDispatcher(
		h.tenants,
		NewConversationService(h.store, log),
		NewMessageService(h.store, h.publisher, log),
		h.sender,
		answerer,
		lock.NewLocalLocker(),
		h.publisher,
		DispatcherOptions{PresenceDelay: time.Second},
		log,
	).WithClock(h.clock.Now)
	return h
}

func textEvent(id, text string) *model.WebhookEvent {
	return contactEvent(contact, id, text)
}

func contactEvent(from, id, text string) *model.WebhookEvent {
	return &model.WebhookEvent{
		Event:    "messages.upsert",
		Instance: "loja",
		Data: model.WebhookData{
			Key:         model.WebhookKey{ID: id, RemoteJID: from + "@s.whatsapp.net"},
			PushName:    "Maria",
			MessageType: "conversation",
			Message:     &model.WebhookMessage{Conversation: text},
		},
	}
}

func (h *harness) send(t *testing.T, id, text string) {
	t.Helper()
	require.NoError(t, h.dispatcher.Handle(context.Background(), "loja", textEvent(id, text)))
}

func (h *harness) conversation(t *testing.T) *model.Conversation {
	t.Helper()
	res, err := h.store.ListConversations(context.Background(), "loja", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Conversations, 1)
	return &res.Conversations[0]
}

func (h *harness) messages(t *testing.T, convID string) []model.Message {
	t.Helper()
	res, err := h.store.ListMessages(context.Background(), convID, 100, 0)
	require.NoError(t, err)
	return res.Messages
}

func TestHandleWelcomesNewContact(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.send(t, "m1", "Oi")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Bom dia, Maria!\n\nComo posso ajudar você hoje?\n\n*Menu Principal*\n\n1. Horários\n2. Produtos\n3. Falar com atendente\n4. Fazer uma pergunta rápida"), replies[0])

	conv := h.conversation(t)
	assert.Equal(t, model.StatusActive, conv.Status)
	assert.Equal(t, "Maria", conv.ContactName)
	assert.True(t, conv.Context.IsZero())
	assert.Equal(t, 2, conv.TotalMessages)
	assert.Equal(t, 1, conv.UserMessages)
	assert.Equal(t, 1, conv.BotMessages)
	require.NotNil(t, conv.FirstResponseSeconds)
	require.NotNil(t, conv.AvgResponseSeconds)

	msgs := h.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DirectionReceived, msgs[0].Direction)
	require.NotNil(t, msgs[0].IdempotencyKey)
	assert.Equal(t, "m1", *msgs[0].IdempotencyKey)
	assert.Equal(t, model.DirectionSent, msgs[1].Direction)
	assert.Equal(t, replies[0], msgs[1].Content)
	assert.True(t, msgs[1].ByBot)
	assert.True(t, msgs[1].Delivered)
	require.NotNil(t, msgs[1].ResponseSeconds)
	assert.Equal(t, 2, h.publisher.messages)
}

func TestHandleSubmenuNavigation(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.send(t, "m1", "Oi")
	h.send(t, "m2", "2")
	h.send(t, "m3", "1")
	h.send(t, "m4", "2")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 4)
	assert.Contains(t, replies[1], "*Produtos*\n\n1. Camisetas\n2. Calças")
	assert.True(t, strings.HasPrefix(replies[2], "Camisetas a partir de R$ 50"))
	assert.True(t, strings.HasPrefix(replies[3], "Calças a partir de R$ 90"))

	conv := h.conversation(t)
	require.NotNil(t, conv.Context.ActiveSubmenu)
	assert.Equal(t, "2", conv.Context.ActiveSubmenu.Number)

	h.send(t, "m5", "menu")
	assert.True(t, h.conversation(t).Context.IsZero())
}

func TestHandleDuplicateReplaysReply(t *testing.T) {
	answerer := &fakeAnswerer{result: rag.Result{Text: "Abrimos às 8h.", Outcome: rag.OutcomeAnswered}}
	h := newHarness(t, aiTenant(), answerer)

	h.send(t, "abc123", "que horas vocês abrem?")
	h.clock.Advance(2 * time.Second)
	h.send(t, "abc123", "que horas vocês abrem?")

	assert.Equal(t, 1, answerer.calls)
	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 2)
	assert.Equal(t, replies[0], replies[1])
	assert.True(t, strings.HasSuffix(replies[0], "Abrimos às 8h."))

	conv := h.conversation(t)
	msgs := h.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	keyed := 0
	for _, m := range msgs {
		if m.IdempotencyKey != nil && *m.IdempotencyKey == "abc123" {
			keyed++
		}
	}
	assert.Equal(t, 1, keyed)
	assert.Equal(t, 1, conv.UserMessages)
	assert.Contains(t, h.publisher.events, model.EventTypeDuplicateReplayed)
}

func TestHandleConcurrentDuplicates(t *testing.T) {
	answerer := &fakeAnswerer{result: rag.Result{Text: "Sim, entregamos.", Outcome: rag.OutcomeAnswered}}
	h := newHarness(t, aiTenant(), answerer)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.dispatcher.Handle(context.Background(), "loja", textEvent("dup-1", "vocês entregam?"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, answerer.calls)
	assert.Len(t, h.messages(t, h.conversation(t).ID), 2)
	assert.Len(t, h.sender.textsTo(contact), 5)
}

func TestHandleAIWelcomeAndAnswer(t *testing.T) {
	answerer := &fakeAnswerer{result: rag.Result{Text: "Entregamos em todo o estado.", Outcome: rag.OutcomeAnswered}}
	h := newHarness(t, aiTenant(), answerer)

	h.send(t, "m1", "vocês entregam?")
	h.send(t, "m2", "e no sábado?")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 2)
	assert.Equal(t, engine.PrefixWelcome(engine.DefaultAIWelcome, "Entregamos em todo o estado."), replies[0])
	assert.Equal(t, "Entregamos em todo o estado.", replies[1])
	assert.Equal(t, 2, answerer.calls)
	assert.Equal(t, []string{
		gateway.PresenceComposing, gateway.PresencePaused,
		gateway.PresenceComposing, gateway.PresencePaused,
	}, h.sender.presences)
}

func TestHandleAIGreetingIsNotPrefixed(t *testing.T) {
	h := newHarness(t, aiTenant(), &fakeAnswerer{})
	h.send(t, "m1", "Olá")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Bom dia! 👋"), replies[0])
}

func TestHandleAIDegraded(t *testing.T) {
	answerer := &fakeAnswerer{result: rag.Result{Text: rag.AnswerFailed, Outcome: rag.OutcomeDegraded, Err: context.DeadlineExceeded}}
	h := newHarness(t, aiTenant(), answerer)

	h.send(t, "m1", "qual o prazo de troca?")
	assert.Contains(t, h.sender.textsTo(contact)[0], rag.AnswerFailed)
	assert.Contains(t, h.publisher.events, model.EventTypeAIDegraded)
}

func TestHandleAIUnavailable(t *testing.T) {
	h := newHarness(t, aiTenant(), nil)
	h.send(t, "m1", "Oi")
	h.send(t, "m2", "qual o prazo de troca?")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 2)
	assert.Equal(t, engine.AIUnavailable, replies[1])
}

func TestHandleEscalation(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.send(t, "m1", "Oi")
	h.send(t, "m2", "quero falar com um atendente")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 2)
	assert.Equal(t, engine.DefaultHold, replies[1])

	alerts := h.sender.textsTo(attendant)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "Cliente: Maria")
	assert.Contains(t, alerts[0], "Número: "+contact)

	conv := h.conversation(t)
	assert.Equal(t, model.StatusAwaitingHuman, conv.Status)
	assert.Contains(t, alerts[0], conv.ID)
	assert.Contains(t, h.publisher.events, model.EventTypeEscalated)

	h.send(t, "m3", "menu")
	assert.Equal(t, model.StatusActive, h.conversation(t).Status)
}

func TestHandleReGreetsAfterIdle(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.send(t, "m1", "Oi")
	h.send(t, "m2", "2")

	h.clock.Advance(11 * time.Minute)
	h.send(t, "m3", "1")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 3)
	// The submenu was closed by the idle reset, so "1" picks the root option.
	assert.True(t, strings.HasPrefix(replies[2], "Bom dia, Maria! Que bom ter você de volta."), replies[2])
	assert.Contains(t, replies[2], "Seg a Sex, 8h às 18h")
	assert.NotContains(t, replies[2], "Camisetas")
	assert.True(t, h.conversation(t).Context.IsZero())
}

func TestHandleReturningGreetingIsNotPrefixed(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.send(t, "m1", "Oi")

	h.clock.Advance(11 * time.Minute)
	h.send(t, "m2", "Oi")

	replies := h.sender.textsTo(contact)
	require.Len(t, replies, 2)
	assert.NotContains(t, replies[1], "Que bom ter você de volta")
	assert.Contains(t, replies[1], "*Menu Principal*")
}

func TestHandleDuplicateKeyFromAnotherTenant(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	other := menuTenant()
	other.TenantID = "outra"
	other.Gateway.Instance = "outra"
	h.tenants.Set(other)

	const otherContact = "5511900000000"
	h.send(t, "shared-id", "Oi")
	ev := contactEvent(otherContact, "shared-id", "1")
	ev.Data.PushName = "João"
	require.NoError(t, h.dispatcher.Handle(context.Background(), "outra", ev))

	replies := h.sender.textsTo(otherContact)
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Bom dia, João!"), replies[0])

	res, err := h.store.ListConversations(context.Background(), "outra", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Conversations, 1)
	assert.Equal(t, otherContact, res.Conversations[0].ContactID)
	assert.NotContains(t, h.publisher.events, model.EventTypeDuplicateReplayed)
}

func TestHandleSendFailureStillRecords(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	h.sender.failText = true
	h.send(t, "m1", "Oi")

	conv := h.conversation(t)
	msgs := h.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].Delivered)
	assert.True(t, msgs[1].Error)
	assert.Contains(t, h.publisher.events, model.EventTypeDeliveryFailed)
}

func TestHandleInteractiveMenu(t *testing.T) {
	cfg := menuTenant()
	cfg.InteractiveMenu = true
	h := newHarness(t, cfg, nil)
	h.send(t, "m1", "Oi")

	require.Len(t, h.sender.lists, 1)
	list := h.sender.lists[0]
	assert.Equal(t, "Menu Principal", list.Title)
	assert.True(t, strings.HasPrefix(list.Description, "Bom dia, Maria!"))
	require.Len(t, list.Rows, 4)
	assert.Equal(t, "4", list.Rows[3].ID)
	assert.Empty(t, h.sender.textsTo(contact))

	h.sender.failList = true
	h.send(t, "m2", "menu")
	assert.Len(t, h.sender.textsTo(contact), 1)
}

func TestHandleInteractiveButtons(t *testing.T) {
	cfg := menuTenant()
	cfg.InteractiveMenu = true
	cfg.Menu = cfg.Menu[:2]
	h := newHarness(t, cfg, nil)
	h.send(t, "m1", "Oi")

	require.Len(t, h.sender.buttons, 1)
	buttons := h.sender.buttons[0]
	require.Len(t, buttons, 3)
	assert.Equal(t, gateway.Button{ID: "1", Text: "Horários"}, buttons[0])
	assert.Equal(t, "3", buttons[2].ID)
	assert.Empty(t, h.sender.lists)
	assert.Empty(t, h.sender.textsTo(contact))
}

func TestHandleIgnoredEvents(t *testing.T) {
	h := newHarness(t, menuTenant(), nil)
	ctx := context.Background()

	fromMe := textEvent("m1", "Oi")
	fromMe.Data.Key.FromMe = true

	status := textEvent("m2", "Oi")
	status.Event = "messages.update"

	noText := textEvent("m3", "")
	noText.Data.MessageType = "audioMessage"
	noText.Data.Message = nil

	noContact := textEvent("m4", "Oi")
	noContact.Data.Key.RemoteJID = ""

	stale := textEvent("m5", "Oi")
	stale.Data.MessageTimestamp = model.UnixTime(h.clock.Now().Add(-25 * time.Hour).Unix())

	for _, ev := range []*model.WebhookEvent{fromMe, status, noText, noContact, stale} {
		require.NoError(t, h.dispatcher.Handle(ctx, "loja", ev))
	}

	res, err := h.store.ListConversations(ctx, "loja", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Conversations)
	assert.Empty(t, h.sender.texts)
}

func TestHandleUnconfiguredTenant(t *testing.T) {
	cfg := menuTenant()
	cfg.Gateway.APIKey = ""
	h := newHarness(t, cfg, nil)

	err := h.dispatcher.Handle(context.Background(), "loja", textEvent("m1", "Oi"))
	assert.ErrorIs(t, err, tenant.ErrNotConfigured)
	assert.ErrorIs(t, h.dispatcher.CheckTenant(context.Background(), "loja"), tenant.ErrNotConfigured)
	assert.ErrorIs(t, h.dispatcher.CheckTenant(context.Background(), "outra"), tenant.ErrUnknownTenant)
	assert.Empty(t, h.sender.texts)
}
