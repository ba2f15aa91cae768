package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

func testConfig() *model.TenantConfig {
	return &model.TenantConfig{
		TenantID:   "loja",
		Name:       "Loja Exemplo",
		Plan:       model.PlanMenu,
		Attendants: []string{"5565999990000"},
		Menu: model.MenuTree{
			{Number: "1", Title: "🕒 Horários", Action: model.StaticReply{Text: "Seg a Sex, 8h às 18h"}},
			{Number: "3", Title: "📦 Produtos", Action: model.OpenSubmenu{Options: []model.SubOption{
				{Number: "1", Title: "Camisetas", Reply: "Camisetas a partir de R$ 50"},
				{Number: "2", Title: "Calças", Reply: "Calças a partir de R$ 90"},
			}}},
			{Number: "5", Title: "Falar com atendente", Action: model.Escalate{}},
		},
		QuickReplies: []model.QuickReply{
			{Keywords: []string{"pix", "pagamento"}, Reply: "Aceitamos PIX e cartão."},
		},
	}
}

func morning() time.Time {
	return time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
}

func newTestRouter() *Router {
	return NewRouter().WithClock(morning)
}

func text(t *testing.T, d Decision) string {
	t.Helper()
	st, ok := d.Reply.(StaticText)
	require.True(t, ok, "expected StaticText, got %T", d.Reply)
	return st.Text
}

func submenuState() model.ConversationContext {
	return model.ConversationContext{ActiveSubmenu: &model.ActiveSubmenu{Number: "3", Title: "Produtos"}}
}

func TestRouteGreeting(t *testing.T) {
	r := newTestRouter()
	for _, in := range []string{"Oi", "olá!", "Bom dia, tudo bem?", "E ai"} {
		t.Run(in, func(t *testing.T) {
			d := r.Route(submenuState(), testConfig(), in)
			assert.Equal(t, BranchGreeting, d.Branch)
			assert.True(t, d.Context.IsZero())
			got := text(t, d)
			assert.True(t, strings.HasPrefix(got, "Bom dia! 👋\n\nComo posso ajudar você?\n\n*Menu Principal*"), got)
			assert.Contains(t, got, "1. Horários\n3. Produtos\n5. Falar com atendente\n6. Fazer uma pergunta rápida\n")
		})
	}

	d := r.Route(model.ConversationContext{}, testConfig(), "oitenta reais")
	assert.NotEqual(t, BranchGreeting, d.Branch)
}

func TestRouteGreetingWithoutMenu(t *testing.T) {
	cfg := testConfig()
	cfg.Menu = nil
	got := text(t, newTestRouter().Route(model.ConversationContext{}, cfg, "oi"))
	assert.Contains(t, got, "Digite *menu* para ver as opções disponíveis.")

	cfg.Plan = model.PlanAI
	got = text(t, newTestRouter().Route(model.ConversationContext{}, cfg, "oi"))
	assert.Contains(t, got, "digite *atendente*")
}

func TestRouteNavigationClearsContext(t *testing.T) {
	r := newTestRouter()
	for _, in := range []string{"menu", "MENU", "voltar", "quero voltar ao menu"} {
		d := r.Route(submenuState(), testConfig(), in)
		assert.Equal(t, BranchNavigation, d.Branch, in)
		assert.True(t, d.Context.IsZero(), in)
		st := d.Reply.(StaticText)
		assert.True(t, strings.HasPrefix(st.Text, "*Menu Principal*\n\n1. Horários"), st.Text)
		require.NotNil(t, st.Menu)
		assert.Equal(t, "6", st.Menu.QuickNumber)
	}

	cfg := testConfig()
	cfg.Menu = nil
	assert.Equal(t, MenuNotConfigured, text(t, r.Route(model.ConversationContext{}, cfg, "menu")))
}

func TestRouteQuickReplyPrecedesMenu(t *testing.T) {
	cfg := testConfig()
	cfg.QuickReplies = append(cfg.QuickReplies, model.QuickReply{Keywords: []string{"1"}, Reply: "Resposta rápida"})

	d := newTestRouter().Route(model.ConversationContext{}, cfg, "1")
	assert.Equal(t, BranchQuickReply, d.Branch)
	assert.True(t, strings.HasPrefix(text(t, d), "Resposta rápida\n\n━━━━━━━━━━━━━━━━━\nDigite *menu*"))

	d = newTestRouter().Route(submenuState(), testConfig(), "Vocês aceitam PAGAMENTO no cartão?")
	assert.Equal(t, BranchQuickReply, d.Branch)
	assert.Contains(t, text(t, d), "Aceitamos PIX e cartão.")
	assert.Equal(t, submenuState(), d.Context)

	d = newTestRouter().Route(model.ConversationContext{}, testConfig(), "pag")
	assert.Equal(t, BranchQuickReply, d.Branch)
}

func TestRouteSubmenuPersists(t *testing.T) {
	r := newTestRouter()
	cfg := testConfig()

	d := r.Route(model.ConversationContext{}, cfg, "3")
	assert.Equal(t, BranchMenu, d.Branch)
	require.NotNil(t, d.Context.ActiveSubmenu)
	assert.Equal(t, "3", d.Context.ActiveSubmenu.Number)
	assert.Equal(t, "Produtos", d.Context.ActiveSubmenu.Title)
	got := text(t, d)
	assert.Contains(t, got, "*Produtos*\n\n1. Camisetas\n2. Calças\n3. Fazer uma pergunta rápida\n")
	assert.True(t, strings.HasSuffix(got, "_Digite 'voltar' para retornar ao menu principal_"))

	d = r.Route(d.Context, cfg, "1")
	assert.Equal(t, BranchSubmenu, d.Branch)
	assert.True(t, strings.HasPrefix(text(t, d), "Camisetas a partir de R$ 50"))
	require.NotNil(t, d.Context.ActiveSubmenu)

	d = r.Route(d.Context, cfg, "2)")
	assert.Equal(t, BranchSubmenu, d.Branch)
	assert.True(t, strings.HasPrefix(text(t, d), "Calças a partir de R$ 90"))
	require.NotNil(t, d.Context.ActiveSubmenu)

	d = r.Route(d.Context, cfg, "calcas")
	assert.True(t, strings.HasPrefix(text(t, d), "Calças a partir de R$ 90"))
}

func TestRouteSubmenuInvalidAndQuickQuestion(t *testing.T) {
	r := newTestRouter()
	cfg := testConfig()

	d := r.Route(submenuState(), cfg, "9")
	assert.Equal(t, BranchSubmenu, d.Branch)
	got := text(t, d)
	assert.True(t, strings.HasPrefix(got, "⚠️ Opção inválida."), got)
	assert.Contains(t, got, "1. Camisetas")
	assert.Equal(t, submenuState(), d.Context)

	d = r.Route(submenuState(), cfg, "3")
	assert.Equal(t, QuickQuestionOn, text(t, d))
	assert.Equal(t, model.ConversationContext{QuickQuestion: true}, d.Context)
}

func TestRouteStaleSubmenuFallsBackToRoot(t *testing.T) {
	state := model.ConversationContext{ActiveSubmenu: &model.ActiveSubmenu{Number: "9", Title: "Antigo"}}
	d := newTestRouter().Route(state, testConfig(), "1")
	assert.Equal(t, BranchMenu, d.Branch)
	assert.True(t, strings.HasPrefix(text(t, d), "Seg a Sex, 8h às 18h\n\n━━━━━━━━━━━━━━━━━"))
	assert.Nil(t, d.Context.ActiveSubmenu)
}

func TestRouteRootMenu(t *testing.T) {
	r := newTestRouter()
	cfg := testConfig()

	for _, in := range []string{"1", " 1. ", "horarios"} {
		d := r.Route(model.ConversationContext{}, cfg, in)
		assert.Equal(t, BranchMenu, d.Branch, in)
		assert.Contains(t, text(t, d), "Ou faça uma pergunta rápida sobre qualquer assunto!", in)
	}

	d := r.Route(model.ConversationContext{}, cfg, "6")
	assert.Equal(t, QuickQuestionOn, text(t, d))
	assert.True(t, d.Context.QuickQuestion)

	d = r.Route(model.ConversationContext{}, cfg, "quero fazer uma pergunta rápida")
	assert.True(t, d.Context.QuickQuestion)

	d = r.Route(model.ConversationContext{}, cfg, "tenho 1 dúvida")
	assert.Equal(t, BranchFallback, d.Branch)
}

func TestRouteEscalation(t *testing.T) {
	r := newTestRouter()
	cfg := testConfig()

	d := r.Route(model.ConversationContext{}, cfg, "5")
	assert.Equal(t, EscalateToHuman{Hold: DefaultHold}, d.Reply)
	assert.True(t, d.Context.IsZero())

	d = r.Route(submenuState(), cfg, "quero falar com um humano")
	assert.Equal(t, BranchHandoff, d.Branch)
	assert.IsType(t, EscalateToHuman{}, d.Reply)
	assert.True(t, d.Context.IsZero())

	cfg.Messages.Hold = "Aguarde, já vamos atender."
	d = r.Route(model.ConversationContext{}, cfg, "atendente")
	assert.Equal(t, EscalateToHuman{Hold: "Aguarde, já vamos atender."}, d.Reply)

	cfg.Attendants = nil
	d = r.Route(model.ConversationContext{}, cfg, "5")
	assert.Equal(t, DefaultNoAttendants, text(t, d))

	cfg.HandoffKeywords = []string{"socorro"}
	d = r.Route(model.ConversationContext{}, cfg, "socorro")
	assert.Equal(t, BranchHandoff, d.Branch)
}

func TestRouteFallback(t *testing.T) {
	r := newTestRouter()
	cfg := testConfig()

	d := r.Route(model.ConversationContext{}, cfg, "qual o endereço?")
	assert.Equal(t, BranchFallback, d.Branch)
	assert.Equal(t, DefaultNotUnderstood, text(t, d))

	cfg.Messages.NotUnderstood = "Não entendi 😅"
	assert.Equal(t, "Não entendi 😅", text(t, r.Route(model.ConversationContext{}, cfg, "xyz")))

	cfg.Plan = model.PlanAI
	d = r.Route(model.ConversationContext{}, cfg, "  qual o endereço?  ")
	assert.Equal(t, DelegateToAI{Question: "qual o endereço?"}, d.Reply)
}

func TestRouteQuickQuestionModeSkipsRootMenu(t *testing.T) {
	cfg := testConfig()
	cfg.Plan = model.PlanAI
	state := model.ConversationContext{QuickQuestion: true}

	d := newTestRouter().Route(state, cfg, "horários de sábado")
	assert.Equal(t, DelegateToAI{Question: "horários de sábado"}, d.Reply)
	assert.Equal(t, state, d.Context)
}

func TestQuickQuestionNumbering(t *testing.T) {
	cfg := testConfig()
	cfg.Menu = model.MenuTree{
		{Number: "1", Title: "A", Action: model.StaticReply{Text: "a"}},
		{Number: "3", Title: "B", Action: model.StaticReply{Text: "b"}},
		{Number: "5", Title: "C", Action: model.StaticReply{Text: "c"}},
	}
	assert.Equal(t, "6", RootMenu(cfg).QuickNumber)

	cfg.Menu = nil
	assert.Equal(t, "1", RootMenu(cfg).QuickNumber)
}
