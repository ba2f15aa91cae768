package engine

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/textnorm"
)

// Branch names the rule that produced a decision.
type Branch string

const (
	BranchWelcome    Branch = "welcome"
	BranchGreeting   Branch = "greeting"
	BranchNavigation Branch = "navigation"
	BranchHandoff    Branch = "handoff"
	BranchQuickReply Branch = "quick_reply"
	BranchSubmenu    Branch = "submenu"
	BranchMenu       Branch = "menu"
	BranchFallback   Branch = "fallback"
)

// Reply is what the dispatcher must do. The set of implementations is
// closed: StaticText, EscalateToHuman and DelegateToAI.
type Reply interface {
	reply()
}

// StaticText is sent as is. Menu is set when the text renders a menu that
// may be sent as an interactive list instead.
type StaticText struct {
	Text string
	Menu *MenuView
}

// EscalateToHuman moves the conversation to a human attendant and answers
// with Hold.
type EscalateToHuman struct {
	Hold string
}

// DelegateToAI answers Question from the knowledge base.
type DelegateToAI struct {
	Question string
}

func (StaticText) reply()      {}
func (EscalateToHuman) reply() {}
func (DelegateToAI) reply()    {}

// Decision is the outcome of routing one message. Context is the navigation
// state to store with the conversation afterwards.
type Decision struct {
	Branch  Branch
	Reply   Reply
	Context model.ConversationContext
}

// Router evaluates the reply rules in priority order.
type Router struct {
	now func() time.Time
}

// NewRouter creates a Router using the wall clock.
func NewRouter() *Router {
	return &Router{now: time.Now}
}

// WithClock returns a copy of r reading the time from now.
func (r *Router) WithClock(now func() time.Time) *Router {
	return &Router{now: now}
}

// Route decides the reply to text given the conversation's navigation state.
// Rules are tried in order and the first match wins: greeting, navigation
// and handoff commands, quick replies, the open submenu, the root menu, and
// finally the AI or "not understood" fallback.
func (r *Router) Route(state model.ConversationContext, cfg *model.TenantConfig, text string) Decision {
	input := textnorm.Normalize(text)
	raw := strings.TrimSpace(text)

	if isGreeting(input) {
		return Decision{Branch: BranchGreeting, Reply: r.greeting(cfg)}
	}
	if isNavigation(input) {
		return Decision{Branch: BranchNavigation, Reply: rootMenuReply(cfg)}
	}
	if isHandoff(input, cfg.HandoffKeywords) {
		return Decision{Branch: BranchHandoff, Reply: escalate(cfg)}
	}

	if reply, ok := matchQuickReply(input, cfg.QuickReplies); ok {
		return Decision{Branch: BranchQuickReply, Reply: StaticText{Text: quickReplyText(reply)}, Context: state}
	}

	if state.ActiveSubmenu != nil {
		if d, ok := routeSubmenu(state, cfg, raw, input); ok {
			return d
		}
		// The submenu no longer exists in the tenant's menu.
		state.ActiveSubmenu = nil
	}

	if !state.QuickQuestion {
		if d, ok := routeRoot(state, cfg, raw, input); ok {
			return d
		}
	}

	if cfg.Plan.HasAI() {
		return Decision{Branch: BranchFallback, Reply: DelegateToAI{Question: raw}, Context: state}
	}
	return Decision{
		Branch:  BranchFallback,
		Reply:   StaticText{Text: orDefault(cfg.Messages.NotUnderstood, DefaultNotUnderstood)},
		Context: state,
	}
}

func (r *Router) greeting(cfg *model.TenantConfig) StaticText {
	intro := Salutation(r.now().In(cfg.Location())) + "! 👋\n\nComo posso ajudar você?"
	if len(cfg.Menu) == 0 {
		if cfg.Plan.HasAI() {
			return StaticText{Text: intro + "\n\nPode fazer suas perguntas que responderei com base nas informações disponíveis.\n\n_Para falar com um atendente humano, digite *atendente*._"}
		}
		return StaticText{Text: intro + "\n\nDigite *menu* para ver as opções disponíveis."}
	}
	view := RootMenu(cfg)
	view.Intro = intro
	return StaticText{Text: view.Text(), Menu: &view}
}

func rootMenuReply(cfg *model.TenantConfig) StaticText {
	if len(cfg.Menu) == 0 {
		return StaticText{Text: MenuNotConfigured}
	}
	view := RootMenu(cfg)
	return StaticText{Text: view.Text(), Menu: &view}
}

func escalate(cfg *model.TenantConfig) Reply {
	if len(cfg.Attendants) == 0 {
		return StaticText{Text: orDefault(cfg.Messages.NoAttendants, DefaultNoAttendants)}
	}
	return EscalateToHuman{Hold: orDefault(cfg.Messages.Hold, DefaultHold)}
}

func routeSubmenu(state model.ConversationContext, cfg *model.TenantConfig, raw, input string) (Decision, bool) {
	parent, ok := cfg.Menu.Find(state.ActiveSubmenu.Number)
	if !ok {
		return Decision{}, false
	}
	sub, ok := parent.Action.(model.OpenSubmenu)
	if !ok {
		return Decision{}, false
	}
	title := orDefault(state.ActiveSubmenu.Title, parent.Title)

	if selectsNumber(raw, model.QuickQuestionNumber(model.SubNumbers(sub.Options))) || asksQuickQuestion(input) {
		return Decision{
			Branch:  BranchSubmenu,
			Reply:   StaticText{Text: QuickQuestionOn},
			Context: model.ConversationContext{QuickQuestion: true},
		}, true
	}

	for _, o := range sub.Options {
		if matchesOption(raw, input, o.Number, o.Title) {
			return Decision{
				Branch:  BranchSubmenu,
				Reply:   StaticText{Text: subReplyText(orDefault(o.Reply, "Opção selecionada!"), title)},
				Context: state,
			}, true
		}
	}

	view := SubMenu(title, sub.Options)
	view.Intro = invalidOptionText(title)
	return Decision{
		Branch:  BranchSubmenu,
		Reply:   StaticText{Text: view.Text(), Menu: &view},
		Context: state,
	}, true
}

func routeRoot(state model.ConversationContext, cfg *model.TenantConfig, raw, input string) (Decision, bool) {
	if len(cfg.Menu) == 0 {
		return Decision{}, false
	}

	if selectsNumber(raw, model.QuickQuestionNumber(cfg.Menu.Numbers())) || asksQuickQuestion(input) {
		return Decision{
			Branch:  BranchMenu,
			Reply:   StaticText{Text: QuickQuestionOn},
			Context: model.ConversationContext{QuickQuestion: true},
		}, true
	}

	for _, opt := range cfg.Menu {
		if !matchesOption(raw, input, opt.Number, opt.Title) {
			continue
		}
		switch action := opt.Action.(type) {
		case model.StaticReply:
			return Decision{Branch: BranchMenu, Reply: StaticText{Text: menuReplyText(action.Text)}, Context: state}, true
		case model.OpenSubmenu:
			title := textnorm.StripSymbols(opt.Title)
			view := SubMenu(title, action.Options)
			next := model.ConversationContext{ActiveSubmenu: &model.ActiveSubmenu{Number: opt.Number, Title: title}}
			return Decision{Branch: BranchMenu, Reply: StaticText{Text: view.Text(), Menu: &view}, Context: next}, true
		case model.Escalate:
			return Decision{Branch: BranchMenu, Reply: escalate(cfg)}, true
		}
	}
	return Decision{}, false
}

func isGreeting(input string) bool {
	for _, g := range greetings {
		if input == g {
			return true
		}
		if strings.HasPrefix(input, g) {
			next, _ := utf8.DecodeRuneInString(input[len(g):])
			if !unicode.IsLetter(next) && !unicode.IsDigit(next) {
				return true
			}
		}
	}
	return false
}

func isNavigation(input string) bool {
	for _, w := range navigationWords {
		if textnorm.HasPhrase(input, w) {
			return true
		}
	}
	return false
}

func isHandoff(input string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultHandoffKeywords
	}
	for _, k := range keywords {
		if textnorm.HasPhrase(input, k) {
			return true
		}
	}
	return false
}

func asksQuickQuestion(input string) bool {
	return strings.Contains(input, "pergunta") && strings.Contains(input, "rapida")
}

// matchQuickReply finds the first rule with a keyword contained in the input,
// or containing an input of at least three characters.
func matchQuickReply(input string, rules []model.QuickReply) (string, bool) {
	if input == "" {
		return "", false
	}
	reverse := utf8.RuneCountInString(input) >= 3
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			k := textnorm.Normalize(kw)
			if k == "" {
				continue
			}
			if strings.Contains(input, k) || (reverse && strings.Contains(k, input)) {
				return rule.Reply, true
			}
		}
	}
	return "", false
}

// selectsNumber reports whether raw picks option number n, tolerating a
// trailing "." or ")".
func selectsNumber(raw, n string) bool {
	n = strings.TrimSpace(n)
	if n == "" {
		return false
	}
	raw = strings.TrimSpace(strings.TrimRight(raw, ".)"))
	return raw == n
}

func matchesOption(raw, input, number, title string) bool {
	if selectsNumber(raw, number) {
		return true
	}
	t := textnorm.Normalize(textnorm.StripSymbols(title))
	return t != "" && strings.Contains(input, t)
}
