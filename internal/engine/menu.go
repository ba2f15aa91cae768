package engine

import (
	"strings"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/textnorm"
)

// MenuItem is one numbered line of a rendered menu.
type MenuItem struct {
	Number      string
	Title       string
	Description string
}

// MenuView is a menu ready to be sent, either as text or as an interactive
// list. Items end with the synthetic quick question entry.
type MenuView struct {
	Intro       string
	Title       string
	Items       []MenuItem
	QuickNumber string
	Footer      string
}

// Text renders the view as a plain WhatsApp message.
func (v MenuView) Text() string {
	var b strings.Builder
	if v.Intro != "" {
		b.WriteString(v.Intro)
		b.WriteString("\n\n")
	}
	b.WriteString("*" + v.Title + "*\n\n")
	for _, it := range v.Items {
		b.WriteString(it.Number + ". " + it.Title + "\n")
	}
	if v.Footer != "" {
		b.WriteString("\n" + v.Footer)
	}
	return b.String()
}

// RootMenu builds the view of the tenant's root menu.
func RootMenu(cfg *model.TenantConfig) MenuView {
	items := make([]MenuItem, 0, len(cfg.Menu)+1)
	for _, opt := range cfg.Menu {
		items = append(items, MenuItem{
			Number:      opt.Number,
			Title:       textnorm.StripSymbols(opt.Title),
			Description: opt.Description,
		})
	}
	return withQuickQuestion(MenuView{Title: orDefault(cfg.MenuTitle, DefaultMenuTitle)}, items, cfg.Menu.Numbers())
}

// SubMenu builds the view of a submenu opened from the option titled title.
func SubMenu(title string, opts []model.SubOption) MenuView {
	items := make([]MenuItem, 0, len(opts)+1)
	for _, o := range opts {
		items = append(items, MenuItem{Number: strings.TrimSpace(o.Number), Title: textnorm.StripSymbols(o.Title)})
	}
	v := withQuickQuestion(MenuView{Title: title}, items, model.SubNumbers(opts))
	v.Footer = "_Digite 'voltar' para retornar ao menu principal_"
	return v
}

func withQuickQuestion(v MenuView, items []MenuItem, numbers []string) MenuView {
	v.QuickNumber = model.QuickQuestionNumber(numbers)
	v.Items = append(items, MenuItem{Number: v.QuickNumber, Title: QuickQuestionItem})
	return v
}
