package engine

import (
	"strings"
	"time"

	"github.com/capitalize-ai/messaging-agent/internal/model"
)

// DefaultReGreetAfter is the idle time after which a returning contact is
// welcomed again.
const DefaultReGreetAfter = 10 * time.Minute

// ShouldReGreet reports whether a contact idle since last should be welcomed
// again at now. A non-positive threshold disables re-greeting.
func ShouldReGreet(last, now time.Time, threshold time.Duration) bool {
	if threshold <= 0 {
		return false
	}
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > threshold
}

// Welcome is the first message of a menu tenant's conversation: a salutation
// by name followed by the root menu.
func Welcome(cfg *model.TenantConfig, contactName string, now time.Time) StaticText {
	intro := Salutation(now.In(cfg.Location()))
	if name := strings.TrimSpace(contactName); name != "" {
		intro += ", " + name
	}
	intro += "!\n\nComo posso ajudar você hoje?"

	if len(cfg.Menu) == 0 {
		return StaticText{Text: intro + "\n\nDigite *menu* para ver nossas opções."}
	}
	view := RootMenu(cfg)
	view.Intro = intro
	return StaticText{Text: view.Text(), Menu: &view}
}

// ReturnIntro greets a menu tenant's contact who comes back after being idle.
// It is prefixed to the routed reply.
func ReturnIntro(cfg *model.TenantConfig, contactName string, now time.Time) string {
	intro := Salutation(now.In(cfg.Location()))
	if name := strings.TrimSpace(contactName); name != "" {
		intro += ", " + name
	}
	return intro + "! Que bom ter você de volta."
}

// WelcomeIntro is prefixed to the first answer of an AI tenant's
// conversation.
func WelcomeIntro(cfg *model.TenantConfig) string {
	return orDefault(cfg.Messages.AIWelcome, DefaultAIWelcome)
}

// PrefixWelcome joins the welcome intro and a routed reply into one message.
func PrefixWelcome(intro, reply string) string {
	if strings.TrimSpace(intro) == "" {
		return reply
	}
	return intro + "\n\n" + separator + "\n\n" + reply
}
