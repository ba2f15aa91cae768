// Package engine decides how the bot answers one inbound message.
package engine

import (
	"fmt"
	"strings"
	"time"
)

// Default texts. Tenants may override the ones exposed in model.Messages.
const (
	DefaultMenuTitle     = "Menu Principal"
	DefaultNotUnderstood = "❓ Desculpe, não entendi. Digite *menu* para ver as opções disponíveis."
	DefaultHold          = "Um atendente será notificado e entrará em contato em breve. Aguarde um momento..."
	DefaultNoAttendants  = "⚠️ No momento não há atendentes disponíveis. Por favor, tente novamente mais tarde."
	DefaultAIWelcome     = "👋 Olá! Seja bem-vindo!\n\nSou o assistente inteligente e estou aqui para ajudar você com suas dúvidas.\n\n📌 Para falar com um atendente humano, digite *atendente* a qualquer momento."
	AIUnavailable        = "⚠️ Sistema de IA não disponível no momento.\n\nPor favor:\n• Digite *atendente* para falar com um humano\n• Ou aguarde alguns instantes e tente novamente"

	MenuNotConfigured = "Menu não configurado."
	QuickQuestionOn   = "❓ *Modo Pergunta Rápida ativado!*\n\nPode fazer suas perguntas que vou responder o que souber.\n\n_Digite *menu* para voltar ao menu principal_"
	QuickQuestionItem = "Fazer uma pergunta rápida"

	separator = "━━━━━━━━━━━━━━━━━"
)

// DefaultHandoffKeywords ask for a human when a tenant configures none.
var DefaultHandoffKeywords = []string{
	"atendente", "atendimento", "humano", "operador",
	"falar com atendente", "falar com alguem",
}

var greetings = []string{"oi", "ola", "bom dia", "boa tarde", "boa noite", "opa", "eai", "e ai"}

var navigationWords = []string{"menu", "voltar"}

// Salutation returns the Portuguese time-of-day greeting for t.
func Salutation(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "Bom dia"
	case h >= 12 && h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

func quickReplyText(reply string) string {
	return reply + "\n\n" + separator + "\nDigite *menu* para voltar ao menu principal\nOu faça outra pergunta rápida!"
}

func menuReplyText(reply string) string {
	return reply + "\n\n" + separator + "\nDigite *menu* para voltar ao menu principal\nOu faça uma pergunta rápida sobre qualquer assunto!"
}

func subReplyText(reply, submenu string) string {
	return reply + "\n\n" + separator + "\nEscolha outra opção de " + submenu + "\nDigite *menu* para voltar ao menu principal"
}

func invalidOptionText(submenu string) string {
	return "⚠️ Opção inválida.\n\nPor favor, escolha uma das opções de " + submenu + " ou digite *menu* para voltar ao menu principal."
}

// AttendantAlert is the notice sent to every attendant on escalation.
func AttendantAlert(contactName, contactID, conversationID string, at time.Time) string {
	name := strings.TrimSpace(contactName)
	if name == "" {
		name = contactID
	}
	return fmt.Sprintf("🔔 *Nova Solicitação de Atendimento*\n\n👤 Cliente: %s\n📱 Número: %s\n🆔 Conversa ID: %s\n\n⏰ %s\n\n_O cliente está aguardando atendimento humano._",
		name, contactID, conversationID, at.Format("02/01/2006 15:04"))
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
