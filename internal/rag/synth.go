package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/messaging-agent/internal/knowledge"
	"github.com/capitalize-ai/messaging-agent/internal/llm"
	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/internal/textnorm"
)

// Fixed texts of the answer path.
const (
	HumanFooter   = "\n\n_Para falar com um atendente humano, digite *atendente*._"
	NoInformation = "Ainda não tenho informações suficientes para responder. Por favor, entre em contato com um atendente digitando *atendente*."
	AnswerFailed  = "Desculpe, ocorreu um erro ao processar sua pergunta. Por favor, entre em contato com um atendente."
)

var (
	topicsScope = []string{"apenas", "so", "somente", "quais os", "quais sao os", "liste os", "lista de"}
	topicsNoun  = []string{"topico", "titulo", "item", "assunto"}
)

// IsTopicsOnly reports whether the question asks for a bare list of topic
// titles without descriptions.
func IsTopicsOnly(question string) bool {
	q := textnorm.Normalize(question)
	return containsAny(q, topicsScope, true) && containsAny(q, topicsNoun, false)
}

// containsAny matches needles as substrings; single short words such as "so"
// must stand alone to avoid matching inside other words.
func containsAny(text string, needles []string, wordsOnly bool) bool {
	for _, n := range needles {
		if wordsOnly && !strings.Contains(n, " ") {
			if textnorm.HasPhrase(text, n) {
				return true
			}
			continue
		}
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

const promptIntro = "Você é um assistente inteligente que responde perguntas baseado nas informações fornecidas."

const answerInstructions = `INSTRUÇÕES:
- Responda a pergunta usando APENAS as informações do contexto acima
- Se a pergunta pede uma LISTA de itens/tópicos, liste TODOS os itens encontrados no contexto
- Se a informação não estiver no contexto, diga: "Não tenho essa informação disponível. Por favor, entre em contato com um atendente."
- Seja educado, claro e completo
- Não invente informações
- Use português do Brasil
- Quando houver múltiplos tópicos, liste todos com seus títulos e descrições

RESPOSTA:`

const topicsInstructions = `INSTRUÇÕES ESPECIAIS:
- O cliente pediu APENAS OS TÓPICOS/TÍTULOS, SEM DESCRIÇÕES
- Liste TODOS os tópicos/títulos encontrados no contexto
- Use formato de lista numerada (1. 2. 3. etc)
- NÃO adicione descrições, explicações ou detalhes
- Liste APENAS os nomes/títulos, um por linha
- Seja completo e liste TODOS os tópicos que encontrar
- Use português do Brasil

RESPOSTA (apenas títulos):`

// BuildPrompt renders the single generation prompt for question.
func BuildPrompt(question string, passages []knowledge.Passage) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = fmt.Sprintf("[Fonte: %s]\n%s", p.FileName, p.Text)
	}

	instructions := answerInstructions
	if IsTopicsOnly(question) {
		instructions = topicsInstructions
	}

	var b strings.Builder
	b.WriteString(promptIntro)
	b.WriteString("\n\nCONTEXTO (informações da empresa):\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nPERGUNTA DO CLIENTE:\n")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(instructions)
	return b.String()
}

// Synthesizer turns retrieved passages into an answer.
type Synthesizer struct {
	client llm.Client
}

// NewSynthesizer creates a Synthesizer backed by client.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize generates the answer and appends the human handoff footer.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, passages []knowledge.Passage, params model.AIParams) (string, error) {
	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model:       params.Model,
		Messages:    []llm.ChatMessage{{Role: "user", Content: BuildPrompt(question, passages)}},
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", errors.New("generate answer: empty completion")
	}
	return answer + HumanFooter, nil
}
