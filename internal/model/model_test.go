package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMenuTreeYAML(t *testing.T) {
	doc := `
- number: "1"
  title: Horários
  action: reply
  reply: Abrimos às 8h.
- number: "2"
  title: Produtos
  action: submenu
  submenu:
    - number: "1"
      title: Camisetas
      reply: R$ 50
- number: "3"
  title: Falar com atendente
  action: escalate
`
	var tree MenuTree
	require.NoError(t, yaml.Unmarshal([]byte(doc), &tree))
	require.Len(t, tree, 3)
	require.NoError(t, tree.Validate())

	assert.Equal(t, StaticReply{Text: "Abrimos às 8h."}, tree[0].Action)
	sub, ok := tree[1].Action.(OpenSubmenu)
	require.True(t, ok)
	assert.Equal(t, "Camisetas", sub.Options[0].Title)
	assert.Equal(t, Escalate{}, tree[2].Action)
}

func TestMenuTreeYAMLRejectsUnknownAction(t *testing.T) {
	var tree MenuTree
	err := yaml.Unmarshal([]byte(`- {number: "1", title: X, action: teleport}`), &tree)
	assert.ErrorContains(t, err, "unknown action")
}

func TestMenuTreeValidate(t *testing.T) {
	tests := []struct {
		name string
		tree MenuTree
	}{
		{"missing number", MenuTree{{Title: "x", Action: Escalate{}}}},
		{"duplicate number", MenuTree{{Number: "1", Action: Escalate{}}, {Number: "1", Action: Escalate{}}}},
		{"empty submenu", MenuTree{{Number: "1", Action: OpenSubmenu{}}}},
		{"nil action", MenuTree{{Number: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.tree.Validate())
		})
	}
}

func TestQuickQuestionNumber(t *testing.T) {
	assert.Equal(t, "1", QuickQuestionNumber(nil))
	assert.Equal(t, "4", QuickQuestionNumber([]string{"1", "2", "3"}))
	assert.Equal(t, "8", QuickQuestionNumber([]string{"1", "7", "a"}))
	assert.Equal(t, "3", QuickQuestionNumber([]string{"a", "b"}))
}

func TestParseContext(t *testing.T) {
	ctx, err := ParseContext(nil)
	require.NoError(t, err)
	assert.True(t, ctx.IsZero())

	ctx, err = ParseContext([]byte(`{"submenu_ativo":{"numero":"2","titulo":"Produtos"}}`))
	require.NoError(t, err)
	require.NotNil(t, ctx.ActiveSubmenu)
	assert.Equal(t, "2", ctx.ActiveSubmenu.Number)

	ctx, err = ParseContext([]byte(`{"submenu_ativo":{"numero":""}}`))
	require.NoError(t, err)
	assert.Nil(t, ctx.ActiveSubmenu)

	_, err = ParseContext([]byte(`{not json`))
	assert.Error(t, err)
}

func TestConversationContextScanResetsCorruptBlob(t *testing.T) {
	var ctx ConversationContext
	require.NoError(t, ctx.Scan([]byte(`{"modo_pergunta_rapida":true}`)))
	assert.True(t, ctx.QuickQuestion)

	require.NoError(t, ctx.Scan("garbage"))
	assert.True(t, ctx.IsZero())
}

func TestRecordReply(t *testing.T) {
	now := time.Now()
	c := &Conversation{}
	c.RecordInbound(now)
	c.RecordReply(2, now)
	c.RecordInbound(now)
	c.RecordReply(4, now)

	assert.Equal(t, 4, c.TotalMessages)
	assert.Equal(t, 2, c.BotMessages)
	assert.Equal(t, 2, c.UserMessages)
	require.NotNil(t, c.FirstResponseSeconds)
	assert.InDelta(t, 2.0, *c.FirstResponseSeconds, 1e-9)
	require.NotNil(t, c.AvgResponseSeconds)
	assert.InDelta(t, 3.0, *c.AvgResponseSeconds, 1e-9)
}

func TestWebhookEvent(t *testing.T) {
	raw := `{
		"event": "messages.upsert",
		"instance": "loja",
		"data": {
			"key": {"id": "ABC123", "remoteJid": "5565999990000@s.whatsapp.net", "fromMe": false},
			"pushName": "Maria",
			"messageType": "extendedTextMessage",
			"message": {"extendedTextMessage": {"text": " Oi "}},
			"messageTimestamp": "1700000000"
		}
	}`
	var ev WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.True(t, ev.IsMessageEvent())
	assert.Equal(t, "5565999990000", ev.ContactID())
	assert.Equal(t, "Oi", ev.Text())
	assert.Equal(t, KindText, ev.Kind())
	assert.Equal(t, int64(1700000000), ev.Data.MessageTimestamp.Time().Unix())
}

func TestWebhookEventTypes(t *testing.T) {
	for _, name := range []string{"messages.upsert", "MESSAGES_UPSERT", "message-created", "message.create"} {
		ev := WebhookEvent{Event: name}
		assert.True(t, ev.IsMessageEvent(), name)
	}
	ev := WebhookEvent{Event: "connection.update"}
	assert.False(t, ev.IsMessageEvent())
}

func TestWebhookContactFallsBackToSender(t *testing.T) {
	ev := WebhookEvent{Sender: "5511988887777@s.whatsapp.net"}
	assert.Equal(t, "5511988887777", ev.ContactID())
}

func TestTenantConfigValidate(t *testing.T) {
	cfg := &TenantConfig{Plan: "gold"}
	assert.ErrorContains(t, cfg.Validate(), "unknown plan")

	cfg = &TenantConfig{RAG: RAGParams{ChunkSize: 100, ChunkOverlap: 100}}
	assert.Error(t, cfg.Validate())

	cfg = &TenantConfig{QuickReplies: []QuickReply{{Reply: "x"}}}
	assert.Error(t, cfg.Validate())

	cfg = &TenantConfig{Plan: PlanAI, Timezone: "America/Sao_Paulo"}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Plan.HasAI())
}
