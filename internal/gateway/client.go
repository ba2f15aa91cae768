// Package gateway sends messages through the WhatsApp gateway (Evolution API).
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	"github.com/capitalize-ai/messaging-agent/internal/model"
	"github.com/capitalize-ai/messaging-agent/pkg/metrics"
)

// MaxButtons is the gateway's limit for reply buttons.
const MaxButtons = 3

// Presence states accepted by SendPresence.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// ListRow is one selectable row of an interactive list.
type ListRow struct {
	ID          string
	Title       string
	Description string
}

// List is an interactive list message.
type List struct {
	Title       string
	Description string
	ButtonText  string
	FooterText  string
	SectionName string
	Rows        []ListRow
}

// Button is a quick reply button.
type Button struct {
	ID   string
	Text string
}

// Sender is the outbound surface the engine uses.
type Sender interface {
	SendText(ctx context.Context, creds model.GatewayCredentials, to, text string) error
	SendList(ctx context.Context, creds model.GatewayCredentials, to string, list List) error
	SendButtons(ctx context.Context, creds model.GatewayCredentials, to, title, description, footer string, buttons []Button) error
	SendPresence(ctx context.Context, creds model.GatewayCredentials, to, presence string, delay time.Duration) error
}

// Client talks to the gateway REST API. Credentials are passed per call
// because every tenant has its own instance.
type Client struct {
	http *resty.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client with the given request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "messaging-agent/1.0").
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r.StatusCode() >= 500
			}),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type listRowPayload struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RowID       string `json:"rowId"`
}

type listSectionPayload struct {
	Title string           `json:"title"`
	Rows  []listRowPayload `json:"rows"`
}

type sendListRequest struct {
	Number      string               `json:"number"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	ButtonText  string               `json:"buttonText"`
	FooterText  string               `json:"footerText"`
	Sections    []listSectionPayload `json:"sections"`
}

type buttonPayload struct {
	Type        string `json:"type"`
	DisplayText string `json:"displayText"`
	ID          string `json:"id"`
}

type sendButtonsRequest struct {
	Number      string          `json:"number"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Footer      string          `json:"footer"`
	Buttons     []buttonPayload `json:"buttons"`
}

type sendPresenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
	Delay    int64  `json:"delay"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, creds model.GatewayCredentials, to, text string) error {
	err := c.post(ctx, creds, "/message/sendText/", sendTextRequest{Number: to, Text: text})
	metrics.RecordGatewaySend("send_text", err)
	return err
}

// SendList sends an interactive list.
func (c *Client) SendList(ctx context.Context, creds model.GatewayCredentials, to string, list List) error {
	if len(list.Rows) == 0 {
		return errors.New("list has no rows")
	}
	rows := make([]listRowPayload, len(list.Rows))
	for i, r := range list.Rows {
		rows[i] = listRowPayload{Title: r.Title, Description: r.Description, RowID: r.ID}
	}
	req := sendListRequest{
		Number:      to,
		Title:       list.Title,
		Description: list.Description,
		ButtonText:  list.ButtonText,
		FooterText:  list.FooterText,
		Sections:    []listSectionPayload{{Title: list.SectionName, Rows: rows}},
	}
	err := c.post(ctx, creds, "/message/sendList/", req)
	metrics.RecordGatewaySend("send_list", err)
	return err
}

// SendButtons sends up to three reply buttons.
func (c *Client) SendButtons(ctx context.Context, creds model.GatewayCredentials, to, title, description, footer string, buttons []Button) error {
	if len(buttons) == 0 || len(buttons) > MaxButtons {
		return fmt.Errorf("button count must be between 1 and %d, got %d", MaxButtons, len(buttons))
	}
	payload := make([]buttonPayload, len(buttons))
	for i, b := range buttons {
		payload[i] = buttonPayload{Type: "reply", DisplayText: b.Text, ID: b.ID}
	}
	req := sendButtonsRequest{Number: to, Title: title, Description: description, Footer: footer, Buttons: payload}
	err := c.post(ctx, creds, "/message/sendButtons/", req)
	metrics.RecordGatewaySend("send_buttons", err)
	return err
}

// SendPresence shows a typing or paused indicator to the contact.
func (c *Client) SendPresence(ctx context.Context, creds model.GatewayCredentials, to, presence string, delay time.Duration) error {
	req := sendPresenceRequest{Number: to, Presence: presence, Delay: delay.Milliseconds()}
	err := c.post(ctx, creds, "/chat/sendPresence/", req)
	metrics.RecordGatewaySend("send_presence", err)
	return err
}

func (c *Client) post(ctx context.Context, creds model.GatewayCredentials, path string, body any) error {
	if !creds.Complete() {
		return errors.New("gateway credentials incomplete")
	}
	url := strings.TrimRight(creds.BaseURL, "/") + path + creds.Instance

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", creds.APIKey).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode(), truncate(resp.String(), 256))
	}
	return nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
