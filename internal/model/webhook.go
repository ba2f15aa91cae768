package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// WebhookEvent is the envelope the messaging gateway posts for every event.
type WebhookEvent struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Sender   string      `json:"sender"`
	Data     WebhookData `json:"data"`
}

// WebhookData carries one message event.
type WebhookData struct {
	Key              WebhookKey      `json:"key"`
	PushName         string          `json:"pushName"`
	MessageType      string          `json:"messageType"`
	Message          *WebhookMessage `json:"message"`
	MessageTimestamp UnixTime        `json:"messageTimestamp"`
}

// WebhookKey identifies the message on the gateway.
type WebhookKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// WebhookMessage holds the payload variants the engine reads text from.
type WebhookMessage struct {
	Conversation        string               `json:"conversation"`
	ExtendedTextMessage *WebhookExtendedText `json:"extendedTextMessage"`
	ImageMessage        *WebhookMedia        `json:"imageMessage"`
	VideoMessage        *WebhookMedia        `json:"videoMessage"`
	DocumentMessage     *WebhookMedia        `json:"documentMessage"`
}

// WebhookExtendedText is a text message with formatting or a quote.
type WebhookExtendedText struct {
	Text string `json:"text"`
}

// WebhookMedia is a media message that may carry a caption.
type WebhookMedia struct {
	Caption string `json:"caption"`
}

// UnixTime accepts a Unix timestamp encoded either as a number or a string.
type UnixTime int64

// UnmarshalJSON implements json.Unmarshaler.
func (u *UnixTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var f float64
		if ferr := json.Unmarshal([]byte(s), &f); ferr != nil {
			return err
		}
		v = int64(f)
	}
	*u = UnixTime(v)
	return nil
}

// Time converts to time.Time; zero when unset.
func (u UnixTime) Time() time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(int64(u), 0)
}

// IsMessageEvent reports whether the event announces a new message.
func (e *WebhookEvent) IsMessageEvent() bool {
	name := strings.ToLower(strings.TrimSpace(e.Event))
	name = strings.NewReplacer("_", ".", "-", ".").Replace(name)
	switch name {
	case "messages.upsert", "message.create", "message.created":
		return true
	}
	return false
}

// ContactID returns the contact's phone number without the JID domain.
func (e *WebhookEvent) ContactID() string {
	jid := e.Data.Key.RemoteJID
	if jid == "" {
		jid = e.Sender
	}
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	return strings.TrimSpace(jid)
}

// Text extracts the human-readable text of the message, if any.
func (e *WebhookEvent) Text() string {
	m := e.Data.Message
	if m == nil {
		return ""
	}
	switch {
	case m.Conversation != "":
		return strings.TrimSpace(m.Conversation)
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		return strings.TrimSpace(m.ExtendedTextMessage.Text)
	case m.ImageMessage != nil && m.ImageMessage.Caption != "":
		return strings.TrimSpace(m.ImageMessage.Caption)
	case m.VideoMessage != nil && m.VideoMessage.Caption != "":
		return strings.TrimSpace(m.VideoMessage.Caption)
	case m.DocumentMessage != nil && m.DocumentMessage.Caption != "":
		return strings.TrimSpace(m.DocumentMessage.Caption)
	}
	return ""
}

// Kind maps the gateway message type to a MessageKind.
func (e *WebhookEvent) Kind() MessageKind {
	switch e.Data.MessageType {
	case "", "conversation", "extendedTextMessage":
		return KindText
	case "audioMessage", "pttMessage":
		return KindAudio
	case "imageMessage":
		return KindImage
	case "videoMessage":
		return KindVideo
	case "documentMessage", "documentWithCaptionMessage":
		return KindDocument
	case "stickerMessage":
		return KindSticker
	case "locationMessage", "liveLocationMessage":
		return KindLocation
	case "contactMessage", "contactsArrayMessage":
		return KindContact
	}
	return KindOther
}
