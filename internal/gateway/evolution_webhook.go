package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gtdbot/internal/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EvolutionWebhook is the envelope every Evolution API webhook shares.
type EvolutionWebhook struct {
	Event    string          `json:"event" validate:"required"`
	Instance string          `json:"instance"`
	APIKey   string          `json:"apikey"`
	Data     json.RawMessage `json:"data"`
}

// DecodeEvolution decodes and validates the webhook envelope.
func DecodeEvolution(body []byte) (*EvolutionWebhook, error) {
	var wh EvolutionWebhook
	if err := json.Unmarshal(body, &wh); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if err := validate.Struct(&wh); err != nil {
		return nil, fmt.Errorf("invalid webhook: %w", err)
	}
	return &wh, nil
}

// IsMessageEvent reports whether the envelope carries an inbound message.
func (w *EvolutionWebhook) IsMessageEvent() bool {
	switch w.Event {
	case "messages.upsert", "MESSAGES_UPSERT":
		return true
	}
	return false
}

type evoMessageData struct {
	Key struct {
		RemoteJid   string `json:"remoteJid" validate:"required"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id" validate:"required"`
		Participant string `json:"participant"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
	Message          *evoMessage     `json:"message"`
}

type evoMessage struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
		Seconds  int    `json:"seconds"`
		PTT      bool   `json:"ptt"`
	} `json:"audioMessage"`
	ButtonsResponseMessage *struct {
		SelectedButtonID    string `json:"selectedButtonId"`
		SelectedDisplayText string `json:"selectedDisplayText"`
	} `json:"buttonsResponseMessage"`
	ListResponseMessage *struct {
		Title             string `json:"title"`
		SingleSelectReply struct {
			SelectedRowID string `json:"selectedRowId"`
		} `json:"singleSelectReply"`
	} `json:"listResponseMessage"`
}

// InboundEvent converts a message event into a domain event. Call only
// when IsMessageEvent is true.
func (w *EvolutionWebhook) InboundEvent() (domain.InboundEvent, error) {
	var data evoMessageData
	if err := json.Unmarshal(w.Data, &data); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("decode message data: %w", err)
	}
	if err := validate.Struct(&data); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("invalid message data: %w", err)
	}

	jid := data.Key.RemoteJid
	if strings.HasSuffix(jid, "@g.us") || jid == "status@broadcast" {
		return domain.InboundEvent{}, ErrUnsupportedMessage
	}

	ev := domain.InboundEvent{
		EventID:        data.Key.ID,
		Gateway:        "evolution",
		SenderAddress:  jid,
		ConversationID: jid,
		Timestamp:      parseUnix(data.MessageTimestamp),
		FromSelf:       data.Key.FromMe,
	}

	m := data.Message
	if m == nil {
		return domain.InboundEvent{}, ErrUnsupportedMessage
	}
	switch {
	case m.Conversation != "":
		ev.Kind = domain.PayloadText
		ev.Content = m.Conversation
	case m.ExtendedTextMessage != nil && m.ExtendedTextMessage.Text != "":
		ev.Kind = domain.PayloadText
		ev.Content = m.ExtendedTextMessage.Text
	case m.AudioMessage != nil:
		ev.Kind = domain.PayloadAudio
		ev.Media = &domain.MediaRef{
			URL:            m.AudioMessage.URL,
			MessageID:      data.Key.ID,
			ConversationID: jid,
			MimeType:       m.AudioMessage.Mimetype,
			Seconds:        m.AudioMessage.Seconds,
		}
		ev.Media.Encrypted = isEncryptedURL(m.AudioMessage.URL)
	case m.ButtonsResponseMessage != nil:
		ev.Kind = domain.PayloadButton
		ev.Content = m.ButtonsResponseMessage.SelectedButtonID
	case m.ListResponseMessage != nil:
		ev.Kind = domain.PayloadList
		ev.Content = m.ListResponseMessage.SingleSelectReply.SelectedRowID
	default:
		return domain.InboundEvent{}, ErrUnsupportedMessage
	}
	return ev, nil
}

// ParseEvolution decodes a webhook body. ok is false for envelopes that
// are not message events; those should be acknowledged and dropped.
func ParseEvolution(body []byte) (ev domain.InboundEvent, ok bool, err error) {
	wh, err := DecodeEvolution(body)
	if err != nil {
		return domain.InboundEvent{}, false, err
	}
	if !wh.IsMessageEvent() {
		return domain.InboundEvent{}, false, nil
	}
	ev, err = wh.InboundEvent()
	if err != nil {
		return domain.InboundEvent{}, false, err
	}
	return ev, true, nil
}

func isEncryptedURL(raw string) bool {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.HasSuffix(raw, ".enc")
}

// parseUnix accepts seconds as a JSON number or a numeric string. Missing
// or malformed timestamps yield the zero time.
func parseUnix(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}
		}
		n = int64(f)
	}
	return time.Unix(n, 0)
}
