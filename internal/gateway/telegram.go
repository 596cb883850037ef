package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gtdbot/internal/domain"
	"gtdbot/internal/media"
)

const telegramMaxMsgLen = 4000

type TelegramConfig struct {
	Token      string
	Endpoint   string // defaults to tgbotapi.APIEndpoint
	MaxBytes   int64  // voice download cap, defaults to media.DefaultMaxBytes
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Telegram sends replies through the Bot API. Updates arrive by webhook,
// so the client never polls.
type Telegram struct {
	bot      *tgbotapi.BotAPI
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = media.DefaultMaxBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.Endpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return &Telegram{bot: bot, client: cfg.HTTPClient, maxBytes: cfg.MaxBytes, logger: cfg.Logger}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendText(ctx context.Context, address, text string) error {
	chatID, err := chatIDOf(address)
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// SendMenu renders every menu row as one inline keyboard button whose
// callback data is the row ID.
func (t *Telegram) SendMenu(ctx context.Context, address string, menu domain.Menu) error {
	chatID, err := chatIDOf(address)
	if err != nil {
		return err
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range menu.Sections {
		for _, r := range s.Rows {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(r.Title, r.ID),
			))
		}
	}
	text := menu.Body
	if menu.Title != "" {
		text = menu.Title + "\n\n" + text
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send menu: %w", err)
	}
	return nil
}

// AnswerCallback clears the loading state of a tapped inline button.
func (t *Telegram) AnswerCallback(callbackID string) {
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		t.logger.Debug("answer callback failed", "error", err)
	}
}

// MediaStrategies resolves the voice file through getFile and downloads it.
func (t *Telegram) MediaStrategies(domain.MediaRef) []media.RetrievalStrategy {
	return []media.RetrievalStrategy{&telegramFileStrategy{t: t}}
}

type telegramFileStrategy struct{ t *Telegram }

func (s *telegramFileStrategy) Name() string { return "telegram.getFile" }

func (s *telegramFileStrategy) Fetch(ctx context.Context, ref domain.MediaRef) ([]byte, bool, error) {
	fileURL, err := s.t.bot.GetFileDirectURL(ref.MessageID)
	if err != nil {
		return nil, false, fmt.Errorf("telegram getFile: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.t.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("telegram download: HTTP %d", resp.StatusCode)
	}
	limit := s.t.maxBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("telegram download: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, false, fmt.Errorf("telegram download: file exceeds %d bytes", limit)
	}
	return data, true, nil
}

// ParseTelegram converts a webhook update. ok is false for updates that
// carry nothing the pipeline handles (edits, joins, channel posts).
func ParseTelegram(u tgbotapi.Update) (ev domain.InboundEvent, ok bool, err error) {
	if cb := u.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Data == "" {
			return domain.InboundEvent{}, false, ErrUnsupportedMessage
		}
		chat := strconv.FormatInt(cb.Message.Chat.ID, 10)
		return domain.InboundEvent{
			EventID:        "tg-cb-" + cb.ID,
			Gateway:        "telegram",
			SenderAddress:  chat,
			ConversationID: chat,
			Timestamp:      time.Now(),
			Kind:           domain.PayloadButton,
			Content:        cb.Data,
			FromSelf:       cb.From != nil && cb.From.IsBot,
		}, true, nil
	}

	m := u.Message
	if m == nil || m.Chat == nil {
		return domain.InboundEvent{}, false, nil
	}
	if !m.Chat.IsPrivate() {
		return domain.InboundEvent{}, false, ErrUnsupportedMessage
	}
	chat := strconv.FormatInt(m.Chat.ID, 10)
	ev = domain.InboundEvent{
		EventID:        fmt.Sprintf("tg-%s-%d", chat, m.MessageID),
		Gateway:        "telegram",
		SenderAddress:  chat,
		ConversationID: chat,
		Timestamp:      time.Unix(int64(m.Date), 0),
		FromSelf:       m.From != nil && m.From.IsBot,
	}

	switch {
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = domain.PayloadText
		ev.Content = m.Text
	case m.Voice != nil:
		ev.Kind = domain.PayloadAudio
		ev.Media = &domain.MediaRef{
			MessageID:      m.Voice.FileID,
			ConversationID: chat,
			MimeType:       m.Voice.MimeType,
			Seconds:        m.Voice.Duration,
		}
	case m.Audio != nil:
		ev.Kind = domain.PayloadAudio
		ev.Media = &domain.MediaRef{
			MessageID:      m.Audio.FileID,
			ConversationID: chat,
			MimeType:       m.Audio.MimeType,
			Seconds:        m.Audio.Duration,
		}
	default:
		return domain.InboundEvent{}, false, ErrUnsupportedMessage
	}
	return ev, true, nil
}

func chatIDOf(address string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", address, err)
	}
	return id, nil
}

// splitMessage cuts text into chunks of at most limit bytes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
