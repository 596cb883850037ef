package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/domain"
	"gtdbot/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordedRequest struct {
	Path   string
	APIKey string
	Body   map[string]any
}

type evoServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, path string, body map[string]any)
}

func newEvoServer(t *testing.T, handler func(w http.ResponseWriter, path string, body map[string]any)) (*evoServer, *Evolution) {
	t.Helper()
	s := &evoServer{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		s.mu.Lock()
		s.requests = append(s.requests, recordedRequest{Path: r.URL.Path, APIKey: r.Header.Get("apikey"), Body: body})
		s.mu.Unlock()
		if s.handler != nil {
			s.handler(w, r.URL.Path, body)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	evo := NewEvolution(EvolutionConfig{
		BaseURL:      srv.URL + "/",
		APIKey:       "evo-key",
		Instance:     "gtd",
		RetryBackoff: time.Millisecond,
		Logger:       testLogger(),
	})
	return s, evo
}

func TestEvolutionSendText(t *testing.T) {
	s, evo := newEvoServer(t, nil)

	err := evo.SendText(context.Background(), "5491122334455@s.whatsapp.net", "hola")
	require.NoError(t, err)

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, "/message/sendText/gtd", req.Path)
	assert.Equal(t, "evo-key", req.APIKey)
	assert.Equal(t, "5491122334455", req.Body["number"])
	assert.Equal(t, "hola", req.Body["text"])
}

func TestEvolutionSendTextRetriesServerErrors(t *testing.T) {
	calls := 0
	_, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, evo.SendText(context.Background(), "5491122334455", "hola"))
	assert.Equal(t, 3, calls)
}

func TestEvolutionSendTextClientErrorNotRetried(t *testing.T) {
	calls := 0
	_, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad number"}`))
	})

	err := evo.SendText(context.Background(), "5491122334455", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Equal(t, 1, calls)
}

func TestEvolutionSendMenuRejectionIsStatusError(t *testing.T) {
	calls := 0
	_, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"sections required"}`))
	})

	err := evo.SendMenu(context.Background(), "5491122334455", domain.Menu{Title: "Ayuda"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.Status)
	assert.Contains(t, statusErr.Body, "sections required")
	assert.Equal(t, 1, calls)
}

func TestEvolutionRetryGivesUp(t *testing.T) {
	calls := 0
	_, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := evo.SendText(context.Background(), "5491122334455", "hola")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up after 3 tries")
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := newRetryPolicy(5, 100*time.Millisecond)

	for attempt, want := range map[int]time.Duration{2: 100 * time.Millisecond, 3: 200 * time.Millisecond, 4: 400 * time.Millisecond} {
		d := p.delay(attempt, "")
		assert.GreaterOrEqual(t, d, want/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, want, "attempt %d", attempt)
	}
	assert.LessOrEqual(t, p.delay(20, ""), 800*time.Millisecond)

	assert.Equal(t, time.Duration(0), p.delay(2, "0"))
	assert.Equal(t, 800*time.Millisecond, p.delay(2, "120"), "Retry-After is capped")
	assert.LessOrEqual(t, p.delay(2, "soon"), 100*time.Millisecond)
}

func TestEvolutionSendMenu(t *testing.T) {
	s, evo := newEvoServer(t, nil)

	menu := domain.Menu{
		Title: "Ayuda",
		Body:  "¿Qué querés hacer?",
		Sections: []domain.MenuSection{{
			Title: "Tareas",
			Rows: []domain.MenuRow{
				{ID: "create_task", Title: "Crear tarea", Description: "Anotá algo"},
				{ID: "view_next", Title: "Próximas acciones"},
			},
		}},
	}
	require.NoError(t, evo.SendMenu(context.Background(), "5491122334455", menu))

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, "/message/sendList/gtd", req.Path)
	assert.Equal(t, "Ayuda", req.Body["title"])
	assert.Equal(t, "Ver opciones", req.Body["buttonText"])

	sections := req.Body["sections"].([]any)
	require.Len(t, sections, 1)
	rows := sections[0].(map[string]any)["rows"].([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "create_task", rows[0].(map[string]any)["rowId"])
	assert.Equal(t, "Crear tarea", rows[0].(map[string]any)["title"])
}

func TestEvolutionMediaStrategiesOrder(t *testing.T) {
	audio := []byte("OggS fake audio")
	encoded := base64.StdEncoding.EncodeToString(audio)

	s, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		// Only the bare message.key shape is understood by this server.
		msg, hasMsg := body["message"].(map[string]any)
		if hasMsg {
			if _, hasConvert := body["convertToMp4"]; !hasConvert {
				key := msg["key"].(map[string]any)
				if key["id"] == "MSG1" {
					_, _ = w.Write([]byte(`{"base64":"` + encoded + `","mimetype":"audio/ogg"}`))
					return
				}
			}
		}
		w.WriteHeader(http.StatusBadRequest)
	})

	ref := domain.MediaRef{MessageID: "MSG1", ConversationID: "5491122334455@s.whatsapp.net", Encrypted: true}
	strategies := evo.MediaStrategies(ref)
	require.Len(t, strategies, 3)

	_, ok, err := strategies[0].Fetch(context.Background(), ref)
	assert.False(t, ok)
	assert.Error(t, err)

	data, ok, err := strategies[1].Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, audio, data)

	for _, r := range s.requests {
		assert.Equal(t, "/chat/getBase64FromMediaMessage/gtd", r.Path)
	}
}

func TestEvolutionMediaEmptyBase64FallsThrough(t *testing.T) {
	_, evo := newEvoServer(t, func(w http.ResponseWriter, path string, body map[string]any) {
		_, _ = w.Write([]byte(`{"base64":""}`))
	})
	ref := domain.MediaRef{MessageID: "MSG1"}
	data, ok, err := evo.MediaStrategies(ref)[2].Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "QUJD", stripDataURI("data:audio/ogg;base64,QUJD"))
	assert.Equal(t, "QUJD", stripDataURI("QUJD"))
}

// --- Composer ---

type fakeClient struct {
	textErr error
	menuErr error
	texts   []string
	menus   []domain.Menu
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) SendText(ctx context.Context, address, text string) error {
	if f.textErr != nil {
		return f.textErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeClient) SendMenu(ctx context.Context, address string, menu domain.Menu) error {
	if f.menuErr != nil {
		return f.menuErr
	}
	f.menus = append(f.menus, menu)
	return nil
}

func (f *fakeClient) MediaStrategies(domain.MediaRef) []media.RetrievalStrategy { return nil }

type countingObserver struct{ failures map[string]int }

func (o *countingObserver) DeliveryFailed(gateway, kind string) {
	if o.failures == nil {
		o.failures = map[string]int{}
	}
	o.failures[gateway+"/"+kind]++
}

func TestComposerSendSwallowsErrors(t *testing.T) {
	obs := &countingObserver{}
	c := NewComposer(ComposerConfig{
		Client:   &fakeClient{textErr: errors.New("boom")},
		Observer: obs,
		Logger:   testLogger(),
	})

	assert.False(t, c.Send(context.Background(), "5491122334455", "hola"))
	assert.Equal(t, 1, obs.failures["fake/text"])
}

func TestComposerSendInteractiveFallsBackToText(t *testing.T) {
	client := &fakeClient{menuErr: errors.New("lists not supported")}
	obs := &countingObserver{}
	c := NewComposer(ComposerConfig{Client: client, Observer: obs, Logger: testLogger()})

	menu := domain.Menu{Body: "Opciones", Sections: []domain.MenuSection{{Rows: []domain.MenuRow{{ID: "a", Title: "Uno"}}}}}
	ok := c.SendInteractive(context.Background(), "5491122334455", menu, "texto de ayuda")

	assert.True(t, ok)
	assert.Equal(t, []string{"texto de ayuda"}, client.texts)
	assert.Equal(t, 1, obs.failures["fake/menu"])
}

func TestComposerSendInteractiveUsesPlainTextWhenNoFallback(t *testing.T) {
	client := &fakeClient{menuErr: errors.New("nope")}
	c := NewComposer(ComposerConfig{Client: client, Logger: testLogger()})

	menu := domain.Menu{Body: "Opciones", Sections: []domain.MenuSection{{Rows: []domain.MenuRow{{ID: "a", Title: "Uno"}}}}}
	c.SendInteractive(context.Background(), "5491122334455", menu, "")

	require.Len(t, client.texts, 1)
	assert.Equal(t, menu.PlainText(), client.texts[0])
}

func TestComposerSendInteractiveRichSuccess(t *testing.T) {
	client := &fakeClient{}
	c := NewComposer(ComposerConfig{Client: client, Logger: testLogger()})

	assert.True(t, c.SendInteractive(context.Background(), "1", domain.Menu{Body: "x"}, "fallback"))
	assert.Len(t, client.menus, 1)
	assert.Empty(t, client.texts)
}

// --- Evolution webhook parsing ---

func evoBody(event, data string) []byte {
	return []byte(`{"event":"` + event + `","instance":"gtd","apikey":"k","data":` + data + `}`)
}

func TestParseEvolutionText(t *testing.T) {
	body := evoBody("messages.upsert", `{
		"key":{"remoteJid":"5491122334455@s.whatsapp.net","fromMe":false,"id":"ABC123"},
		"pushName":"Ana",
		"message":{"conversation":"comprar pan"},
		"messageTimestamp":1773147600
	}`)

	ev, ok, err := ParseEvolution(body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ABC123", ev.EventID)
	assert.Equal(t, "evolution", ev.Gateway)
	assert.Equal(t, "5491122334455@s.whatsapp.net", ev.SenderAddress)
	assert.Equal(t, domain.PayloadText, ev.Kind)
	assert.Equal(t, "comprar pan", ev.Content)
	assert.Equal(t, int64(1773147600), ev.Timestamp.Unix())
	assert.False(t, ev.FromSelf)
}

func TestParseEvolutionUppercaseEventAndStringTimestamp(t *testing.T) {
	body := evoBody("MESSAGES_UPSERT", `{
		"key":{"remoteJid":"5491122334455@s.whatsapp.net","fromMe":true,"id":"X"},
		"message":{"extendedTextMessage":{"text":"hola"}},
		"messageTimestamp":"1773147600"
	}`)

	ev, ok, err := ParseEvolution(body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hola", ev.Content)
	assert.True(t, ev.FromSelf)
	assert.Equal(t, int64(1773147600), ev.Timestamp.Unix())
}

func TestParseEvolutionAudio(t *testing.T) {
	body := evoBody("messages.upsert", `{
		"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"AUD1"},
		"message":{"audioMessage":{"url":"https://mmg.whatsapp.net/v/t62.7117-24/abc.enc?ccb=11-4","mimetype":"audio/ogg; codecs=opus","seconds":7,"ptt":true}}
	}`)

	ev, ok, err := ParseEvolution(body)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PayloadAudio, ev.Kind)
	require.NotNil(t, ev.Media)
	assert.True(t, ev.Media.Encrypted)
	assert.Equal(t, "AUD1", ev.Media.MessageID)
	assert.Equal(t, "5491122334455@s.whatsapp.net", ev.Media.ConversationID)
	assert.Equal(t, 7, ev.Media.Seconds)
	assert.True(t, ev.Timestamp.IsZero())
}

func TestParseEvolutionInteractiveReplies(t *testing.T) {
	button := evoBody("messages.upsert", `{
		"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"B1"},
		"message":{"buttonsResponseMessage":{"selectedButtonId":"view_today","selectedDisplayText":"Hoy"}}
	}`)
	ev, ok, err := ParseEvolution(button)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PayloadButton, ev.Kind)
	assert.Equal(t, "view_today", ev.Content)

	list := evoBody("messages.upsert", `{
		"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"L1"},
		"message":{"listResponseMessage":{"title":"Crear tarea","singleSelectReply":{"selectedRowId":"create_task"}}}
	}`)
	ev, ok, err = ParseEvolution(list)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PayloadList, ev.Kind)
	assert.Equal(t, "create_task", ev.Content)
}

func TestParseEvolutionNonMessageEvent(t *testing.T) {
	ev, ok, err := ParseEvolution(evoBody("connection.update", `{"state":"open"}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, ev.EventID)
}

func TestParseEvolutionUnsupported(t *testing.T) {
	cases := map[string]string{
		"group":     `{"key":{"remoteJid":"12036302@g.us","id":"G1"},"message":{"conversation":"hola"}}`,
		"broadcast": `{"key":{"remoteJid":"status@broadcast","id":"S1"},"message":{"conversation":"hola"}}`,
		"sticker":   `{"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"ST1"},"message":{"stickerMessage":{}}}`,
		"no body":   `{"key":{"remoteJid":"5491122334455@s.whatsapp.net","id":"N1"}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok, err := ParseEvolution(evoBody("messages.upsert", data))
			assert.False(t, ok)
			assert.ErrorIs(t, err, ErrUnsupportedMessage)
		})
	}
}

func TestParseEvolutionInvalid(t *testing.T) {
	_, _, err := ParseEvolution([]byte(`{"instance":"gtd"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook")

	_, _, err = ParseEvolution([]byte(`not json`))
	require.Error(t, err)

	_, _, err = ParseEvolution(evoBody("messages.upsert", `{"key":{"remoteJid":"5491122334455@s.whatsapp.net"}}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedMessage))
}

func TestDecodeEvolutionKeepsAPIKey(t *testing.T) {
	wh, err := DecodeEvolution(evoBody("messages.upsert", `{}`))
	require.NoError(t, err)
	assert.Equal(t, "k", wh.APIKey)
	assert.True(t, wh.IsMessageEvent())
}

// --- Telegram ---

func TestParseTelegramText(t *testing.T) {
	u := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 17,
		From:      &tgbotapi.User{ID: 99},
		Date:      1773147600,
		Chat:      &tgbotapi.Chat{ID: 12345, Type: "private"},
		Text:      "llamar a Juan",
	}}

	ev, ok, err := ParseTelegram(u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tg-12345-17", ev.EventID)
	assert.Equal(t, "telegram", ev.Gateway)
	assert.Equal(t, "12345", ev.SenderAddress)
	assert.Equal(t, domain.PayloadText, ev.Kind)
	assert.Equal(t, "llamar a Juan", ev.Content)
	assert.Equal(t, int64(1773147600), ev.Timestamp.Unix())
}

func TestParseTelegramVoice(t *testing.T) {
	u := tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 18,
		From:      &tgbotapi.User{ID: 99},
		Chat:      &tgbotapi.Chat{ID: 12345, Type: "private"},
		Voice:     &tgbotapi.Voice{FileID: "FILE1", Duration: 4, MimeType: "audio/ogg"},
	}}

	ev, ok, err := ParseTelegram(u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.PayloadAudio, ev.Kind)
	require.NotNil(t, ev.Media)
	assert.Equal(t, "FILE1", ev.Media.MessageID)
	assert.Empty(t, ev.Media.URL)
}

func TestParseTelegramCallback(t *testing.T) {
	u := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 99},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 12345, Type: "private"}},
		Data:    "view_inbox",
	}}

	ev, ok, err := ParseTelegram(u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tg-cb-cb1", ev.EventID)
	assert.Equal(t, domain.PayloadButton, ev.Kind)
	assert.Equal(t, "view_inbox", ev.Content)
}

func TestParseTelegramSkips(t *testing.T) {
	_, ok, err := ParseTelegram(tgbotapi.Update{})
	assert.NoError(t, err)
	assert.False(t, ok)

	group := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: -100, Type: "group"},
		Text: "hola",
	}}
	_, ok, err = ParseTelegram(group)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedMessage)

	photo := tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
	}}
	_, ok, err = ParseTelegram(photo)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnsupportedMessage)
}

// redirectTransport sends every request to the test server, including the
// file downloads the bot library builds against the public API host.
type redirectTransport struct{ target *url.URL }

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTelegramServer(t *testing.T, voice []byte, maxBytes int64) (*Telegram, *[]map[string]string) {
	t.Helper()
	var mu sync.Mutex
	var sent []map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"gtd","username":"gtd_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"` + r.Form.Get("file_id") + `","file_path":"voice/file_1.oga"}}`))
		case strings.HasPrefix(r.URL.Path, "/file/botTOKEN/"):
			_, _ = w.Write(voice)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mu.Lock()
			sent = append(sent, map[string]string{
				"chat_id":      r.Form.Get("chat_id"),
				"text":         r.Form.Get("text"),
				"reply_markup": r.Form.Get("reply_markup"),
			})
			mu.Unlock()
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":12345,"type":"private"}}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		}
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	tg, err := NewTelegram(TelegramConfig{
		Token:      "TOKEN",
		Endpoint:   srv.URL + "/bot%s/%s",
		MaxBytes:   maxBytes,
		HTTPClient: &http.Client{Transport: redirectTransport{target: target}},
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	return tg, &sent
}

func TestTelegramVoiceDownload(t *testing.T) {
	voice := []byte("OggS-voice-note")
	tg, _ := newTelegramServer(t, voice, 1024)

	strategies := tg.MediaStrategies(domain.MediaRef{MessageID: "F1"})
	require.Len(t, strategies, 1)
	data, ok, err := strategies[0].Fetch(context.Background(), domain.MediaRef{MessageID: "F1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, voice, data)
}

func TestTelegramVoiceDownload_ConfiguredCap(t *testing.T) {
	tg, _ := newTelegramServer(t, []byte(strings.Repeat("x", 64)), 32)

	_, ok, err := tg.MediaStrategies(domain.MediaRef{})[0].Fetch(context.Background(), domain.MediaRef{MessageID: "F1"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "exceeds 32 bytes")
}

func TestTelegramSendText(t *testing.T) {
	tg, sent := newTelegramServer(t, nil, 0)

	require.NoError(t, tg.SendText(context.Background(), "12345", "hola"))
	require.Len(t, *sent, 1)
	assert.Equal(t, "12345", (*sent)[0]["chat_id"])
	assert.Equal(t, "hola", (*sent)[0]["text"])

	assert.Error(t, tg.SendText(context.Background(), "5491122334455@s.whatsapp.net", "x"))
}

func TestTelegramSendMenu(t *testing.T) {
	tg, sent := newTelegramServer(t, nil, 0)

	menu := domain.Menu{
		Title: "Ayuda",
		Body:  "Elegí una opción",
		Sections: []domain.MenuSection{{Rows: []domain.MenuRow{
			{ID: "view_today", Title: "Hoy"},
			{ID: "view_inbox", Title: "Inbox"},
		}}},
	}
	require.NoError(t, tg.SendMenu(context.Background(), "12345", menu))
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0]["text"], "Ayuda")
	assert.Contains(t, (*sent)[0]["reply_markup"], `"callback_data":"view_today"`)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	parts := splitMessage(text, 10)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, parts)

	parts = splitMessage(strings.Repeat("ñ", 10), 5)
	for _, p := range parts {
		assert.True(t, len(p) <= 5)
		assert.Equal(t, 0, len(p)%2, "split inside a rune: %q", p)
	}
}
