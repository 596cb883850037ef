package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gtdbot/internal/domain"
	"gtdbot/internal/identity"
	"gtdbot/internal/media"
)

// EvolutionConfig configures a WhatsApp relay speaking the Evolution API.
type EvolutionConfig struct {
	BaseURL       string // e.g. "https://evo.example.com"
	APIKey        string
	Instance      string
	RetryAttempts int           // total tries per send, defaults to 3
	RetryBackoff  time.Duration // first retry delay, defaults to 1s
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Evolution sends WhatsApp messages through an Evolution API instance.
type Evolution struct {
	baseURL  string
	apiKey   string
	instance string
	client   *http.Client
	retry    retryPolicy
	logger   *slog.Logger
}

func NewEvolution(cfg EvolutionConfig) *Evolution {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Evolution{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		instance: cfg.Instance,
		client:   cfg.HTTPClient,
		retry:    newRetryPolicy(cfg.RetryAttempts, cfg.RetryBackoff),
		logger:   cfg.Logger,
	}
}

func (e *Evolution) Name() string { return "evolution" }

func (e *Evolution) endpoint(path string) string {
	return e.baseURL + path + "/" + url.PathEscape(e.instance)
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (e *Evolution) SendText(ctx context.Context, address, text string) error {
	return e.post(ctx, e.endpoint("/message/sendText"), sendTextRequest{
		Number: identity.NormalizeAddress(address),
		Text:   text,
	}, nil)
}

type sendListRequest struct {
	Number      string        `json:"number"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	ButtonText  string        `json:"buttonText"`
	FooterText  string        `json:"footerText,omitempty"`
	Sections    []listSection `json:"sections"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type listRow struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RowID       string `json:"rowId"`
}

func (e *Evolution) SendMenu(ctx context.Context, address string, menu domain.Menu) error {
	req := sendListRequest{
		Number:      identity.NormalizeAddress(address),
		Title:       menu.Title,
		Description: menu.Body,
		ButtonText:  menu.ButtonText,
		FooterText:  menu.Footer,
	}
	if req.ButtonText == "" {
		req.ButtonText = "Ver opciones"
	}
	for _, s := range menu.Sections {
		sec := listSection{Title: s.Title}
		for _, r := range s.Rows {
			sec.Rows = append(sec.Rows, listRow{Title: r.Title, Description: r.Description, RowID: r.ID})
		}
		req.Sections = append(req.Sections, sec)
	}
	return e.post(ctx, e.endpoint("/message/sendList"), req, nil)
}

// post sends a JSON body with the apikey header and decodes a JSON reply
// into out when out is non-nil. Non-2xx responses are errors.
func (e *Evolution) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("evolution: marshal: %w", err)
	}

	header := http.Header{}
	header.Set("apikey", e.apiKey)
	resp, err := e.retry.post(ctx, e.client, e.logger, endpoint, header, payload)
	if err != nil {
		return fmt.Errorf("evolution: %w", err)
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("evolution: decode response: %w", err)
	}
	return nil
}

// MediaStrategies returns the known request shapes of the base64 media
// endpoint, most specific first.
func (e *Evolution) MediaStrategies(ref domain.MediaRef) []media.RetrievalStrategy {
	key := map[string]any{"id": ref.MessageID}
	fullKey := map[string]any{"id": ref.MessageID, "remoteJid": ref.ConversationID, "fromMe": false}

	return []media.RetrievalStrategy{
		&base64Strategy{e: e, name: "message.key+convert", body: map[string]any{
			"message":      map[string]any{"key": fullKey},
			"convertToMp4": false,
		}},
		&base64Strategy{e: e, name: "message.key", body: map[string]any{
			"message": map[string]any{"key": key},
		}},
		&base64Strategy{e: e, name: "key", body: map[string]any{
			"key": fullKey,
		}},
	}
}

type base64Response struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
}

type base64Strategy struct {
	e    *Evolution
	name string
	body map[string]any
}

func (s *base64Strategy) Name() string { return s.name }

func (s *base64Strategy) Fetch(ctx context.Context, ref domain.MediaRef) ([]byte, bool, error) {
	var out base64Response
	if err := s.e.post(ctx, s.e.endpoint("/chat/getBase64FromMediaMessage"), s.body, &out); err != nil {
		return nil, false, err
	}
	if out.Base64 == "" {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(stripDataURI(out.Base64))
	if err != nil {
		return nil, false, fmt.Errorf("evolution: decode base64: %w", err)
	}
	return data, true, nil
}

// stripDataURI removes a "data:audio/ogg;base64," prefix if present.
func stripDataURI(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
