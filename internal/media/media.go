// Package media turns voice-note references into text: it fetches the audio
// (directly or through the gateway's retrieval side-channel) and sends it to
// a speech-to-text service.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

const (
	DefaultMaxBytes = 16 << 20
	defaultTimeout  = 60 * time.Second

	UserMessage = "🎙️ No pude entender tu audio. Probá con un audio más corto o escribime el mensaje 🙏"
)

// RetrievalStrategy is one way of obtaining the bytes behind a MediaRef.
// ok=false with a nil error means "not this way, try the next one".
type RetrievalStrategy interface {
	Name() string
	Fetch(ctx context.Context, ref domain.MediaRef) (data []byte, ok bool, err error)
}

type Config struct {
	STT        domain.SpeechToText
	Language   string
	MaxBytes   int64
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Transcriber struct {
	stt      domain.SpeechToText
	language string
	maxBytes int64
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transcriber{
		stt:      cfg.STT,
		language: cfg.Language,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
}

// NeedsGateway reports whether the ref can only be fetched through the
// gateway: it is flagged encrypted, has no URL, or points at a .enc blob.
func NeedsGateway(ref domain.MediaRef) bool {
	if ref.Encrypted || ref.URL == "" {
		return true
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return strings.HasSuffix(ref.URL, ".enc")
	}
	return strings.HasSuffix(u.Path, ".enc")
}

// Transcribe fetches and transcribes ref. strategies are tried in order when
// the ref needs the gateway. Every failure is a *domain.TranscriptionError.
func (t *Transcriber) Transcribe(ctx context.Context, ref domain.MediaRef, strategies ...RetrievalStrategy) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var (
		audio []byte
		err   error
	)
	if NeedsGateway(ref) {
		audio, err = t.retrieve(ctx, ref, strategies)
	} else {
		audio, err = t.download(ctx, ref.URL)
	}
	if err != nil {
		return "", fail(err)
	}
	if len(audio) == 0 {
		return "", fail(errors.New("empty audio"))
	}
	if int64(len(audio)) > t.maxBytes {
		return "", fail(fmt.Errorf("audio is %d bytes, limit %d", len(audio), t.maxBytes))
	}

	if t.stt == nil {
		return "", fail(errors.New("speech-to-text is not configured"))
	}
	text, err := t.stt.Transcribe(ctx, audio, filename(ref.MimeType), t.language)
	if err != nil {
		return "", fail(err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fail(errors.New("empty transcript"))
	}

	t.logger.Info("voice note transcribed",
		"message_id", ref.MessageID,
		"bytes", len(audio),
		"chars", len(text),
	)
	return text, nil
}

// retrieve walks the strategies and keeps the last error for diagnostics.
func (t *Transcriber) retrieve(ctx context.Context, ref domain.MediaRef, strategies []RetrievalStrategy) ([]byte, error) {
	if len(strategies) == 0 {
		return nil, errors.New("no retrieval strategy for gateway media")
	}
	var lastErr error
	for _, s := range strategies {
		data, ok, err := s.Fetch(ctx, ref)
		if ok && len(data) > 0 {
			t.logger.Debug("media retrieved", "strategy", s.Name(), "bytes", len(data))
			return data, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: no media in response", s.Name())
		}
		lastErr = err
		t.logger.Debug("media strategy failed", "strategy", s.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all %d retrieval strategies failed, last: %w", len(strategies), lastErr)
}

func (t *Transcriber) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	return data, nil
}

func fail(err error) error {
	return &domain.TranscriptionError{UserMessage: UserMessage, Err: err}
}

// filename hints the container to the transcription service.
func filename(mime string) string {
	mime = strings.ToLower(mime)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	switch mime {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/webm":
		return "audio.webm"
	default:
		return "audio.ogg"
	}
}
