package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperConfig configures the Whisper speech-to-text provider.
type WhisperConfig struct {
	APIBase  string // e.g. "https://api.openai.com/v1" or "https://api.groq.com/openai/v1"
	APIKey   string
	Model    string // e.g. "whisper-1"
	Language string // default ISO-639-1 code when the caller passes none
	Timeout  time.Duration
	Logger   *slog.Logger
}

// WhisperProvider transcribes audio through the OpenAI-compatible
// transcription endpoint, always asking for plain-text output.
type WhisperProvider struct {
	model    string
	language string
	client   *openai.Client
	logger   *slog.Logger
}

func NewWhisperProvider(cfg WhisperConfig) *WhisperProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = cfg.APIBase
	oc.HTTPClient = SharedHTTPClient(cfg.Timeout)

	return &WhisperProvider{
		model:    cfg.Model,
		language: cfg.Language,
		client:   openai.NewClientWithConfig(oc),
		logger:   cfg.Logger,
	}
}

// Transcribe sends audio to the transcription endpoint. filename only hints
// the container format to the service (e.g. "audio.ogg").
func (w *WhisperProvider) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("whisper: empty audio")
	}
	if filename == "" {
		filename = "audio.ogg"
	}
	if language == "" {
		language = w.language
	}

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: language,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	w.logger.Debug("transcription complete",
		"bytes", len(audio),
		"chars", len(text),
		"duration", time.Since(start),
	)
	return text, nil
}
