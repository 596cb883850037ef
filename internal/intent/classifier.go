// Package intent turns a free-text message plus conversation state into a
// typed domain.Intent using a language model, with a deterministic fallback
// so a message is never lost when the model is unavailable.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gtdbot/internal/domain"
)

const (
	fallbackTitleRunes = 80
	fallbackConfidence = 0.1
	defaultTimeout     = 20 * time.Second
)

type Config struct {
	Provider    domain.Provider
	Location    *time.Location
	Timeout     time.Duration
	Temperature float64
	Now         func() time.Time
	Logger      *slog.Logger
}

type Classifier struct {
	provider    domain.Provider
	loc         *time.Location
	timeout     time.Duration
	temperature float64
	now         func() time.Time
	logger      *slog.Logger
}

func New(cfg Config) *Classifier {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Classifier{
		provider:    cfg.Provider,
		loc:         cfg.Location,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
}

// Classify never fails: any model error, timeout or unparseable answer
// yields Fallback(text).
func (c *Classifier) Classify(ctx context.Context, in Input) domain.Intent {
	now := c.now().In(c.loc)

	intent, err := c.classify(ctx, in, now)
	if err != nil {
		c.logger.Warn("classification failed, using fallback",
			"error", &domain.ClassificationError{Err: err},
		)
		return Fallback(in.Text)
	}

	c.postProcess(&intent, in.Text, now)
	return intent
}

func (c *Classifier) classify(ctx context.Context, in Input, now time.Time) (domain.Intent, error) {
	if c.provider == nil {
		return domain.Intent{}, errors.New("no model provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		System:      systemPrompt,
		User:        buildUserPrompt(in, now),
		Temperature: c.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return domain.Intent{}, err
	}

	intent, err := parseIntent(resp.Content)
	if err != nil {
		c.logger.Debug("unparseable model output", "content", truncate(resp.Content, 300))
		return domain.Intent{}, err
	}

	c.logger.Debug("message classified",
		"intent", intent.Kind,
		"confidence", intent.Confidence,
		"provider", c.provider.Name(),
		"duration", time.Since(start),
	)
	return intent, nil
}

// postProcess clamps confidence, resolves any relative dates left by the
// model and reconciles the create_task category.
func (c *Classifier) postProcess(in *domain.Intent, text string, now time.Time) {
	switch {
	case in.Confidence < 0:
		in.Confidence = 0
	case in.Confidence > 1:
		in.Confidence = 1
	}

	if in.Kind == domain.IntentEditTask && in.Param(ParamEditField) == domain.EditDueDate {
		if d, err := ResolveDate(in.Param(ParamNewValue), now); err == nil {
			in.Parameters[ParamNewValue] = d.Format(dateLayout)
		}
	}
	if in.Kind == domain.IntentAddContext {
		if name := in.Param(ParamContextName); name != "" {
			in.Parameters[ParamContextName] = strings.TrimPrefix(name, "@")
		}
	}

	if in.Kind != domain.IntentCreateTask || in.TaskData == nil {
		return
	}
	td := in.TaskData
	if td.DueDate != "" {
		d, err := ResolveDate(td.DueDate, now)
		if err != nil {
			c.logger.Debug("dropping unparseable due date", "dueDate", td.DueDate)
			td.DueDate = ""
			td.DueTime = ""
		} else {
			td.DueDate = d.Format(dateLayout)
		}
	}
	if td.DueTime != "" {
		if hhmm, ok := NormalizeTime(td.DueTime); ok {
			td.DueTime = hhmm
		} else {
			td.DueTime = ""
		}
	}
	td.ContextName = strings.TrimPrefix(td.ContextName, "@")
	if td.EstimatedMinutes < 0 {
		td.EstimatedMinutes = 0
	}
	td.Category = string(InferCategory(text, td.DueDate != "", td.Category))
}

// Fallback is the deterministic classification used when the model cannot
// be reached or understood.
func Fallback(text string) domain.Intent {
	return domain.Intent{
		Kind:       domain.IntentCreateTask,
		Confidence: fallbackConfidence,
		TaskData: &domain.TaskData{
			Title:    truncateRunes(strings.TrimSpace(text), fallbackTitleRunes),
			Category: string(domain.CategoryInbox),
		},
		Source: domain.SourceFallback,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
