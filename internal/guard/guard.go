// Package guard decides whether an inbound event should be processed at all:
// it drops the bot's own echoes, events that already reached a terminal
// state and events too old to still be relevant.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gtdbot/internal/domain"
)

const DefaultWindow = 5 * time.Minute

// Skip reasons reported in Decision.Reason.
const (
	SkipOwnMessage       = "own-message"
	SkipAlreadyProcessed = "already-processed"
	SkipStale            = domain.ReasonOldMessage
)

// Decision is the guard's verdict for one event.
type Decision struct {
	Skip   bool
	Reason string
}

type Config struct {
	Markers domain.MarkerStore
	Window  time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

type Guard struct {
	markers domain.MarkerStore
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func New(cfg Config) *Guard {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		markers: cfg.Markers,
		window:  cfg.Window,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

// Check applies, in order: own-message, already-processed, stale. A stale
// event gets its old_message marker here; every other terminal marker is the
// caller's job via MarkProcessed.
func (g *Guard) Check(ctx context.Context, ev domain.InboundEvent) (Decision, error) {
	if ev.FromSelf {
		return Decision{Skip: true, Reason: SkipOwnMessage}, nil
	}

	existing, err := g.markers.GetMarker(ctx, ev.EventID)
	if err != nil {
		return Decision{}, fmt.Errorf("guard: lookup marker: %w", err)
	}
	if existing != nil {
		return Decision{Skip: true, Reason: SkipAlreadyProcessed}, nil
	}

	now := g.now()
	if !ev.Timestamp.IsZero() && now.Sub(ev.Timestamp) > g.window {
		created, err := g.markers.CreateMarker(ctx, domain.ProcessedMarker{
			EventID:     ev.EventID,
			ProcessedAt: now,
			Reason:      domain.ReasonOldMessage,
		})
		if err != nil {
			return Decision{}, fmt.Errorf("guard: mark stale: %w", err)
		}
		if !created {
			return Decision{Skip: true, Reason: SkipAlreadyProcessed}, nil
		}
		g.logger.Info("dropping stale event",
			"event_id", ev.EventID,
			"age", now.Sub(ev.Timestamp).Round(time.Second),
		)
		return Decision{Skip: true, Reason: SkipStale}, nil
	}

	return Decision{}, nil
}

// MarkProcessed writes the terminal marker. It reports false when another
// execution already wrote one for the same event.
func (g *Guard) MarkProcessed(ctx context.Context, m domain.ProcessedMarker) (bool, error) {
	if m.ProcessedAt.IsZero() {
		m.ProcessedAt = g.now()
	}
	created, err := g.markers.CreateMarker(ctx, m)
	if err != nil {
		return false, fmt.Errorf("guard: mark processed: %w", err)
	}
	if !created {
		g.logger.Warn("event already marked by a concurrent execution",
			"event_id", m.EventID,
			"reason", m.Reason,
		)
	}
	return created, nil
}
