package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gtdbot/internal/domain"
)

const defaultCooldown = 30 * time.Second

type FailoverConfig struct {
	Providers []domain.Provider
	Cooldown  time.Duration // how long a failed provider goes to the back of the line
	Now       func() time.Time
	Logger    *slog.Logger
}

// FailoverProvider asks each provider in turn until one answers. A provider
// that just failed is benched for the cooldown: it is tried after the
// others, so a dead primary does not add its timeout to every message.
type FailoverProvider struct {
	providers []domain.Provider
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	benched map[int]time.Time // index -> until
}

func NewFailover(cfg FailoverConfig) *FailoverProvider {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FailoverProvider{
		providers: cfg.Providers,
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
		logger:    cfg.Logger,
		benched:   make(map[int]time.Time),
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Healthy succeeds when any provider is healthy and otherwise reports every
// provider's error.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider: %w", errors.Join(errs...))
}

// order lists provider indexes with benched providers moved to the end.
func (fp *FailoverProvider) order() []int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	var ready, later []int
	for i := range fp.providers {
		if until, ok := fp.benched[i]; ok && now.Before(until) {
			later = append(later, i)
			continue
		}
		delete(fp.benched, i)
		ready = append(ready, i)
	}
	return append(ready, later...)
}

func (fp *FailoverProvider) bench(i int, failed bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if failed {
		fp.benched[i] = fp.now().Add(fp.cooldown)
	} else {
		delete(fp.benched, i)
	}
}

func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for n, i := range fp.order() {
		p := fp.providers[i]
		resp, err := p.Chat(ctx, req)
		if err == nil {
			fp.bench(i, false)
			if n > 0 {
				fp.logger.Info("failover: answered by fallback provider", "provider", p.Name(), "position", n+1)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		fp.bench(i, true)
		fp.logger.Warn("failover: provider failed", "provider", p.Name(), "benched_for", fp.cooldown, "error", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}
