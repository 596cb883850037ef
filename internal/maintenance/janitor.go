// Package maintenance runs periodic housekeeping on the store: expired
// link codes are deleted and oversized conversation histories are trimmed.
// Processed markers are never touched.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 10m"

// Store is the subset of the document store the janitor cleans.
type Store interface {
	DeleteExpiredPendingLinks(ctx context.Context, now time.Time) (int, error)
	TrimHistories(ctx context.Context, retain int) (int, error)
}

type Config struct {
	Store    Store
	Schedule string
	Location *time.Location
	Retain   int
	Now      func() time.Time
	Logger   *slog.Logger
}

// Report summarizes one sweep.
type Report struct {
	ExpiredLinks     int
	TrimmedHistories int
}

// Janitor schedules sweeps with robfig/cron.
type Janitor struct {
	store    Store
	schedule string
	retain   int
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

func New(cfg Config) *Janitor {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:    cfg.Store,
		schedule: cfg.Schedule,
		retain:   cfg.Retain,
		now:      cfg.Now,
		logger:   cfg.Logger,
		cron:     cron.New(cron.WithLocation(cfg.Location)),
	}
}

// Start registers the sweep and starts the scheduler. Calling it twice is
// a no-op.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	id, err := j.cron.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("maintenance sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", j.schedule, err)
	}
	j.entryID = id
	j.cron.Start()
	j.running = true

	j.logger.Info("maintenance scheduler started",
		"schedule", j.schedule,
		"next_run", j.cron.Entry(j.entryID).Next,
	)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	<-j.cron.Stop().Done()
	j.running = false
	j.logger.Info("maintenance scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if err := j.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	j.Stop()
	return nil
}

// NextRun returns the next scheduled sweep, or the zero time when stopped.
func (j *Janitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return time.Time{}
	}
	return j.cron.Entry(j.entryID).Next
}

// RunOnce performs one sweep. Both steps run even if the first fails.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error

	n, err := j.store.DeleteExpiredPendingLinks(ctx, j.now())
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired links: %w", err))
	}
	rep.ExpiredLinks = n

	if j.retain > 0 {
		n, err = j.store.TrimHistories(ctx, j.retain)
		if err != nil {
			errs = append(errs, fmt.Errorf("trim histories: %w", err))
		}
		rep.TrimmedHistories = n
	}

	if rep.ExpiredLinks > 0 || rep.TrimmedHistories > 0 {
		j.logger.Info("maintenance sweep",
			"expired_links", rep.ExpiredLinks,
			"trimmed_histories", rep.TrimmedHistories,
		)
	}
	return rep, errors.Join(errs...)
}
