// Package pipeline runs one inbound gateway event through its whole life:
// guard, linking, identity, transcription, classification, execution,
// reply and the terminal processed marker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gtdbot/internal/domain"
	"gtdbot/internal/executor"
	"gtdbot/internal/gateway"
	"gtdbot/internal/guard"
	"gtdbot/internal/identity"
	"gtdbot/internal/intent"
	"gtdbot/internal/media"
)

const (
	defaultTimeout       = 90 * time.Second
	defaultHistoryWindow = 3
	failureReplyTimeout  = 10 * time.Second
)

// Collaborators, narrowed to what the pipeline calls.
type (
	Guard interface {
		Check(ctx context.Context, ev domain.InboundEvent) (guard.Decision, error)
		MarkProcessed(ctx context.Context, m domain.ProcessedMarker) (bool, error)
	}
	Resolver interface {
		Resolve(ctx context.Context, sender string) (string, error)
	}
	Linker interface {
		Activate(ctx context.Context, sender, code string) (*domain.AccountLink, error)
	}
	Transcriber interface {
		Transcribe(ctx context.Context, ref domain.MediaRef, strategies ...media.RetrievalStrategy) (string, error)
	}
	Conversations interface {
		GetOrCreate(ctx context.Context, userID, address string) (*domain.ConversationContext, error)
		Exchange(ctx context.Context, id, userText, reply string) error
	}
	Classifier interface {
		Classify(ctx context.Context, in intent.Input) domain.Intent
	}
	Executor interface {
		Execute(ctx context.Context, req executor.Request) (executor.Result, error)
	}
)

// Observer receives pipeline measurements. metrics.Collector implements it.
type Observer interface {
	EventSkipped(reason string)
	IntentClassified(kind, source string)
	Transcription(ok bool)
	Outcome(reason string, elapsed time.Duration)
}

type Config struct {
	Guard         Guard
	Resolver      Resolver
	Linker        Linker
	Transcriber   Transcriber
	Conversations Conversations
	Classifier    Classifier
	Executor      Executor
	Gateways      []*gateway.Composer
	Observer      Observer

	HistoryWindow    int
	SerializePerUser bool
	Timeout          time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Outcome is what the webhook reports back for one event.
type Outcome struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason"`
	UserID  string `json:"userId,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Intent  string `json:"intent,omitempty"`
}

type Pipeline struct {
	guard         Guard
	resolver      Resolver
	linker        Linker
	transcriber   Transcriber
	conversations Conversations
	classifier    Classifier
	executor      Executor
	gateways      map[string]*gateway.Composer
	observer      Observer

	historyWindow int
	locks         *keyLock
	timeout       time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
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
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	p := &Pipeline{
		guard:         cfg.Guard,
		resolver:      cfg.Resolver,
		linker:        cfg.Linker,
		transcriber:   cfg.Transcriber,
		conversations: cfg.Conversations,
		classifier:    cfg.Classifier,
		executor:      cfg.Executor,
		gateways:      make(map[string]*gateway.Composer, len(cfg.Gateways)),
		observer:      cfg.Observer,
		historyWindow: cfg.HistoryWindow,
		timeout:       cfg.Timeout,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
	for _, g := range cfg.Gateways {
		p.gateways[g.Client().Name()] = g
	}
	if cfg.SerializePerUser {
		p.locks = newKeyLock()
	}
	return p
}

// run carries the per-event state through the stages.
type run struct {
	ev       domain.InboundEvent
	composer *gateway.Composer
	logger   *slog.Logger
	start    time.Time
}

// Handle processes one event. Every handled failure class replies to the
// sender, writes its marker and returns a nil error. A non-nil error means
// an internal failure: one best-effort reply has been attempted and the
// event is left unmarked so the gateway can redeliver it.
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent) (out Outcome, err error) {
	composer, ok := p.gateways[ev.Gateway]
	if !ok {
		return Outcome{Reason: domain.ReasonInternalError}, fmt.Errorf("pipeline: no gateway named %q", ev.Gateway)
	}

	r := &run{
		ev:       ev,
		composer: composer,
		start:    p.now(),
		logger: p.logger.With(
			"event_id", ev.EventID,
			"gateway", ev.Gateway,
			"sender", identity.MaskAddress(ev.SenderAddress),
		),
	}

	if p.locks != nil {
		unlock := p.locks.Lock(ev.Gateway + ":" + identity.NormalizeAddress(ev.SenderAddress))
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			out, err = p.fail(ctx, r, fmt.Errorf("pipeline panic: %v", rec))
		}
	}()

	return p.handle(ctx, r)
}

func (p *Pipeline) handle(ctx context.Context, r *run) (Outcome, error) {
	ev := r.ev

	dec, err := p.guard.Check(ctx, ev)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	if dec.Skip {
		r.logger.Debug("event skipped", "stage", "guard", "reason", dec.Reason)
		p.observer.EventSkipped(dec.Reason)
		if dec.Reason == guard.SkipStale {
			p.observer.Outcome(domain.ReasonOldMessage, p.now().Sub(r.start))
		}
		return Outcome{Skipped: true, Reason: dec.Reason}, nil
	}

	text := strings.TrimSpace(ev.Content)
	if ev.Kind == domain.PayloadText && identity.IsLinkCode(text) {
		return p.activateLink(ctx, r, text)
	}

	userID, err := p.resolver.Resolve(ctx, ev.SenderAddress)
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		reply := msgNotRegistered
		if ev.Gateway == "telegram" {
			reply = msgNotRegisteredTelegram
		}
		return p.reject(ctx, r, "", domain.ReasonNotRegistered, reply)
	case errors.Is(err, domain.ErrNotLinked):
		return p.reject(ctx, r, "", domain.ReasonNotLinked, msgNotLinked)
	case errors.Is(err, domain.ErrNotEntitled):
		return p.reject(ctx, r, userID, domain.ReasonNotEntitled, msgNotEntitled)
	case err != nil:
		return p.fail(ctx, r, fmt.Errorf("resolve identity: %w", err))
	}
	r.logger = r.logger.With("user_id", userID)

	if ev.Kind == domain.PayloadAudio {
		if ev.Media == nil {
			return p.reject(ctx, r, userID, domain.ReasonEmptyMessage, msgEmpty)
		}
		transcript, err := p.transcriber.Transcribe(ctx, *ev.Media, r.composer.Client().MediaStrategies(*ev.Media)...)
		var te *domain.TranscriptionError
		switch {
		case errors.As(err, &te):
			p.observer.Transcription(false)
			r.logger.Warn("transcription failed", "stage", "transcribe", "error", te.Err)
			return p.reject(ctx, r, userID, domain.ReasonTranscriptionFailed, te.UserMessage)
		case err != nil:
			p.observer.Transcription(false)
			return p.fail(ctx, r, fmt.Errorf("transcribe: %w", err))
		}
		p.observer.Transcription(true)
		text = strings.TrimSpace(transcript)
		r.logger.Debug("audio transcribed", "stage", "transcribe", "chars", len(text))
	}

	if text == "" {
		return p.reject(ctx, r, userID, domain.ReasonEmptyMessage, msgEmpty)
	}

	conv, err := p.conversations.GetOrCreate(ctx, userID, identity.NormalizeAddress(ev.SenderAddress))
	if err != nil {
		return p.fail(ctx, r, fmt.Errorf("load conversation: %w", err))
	}

	in := p.classify(ctx, r, text, conv)

	res, err := p.executor.Execute(ctx, executor.Request{
		UserID:       userID,
		EventID:      ev.EventID,
		Conversation: conv,
		Intent:       in,
		Text:         text,
	})
	var ee *domain.ExecutionError
	switch {
	case errors.As(err, &ee):
		r.logger.Info("execution precondition failed", "stage", "execute", "intent", in.Kind, "reason", ee.Reason)
		p.exchange(ctx, r, conv.ID, text, ee.UserMessage)
		r.composer.Send(ctx, ev.SenderAddress, ee.UserMessage)
		return p.finish(ctx, r, domain.ProcessedMarker{
			UserID: userID,
			Intent: string(in.Kind),
			Reason: domain.ReasonExecutionError,
		})
	case err != nil:
		return p.fail(ctx, r, fmt.Errorf("execute %s: %w", in.Kind, err))
	}

	p.exchange(ctx, r, conv.ID, text, res.Reply)
	if res.Menu != nil {
		r.composer.SendInteractive(ctx, ev.SenderAddress, *res.Menu, res.Reply)
	} else {
		r.composer.Send(ctx, ev.SenderAddress, res.Reply)
	}

	return p.finish(ctx, r, domain.ProcessedMarker{
		UserID: userID,
		TaskID: res.TaskID,
		Intent: string(res.Intent),
		Reason: domain.ReasonProcessed,
	})
}

// classify maps menu taps straight to their intent and sends everything
// else through the model classifier.
func (p *Pipeline) classify(ctx context.Context, r *run, text string, conv *domain.ConversationContext) domain.Intent {
	if r.ev.Kind == domain.PayloadButton || r.ev.Kind == domain.PayloadList {
		if in, ok := executor.MenuIntent(text); ok {
			p.observer.IntentClassified(string(in.Kind), string(in.Source))
			return in
		}
	}
	in := p.classifier.Classify(ctx, intent.Input{
		Text:        text,
		History:     conv.Window(p.historyWindow),
		HasLastTask: conv.LastTaskID != "",
		LastIntent:  conv.LastIntent,
	})
	r.logger.Info("intent classified",
		"stage", "classify",
		"intent", in.Kind,
		"source", in.Source,
		"confidence", in.Confidence,
	)
	p.observer.IntentClassified(string(in.Kind), string(in.Source))
	return in
}

func (p *Pipeline) activateLink(ctx context.Context, r *run, code string) (Outcome, error) {
	link, err := p.linker.Activate(ctx, r.ev.SenderAddress, code)
	switch {
	case errors.Is(err, domain.ErrInvalidLinkCode):
		r.logger.Info("link code rejected", "stage", "link", "error", err)
		return p.reject(ctx, r, "", domain.ReasonLinkFailed, msgLinkFailed)
	case err != nil:
		return p.fail(ctx, r, fmt.Errorf("activate link: %w", err))
	}
	r.logger.Info("address linked", "stage", "link", "user_id", link.UserID)
	r.composer.Send(ctx, r.ev.SenderAddress, msgLinked)
	return p.finish(ctx, r, domain.ProcessedMarker{UserID: link.UserID, Reason: domain.ReasonLinked})
}

// reject replies with guidance and marks the event with reason.
func (p *Pipeline) reject(ctx context.Context, r *run, userID, reason, reply string) (Outcome, error) {
	r.logger.Info("event rejected", "stage", "reject", "reason", reason)
	r.composer.Send(ctx, r.ev.SenderAddress, reply)
	return p.finish(ctx, r, domain.ProcessedMarker{UserID: userID, Reason: reason})
}

func (p *Pipeline) exchange(ctx context.Context, r *run, convID, text, reply string) {
	if err := p.conversations.Exchange(ctx, convID, text, reply); err != nil {
		r.logger.Warn("append history failed", "stage", "conversation", "error", err)
	}
}

// finish writes the terminal marker.
func (p *Pipeline) finish(ctx context.Context, r *run, m domain.ProcessedMarker) (Outcome, error) {
	m.EventID = r.ev.EventID
	m.ProcessedAt = p.now()

	created, err := p.guard.MarkProcessed(ctx, m)
	if err != nil {
		p.observer.Outcome(domain.ReasonInternalError, p.now().Sub(r.start))
		return Outcome{Reason: domain.ReasonInternalError}, fmt.Errorf("mark processed: %w", err)
	}
	if !created {
		r.logger.Warn("event already marked by a concurrent execution", "stage", "mark")
	}

	elapsed := p.now().Sub(r.start)
	p.observer.Outcome(m.Reason, elapsed)
	r.logger.Info("event processed",
		"stage", "done",
		"reason", m.Reason,
		"intent", m.Intent,
		"task_id", m.TaskID,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return Outcome{Reason: m.Reason, UserID: m.UserID, TaskID: m.TaskID, Intent: m.Intent}, nil
}

// fail attempts one reply chosen from the error text and returns err.
func (p *Pipeline) fail(ctx context.Context, r *run, err error) (Outcome, error) {
	category, reply := classifyFailure(err)
	r.logger.Error("pipeline failed", "stage", "internal", "category", category, "error", err)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureReplyTimeout)
	defer cancel()
	r.composer.Send(sendCtx, r.ev.SenderAddress, reply)

	p.observer.Outcome(domain.ReasonInternalError, p.now().Sub(r.start))
	return Outcome{Reason: domain.ReasonInternalError}, err
}

type nopObserver struct{}

func (nopObserver) EventSkipped(string)             {}
func (nopObserver) IntentClassified(string, string) {}
func (nopObserver) Transcription(bool)              {}
func (nopObserver) Outcome(string, time.Duration)   {}
