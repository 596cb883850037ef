// Package executor performs the task-store effect implied by a classified
// intent and composes the reply text.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gtdbot/internal/domain"
)

const listLimit = 10

// ConversationRecorder persists lastIntent / lastTaskId after a branch runs.
type ConversationRecorder interface {
	Record(ctx context.Context, id string, intent domain.IntentKind, taskID string) error
}

type Config struct {
	Tasks         domain.TaskStore
	Conversations ConversationRecorder
	Location      *time.Location
	Now           func() time.Time
	Logger        *slog.Logger
}

type Executor struct {
	tasks         domain.TaskStore
	conversations ConversationRecorder
	loc           *time.Location
	now           func() time.Time
	logger        *slog.Logger
}

func New(cfg Config) *Executor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		tasks:         cfg.Tasks,
		conversations: cfg.Conversations,
		loc:           cfg.Location,
		now:           cfg.Now,
		logger:        cfg.Logger,
	}
}

// Request is one classified message ready to execute.
type Request struct {
	UserID       string
	EventID      string
	Conversation *domain.ConversationContext
	Intent       domain.Intent
	Text         string
}

// Result is the reply to send. Menu, when set, is attempted before falling
// back to Reply.
type Result struct {
	Reply  string
	Menu   *domain.Menu
	TaskID string
	Intent domain.IntentKind
}

// Execute dispatches on the intent kind. Precondition failures come back as
// *domain.ExecutionError carrying the user-facing message; any other error is
// an infrastructure failure.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	var (
		res Result
		err error
	)
	switch req.Intent.Kind {
	case domain.IntentCreateTask:
		res, err = e.createTask(ctx, req)
	case domain.IntentViewTasks:
		res, err = e.viewTasks(ctx, req)
	case domain.IntentCompleteTask:
		res, err = e.completeTask(ctx, req)
	case domain.IntentAddContext:
		res, err = e.addContext(ctx, req)
	case domain.IntentEditTask:
		res, err = e.editTask(ctx, req)
	case domain.IntentHelp:
		res = Result{Reply: helpText(), Menu: helpMenu()}
	case domain.IntentGreeting:
		res = Result{Reply: greetingText(e.now().In(e.loc))}
	default:
		return Result{}, &domain.ExecutionError{
			Reason:      fmt.Sprintf("unknown intent %q", req.Intent.Kind),
			UserMessage: msgRephrase,
		}
	}
	if err != nil {
		return Result{}, err
	}

	res.Intent = req.Intent.Kind
	e.record(ctx, req, res)
	return res, nil
}

// record updates the conversation pointer. A failure here does not undo the
// effect already applied, so it is logged only.
func (e *Executor) record(ctx context.Context, req Request, res Result) {
	if e.conversations == nil || req.Conversation == nil {
		return
	}
	if err := e.conversations.Record(ctx, req.Conversation.ID, res.Intent, res.TaskID); err != nil {
		e.logger.Warn("could not record conversation state",
			"conversation_id", req.Conversation.ID,
			"intent", res.Intent,
			"error", err,
		)
	}
}

func execErr(reason, msg string) error {
	return &domain.ExecutionError{Reason: reason, UserMessage: msg}
}
