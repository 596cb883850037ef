package domain

import (
	"context"
	"time"
)

// MarkerStore persists processed markers.
type MarkerStore interface {
	// CreateMarker inserts the marker if none exists for its EventID and
	// reports whether this call created it.
	CreateMarker(ctx context.Context, m ProcessedMarker) (bool, error)
	GetMarker(ctx context.Context, eventID string) (*ProcessedMarker, error)
}

// AccountStore resolves registered accounts and their gateway links.
type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	// FindAccountByPhone matches the account phone field either verbatim or by
	// its digits-only form.
	FindAccountByPhone(ctx context.Context, raw, normalized string) (*Account, error)
	FindActiveLink(ctx context.Context, normalizedAddress string) (*AccountLink, error)
	FindPendingLinkByCode(ctx context.Context, code string) (*AccountLink, error)
	CreateLink(ctx context.Context, link AccountLink) error
	// ActivateLink flips an inactive link to active; it reports false when
	// the link was already active (lost race or replay).
	ActivateLink(ctx context.Context, linkID string, at time.Time) (bool, error)
	DeactivateLinks(ctx context.Context, userID, normalizedAddress string) (int, error)
	DeactivateOtherLinks(ctx context.Context, userID, keepLinkID string) (int, error)
	ListLinks(ctx context.Context, userID string) ([]AccountLink, error)
	DeleteExpiredPendingLinks(ctx context.Context, now time.Time) (int, error)
}

// ConversationStore persists ConversationContext documents.
type ConversationStore interface {
	GetOrCreateConversation(ctx context.Context, c ConversationContext) (*ConversationContext, error)
	GetConversation(ctx context.Context, id string) (*ConversationContext, error)
	PatchConversation(ctx context.Context, id string, p ConversationPatch, at time.Time) error
	AppendTurn(ctx context.Context, id string, t Turn, retain int) error
	TrimHistories(ctx context.Context, retain int) (int, error)
}

// TaskStore is the task-store collaborator contract, scoped by user.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) (*Task, error)
	GetTask(ctx context.Context, userID, taskID string) (*Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, p TaskPatch, at time.Time) (*Task, error)
	ListTasks(ctx context.Context, userID string, f TaskFilter, day time.Time, limit int) ([]Task, int, error)
	FindContextByName(ctx context.Context, userID, name string) (*Context, error)
	GetContext(ctx context.Context, userID, contextID string) (*Context, error)
}
