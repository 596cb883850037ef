// Package conversation keeps the rolling per-(user, address) state the
// classifier and executor use to resolve implicit references.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gtdbot/internal/domain"
)

const DefaultRetain = 20

type Config struct {
	Store  domain.ConversationStore
	Retain int // turns kept per conversation
	Now    func() time.Time
	Logger *slog.Logger
}

type Store struct {
	store  domain.ConversationStore
	retain int
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config) *Store {
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		store:  cfg.Store,
		retain: cfg.Retain,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// GetOrCreate returns the context for (userID, address), creating an empty
// one on first contact.
func (s *Store) GetOrCreate(ctx context.Context, userID, address string) (*domain.ConversationContext, error) {
	now := s.now()
	c, err := s.store.GetOrCreateConversation(ctx, domain.ConversationContext{
		UserID:        userID,
		SenderAddress: address,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ConversationContext, error) {
	return s.store.GetConversation(ctx, id)
}

// Update shallow-merges p into the stored context.
func (s *Store) Update(ctx context.Context, id string, p domain.ConversationPatch) error {
	if p.LastTaskID == nil && p.LastIntent == nil {
		return nil
	}
	if err := s.store.PatchConversation(ctx, id, p, s.now()); err != nil {
		return fmt.Errorf("conversation: update: %w", err)
	}
	return nil
}

// Record stores the handled intent and, when taskID is set, the task it
// referenced.
func (s *Store) Record(ctx context.Context, id string, intent domain.IntentKind, taskID string) error {
	kind := string(intent)
	p := domain.ConversationPatch{LastIntent: &kind}
	if taskID != "" {
		p.LastTaskID = &taskID
	}
	return s.Update(ctx, id, p)
}

// AppendTurn pushes one turn; the stored history keeps the newest Retain turns.
func (s *Store) AppendTurn(ctx context.Context, id, role, content string) error {
	if content == "" {
		return nil
	}
	err := s.store.AppendTurn(ctx, id, domain.Turn{Role: role, Content: content, At: s.now()}, s.retain)
	if err != nil {
		return fmt.Errorf("conversation: append turn: %w", err)
	}
	return nil
}

// Exchange appends a user turn followed by the assistant's reply.
func (s *Store) Exchange(ctx context.Context, id, userText, reply string) error {
	if err := s.AppendTurn(ctx, id, domain.RoleUser, userText); err != nil {
		return err
	}
	return s.AppendTurn(ctx, id, domain.RoleAssistant, reply)
}
