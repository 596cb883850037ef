package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

const conversationColumns = `id, user_id, sender_address, last_task_id, last_intent, history, created_at, updated_at`

// GetOrCreateConversation is an insert-if-absent on (user_id, sender_address)
// followed by a read, so concurrent first messages converge on one document.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, c domain.ConversationContext) (*domain.ConversationContext, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	history, err := encodeHistory(c.History)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, sender_address) DO NOTHING`,
		c.ID, c.UserID, c.SenderAddress, c.LastTaskID, c.LastIntent, history,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? AND sender_address = ?`,
		c.UserID, c.SenderAddress))
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("create conversation: %w", domain.ErrNotFound)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.ConversationContext, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

// PatchConversation applies a shallow merge: only non-nil patch fields change.
func (s *SQLiteStore) PatchConversation(ctx context.Context, id string, p domain.ConversationPatch, at time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(at)}
	if p.LastTaskID != nil {
		sets = append(sets, "last_task_id = ?")
		args = append(args, *p.LastTaskID)
	}
	if p.LastIntent != nil {
		sets = append(sets, "last_intent = ?")
		args = append(args, *p.LastIntent)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("patch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendTurn pushes a turn and trims the history to the newest retain turns.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, t domain.Turn, retain int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT history FROM conversations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	history, err := decodeHistory(raw)
	if err != nil {
		return err
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	history = trimHistory(append(history, t), retain)

	encoded, err := encodeHistory(history)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET history = ?, updated_at = ? WHERE id = ?`,
		encoded, toMillis(t.At), id,
	); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return tx.Commit()
}

// TrimHistories cuts every history longer than retain and returns how many
// documents changed.
func (s *SQLiteStore) TrimHistories(ctx context.Context, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, history FROM conversations WHERE json_array_length(history) > ?`, retain)
	if err != nil {
		return 0, fmt.Errorf("trim histories: %w", err)
	}
	type pending struct{ id, history string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.history); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range todo {
		history, err := decodeHistory(p.history)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation history", "conversation", p.id, "err", err)
			continue
		}
		encoded, err := encodeHistory(trimHistory(history, retain))
		if err != nil {
			return 0, err
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE conversations SET history = ? WHERE id = ?`, encoded, p.id); err != nil {
			return 0, fmt.Errorf("trim histories: %w", err)
		}
	}
	return len(todo), nil
}

func trimHistory(history []domain.Turn, retain int) []domain.Turn {
	if retain > 0 && len(history) > retain {
		return history[len(history)-retain:]
	}
	return history
}

func encodeHistory(history []domain.Turn) (string, error) {
	if history == nil {
		history = []domain.Turn{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("encode history: %w", err)
	}
	return string(data), nil
}

func decodeHistory(raw string) ([]domain.Turn, error) {
	if raw == "" {
		return nil, nil
	}
	var history []domain.Turn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return history, nil
}

func scanConversation(row rowScanner) (*domain.ConversationContext, error) {
	var c domain.ConversationContext
	var lastTask, lastIntent sql.NullString
	var history string
	var created, updated int64
	err := row.Scan(&c.ID, &c.UserID, &c.SenderAddress, &lastTask, &lastIntent, &history, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.LastTaskID = lastTask.String
	c.LastIntent = lastIntent.String
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	if c.History, err = decodeHistory(history); err != nil {
		return nil, err
	}
	return &c, nil
}
