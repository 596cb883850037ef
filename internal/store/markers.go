package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gtdbot/internal/domain"
)

// CreateMarker inserts the marker unless one already exists for the event.
// The conditional insert is the idempotency boundary: exactly one caller
// observes created == true per event id.
func (s *SQLiteStore) CreateMarker(ctx context.Context, m domain.ProcessedMarker) (bool, error) {
	if m.EventID == "" {
		return false, fmt.Errorf("create marker: empty event id")
	}
	if m.ProcessedAt.IsZero() {
		m.ProcessedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_markers (event_id, processed_at, user_id, task_id, intent, reason)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		m.EventID, toMillis(m.ProcessedAt), m.UserID, m.TaskID, m.Intent, m.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("create marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create marker: %w", err)
	}
	return n == 1, nil
}

// GetMarker returns the marker for eventID or nil when none exists.
func (s *SQLiteStore) GetMarker(ctx context.Context, eventID string) (*domain.ProcessedMarker, error) {
	var m domain.ProcessedMarker
	var processedAt int64
	var userID, taskID, intent sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id, processed_at, user_id, task_id, intent, reason
		 FROM processed_markers WHERE event_id = ?`, eventID,
	).Scan(&m.EventID, &processedAt, &userID, &taskID, &intent, &m.Reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get marker: %w", err)
	}
	m.ProcessedAt = fromMillis(processedAt)
	m.UserID = userID.String
	m.TaskID = taskID.String
	m.Intent = intent.String
	return &m, nil
}

// CountMarkers returns the number of markers, optionally restricted to a reason.
func (s *SQLiteStore) CountMarkers(ctx context.Context, reason string) (int, error) {
	query := `SELECT COUNT(*) FROM processed_markers`
	var args []any
	if reason != "" {
		query += ` WHERE reason = ?`
		args = append(args, reason)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
