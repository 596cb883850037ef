package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gtdbot/internal/domain"
)

const taskColumns = `id, user_id, title, description, category, context_id, due_date, estimated_minutes,
	completed, is_quick_action, source_event_id, created_at, updated_at, completed_at`

// CreateTask inserts a task. When SourceEventID is set the insert is keyed by
// it, so a redelivered event returns the task created the first time.
func (s *SQLiteStore) CreateTask(ctx context.Context, t domain.Task) (*domain.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Category == "" {
		t.Category = domain.CategoryInbox
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_event_id) DO NOTHING`,
		t.ID, t.UserID, t.Title, t.Description, string(t.Category), t.ContextID,
		nullMillis(t.DueDate), t.EstimatedMinutes, boolInt(t.Completed), boolInt(t.IsQuickAction),
		nullString(t.SourceEventID), toMillis(t.CreatedAt), toMillis(t.UpdatedAt), nullMillis(t.CompletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && t.SourceEventID != "" {
		s.logger.Info("task already created for event", "event_id", t.SourceEventID)
		existing, err := scanTask(s.db.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE source_event_id = ?`, t.SourceEventID))
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("create task: %w", domain.ErrNotFound)
		}
		return existing, nil
	}
	return &t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// UpdateTask applies the non-nil fields of p to a task owned by userID.
func (s *SQLiteStore) UpdateTask(ctx context.Context, userID, taskID string, p domain.TaskPatch, at time.Time) (*domain.Task, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(at)}
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, string(*p.Category))
	}
	if p.ContextID != nil {
		sets = append(sets, "context_id = ?")
		args = append(args, *p.ContextID)
	}
	if p.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, nullMillis(p.DueDate))
	}
	if p.Completed != nil {
		sets = append(sets, "completed = ?", "completed_at = ?")
		if *p.Completed {
			args = append(args, 1, toMillis(at))
		} else {
			args = append(args, 0, nil)
		}
	}
	args = append(args, taskID, userID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return s.GetTask(ctx, userID, taskID)
}

// ListTasks returns up to limit pending tasks matching f and the total number
// of matches. day is any instant inside the local day used by FilterToday.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, f domain.TaskFilter, day time.Time, limit int) ([]domain.Task, int, error) {
	if limit <= 0 {
		limit = 10
	}
	where := "user_id = ? AND completed = 0"
	args := []any{userID}
	order := "created_at DESC"

	switch f {
	case domain.FilterInbox:
		where += " AND category = ?"
		args = append(args, string(domain.CategoryInbox))
	case domain.FilterNextAction:
		where += " AND category = ?"
		args = append(args, string(domain.CategoryNextAction))
		order = "CASE WHEN due_date IS NULL THEN 1 ELSE 0 END, due_date, created_at DESC"
	case domain.FilterToday:
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		end := start.AddDate(0, 0, 1)
		where += " AND due_date >= ? AND due_date < ?"
		args = append(args, start.UnixMilli(), end.UnixMilli())
		order = "due_date"
	default:
		return nil, 0, fmt.Errorf("list tasks: unknown filter %q", f)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY `+order+` LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

// CreateContext adds a named context for a user.
func (s *SQLiteStore) CreateContext(ctx context.Context, userID, name string) (*domain.Context, error) {
	c := domain.Context{ID: newID(), UserID: userID, Name: strings.TrimSpace(name)}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO contexts (id, user_id, name) VALUES (?, ?, ?)`, c.ID, c.UserID, c.Name); err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	return &c, nil
}

// FindContextByName does a case-insensitive exact match among the user's
// contexts. It returns nil when nothing matches.
func (s *SQLiteStore) FindContextByName(ctx context.Context, userID, name string) (*domain.Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, name FROM contexts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("find context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.Context
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name); err != nil {
			return nil, err
		}
		// EqualFold instead of COLLATE NOCASE: NOCASE only folds ASCII.
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			return &c, nil
		}
	}
	return nil, rows.Err()
}

func (s *SQLiteStore) GetContext(ctx context.Context, userID, contextID string) (*domain.Context, error) {
	var c domain.Context
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name FROM contexts WHERE id = ? AND user_id = ?`, contextID, userID,
	).Scan(&c.ID, &c.UserID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return &c, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var category string
	var description, contextID, sourceEvent sql.NullString
	var due, completedAt sql.NullInt64
	var completed, quick int
	var created, updated int64
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &description, &category, &contextID, &due,
		&t.EstimatedMinutes, &completed, &quick, &sourceEvent, &created, &updated, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Description = description.String
	t.Category = domain.Category(category)
	t.ContextID = contextID.String
	t.DueDate = timePtr(due)
	t.Completed = completed == 1
	t.IsQuickAction = quick == 1
	t.SourceEventID = sourceEvent.String
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	t.CompletedAt = timePtr(completedAt)
	return &t, nil
}
