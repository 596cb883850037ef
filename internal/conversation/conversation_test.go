package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/domain"
	"gtdbot/internal/store"
)

func newStore(t *testing.T, retain int) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "conv.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return New(Config{
		Store:  s,
		Retain: retain,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		Logger: logger,
	})
}

func TestGetOrCreate_ReusesContext(t *testing.T) {
	cs := newStore(t, 10)
	ctx := context.Background()

	a, err := cs.GetOrCreate(ctx, "u1", "5491155550000")
	require.NoError(t, err)
	assert.Empty(t, a.LastTaskID)
	assert.Empty(t, a.History)

	b, err := cs.GetOrCreate(ctx, "u1", "5491155550000")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	other, err := cs.GetOrCreate(ctx, "u2", "5491155550000")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, other.ID)
}

func TestRecord_ShallowMerge(t *testing.T) {
	cs := newStore(t, 10)
	ctx := context.Background()

	c, err := cs.GetOrCreate(ctx, "u1", "5491155550000")
	require.NoError(t, err)

	require.NoError(t, cs.Record(ctx, c.ID, domain.IntentCreateTask, "task-1"))
	require.NoError(t, cs.Record(ctx, c.ID, domain.IntentViewTasks, ""))

	got, err := cs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.LastTaskID, "view_tasks keeps the previous referent")
	assert.Equal(t, string(domain.IntentViewTasks), got.LastIntent)
}

func TestUpdate_Noop(t *testing.T) {
	cs := newStore(t, 10)
	assert.NoError(t, cs.Update(context.Background(), "does-not-exist", domain.ConversationPatch{}))
}

func TestExchange_TrimsToRetain(t *testing.T) {
	cs := newStore(t, 4)
	ctx := context.Background()

	c, err := cs.GetOrCreate(ctx, "u1", "5491155550000")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, cs.Exchange(ctx, c.ID, fmt.Sprintf("msg %d", i), fmt.Sprintf("reply %d", i)))
	}

	got, err := cs.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 4)
	assert.Equal(t, "msg 1", got.History[0].Content)
	assert.Equal(t, domain.RoleAssistant, got.History[3].Role)
	assert.Equal(t, "reply 2", got.History[3].Content)

	window := got.Window(3)
	require.Len(t, window, 3)
	assert.Equal(t, "reply 1", window[0].Content)
}

func TestAppendTurn_SkipsEmpty(t *testing.T) {
	cs := newStore(t, 4)
	ctx := context.Background()

	c, err := cs.GetOrCreate(ctx, "u1", "5491155550000")
	require.NoError(t, err)
	require.NoError(t, cs.Exchange(ctx, c.ID, "hola", ""))

	got, err := cs.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.History, 1)
}
