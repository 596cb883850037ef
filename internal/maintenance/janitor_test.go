package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/domain"
	"gtdbot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeStore struct {
	linkErr  error
	sweeps   atomic.Int32
	retained int
}

func (f *fakeStore) DeleteExpiredPendingLinks(ctx context.Context, now time.Time) (int, error) {
	f.sweeps.Add(1)
	return 2, f.linkErr
}

func (f *fakeStore) TrimHistories(ctx context.Context, retain int) (int, error) {
	f.retained = retain
	return 1, nil
}

func TestRunOnce_AgainstSQLite(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "janitor.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	valid := now.Add(10 * time.Minute)
	require.NoError(t, s.UpsertAccount(ctx, domain.Account{UserID: "u1", Phone: "5491155550000", SubscriptionStatus: "active"}))
	require.NoError(t, s.CreateLink(ctx, domain.AccountLink{ID: "l1", UserID: "u1", NormalizedAddress: "5491155550000", LinkCode: "111111", LinkCodeExpiry: &expired, CreatedAt: now}))
	require.NoError(t, s.CreateLink(ctx, domain.AccountLink{ID: "l2", UserID: "u1", NormalizedAddress: "5491166660000", LinkCode: "222222", LinkCodeExpiry: &valid, CreatedAt: now}))

	c, err := s.GetOrCreateConversation(ctx, domain.ConversationContext{UserID: "u1", SenderAddress: "5491155550000"})
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendTurn(ctx, c.ID, domain.Turn{Role: domain.RoleUser, Content: "hola", At: now}, 100))
	}

	j := New(Config{Store: s, Retain: 4, Now: func() time.Time { return now }, Logger: testLogger()})
	rep, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ExpiredLinks)
	assert.Equal(t, 1, rep.TrimmedHistories)

	pending, err := s.FindPendingLinkByCode(ctx, "222222")
	require.NoError(t, err)
	assert.NotNil(t, pending)
	gone, err := s.FindPendingLinkByCode(ctx, "111111")
	require.NoError(t, err)
	assert.Nil(t, gone)

	c, err = s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, c.History, 4)
}

func TestRunOnce_ContinuesAfterError(t *testing.T) {
	f := &fakeStore{linkErr: errors.New("disk full")}
	j := New(Config{Store: f, Retain: 20, Logger: testLogger()})

	rep, err := j.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, rep.TrimmedHistories)
	assert.Equal(t, 20, f.retained)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	j := New(Config{Store: &fakeStore{}, Schedule: "every now and then", Logger: testLogger()})
	assert.Error(t, j.Start(context.Background()))
	assert.True(t, j.NextRun().IsZero())
}

func TestRunSweepsOnSchedule(t *testing.T) {
	f := &fakeStore{}
	j := New(Config{Store: f, Schedule: "@every 1s", Retain: 20, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool { return f.sweeps.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, j.NextRun().IsZero())
}
