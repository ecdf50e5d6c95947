package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dtroode/authkeeper/internal/model"
	"github.com/dtroode/authkeeper/internal/password"
	"github.com/dtroode/authkeeper/internal/repository/memory"
	"github.com/dtroode/authkeeper/internal/service"
	"github.com/dtroode/authkeeper/internal/testutil"
	"github.com/dtroode/authkeeper/internal/token"
)

type purgerFunc func(ctx context.Context, before time.Time) (int64, error)

func (f purgerFunc) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return f(ctx, before)
}

type recorderStub struct {
	purged atomic.Int64
}

func (r *recorderStub) ObservePurged(n int64) { r.purged.Add(n) }

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRefreshTokenRepository()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	require.NoError(t, store.Create(ctx, model.RefreshToken{ID: uuid.New(), TokenHash: "expired", UserID: userID, ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.Create(ctx, model.RefreshToken{ID: uuid.New(), TokenHash: "live", UserID: userID, ExpiresAt: now.Add(time.Hour)}))

	rec := &recorderStub{}
	j := New(store, rec, time.Hour, 0, testutil.MakeNoopLogger())
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), rec.purged.Load())
	assert.Equal(t, 1, store.Len())

	_, err = store.GetByHash(ctx, "live")
	assert.NoError(t, err)
}

func TestJanitor_RunOnce_KeepsRecentlyExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.NewRefreshTokenRepository()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	require.NoError(t, store.Create(ctx, model.RefreshToken{ID: uuid.New(), TokenHash: "old", UserID: userID, ExpiresAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, store.Create(ctx, model.RefreshToken{ID: uuid.New(), TokenHash: "recent", UserID: userID, ExpiresAt: now.Add(-time.Minute)}))

	j := New(store, nil, time.Hour, time.Hour, testutil.MakeNoopLogger())
	j.now = func() time.Time { return now }

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetByHash(ctx, "recent")
	assert.NoError(t, err)
	_, err = store.GetByHash(ctx, "old")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestJanitor_RunOnce_PurgeCutoff(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		retention time.Duration
		want      time.Time
	}{
		{name: "no retention", retention: 0, want: now},
		{name: "retention", retention: 24 * time.Hour, want: now.Add(-24 * time.Hour)},
		{name: "negative retention", retention: -time.Hour, want: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got time.Time
			j := New(purgerFunc(func(_ context.Context, before time.Time) (int64, error) {
				got = before
				return 0, nil
			}), nil, time.Hour, tt.retention, testutil.MakeNoopLogger())
			j.now = func() time.Time { return now }

			_, err := j.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "cutoff %s, want %s", got, tt.want)
		})
	}
}

func TestJanitor_ExpiredTokenStillReportedAsExpired(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUserRepository()
	sessions := memory.NewRefreshTokenRepository()

	hasher, err := password.NewHasher(password.Params{Time: 1, MemoryKiB: 1024, Parallelism: 1})
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	auth := service.NewAuth(users, sessions, token.NewJWT("test-secret", "authkeeper"), hasher, service.Config{
		RefreshTTL: time.Minute,
		Now:        clock,
	}, testutil.MakeNoopLogger())

	reg, err := auth.Register(ctx, "a@x.com", "pw123")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	j := New(sessions, nil, time.Hour, time.Hour, testutil.MakeNoopLogger())
	j.now = clock

	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = auth.Refresh(ctx, reg.RefreshToken)
	assert.ErrorIs(t, err, model.ErrRefreshTokenExpired)
}

func TestJanitor_RunOnce_Error(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorderStub{}
	j := New(purgerFunc(func(context.Context, time.Time) (int64, error) {
		return 0, boom
	}), rec, time.Hour, 0, testutil.MakeNoopLogger())

	_, err := j.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, rec.purged.Load())
}

func TestJanitor_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	j := New(purgerFunc(func(context.Context, time.Time) (int64, error) {
		calls.Add(1)
		return 0, nil
	}), nil, 5*time.Millisecond, 0, testutil.MakeNoopLogger())

	j.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, time.Millisecond)
	j.Stop()
}

func TestJanitor_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	j := New(purgerFunc(func(context.Context, time.Time) (int64, error) {
		return 0, errors.New("unavailable")
	}), nil, time.Millisecond, 0, testutil.MakeNoopLogger())

	j.Start(ctx)
	cancel()
	j.wg.Wait()
}

func TestJanitor_StopWithoutStart(t *testing.T) {
	j := New(purgerFunc(func(context.Context, time.Time) (int64, error) { return 0, nil }), nil, time.Second, 0, testutil.MakeNoopLogger())
	j.Stop()
}
