// Package storetest holds the behavioural contract every SessionStore backend
// must satisfy. Backend test files call Run with their own constructor.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store whose sessions expire after ttl.
type Factory func(t *testing.T, ttl time.Duration) flashcall.SessionStore

const ttl = domain.SessionTTL

func newSession(id string, createdAt time.Time) *domain.VerificationSession {
	return &domain.VerificationSession{
		SessionID:   id,
		PhoneNumber: "+254700000001",
		Code:        "4821",
		CallerID:    "+254711004821",
		CreatedAt:   createdAt,
	}
}

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()
	now := time.Now()

	t.Run("put then get returns the session", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("s1", now)))

		got, err := st.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "+254700000001", got.PhoneNumber)
		assert.Equal(t, "4821", got.Code)
		assert.True(t, got.CreatedAt.Equal(now), "created_at %v != %v", got.CreatedAt, now)
		assert.False(t, got.Verified)
	})

	t.Run("duplicate put is a conflict", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("dup", now)))
		assert.ErrorIs(t, st.Put(ctx, newSession("dup", now)), domain.ErrConflict)
	})

	t.Run("get unknown is not found", func(t *testing.T) {
		st := newStore(t, ttl)
		_, err := st.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("take consumes exactly once", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("once", now)))

		got, err := st.TakeIfValid(ctx, "once", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "once", got.SessionID)

		_, err = st.TakeIfValid(ctx, "once", now.Add(time.Minute))
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = st.Get(ctx, "once")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("take of expired session reports expired and removes it", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("old", now.Add(-ttl-time.Second))))

		_, err := st.TakeIfValid(ctx, "old", now)
		assert.ErrorIs(t, err, domain.ErrExpired)
		_, err = st.Get(ctx, "old")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("failed attempts are counted and the limit removes the session", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("guess", now)))

		n, err := st.RecordFailedAttempt(ctx, "guess", 3)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = st.RecordFailedAttempt(ctx, "guess", 3)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := st.Get(ctx, "guess")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)

		n, err = st.RecordFailedAttempt(ctx, "guess", 3)
		assert.ErrorIs(t, err, domain.ErrAttemptsExceeded)
		assert.Equal(t, 3, n)
		_, err = st.Get(ctx, "guess")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unlimited attempts never remove the session", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("free", now)))
		for i := 0; i < 10; i++ {
			_, err := st.RecordFailedAttempt(ctx, "free", 0)
			require.NoError(t, err)
		}
		_, err := st.Get(ctx, "free")
		assert.NoError(t, err)
	})

	t.Run("failed attempt on unknown session is not found", func(t *testing.T) {
		st := newStore(t, ttl)
		_, err := st.RecordFailedAttempt(ctx, "missing", 3)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("gone", now)))
		require.NoError(t, st.Delete(ctx, "gone"))
		require.NoError(t, st.Delete(ctx, "gone"))
		_, err := st.Get(ctx, "gone")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("sweep removes only sessions strictly older than the ttl", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("young", now.Add(-ttl+time.Second))))
		require.NoError(t, st.Put(ctx, newSession("boundary", now.Add(-ttl))))
		require.NoError(t, st.Put(ctx, newSession("stale", now.Add(-ttl-time.Second))))
		require.NoError(t, st.Put(ctx, newSession("ancient", now.Add(-time.Hour))))

		removed, err := st.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		for _, id := range []string{"young", "boundary"} {
			_, err := st.Get(ctx, id)
			assert.NoError(t, err, id)
		}
		for _, id := range []string{"stale", "ancient"} {
			_, err := st.Get(ctx, id)
			assert.ErrorIs(t, err, domain.ErrNotFound, id)
		}
	})

	t.Run("sub-second creation time is kept near the ttl boundary", func(t *testing.T) {
		st := newStore(t, ttl)
		created := now.Truncate(time.Second).Add(900 * time.Millisecond)
		at := created.Add(ttl - 400*time.Millisecond)
		require.NoError(t, st.Put(ctx, newSession("edge", created)))

		removed, err := st.SweepExpired(ctx, at)
		require.NoError(t, err)
		assert.Zero(t, removed)

		got, err := st.TakeIfValid(ctx, "edge", at)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(created), "created_at %v != %v", got.CreatedAt, created)
	})

	t.Run("concurrent takes on one session succeed exactly once", func(t *testing.T) {
		st := newStore(t, ttl)
		require.NoError(t, st.Put(ctx, newSession("race", now)))

		const workers = 32
		var wins, misses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.TakeIfValid(ctx, "race", now)
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, domain.ErrNotFound):
					misses.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(workers-1), misses.Load())
	})

	t.Run("sweep interleaves with puts", func(t *testing.T) {
		st := newStore(t, ttl)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, st.Put(ctx, newSession(fmt.Sprintf("live-%d", i), now)))
			}(i)
			go func() {
				defer wg.Done()
				_, err := st.SweepExpired(ctx, now)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		for i := 0; i < 20; i++ {
			_, err := st.Get(ctx, fmt.Sprintf("live-%d", i))
			assert.NoError(t, err)
		}
	})
}
