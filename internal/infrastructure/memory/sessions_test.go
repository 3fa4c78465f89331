package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-flashcall-auth/internal/application/flashcall"
	"github.com/go-flashcall-auth/internal/domain"
	"github.com/go-flashcall-auth/internal/infrastructure/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_Contract(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, ttl time.Duration) flashcall.SessionStore {
		return NewSessionStore(ttl)
	})
}

func TestSessionStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore(domain.SessionTTL)
	require.NoError(t, st.Put(ctx, &domain.VerificationSession{SessionID: "s1", Code: "1234", CreatedAt: time.Now()}))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	got.Code = "9999"

	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "1234", again.Code)
}

func TestSessionStore_Len(t *testing.T) {
	ctx := context.Background()
	st := NewSessionStore(domain.SessionTTL)
	assert.Equal(t, 0, st.Len())
	require.NoError(t, st.Put(ctx, &domain.VerificationSession{SessionID: "a", CreatedAt: time.Now()}))
	require.NoError(t, st.Put(ctx, &domain.VerificationSession{SessionID: "b", CreatedAt: time.Now()}))
	assert.Equal(t, 2, st.Len())
	_, err := st.TakeIfValid(ctx, "a", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())
}
