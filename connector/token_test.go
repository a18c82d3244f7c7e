package connector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenState_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t.Run("empty token is expired", func(t *testing.T) {
		assert.True(t, TokenState{}.Expired(now))
	})
	t.Run("token well before expiry is valid", func(t *testing.T) {
		token := TokenState{AccessToken: "token", ExpiresAt: now.Add(time.Hour)}
		assert.False(t, token.Expired(now))
	})
	t.Run("token exactly at the buffer boundary is expired", func(t *testing.T) {
		token := TokenState{AccessToken: "token", ExpiresAt: now.Add(expiryBuffer)}
		assert.True(t, token.Expired(now))
	})
	t.Run("token one second outside the buffer is valid", func(t *testing.T) {
		token := TokenState{AccessToken: "token", ExpiresAt: now.Add(expiryBuffer + time.Second)}
		assert.False(t, token.Expired(now))
	})
	t.Run("token past expiry is expired", func(t *testing.T) {
		token := TokenState{AccessToken: "token", ExpiresAt: now.Add(-time.Minute)}
		assert.True(t, token.Expired(now))
	})
}

type stubTokenSource struct {
	mu            sync.Mutex
	authenticates atomic.Int32
	refreshes     atomic.Int32
	authErr       error
	refreshErr    error
	token         TokenState
}

func (s *stubTokenSource) Authenticate(_ context.Context) (TokenState, error) {
	s.authenticates.Add(1)
	if s.authErr != nil {
		return TokenState{}, s.authErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *stubTokenSource) Refresh(_ context.Context, _ string) (TokenState, error) {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return TokenState{}, s.refreshErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func TestTokenHolder_Ensure(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time { return now }
	ctx := context.Background()

	t.Run("valid token is reused without a grant", func(t *testing.T) {
		source := &stubTokenSource{}
		holder := &tokenHolder{current: TokenState{AccessToken: "valid", ExpiresAt: now.Add(time.Hour)}}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, false, TokenState{})

		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Equal(t, "valid", token.AccessToken)
		assert.Equal(t, int32(0), source.authenticates.Load())
	})
	t.Run("expired token without refresh token triggers full authentication", func(t *testing.T) {
		source := &stubTokenSource{token: TokenState{AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)}}
		holder := &tokenHolder{}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, false, TokenState{})

		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, "fresh", token.AccessToken)
		assert.Equal(t, int32(1), source.authenticates.Load())
		assert.Equal(t, int32(0), source.refreshes.Load())
	})
	t.Run("expired token with refresh token triggers refresh grant", func(t *testing.T) {
		source := &stubTokenSource{token: TokenState{AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)}}
		holder := &tokenHolder{current: TokenState{AccessToken: "stale", RefreshToken: "refresh", ExpiresAt: now.Add(-time.Minute)}}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, false, TokenState{})

		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, "fresh", token.AccessToken)
		assert.Equal(t, int32(1), source.refreshes.Load())
		assert.Equal(t, int32(0), source.authenticates.Load())
	})
	t.Run("failed refresh falls back to full authentication", func(t *testing.T) {
		source := &stubTokenSource{
			refreshErr: errors.New("refresh token revoked"),
			token:      TokenState{AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)},
		}
		holder := &tokenHolder{current: TokenState{AccessToken: "stale", RefreshToken: "refresh", ExpiresAt: now.Add(-time.Minute)}}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, false, TokenState{})

		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, "fresh", token.AccessToken)
		assert.Equal(t, int32(1), source.refreshes.Load())
		assert.Equal(t, int32(1), source.authenticates.Load())
	})
	t.Run("failed refresh and failed authentication surfaces the error with cleared state", func(t *testing.T) {
		source := &stubTokenSource{
			refreshErr: errors.New("refresh token revoked"),
			authErr:    errors.New("credentials rejected"),
		}
		holder := &tokenHolder{current: TokenState{AccessToken: "stale", RefreshToken: "refresh", ExpiresAt: now.Add(-time.Minute)}}

		_, _, err := holder.ensure(ctx, source, nowFunc, false, TokenState{})

		require.EqualError(t, err, "credentials rejected")
		assert.Equal(t, TokenState{}, holder.snapshot())
	})
	t.Run("force discards the rejected token", func(t *testing.T) {
		source := &stubTokenSource{token: TokenState{AccessToken: "fresh", ExpiresAt: now.Add(time.Hour)}}
		rejected := TokenState{AccessToken: "rejected", ExpiresAt: now.Add(time.Hour)}
		holder := &tokenHolder{current: rejected}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, true, rejected)

		require.NoError(t, err)
		assert.True(t, refreshed)
		assert.Equal(t, "fresh", token.AccessToken)
		assert.Equal(t, int32(1), source.authenticates.Load())
	})
	t.Run("force reuses a token already replaced by another caller", func(t *testing.T) {
		source := &stubTokenSource{}
		holder := &tokenHolder{current: TokenState{AccessToken: "replacement", ExpiresAt: now.Add(time.Hour)}}
		rejected := TokenState{AccessToken: "rejected", ExpiresAt: now.Add(time.Hour)}

		token, refreshed, err := holder.ensure(ctx, source, nowFunc, true, rejected)

		require.NoError(t, err)
		assert.False(t, refreshed)
		assert.Equal(t, "replacement", token.AccessToken)
		assert.Equal(t, int32(0), source.authenticates.Load())
	})
}

func TestTokenHolder_Ensure_ConcurrentCallersShareOneGrant(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time { return now }
	source := &stubTokenSource{token: TokenState{AccessToken: "shared", ExpiresAt: now.Add(time.Hour)}}
	holder := &tokenHolder{}

	const callers = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			token, _, err := holder.ensure(context.Background(), source, nowFunc, false, TokenState{})
			assert.NoError(t, err)
			assert.Equal(t, "shared", token.AccessToken)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), source.authenticates.Load())
}
