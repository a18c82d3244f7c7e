package connector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// expiryBuffer is subtracted from the vendor-reported expiry when judging
// token validity, so a token never expires on the vendor side mid-flight.
const expiryBuffer = 60 * time.Second

// TokenState holds the credentials obtained from a vendor's token endpoint.
// Owned by exactly one connector; mutated only through its tokenHolder.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the token must be (re)acquired before use.
// A token within expiryBuffer of its expiry counts as expired.
func (t TokenState) Expired(now time.Time) bool {
	if t.AccessToken == "" {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-expiryBuffer))
}

func (t TokenState) setAuthHeader(req *http.Request) {
	(&oauth2.Token{AccessToken: t.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)
}

// tokenHolder guards the TokenState of one connector. Concurrent callers that
// observe an expired token serialize on the mutex and share the result of a
// single grant request instead of each hitting the vendor token endpoint.
type tokenHolder struct {
	mu      sync.Mutex
	current TokenState
}

// ensure returns a token that was valid at the time of the check, performing a
// refresh (or full authentication) when needed. The refreshed return value
// reports whether a grant request was made.
//
// With force set, the caller saw the vendor reject its token with a 401: the
// current token is discarded unless another caller already replaced it.
func (h *tokenHolder) ensure(ctx context.Context, source TokenSource, now func() time.Time, force bool, rejected TokenState) (TokenState, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if force {
		if h.current.AccessToken != "" && h.current.AccessToken != rejected.AccessToken && !h.current.Expired(now()) {
			// Another caller refreshed while we were in flight; use its result.
			return h.current, false, nil
		}
	} else if !h.current.Expired(now()) {
		return h.current, false, nil
	}

	next, err := h.acquireLocked(ctx, source)
	if err != nil {
		return TokenState{}, true, err
	}
	h.current = next
	return next, true, nil
}

// acquireLocked obtains a fresh token. Refresh is best-effort: without a
// refresh token it degrades to full authentication, and when the refresh call
// itself fails the state is cleared and one full authentication is attempted
// before the error surfaces.
func (h *tokenHolder) acquireLocked(ctx context.Context, source TokenSource) (TokenState, error) {
	if h.current.RefreshToken == "" {
		return source.Authenticate(ctx)
	}
	next, err := source.Refresh(ctx, h.current.RefreshToken)
	if err == nil {
		return next, nil
	}
	log.Ctx(ctx).Warn().Err(err).Msg("Token refresh failed, falling back to full authentication")
	h.current = TokenState{}
	return source.Authenticate(ctx)
}

// snapshot returns the current token without side effects.
func (h *tokenHolder) snapshot() TokenState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}
