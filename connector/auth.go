package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenSource obtains tokens from a vendor's authorization server.
// Implementations must never include the client secret in returned errors.
type TokenSource interface {
	// Authenticate performs a full grant against the vendor token endpoint.
	Authenticate(ctx context.Context) (TokenState, error)
	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (TokenState, error)
}

// EndpointResolver yields the vendor's token endpoint URL. For some vendors
// this is a pure function of configuration; for others it requires fetching
// the vendor's capability document first.
type EndpointResolver func(ctx context.Context) (string, error)

// OAuth2Source implements the OAuth2 client credentials and refresh token
// grants shared by all vendor connectors.
type OAuth2Source struct {
	Endpoint     EndpointResolver
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client

	nowFunc func() time.Time
}

var _ TokenSource = &OAuth2Source{}

func (s *OAuth2Source) Authenticate(ctx context.Context) (TokenState, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	if len(s.Scopes) > 0 {
		form.Set("scope", strings.Join(s.Scopes, " "))
	}
	return s.grant(ctx, form)
}

func (s *OAuth2Source) Refresh(ctx context.Context, refreshToken string) (TokenState, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	return s.grant(ctx, form)
}

func (s *OAuth2Source) grant(ctx context.Context, form url.Values) (TokenState, error) {
	endpoint, err := s.Endpoint(ctx)
	if err != nil {
		return TokenState{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenState{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpClient := s.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return TokenState{}, &ClassifiedError{
			Kind:    ErrorKindVendorUnavailable,
			Message: "token endpoint unreachable",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The response body may echo request parameters; discard it and report the status only.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		log.Ctx(ctx).Warn().Msgf("Token grant rejected (grant_type=%s, status=%d)", form.Get("grant_type"), resp.StatusCode)
		return TokenState{}, &ClassifiedError{
			Kind:       ErrorKindAuthFailure,
			HTTPStatus: resp.StatusCode,
			Message:    fmt.Sprintf("token grant rejected (grant_type=%s)", form.Get("grant_type")),
		}
	}

	var tokenResponse struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1024*1024)).Decode(&tokenResponse); err != nil {
		return TokenState{}, &ClassifiedError{
			Kind:    ErrorKindAuthFailure,
			Message: "token endpoint returned malformed response",
		}
	}
	if tokenResponse.AccessToken == "" || tokenResponse.ExpiresIn <= 0 {
		// Never store an access token with an unknown lifetime.
		return TokenState{}, &ClassifiedError{
			Kind:    ErrorKindAuthFailure,
			Message: "token endpoint response is missing access_token or expires_in",
		}
	}

	now := time.Now
	if s.nowFunc != nil {
		now = s.nowFunc
	}
	return TokenState{
		AccessToken:  tokenResponse.AccessToken,
		RefreshToken: tokenResponse.RefreshToken,
		ExpiresAt:    now().Add(time.Duration(tokenResponse.ExpiresIn) * time.Second),
	}, nil
}
