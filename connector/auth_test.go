package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2Source_Authenticate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ok", func(t *testing.T) {
		var capturedForm map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			capturedForm = map[string]string{
				"grant_type":    r.PostFormValue("grant_type"),
				"client_id":     r.PostFormValue("client_id"),
				"client_secret": r.PostFormValue("client_secret"),
				"scope":         r.PostFormValue("scope"),
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"abc","refresh_token":"def","expires_in":3600,"token_type":"Bearer"}`))
		}))
		defer server.Close()
		source := &OAuth2Source{
			Endpoint:     staticEndpoint(server.URL),
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			Scopes:       []string{"system/Patient.read", "system/Observation.write"},
			nowFunc:      func() time.Time { return now },
		}

		token, err := source.Authenticate(ctx)

		require.NoError(t, err)
		assert.Equal(t, "abc", token.AccessToken)
		assert.Equal(t, "def", token.RefreshToken)
		assert.Equal(t, now.Add(time.Hour), token.ExpiresAt)
		assert.Equal(t, map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"scope":         "system/Patient.read system/Observation.write",
		}, capturedForm)
	})
	t.Run("rejected grant classifies as auth failure without leaking the secret", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusBadRequest)
		}))
		defer server.Close()
		source := &OAuth2Source{
			Endpoint:     staticEndpoint(server.URL),
			ClientID:     "client-1",
			ClientSecret: "super-secret",
		}

		_, err := source.Authenticate(ctx)

		var classified *ClassifiedError
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, ErrorKindAuthFailure, classified.Kind)
		assert.Equal(t, http.StatusBadRequest, classified.HTTPStatus)
		assert.NotContains(t, err.Error(), "super-secret")
	})
	t.Run("unreachable endpoint classifies as vendor unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()
		source := &OAuth2Source{Endpoint: staticEndpoint(server.URL)}

		_, err := source.Authenticate(ctx)

		var classified *ClassifiedError
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, ErrorKindVendorUnavailable, classified.Kind)
	})
	t.Run("malformed response classifies as auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()
		source := &OAuth2Source{Endpoint: staticEndpoint(server.URL)}

		_, err := source.Authenticate(ctx)

		var classified *ClassifiedError
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, ErrorKindAuthFailure, classified.Kind)
	})
	t.Run("missing expires_in classifies as auth failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer"}`))
		}))
		defer server.Close()
		source := &OAuth2Source{Endpoint: staticEndpoint(server.URL)}

		_, err := source.Authenticate(ctx)

		var classified *ClassifiedError
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, ErrorKindAuthFailure, classified.Kind)
	})
	t.Run("endpoint resolution failure surfaces without a token call", func(t *testing.T) {
		source := &OAuth2Source{Endpoint: func(context.Context) (string, error) {
			return "", ConfigurationError("token endpoint not advertised")
		}}

		_, err := source.Authenticate(ctx)

		var classified *ClassifiedError
		require.ErrorAs(t, err, &classified)
		assert.Equal(t, ErrorKindConfigurationError, classified.Kind)
	})
}

func TestOAuth2Source_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		require.Equal(t, "old-refresh", r.PostFormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"new-refresh","expires_in":600}`))
	}))
	defer server.Close()
	source := &OAuth2Source{Endpoint: staticEndpoint(server.URL), ClientID: "client-1", ClientSecret: "secret-1"}

	token, err := source.Refresh(context.Background(), "old-refresh")

	require.NoError(t, err)
	assert.Equal(t, "new", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
}

func staticEndpoint(endpoint string) EndpointResolver {
	return func(context.Context) (string, error) {
		return endpoint, nil
	}
}
