package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/core/services"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
	"github.com/irgordon/sealedapi/api/internal/transport"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T, enabled bool) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Encryption.Enabled = enabled
	if enabled {
		secret, err := crypto.GenerateSecret()
		require.NoError(t, err)
		cfg.Encryption.Secret = secret
	}
	cfg.Mirror.JWTSecret = strings.Repeat("j", 40)
	cfg.Mirror.RateLimit = 0
	return cfg
}

// startMirror serves the mirror for cfg and points cfg.BaseURL at it.
func startMirror(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handler, err := NewMirror(ctx, cfg, discard)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return srv
}

func newTestClient(t *testing.T, cfg *config.Config, tokens *transport.TokenStore) *transport.Client {
	t.Helper()
	payload, err := NewPayloadService(cfg.Encryption, nil)
	require.NoError(t, err)
	client, err := NewClient(cfg, payload, ClientDeps{Logger: discard, Tokens: tokens})
	require.NoError(t, err)
	return client
}

func TestMirror_SealedLoginFlow(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		name := "plain"
		if enabled {
			name = "sealed"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, enabled)
			startMirror(t, cfg)

			tokens := &transport.TokenStore{}
			client := newTestClient(t, cfg, tokens)
			ctx := context.Background()

			resp, err := client.Post(ctx, "/api/users/login", map[string]any{"username": "racer01", "password": "hunter22", "otp": 0})
			require.NoError(t, err)
			env, err := resp.Envelope()
			require.NoError(t, err)
			assert.True(t, env.Status)
			assert.Contains(t, env.Message, "OTP sent")

			resp, err = client.Post(ctx, "/api/users/login", map[string]any{"username": "racer01", "password": "hunter22", "otp": 123456})
			require.NoError(t, err)
			assert.Equal(t, enabled, resp.Decoded)

			var session services.Session
			if enabled {
				require.NoError(t, resp.Decode(&session))
			} else {
				env, err := resp.Envelope()
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(env.Data, &session))
			}
			require.NotEmpty(t, session.AccessToken)
			tokens.Set(session.AccessToken)

			resp, err = client.Get(ctx, "/api/session/me", nil)
			require.NoError(t, err)
			assert.Contains(t, string(resp.Body), "racer01")
		})
	}
}

func TestMirror_EchoRoundTrip(t *testing.T) {
	cfg := testConfig(t, true)
	startMirror(t, cfg)
	client := newTestClient(t, cfg, nil)
	ctx := context.Background()

	resp, err := client.Get(ctx, "/api/echo", map[string]any{"search_text": "oil", "limit": 25})
	require.NoError(t, err)
	require.True(t, resp.Decoded)
	assert.JSONEq(t, `{"search_text":"oil","limit":"25"}`, string(resp.Body))

	for _, send := range []func(context.Context, string, any) (*transport.Response, error){client.Post, client.Put, client.Patch} {
		resp, err := send(ctx, "/api/echo", map[string]any{"product_id": "42", "quantity": 3, "note": "<ok>"})
		require.NoError(t, err)
		require.True(t, resp.Decoded)
		assert.JSONEq(t, `{"product_id":"42","quantity":3,"note":"<ok>"}`, string(resp.Body))
	}

	resp, err = client.Delete(ctx, "/api/echo", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.True(t, resp.Decoded)
	assert.JSONEq(t, `{"k":"v"}`, string(resp.Body))

	resp, err = client.Get(ctx, "/api/echo", map[string]any{})
	require.NoError(t, err)
	require.True(t, resp.Decoded)
	assert.JSONEq(t, `{}`, string(resp.Body))
}

func TestMirror_RejectsUnsealedAndForeignPayloads(t *testing.T) {
	cfg := testConfig(t, true)
	srv := startMirror(t, cfg)

	t.Run("plain body", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/echo", "application/json", strings.NewReader(`{"a":1}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, resp.Header.Get(domain.PayloadEncodingHeader))
	})

	t.Run("other secret", func(t *testing.T) {
		other := testConfig(t, true)
		other.BaseURL = cfg.BaseURL
		client := newTestClient(t, other, nil)

		_, err := client.Post(context.Background(), "/api/echo", map[string]any{"a": 1})
		var httpErr *transport.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		require.NotNil(t, httpErr.Envelope)
		assert.False(t, httpErr.Envelope.Status)
	})

	t.Run("missing session", func(t *testing.T) {
		client := newTestClient(t, cfg, &transport.TokenStore{})
		_, err := client.Get(context.Background(), "/api/session/me", nil)
		var httpErr *transport.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	})
}

func TestMirror_OperationalEndpoints(t *testing.T) {
	cfg := testConfig(t, true)
	srv := startMirror(t, cfg)
	client := newTestClient(t, cfg, nil)

	resp, err := client.Get(context.Background(), "/ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(resp.Body))
	assert.False(t, resp.Decoded)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sealedapi_payload_operations_total")
}

func TestNewMirror_RequiresJWTSecret(t *testing.T) {
	cfg := testConfig(t, true)
	cfg.Mirror.JWTSecret = "short"

	_, err := NewMirror(context.Background(), cfg, discard)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "mirror.jwt_secret", cfgErr.Field)
}

func TestNewPayloadService_BadSecret(t *testing.T) {
	_, err := NewPayloadService(config.EncryptionConfig{Enabled: true, Secret: "too-short"}, nil)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	svc, err := NewPayloadService(config.EncryptionConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())
}
