package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/core/services"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCodec(t *testing.T, enabled bool) *services.PayloadService {
	t.Helper()
	var codec domain.TokenCodec
	if enabled {
		encoded, err := crypto.GenerateSecret()
		require.NoError(t, err)
		secret, err := crypto.ParseSecret(encoded)
		require.NoError(t, err)
		codec, err = crypto.NewFernetCodec(secret)
		require.NoError(t, err)
	}
	svc, err := services.NewPayloadService(services.PayloadConfig{Enabled: enabled}, codec, nil)
	require.NoError(t, err)
	return svc
}

// capture records what the wrapped handler saw.
type capture struct {
	called bool
	body   string
	query  string
	ctype  string
}

func (c *capture) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		raw, _ := io.ReadAll(r.Body)
		c.body = string(raw)
		c.query = r.URL.RawQuery
		c.ctype = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestSealedPayload_OpensBody(t *testing.T) {
	codec := newCodec(t, true)
	sealed, err := codec.EncryptPayload(map[string]any{"product_id": "42", "quantity": 3})
	require.NoError(t, err)

	quoted, err := json.Marshal(sealed)
	require.NoError(t, err)

	bodies := map[string]string{
		"raw token":   sealed,
		"json string": string(quoted),
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := &capture{}
			req := httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			SealedPayload(codec, discard)(c.handler()).ServeHTTP(rec, req)

			require.True(t, c.called)
			assert.JSONEq(t, `{"product_id":"42","quantity":3}`, c.body)
			assert.Equal(t, "application/json", c.ctype)
		})
	}
}

func TestSealedPayload_OpensQuery(t *testing.T) {
	codec := newCodec(t, true)
	sealed, err := codec.EncryptPayload(map[string]any{"search_text": "oil", "limit": 10, "tags": []string{"a", "b"}})
	require.NoError(t, err)

	c := &capture{}
	req := httptest.NewRequest(http.MethodGet, "/api/products?"+sealed, nil)
	rec := httptest.NewRecorder()

	SealedPayload(codec, discard)(c.handler()).ServeHTTP(rec, req)

	require.True(t, c.called)
	assert.Equal(t, "limit=10&search_text=oil&tags=a&tags=b", c.query)
}

func TestSealedPayload_RejectsTampering(t *testing.T) {
	codec := newCodec(t, true)
	sealed, err := codec.EncryptPayload(map[string]any{"id": 1})
	require.NoError(t, err)
	tampered := "A" + sealed[1:]
	if tampered == sealed {
		tampered = "B" + sealed[1:]
	}

	requests := map[string]*http.Request{
		"body":  httptest.NewRequest(http.MethodPut, "/api/x", strings.NewReader(tampered)),
		"query": httptest.NewRequest(http.MethodGet, "/api/x?"+tampered, nil),
		"other": httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(`{"id":1}`)),
	}

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			c := &capture{}
			rec := httptest.NewRecorder()

			SealedPayload(codec, discard)(c.handler()).ServeHTTP(rec, req)

			assert.False(t, c.called)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var env domain.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.Status)
			assert.Empty(t, env.Data)
			assert.Empty(t, rec.Header().Get(domain.PayloadEncodingHeader))
		})
	}
}

func TestSealedPayload_BodyReadFailures(t *testing.T) {
	codec := newCodec(t, true)
	sealed, err := codec.EncryptPayload(map[string]any{"id": 1})
	require.NoError(t, err)

	t.Run("over the limit", func(t *testing.T) {
		c := &capture{}
		rec := httptest.NewRecorder()
		h := MaxBytes(8)(SealedPayload(codec, discard)(c.handler()))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/x", strings.NewReader(sealed)))

		assert.False(t, c.called)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("broken reader", func(t *testing.T) {
		c := &capture{}
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/x", iotest.ErrReader(errors.New("connection reset")))
		SealedPayload(codec, discard)(c.handler()).ServeHTTP(rec, req)

		assert.False(t, c.called)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSealedPayload_PassesThrough(t *testing.T) {
	codec := newCodec(t, true)

	t.Run("conventional query", func(t *testing.T) {
		c := &capture{}
		req := httptest.NewRequest(http.MethodGet, "/api/x?page=2&sort=asc", nil)
		SealedPayload(codec, discard)(c.handler()).ServeHTTP(httptest.NewRecorder(), req)
		require.True(t, c.called)
		assert.Equal(t, "page=2&sort=asc", c.query)
	})

	t.Run("empty body", func(t *testing.T) {
		c := &capture{}
		req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
		SealedPayload(codec, discard)(c.handler()).ServeHTTP(httptest.NewRecorder(), req)
		require.True(t, c.called)
		assert.Empty(t, c.body)
	})

	t.Run("multipart", func(t *testing.T) {
		c := &capture{}
		req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("--b\r\n\r\nx\r\n--b--\r\n"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=b")
		SealedPayload(codec, discard)(c.handler()).ServeHTTP(httptest.NewRecorder(), req)
		require.True(t, c.called)
		assert.Contains(t, c.body, "--b")
	})

	t.Run("encryption disabled", func(t *testing.T) {
		c := &capture{}
		req := httptest.NewRequest(http.MethodPost, "/api/x?token", strings.NewReader(`{"a":1}`))
		SealedPayload(newCodec(t, false), discard)(c.handler()).ServeHTTP(httptest.NewRecorder(), req)
		require.True(t, c.called)
		assert.Equal(t, `{"a":1}`, c.body)
		assert.Equal(t, "token", c.query)
	})
}

func TestLooksSealed(t *testing.T) {
	cases := map[string]bool{
		"":           false,
		"a=b":        false,
		"a=b&c=d":    false,
		"abc%20def":  false,
		"Z0FBQUFB":   true,
		"Z0FBQ+/A==": true,
		"==":         false,
		"x=1==":      false,
		"plain-word": false,
		"dG9rZW4=":   true,
	}
	for q, want := range cases {
		assert.Equal(t, want, looksSealed(q), "query %q", q)
	}
}

func TestRequireSession(t *testing.T) {
	sessions, err := services.NewSessionService(strings.Repeat("k", 32))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewAuthMiddleware(ctx, sessions, 0, 0, discard)

	var seen string
	protected := m.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := SessionFrom(r.Context())
		if assert.True(t, ok) {
			seen = claims.Username
		}
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer and cookie", func(t *testing.T) {
		session, err := sessions.Issue("racer01")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "racer01", seen)

		seen = ""
		req = httptest.NewRequest(http.MethodGet, "/api/session/me", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: session.AccessToken})
		rec = httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "racer01", seen)
	})
}

func TestRateLimit_PerClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewAuthMiddleware(ctx, nil, 0.001, 2, discard)

	h := m.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:" + strconv.Itoa(40000+i)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.RemoteAddr = "10.0.0.2:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaxBytes(t *testing.T) {
	var readErr error
	h := MaxBytes(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))

	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}
