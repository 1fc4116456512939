package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const RequestIDHeader = "X-Request-ID"

// RequestID stamps each outgoing call with a fresh UUID unless the caller
// already set one.
type RequestID struct{}

func (RequestID) TransformRequest(_ context.Context, req *Request) error {
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return nil
}

// TokenStore holds the current session token. Safe for concurrent use.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *TokenStore) Clear() { s.Set("") }

// BearerAuth attaches the stored session token as an Authorization header.
type BearerAuth struct {
	Store *TokenStore
}

func (b BearerAuth) TransformRequest(_ context.Context, req *Request) error {
	if b.Store == nil || req.Header.Get("Authorization") != "" {
		return nil
	}
	if token := b.Store.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// RateLimit blocks outgoing calls on a token bucket. Waiting honors ctx.
type RateLimit struct {
	limiter *rate.Limiter
}

func NewRateLimit(perSecond float64, burst int) *RateLimit {
	if burst < 1 {
		burst = 1
	}
	return &RateLimit{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimit) TransformRequest(ctx context.Context, _ *Request) error {
	return r.limiter.Wait(ctx)
}
