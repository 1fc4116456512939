package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/irgordon/sealedapi/api/internal/core/services"
)

type contextKey string

const sessionKey contextKey = "session"

// SessionCookie is checked when no Authorization header is present.
const SessionCookie = "sealedapi_access_token"

type AuthMiddleware struct {
	Sessions *services.SessionService
	Logger   *slog.Logger
	visitors sync.Map
	limit    rate.Limit
	burst    int
}

// NewAuthMiddleware starts the visitor sweeper, which stops when ctx ends.
// A perSecond of zero disables per-client rate limiting.
func NewAuthMiddleware(ctx context.Context, sessions *services.SessionService, perSecond float64, burst int, logger *slog.Logger) *AuthMiddleware {
	m := &AuthMiddleware{
		Sessions: sessions,
		Logger:   logger,
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
	if perSecond > 0 {
		go m.cleanupVisitors(ctx)
	}
	return m
}

// RequireSession admits requests carrying a valid access token and stores
// its claims on the request context.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		claims, err := m.Sessions.Verify(tokenString)
		if err != nil {
			m.Logger.Warn("Rejected session token", slog.String("path", r.URL.Path), slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, "Session expired, please log in again")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFrom returns the claims stored by RequireSession.
func SessionFrom(ctx context.Context) (*services.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionKey).(*services.SessionClaims)
	return claims, ok
}

type visitor struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// RateLimit applies a token bucket per client address.
func (m *AuthMiddleware) RateLimit(next http.Handler) http.Handler {
	if m.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// RealIP runs first, so RemoteAddr already honors proxy headers.
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		v, _ := m.visitors.LoadOrStore(ip, &visitor{
			limiter:  rate.NewLimiter(m.limit, m.burst),
			lastSeen: time.Now(),
		})

		vis := v.(*visitor)
		vis.mu.Lock()
		vis.lastSeen = time.Now()
		vis.mu.Unlock()

		if !vis.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.visitors.Range(func(key, value any) bool {
				vis := value.(*visitor)
				vis.mu.Lock()
				stale := time.Since(vis.lastSeen) > 3*time.Minute
				vis.mu.Unlock()
				if stale {
					m.visitors.Delete(key)
				}
				return true
			})
		}
	}
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
