package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/irgordon/sealedapi/api/internal/api/handlers"
	sealed_middleware "github.com/irgordon/sealedapi/api/internal/api/middleware"
	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/transport"
)

// RouterConfig defines the dependencies required to build the mirror's routing tree.
type RouterConfig struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	Codec          domain.PayloadCodec
	AuthHandler    *handlers.AuthHandler
	EchoHandler    *handlers.EchoHandler
	HealthHandler  *handlers.HealthHandler
	AuthMiddleware *sealed_middleware.AuthMiddleware
	Metrics        http.Handler
	Logger         *slog.Logger
}

// NewRouter constructs the Chi multiplexer, attaches global middleware, and wires all endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// =========================================================================
	// 1. Global Gateway Middleware Pipeline
	// =========================================================================

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(sealed_middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(sealed_middleware.MaxBytes(cfg.MaxBodyBytes))
	r.Use(cfg.AuthMiddleware.RateLimit)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", transport.RequestIDHeader},
		ExposedHeaders:   []string{domain.PayloadEncodingHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// =========================================================================
	// 2. Operational Endpoints (never sealed)
	// =========================================================================

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	r.Get("/health", cfg.HealthHandler.Check)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// =========================================================================
	// 3. Sealed API Tree
	// =========================================================================

	r.Route("/api", func(r chi.Router) {
		r.Use(sealed_middleware.SealedPayload(cfg.Codec, cfg.Logger))

		r.Post("/users/login", cfg.AuthHandler.Login)

		r.Route("/echo", func(r chi.Router) {
			r.Get("/", cfg.EchoHandler.Query)
			r.Post("/", cfg.EchoHandler.Body)
			r.Put("/", cfg.EchoHandler.Body)
			r.Patch("/", cfg.EchoHandler.Body)
			r.Delete("/", cfg.EchoHandler.Query)
		})

		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthMiddleware.RequireSession)
			r.Get("/session/me", cfg.AuthHandler.Me)
		})
	})

	return r
}
