package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/irgordon/sealedapi/api/internal/api/handlers"
	"github.com/irgordon/sealedapi/api/internal/api/middleware"
	"github.com/irgordon/sealedapi/api/internal/api/router"
	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/core/services"
	"github.com/irgordon/sealedapi/api/internal/telemetry"
)

// mirrorBurst is the per-client burst allowed by the mirror's rate limiter.
const mirrorBurst = 30

// NewMirror assembles the reference server's handler tree. Background
// goroutines it starts stop when ctx is cancelled.
func NewMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, error) {
	registry := telemetry.NewRegistry()
	metrics := telemetry.NewRecorder(registry)

	payload, err := NewPayloadService(cfg.Encryption, metrics)
	if err != nil {
		return nil, err
	}

	sessions, err := services.NewSessionService(cfg.Mirror.JWTSecret)
	if err != nil {
		return nil, &domain.ConfigError{Field: "mirror.jwt_secret", Err: err}
	}

	respond := handlers.NewResponder(payload, logger)

	return router.NewRouter(router.RouterConfig{
		AllowedOrigins: cfg.Mirror.AllowedOrigins,
		MaxBodyBytes:   cfg.Mirror.MaxBodyBytes,
		Codec:          payload,
		AuthHandler:    handlers.NewAuthHandler(sessions, respond, logger),
		EchoHandler:    handlers.NewEchoHandler(respond),
		HealthHandler:  handlers.NewHealthHandler(payload),
		AuthMiddleware: middleware.NewAuthMiddleware(ctx, sessions, cfg.Mirror.RateLimit, mirrorBurst, logger),
		Metrics:        telemetry.Handler(registry),
		Logger:         logger,
	}), nil
}
