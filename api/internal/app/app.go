// Package app assembles the payload codec and API client from configuration.
package app

import (
	"log/slog"

	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/core/services"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
	"github.com/irgordon/sealedapi/api/internal/telemetry"
	"github.com/irgordon/sealedapi/api/internal/transport"
)

// rateBurst lets a short run of calls through before the limiter engages.
const rateBurst = 5

// NewPayloadService builds the payload codec for cfg. A disabled config
// yields a pass-through service with no secret.
func NewPayloadService(cfg config.EncryptionConfig, metrics *telemetry.Recorder) (*services.PayloadService, error) {
	var codec domain.TokenCodec
	if cfg.Enabled {
		secret, err := crypto.ParseSecret(cfg.Secret)
		if err != nil {
			return nil, &domain.ConfigError{Field: "encryption.secret", Err: err}
		}

		var opts []crypto.Option
		if cfg.MaxTokenAge > 0 {
			opts = append(opts, crypto.WithMaxAge(cfg.MaxTokenAge))
		}

		fernet, err := crypto.NewFernetCodec(secret, opts...)
		if err != nil {
			return nil, &domain.ConfigError{Field: "encryption.secret", Err: err}
		}
		codec = fernet
	}

	return services.NewPayloadService(services.PayloadConfig{
		Enabled:      cfg.Enabled,
		DoubleEncode: cfg.DoubleEncode,
	}, codec, metrics)
}

// ClientDeps carries the optional collaborators of NewClient.
type ClientDeps struct {
	Logger  *slog.Logger
	Metrics *telemetry.Recorder
	Tokens  *transport.TokenStore
}

// NewClient wires the standard pipeline: request id, bearer auth, rate
// limiting when configured, then encryption last so it sees the final request.
func NewClient(cfg *config.Config, payload domain.PayloadCodec, deps ClientDeps) (*transport.Client, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pipeline, err := transport.NewPipeline(transport.RequestID{})
	if err != nil {
		return nil, err
	}
	if deps.Tokens != nil {
		if err := pipeline.Use(transport.BearerAuth{Store: deps.Tokens}); err != nil {
			return nil, err
		}
	}
	if cfg.RateLimit > 0 {
		if err := pipeline.Use(transport.NewRateLimit(cfg.RateLimit, rateBurst)); err != nil {
			return nil, err
		}
	}
	if err := pipeline.Use(transport.NewEncryption(payload, transport.EncryptionOptions{
		FailOpen: cfg.Encryption.FailOpen(),
		Logger:   logger,
		Metrics:  deps.Metrics,
	})); err != nil {
		return nil, err
	}

	return transport.NewClient(cfg.BaseURL, cfg.Timeout,
		transport.WithPipeline(pipeline),
		transport.WithLogger(logger),
	)
}
