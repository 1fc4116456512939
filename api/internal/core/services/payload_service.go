package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/telemetry"
)

// PayloadService drives the token codec and the outer base64 layering.
// It holds no mutable state and is safe for concurrent use.
type PayloadService struct {
	enabled      bool
	doubleEncode bool
	codec        domain.TokenCodec
	metrics      *telemetry.Recorder
}

type PayloadConfig struct {
	Enabled      bool
	DoubleEncode bool
}

// NewPayloadService wires the codec. codec may be nil only when encryption
// is disabled; metrics may be nil.
func NewPayloadService(cfg PayloadConfig, codec domain.TokenCodec, metrics *telemetry.Recorder) (*PayloadService, error) {
	if cfg.Enabled && codec == nil {
		return nil, &domain.ConfigError{Field: "encryption.secret", Err: errors.New("token codec required when encryption is enabled")}
	}
	return &PayloadService{
		enabled:      cfg.Enabled,
		doubleEncode: cfg.DoubleEncode,
		codec:        codec,
		metrics:      metrics,
	}, nil
}

func (s *PayloadService) Enabled() bool { return s.enabled }

// EncryptPayload returns the JSON text of value unchanged when encryption is
// off. Otherwise it returns base64(token), or base64(base64(token)) when
// double encoding is set.
func (s *PayloadService) EncryptPayload(value any) (string, error) {
	start := time.Now()

	plaintext, err := marshalJSON(value)
	if err != nil {
		s.metrics.Observe(telemetry.OpEncode, telemetry.OutcomeError, 0, time.Since(start))
		return "", &domain.EncodePayloadError{Err: err}
	}

	if !s.enabled {
		s.metrics.Observe(telemetry.OpEncode, telemetry.OutcomePassthrough, len(plaintext), time.Since(start))
		return string(plaintext), nil
	}

	token, err := s.codec.Encode(plaintext)
	if err != nil {
		s.metrics.Observe(telemetry.OpEncode, telemetry.OutcomeError, len(plaintext), time.Since(start))
		return "", &domain.EncodePayloadError{Err: err}
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(token))
	if s.doubleEncode {
		encoded = base64.StdEncoding.EncodeToString([]byte(encoded))
	}

	s.metrics.Observe(telemetry.OpEncode, telemetry.OutcomeOK, len(plaintext), time.Since(start))
	return encoded, nil
}

// DecryptPayload mirrors EncryptPayload. The returned JSON is always valid.
func (s *PayloadService) DecryptPayload(text string) (json.RawMessage, error) {
	start := time.Now()

	plaintext, err := s.open(text)
	if err != nil {
		s.metrics.Observe(telemetry.OpDecode, telemetry.OutcomeError, 0, time.Since(start))
		return nil, &domain.DecodePayloadError{Err: err}
	}

	if !json.Valid(plaintext) {
		s.metrics.Observe(telemetry.OpDecode, telemetry.OutcomeError, len(plaintext), time.Since(start))
		return nil, &domain.DecodePayloadError{Err: errors.New("payload is not valid JSON")}
	}

	outcome := telemetry.OutcomeOK
	if !s.enabled {
		outcome = telemetry.OutcomePassthrough
	}
	s.metrics.Observe(telemetry.OpDecode, outcome, len(plaintext), time.Since(start))
	return json.RawMessage(plaintext), nil
}

// DecryptInto decrypts text and unmarshals the result into out.
func (s *PayloadService) DecryptInto(text string, out any) error {
	raw, err := s.DecryptPayload(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.DecodePayloadError{Err: err}
	}
	return nil
}

func (s *PayloadService) open(text string) ([]byte, error) {
	if !s.enabled {
		return []byte(text), nil
	}

	layer, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("outer base64: %w", err)
	}
	if s.doubleEncode {
		layer, err = base64.StdEncoding.DecodeString(string(layer))
		if err != nil {
			return nil, fmt.Errorf("inner base64: %w", err)
		}
	}

	return s.codec.Decode(string(layer))
}

// marshalJSON encodes like JSON.stringify: no HTML escaping, no trailing newline.
func marshalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
