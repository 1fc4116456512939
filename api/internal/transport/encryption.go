package transport

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/telemetry"
)

// Encryption seals outgoing bodies and query sets and opens sealed
// response envelopes. It is stateless apart from its read-only settings.
type Encryption struct {
	codec    domain.PayloadCodec
	failOpen bool
	logger   *slog.Logger
	metrics  *telemetry.Recorder
}

type EncryptionOptions struct {
	// FailOpen returns the still-encoded response when decoding fails
	// instead of rejecting the call.
	FailOpen bool
	Logger   *slog.Logger
	Metrics  *telemetry.Recorder
}

func NewEncryption(codec domain.PayloadCodec, opts EncryptionOptions) *Encryption {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Encryption{
		codec:    codec,
		failOpen: opts.FailOpen,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// TransformRequest places the sealed payload in the body for
// POST/PUT/PATCH, or appends it as the raw query string otherwise.
func (e *Encryption) TransformRequest(_ context.Context, req *Request) error {
	if !e.codec.Enabled() {
		return nil
	}

	if req.Form != nil {
		if isBareMultipart(req.Header.Get("Content-Type")) {
			req.Header.Del("Content-Type")
		}
		return nil
	}

	if carriesBody(req.Method) && req.Body != nil {
		encoded, err := e.codec.EncryptPayload(req.Body)
		if err != nil {
			e.logger.Error("Request encryption error", slog.String("method", req.Method), slog.Any("error", err))
			return err
		}
		req.Body = encoded
		req.Header.Set("Content-Type", "application/json")
		return nil
	}

	// An empty but non-nil set still seals "{}" onto the URL.
	if req.Params != nil {
		encoded, err := e.codec.EncryptPayload(req.Params)
		if err != nil {
			e.logger.Error("Request encryption error", slog.String("method", req.Method), slog.Any("error", err))
			return err
		}
		req.Params = nil
		req.URL = req.URL + "?" + encoded
		req.Header.Set("Content-Type", "application/json")
	}
	return nil
}

// TransformResponse replaces the body with the decoded envelope data when
// the response is judged to be encoded.
func (e *Encryption) TransformResponse(_ context.Context, resp *Response) error {
	if !e.codec.Enabled() {
		return nil
	}

	env, err := parseEnvelope(resp.Body)
	if err != nil || len(env.Data) == 0 {
		return nil
	}

	data, isString := env.DataString()
	marked := strings.EqualFold(resp.Header.Get(domain.PayloadEncodingHeader), domain.PayloadEncodingFernet)

	if !marked && !isJSONMedia(resp.Header.Get("Content-Type")) && !isString {
		return nil
	}
	if !isString {
		if marked {
			return e.fail(resp, &domain.DecodePayloadError{Err: errors.New("marked response carries no encoded data")})
		}
		// JSON envelope whose data is already a native value.
		return nil
	}
	if data == "" {
		return nil
	}

	decoded, err := e.codec.DecryptPayload(data)
	if err != nil {
		return e.fail(resp, err)
	}

	resp.Body = decoded
	resp.Decoded = true
	return nil
}

func (e *Encryption) fail(resp *Response, err error) error {
	attrs := []any{slog.Int("status", resp.StatusCode), slog.Any("error", err)}
	if resp.Request != nil {
		attrs = append(attrs, slog.String("method", resp.Request.Method))
	}

	if e.failOpen {
		e.logger.Warn("Response decryption error, passing encoded response through", attrs...)
		e.metrics.FailOpen()
		return nil
	}
	e.logger.Error("Response decryption error", attrs...)
	return err
}

func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func isBareMultipart(contentType string) bool {
	mediaType, params, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "multipart/form-data" && params["boundary"] == ""
}

func isJSONMedia(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
