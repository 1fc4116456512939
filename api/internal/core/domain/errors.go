package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned by the token layer when a token fails
	// verification or cannot be parsed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSecureChannel matches every encode/decode failure so the
	// application layer can tell them apart from network or validation
	// errors.
	ErrSecureChannel = errors.New("secure channel error")
)

// ConfigError reports a missing or malformed setting detected at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// EncodePayloadError wraps a serialization or sealing failure. A request
// that produced one is never sent.
type EncodePayloadError struct {
	Err error
}

func (e *EncodePayloadError) Error() string {
	return fmt.Sprintf("failed to encrypt payload: %v", e.Err)
}

func (e *EncodePayloadError) Unwrap() error { return e.Err }

func (e *EncodePayloadError) Is(target error) bool { return target == ErrSecureChannel }

// DecodePayloadError wraps a base64, integrity or JSON failure on the way in.
type DecodePayloadError struct {
	Err error
}

func (e *DecodePayloadError) Error() string {
	return fmt.Sprintf("failed to decrypt payload: %v", e.Err)
}

func (e *DecodePayloadError) Unwrap() error { return e.Err }

func (e *DecodePayloadError) Is(target error) bool { return target == ErrSecureChannel }

// IsSecureChannelError reports whether err came from the payload codec.
func IsSecureChannelError(err error) bool {
	return errors.Is(err, ErrSecureChannel)
}
