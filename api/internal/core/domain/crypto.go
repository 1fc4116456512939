package domain

import "encoding/json"

// TokenCodec is the contract for the authenticated-encryption token layer.
// Implementations are bound to a single shared secret at construction time.
type TokenCodec interface {
	// Encode seals plaintext into a fresh token. Two calls with the same
	// plaintext never produce the same token (fresh IV and timestamp).
	Encode(plaintext []byte) (string, error)

	// Decode verifies the token's integrity tag before decrypting. Any
	// failure (wrong secret, truncation, tampering) wraps ErrInvalidToken.
	Decode(token string) ([]byte, error)
}

// PayloadCodec converts application values to and from the string that
// travels on the wire.
type PayloadCodec interface {
	// EncryptPayload serializes value to JSON and, when encryption is on,
	// seals it and applies the outer base64 layer(s).
	EncryptPayload(value any) (string, error)

	// DecryptPayload reverses EncryptPayload and returns the validated JSON.
	DecryptPayload(text string) (json.RawMessage, error)

	// Enabled reports whether payloads are sealed or passed through as JSON.
	Enabled() bool
}
