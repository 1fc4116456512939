package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretSize = 32
	keySize    = 16

	// MinDeriveIterations is the lowest PBKDF2 work factor DeriveSecret accepts.
	MinDeriveIterations = 100_000
)

// Secret is the shared symmetric key material. The first half signs, the
// second half encrypts.
type Secret struct {
	signingKey    []byte
	encryptionKey []byte
}

// ParseSecret decodes a URL-safe base64 secret of exactly 32 bytes.
func ParseSecret(encoded string) (*Secret, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("crypto: secret is empty")
	}

	key, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid secret encoding: %w", err)
		}
	}

	if len(key) != secretSize {
		return nil, fmt.Errorf("crypto: secret must be %d bytes, got %d", secretSize, len(key))
	}

	return &Secret{
		signingKey:    append([]byte(nil), key[:keySize]...),
		encryptionKey: append([]byte(nil), key[keySize:]...),
	}, nil
}

// GenerateSecret returns a new random secret in its URL-safe base64 form.
func GenerateSecret() (string, error) {
	key := make([]byte, secretSize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("crypto: key generation failure: %w", err)
	}
	return base64.URLEncoding.EncodeToString(key), nil
}

// DeriveSecret stretches a passphrase into a secret with PBKDF2-SHA256.
// Both ends must use the same salt and iteration count.
func DeriveSecret(passphrase, salt []byte, iterations int) (string, error) {
	if len(passphrase) == 0 {
		return "", errors.New("crypto: passphrase is empty")
	}
	if len(salt) < 8 {
		return "", errors.New("crypto: salt must be at least 8 bytes")
	}
	if iterations < MinDeriveIterations {
		return "", fmt.Errorf("crypto: iterations must be at least %d", MinDeriveIterations)
	}

	key := pbkdf2.Key(passphrase, salt, iterations, secretSize, sha256.New)
	return base64.URLEncoding.EncodeToString(key), nil
}

// String never prints key material.
func (s *Secret) String() string { return "[REDACTED]" }

// LogValue keeps the secret out of structured logs.
func (s *Secret) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }
