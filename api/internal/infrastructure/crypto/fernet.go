package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/irgordon/sealedapi/api/internal/core/domain"
	"github.com/irgordon/sealedapi/api/internal/core/utils"
)

const (
	// Version is the leading byte of every token.
	Version byte = 0x80

	timestampSize = 8
	ivSize        = aes.BlockSize
	tagSize       = sha256.Size
	headerSize    = 1 + timestampSize + ivSize
	minTokenSize  = headerSize + aes.BlockSize + tagSize

	maxClockSkew = 60 * time.Second
)

// Token is the parsed layout of a sealed token:
// version | timestamp (uint64 BE seconds) | iv | ciphertext | tag.
type Token struct {
	Version    byte
	Timestamp  time.Time
	IV         []byte
	Ciphertext []byte
	Tag        []byte
}

// ParseToken splits the token text into its fields. It does NOT verify the
// tag; use FernetCodec.Decode for anything that trusts the contents.
func ParseToken(text string) (*Token, error) {
	raw, err := decodeTokenText(text)
	if err != nil {
		return nil, err
	}
	return splitToken(raw)
}

func decodeTokenText(text string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(text)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed encoding", domain.ErrInvalidToken)
		}
	}
	return raw, nil
}

func splitToken(raw []byte) (*Token, error) {
	if len(raw) < minTokenSize || (len(raw)-headerSize-tagSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad length %d", domain.ErrInvalidToken, len(raw))
	}
	if raw[0] != Version {
		return nil, fmt.Errorf("%w: unsupported version 0x%02x", domain.ErrInvalidToken, raw[0])
	}

	bodyEnd := len(raw) - tagSize
	return &Token{
		Version:    raw[0],
		Timestamp:  time.Unix(int64(binary.BigEndian.Uint64(raw[1:1+timestampSize])), 0),
		IV:         raw[1+timestampSize : headerSize],
		Ciphertext: raw[headerSize:bodyEnd],
		Tag:        raw[bodyEnd:],
	}, nil
}

// FernetCodec implements domain.TokenCodec with AES-128-CBC and
// HMAC-SHA256 (encrypt-then-MAC).
type FernetCodec struct {
	secret *Secret
	now    func() time.Time
	random io.Reader
	maxAge time.Duration
}

// Option customizes a FernetCodec.
type Option func(*FernetCodec)

// WithClock replaces the time source used for token timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(c *FernetCodec) { c.now = now }
}

// WithRand replaces the IV entropy source.
func WithRand(r io.Reader) Option {
	return func(c *FernetCodec) { c.random = r }
}

// WithMaxAge rejects tokens older than maxAge. Zero disables the check.
func WithMaxAge(maxAge time.Duration) Option {
	return func(c *FernetCodec) { c.maxAge = maxAge }
}

func NewFernetCodec(secret *Secret, opts ...Option) (*FernetCodec, error) {
	if secret == nil {
		return nil, errors.New("crypto: secret is required")
	}

	c := &FernetCodec{
		secret: secret,
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *FernetCodec) Encode(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return "", fmt.Errorf("crypto: iv generation failure: %w", err)
	}

	block, err := aes.NewCipher(c.secret.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("crypto: block cipher failure: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)

	// Capacity = header + ciphertext + tag
	token := make([]byte, headerSize+len(padded), headerSize+len(padded)+tagSize)
	token[0] = Version
	binary.BigEndian.PutUint64(token[1:1+timestampSize], uint64(c.now().Unix()))
	copy(token[1+timestampSize:headerSize], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(token[headerSize:], padded)

	token = append(token, utils.SignHMAC(c.secret.signingKey, token)...)
	return base64.URLEncoding.EncodeToString(token), nil
}

func (c *FernetCodec) Decode(text string) ([]byte, error) {
	raw, err := decodeTokenText(text)
	if err != nil {
		return nil, err
	}

	token, err := splitToken(raw)
	if err != nil {
		return nil, err
	}

	// The tag covers everything before it; nothing is decrypted until it verifies.
	if err := utils.VerifyHMAC(c.secret.signingKey, raw[:len(raw)-tagSize], token.Tag); err != nil {
		return nil, fmt.Errorf("%w: integrity violation", domain.ErrInvalidToken)
	}

	if c.maxAge > 0 {
		now := c.now()
		if token.Timestamp.After(now.Add(maxClockSkew)) {
			return nil, fmt.Errorf("%w: timestamp is in the future", domain.ErrInvalidToken)
		}
		if now.Sub(token.Timestamp) > c.maxAge {
			return nil, fmt.Errorf("%w: token expired", domain.ErrInvalidToken)
		}
	}

	block, err := aes.NewCipher(c.secret.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: block cipher failure: %w", err)
	}

	plaintext := make([]byte, len(token.Ciphertext))
	cipher.NewCBCDecrypter(block, token.IV).CryptBlocks(plaintext, token.Ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("bad padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
