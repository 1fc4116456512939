package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrSignatureMismatch is returned when a MAC does not verify.
var ErrSignatureMismatch = errors.New("signature mismatch")

// SignHMAC returns HMAC-SHA256 of message under key.
func SignHMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMAC recomputes the HMAC of message and compares it against the
// provided MAC in constant time.
func VerifyHMAC(key, message, providedMAC []byte) error {
	if len(providedMAC) != sha256.Size {
		return ErrSignatureMismatch
	}

	expectedMAC := SignHMAC(key, message)
	if subtle.ConstantTimeCompare(expectedMAC, providedMAC) != 1 {
		return ErrSignatureMismatch
	}

	return nil
}
