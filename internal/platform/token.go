package platform

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MaxTokenLength caps incoming token strings before they are hashed, so
// oversized query values are rejected cheaply.
const MaxTokenLength = 128

// TokenPrefixLength is how many characters of a raw token are stored in clear
// for display ("pgd_" plus the first 8 hex characters).
const TokenPrefixLength = 12

// NewToken generates a random device access token. The raw value is shown to
// the administrator exactly once; only its hash is stored.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "pgd_" + hex.EncodeToString(raw), nil
}

// HashToken returns the hex-encoded SHA-256 digest of a raw token. Lookups
// compare digests only, never raw or partial token values.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenPrefix returns the display prefix of a raw token.
func TokenPrefix(raw string) string {
	if len(raw) < TokenPrefixLength {
		return raw
	}
	return raw[:TokenPrefixLength]
}
