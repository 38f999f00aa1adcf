package infra

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/eliteGoblin/accountd/internal/domain"
)

// SHA256PinHasher implements domain.PinHasher with a one-way SHA-256
// digest. The PIN is a friction mechanism, not a security boundary;
// the stored value is an opaque hex string.
type SHA256PinHasher struct{}

// NewPinHasher creates a PIN hasher.
func NewPinHasher() domain.PinHasher {
	return &SHA256PinHasher{}
}

// Hash returns the hex SHA-256 digest of the plaintext PIN.
func (h *SHA256PinHasher) Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Verify compares in constant time.
func (h *SHA256PinHasher) Verify(storedHash, plaintext string) bool {
	computed := h.Hash(plaintext)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(computed)) == 1
}

// Ensure SHA256PinHasher implements domain.PinHasher.
var _ domain.PinHasher = (*SHA256PinHasher)(nil)
