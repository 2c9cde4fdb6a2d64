// Package keys generates the short random identifiers handed out for
// uploads.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// ByteLen is the number of random bytes behind each key; keys are twice as
// long once hex encoded.
const ByteLen = 6

// Len is the length of a generated key.
const Len = ByteLen * 2

// New returns a fresh key drawn from crypto/rand.
func New() (string, error) {
	return NewFrom(rand.Reader)
}

// NewFrom returns a key built from the next ByteLen bytes of r.
func NewFrom(r io.Reader) (string, error) {
	b := make([]byte, ByteLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("keys: read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether s looks like a generated key: Len lowercase hex
// characters.
func Valid(s string) bool {
	if len(s) != Len {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
