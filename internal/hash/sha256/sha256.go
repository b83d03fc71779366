// Package sha256 computes failure signatures for the warning pool.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements pool.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Signature(string(data)), nil
}

// Signature is the hex SHA-256 digest of a traceback.
func Signature(trace string) string {
	sum := sha256.Sum256([]byte(trace))
	return hex.EncodeToString(sum[:])
}
