// Package uuid generates task identifiers.
package uuid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ShortIDLen is the number of hex characters in a short task id.
const ShortIDLen = 12

// Generator creates task and record identifiers.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewShortID returns the first ShortIDLen hex characters of a random UUIDv4.
// Collisions only matter within one instance's running pool.
func (Generator) NewShortID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:ShortIDLen]
}
