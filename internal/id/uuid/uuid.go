// Package uuid provides run identifiers and the rotating client identity value.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID-based identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUIDv7 string used to tag scheduler runs.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewIdentity returns 128 random bits as 32 lowercase hex characters, the
// format the remote expects in the identity-id header.
func (Generator) NewIdentity() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate identity: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
