// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings, optionally prefixed.
type Generator struct {
	Prefix string
}

// New creates a Generator.
func New(prefix string) Generator {
	return Generator{Prefix: prefix}
}

// NewID implements crawler.IDGenerator.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.Prefix + id.String(), nil
}
