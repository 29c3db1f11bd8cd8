// Package uuid generates worker holder identities. V7 IDs sort by creation
// time, which makes lease rows easy to correlate with logs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID v7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewHolderID returns a prefixed holder identity for lease rows.
func (g Generator) NewHolderID(prefix string) (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return id, nil
	}
	return prefix + "-" + id, nil
}
