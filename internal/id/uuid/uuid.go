// Package uuid generates run IDs. Artifacts live under runs/<id>/ and run rows
// are keyed by it, so IDs sort by start time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator satisfies sampler.IDGenerator with UUID v7 values.
type Generator struct{}

// New returns a run ID generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered run ID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
