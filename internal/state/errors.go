package state

import (
	"errors"
	"fmt"

	"github.com/born-ml/frstate/internal/tensor"
)

// Common errors, matched with errors.Is.
var (
	ErrMissingKey = errors.New("missing checkpoint key")
	ErrShape      = errors.New("unexpected tensor shape")
)

// MissingKeyError reports a required time_state key absent from the checkpoint.
type MissingKeyError struct {
	Key   string // Checkpoint key that was looked up
	Layer int    // Layer index the key belongs to
}

// Error implements the error interface.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing key %q for layer %d", e.Key, e.Layer)
}

// Is makes errors.Is(err, ErrMissingKey) match.
func (e *MissingKeyError) Is(target error) bool {
	return target == ErrMissingKey
}

// ShapeError reports a time_state tensor whose rank or dimensions cannot be
// turned into a layer state.
type ShapeError struct {
	Key     string       // Checkpoint key of the offending tensor
	Layer   int          // Layer index
	Shape   tensor.Shape // Shape found
	Details string       // What was expected
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	return fmt.Sprintf("layer %d: tensor %q has shape %s: %s", e.Layer, e.Key, e.Shape, e.Details)
}

// Is makes errors.Is(err, ErrShape) match.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}
