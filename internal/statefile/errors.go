package statefile

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrUnsupportedType = errors.New("unsupported value type")
	ErrIO              = errors.New("state file I/O failed")
	ErrInvalidFile     = errors.New("invalid state file")
)

// UnsupportedTypeError reports a leaf the encoder cannot represent.
type UnsupportedTypeError struct {
	Type    string // Go type or dtype that was rejected
	Details string
}

// Error implements the error interface.
func (e *UnsupportedTypeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("unsupported type %s: %s", e.Type, e.Details)
	}
	return fmt.Sprintf("unsupported type %s", e.Type)
}

// Is makes errors.Is(err, ErrUnsupportedType) match.
func (e *UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// IOError wraps a failure to read or write a state file.
type IOError struct {
	Op   string // "create", "write", "sync", "rename", ...
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrIO) match.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// ValidationError provides detailed information about a malformed state file.
type ValidationError struct {
	Type    string // Kind of failure (e.g. "layer_arity", "payload_size")
	Layer   int    // Layer index, -1 if not layer specific
	Record  int    // Record index within the layer, -1 if not record specific
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Layer >= 0 && e.Record >= 0:
		return fmt.Sprintf("%s: layer %d record %d: %s", e.Type, e.Layer, e.Record, e.Details)
	case e.Layer >= 0:
		return fmt.Sprintf("%s: layer %d: %s", e.Type, e.Layer, e.Details)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Details)
	}
}

// Is makes errors.Is(err, ErrInvalidFile) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidFile
}
