package checkpoint

import "errors"

// Common errors.
var (
	ErrTensorNotFound     = errors.New("tensor not found")
	ErrUnsupportedFormat  = errors.New("unsupported checkpoint format")
	ErrUnsupportedDType   = errors.New("unsupported tensor dtype")
	ErrInvalidSafeTensors = errors.New("invalid safetensors file")
	ErrClosed             = errors.New("checkpoint reader is closed")

	errMmapUnsupported = errors.New("mmap not supported on this platform")
)
