package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/tensor"
)

// Format represents the checkpoint file format.
type Format int

// Supported checkpoint formats.
const (
	FormatUnknown Format = iota
	FormatSafeTensors
	FormatPyTorch
	FormatMemory
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSafeTensors:
		return "SafeTensors"
	case FormatPyTorch:
		return "PyTorch"
	case FormatMemory:
		return "Memory"
	default:
		return "Unknown"
	}
}

// Reader provides a unified interface over checkpoint formats.
type Reader interface {
	// Close releases the underlying file.
	Close() error

	// Format returns the checkpoint format.
	Format() Format

	// TensorNames returns all tensor names, sorted.
	TensorNames() []string

	// Tensor loads a tensor by name.
	Tensor(name string) (*tensor.RawTensor, error)
}

var (
	_ Reader       = Map(nil)
	_ Reader       = (*SafeTensorsReader)(nil)
	_ Reader       = (*PyTorchReader)(nil)
	_ state.Source = Reader(nil)
)

// Map is an in-memory checkpoint.
type Map map[string]*tensor.RawTensor

// Close is a no-op.
func (m Map) Close() error { return nil }

// Format returns FormatMemory.
func (m Map) Format() Format { return FormatMemory }

// TensorNames returns all keys, sorted.
func (m Map) TensorNames() []string {
	return sortedKeys(map[string]*tensor.RawTensor(m))
}

// Tensor returns the tensor stored under name.
func (m Map) Tensor(name string) (*tensor.RawTensor, error) {
	raw, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return raw, nil
}

// Open opens a checkpoint and detects its format, first from the file
// extension and then from the leading bytes.
func Open(path string) (Reader, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatSafeTensors:
		return NewSafeTensorsMmapReader(path)
	case FormatPyTorch:
		return NewPyTorchReader(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// DetectFormat guesses the checkpoint format of path.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return FormatSafeTensors, nil
	case ".pt", ".pth", ".ckpt":
		return FormatPyTorch, nil
	}

	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	head := make([]byte, 9)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	return sniffFormat(head[:n]), nil
}

// sniffFormat recognises zip archives and raw pickles (torch.save) and the
// size-prefixed JSON header of SafeTensors.
func sniffFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return FormatPyTorch
	case len(head) > 0 && head[0] == 0x80: // pickle PROTO opcode
		return FormatPyTorch
	case len(head) == 9 && head[8] == '{' && binary.LittleEndian.Uint64(head) <= MaxHeaderSize:
		return FormatSafeTensors
	default:
		return FormatUnknown
	}
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
