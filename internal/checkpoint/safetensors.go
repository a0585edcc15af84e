package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/frstate/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// MaxHeaderSize bounds the JSON header of a SafeTensors file.
const MaxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsI8   SafeTensorsDType = "I8"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
	SafeTensorsBool SafeTensorsDType = "BOOL"
)

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end) relative to the data section
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON implements custom JSON unmarshaling for SafeTensorsHeader.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	// Everything except __metadata__ is a tensor.
	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// SafeTensorsReader reads SafeTensors format files.
type SafeTensorsReader struct {
	file       *os.File
	data       io.ReaderAt // file or its memory-mapped region
	mapped     []byte      // nil unless the file is memory-mapped
	header     SafeTensorsHeader
	dataOffset int64 // Offset where tensor data starts
	dataSize   int64 // Size of the data section
}

// NewSafeTensorsReader opens path and validates its header. Tensor data is
// read with ReadAt.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	return openSafeTensors(path, false)
}

// NewSafeTensorsMmapReader opens path like NewSafeTensorsReader but maps the
// file into memory, so tensors are served from the OS page cache. Platforms
// without mmap support fall back to ReadAt.
func NewSafeTensorsMmapReader(path string) (*SafeTensorsReader, error) {
	return openSafeTensors(path, true)
}

func openSafeTensors(path string, useMmap bool) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	reader := &SafeTensorsReader{file: file, data: file}
	if useMmap && size > 0 {
		mapped, err := mmapFile(file, size)
		switch {
		case err == nil:
			reader.mapped = mapped
			reader.data = bytes.NewReader(mapped)
		case !errors.Is(err, errMmapUnsupported):
			_ = file.Close()
			return nil, fmt.Errorf("mmap failed: %w", err)
		}
	}

	if err := reader.readHeader(size); err != nil {
		_ = reader.Close() // Best effort close on error
		return nil, err
	}
	return reader, nil
}

// readHeader parses and validates the header of a file of the given size.
func (r *SafeTensorsReader) readHeader(size int64) error {
	var prefix [8]byte
	if _, err := r.data.ReadAt(prefix[:], 0); err != nil {
		return fmt.Errorf("%w: failed to read header size: %w", ErrInvalidSafeTensors, err)
	}
	headerSize := binary.LittleEndian.Uint64(prefix[:])
	//nolint:gosec // G115: file size is non-negative
	if headerSize > MaxHeaderSize || headerSize+8 > uint64(size) {
		return fmt.Errorf("%w: header size %d out of range", ErrInvalidSafeTensors, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := r.data.ReadAt(headerBytes, 8); err != nil {
		return fmt.Errorf("%w: failed to read header: %w", ErrInvalidSafeTensors, err)
	}

	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("%w: failed to parse header JSON: %w", ErrInvalidSafeTensors, err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	r.dataOffset = int64(8 + headerSize)
	r.dataSize = size - r.dataOffset

	for name, info := range r.header.Tensors {
		if err := r.validate(name, info); err != nil {
			return err
		}
	}
	return nil
}

// validate checks that a tensor's byte range lies in the data section and
// matches its shape and dtype.
func (r *SafeTensorsReader) validate(name string, info SafeTensorInfo) error {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > r.dataSize {
		return fmt.Errorf("%w: tensor %s has data offsets [%d, %d] outside data section of %d bytes",
			ErrInvalidSafeTensors, name, start, end, r.dataSize)
	}

	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		// Unknown dtypes are only an error once the tensor is loaded.
		return nil
	}
	shape := tensor.Shape(info.Shape)
	if want := int64(shape.NumElements() * dtype.Size()); end-start != want {
		return fmt.Errorf("%w: tensor %s spans %d bytes, shape %s of %s needs %d",
			ErrInvalidSafeTensors, name, end-start, shape, dtype, want)
	}
	return nil
}

// Close unmaps and closes the SafeTensors file.
func (r *SafeTensorsReader) Close() error {
	var err error
	if r.mapped != nil {
		err = munmapFile(r.mapped)
		r.mapped = nil
	}
	r.data = nil
	if r.file != nil {
		if closeErr := r.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.file = nil
	}
	return err
}

// Mapped reports whether tensor data is served from a memory mapping.
func (r *SafeTensorsReader) Mapped() bool {
	return r.mapped != nil
}

// Format returns FormatSafeTensors.
func (r *SafeTensorsReader) Format() Format {
	return FormatSafeTensors
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the names of all tensors in the file, sorted.
func (r *SafeTensorsReader) TensorNames() []string {
	return sortedKeys(r.header.Tensors)
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return &info, nil
}

// ReadTensorData reads raw tensor data for a given tensor name.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	if r.data == nil {
		return nil, ErrClosed
	}

	// Always a copy, so tensors outlive the mapping.
	data := make([]byte, info.DataOffsets[1]-info.DataOffsets[0])
	if len(data) == 0 {
		return data, nil
	}
	if _, err := r.data.ReadAt(data, r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	return data, nil
}

// Tensor loads a tensor. SafeTensors data is little-endian and row-major, so
// the bytes are used as they are.
func (r *SafeTensorsReader) Tensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	raw, err := tensor.FromBytes(tensor.Shape(info.Shape), dtype, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
	}
	return raw, nil
}

// safeTensorsDTypeToDataType converts a SafeTensors dtype to a tensor.DataType.
func safeTensorsDTypeToDataType(dtype SafeTensorsDType) (tensor.DataType, error) {
	switch dtype {
	case SafeTensorsF16:
		return tensor.Float16, nil
	case SafeTensorsBF16:
		return tensor.BFloat16, nil
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsI8:
		return tensor.Int8, nil
	case SafeTensorsI32:
		return tensor.Int32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	case SafeTensorsBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
}
