package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/born-ml/frstate/internal/tensor"
)

// PyTorchReader reads checkpoints written by torch.save.
//
// The whole pickle is decoded on open; map_location is always the CPU since
// storages are materialized as Go slices.
type PyTorchReader struct {
	tensors map[string]*tensor.RawTensor
	errs    map[string]error // Tensors whose storage has no DataType
	entries int              // Raw entry count of the dict holding the tensors
}

// NewPyTorchReader loads path with gopickle and collects its tensors.
func NewPyTorchReader(path string) (*PyTorchReader, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load pytorch checkpoint: %w", err)
	}

	return collectPyTorchTensors(obj)
}

// Close is a no-op; the file is closed once loading finishes.
func (r *PyTorchReader) Close() error {
	return nil
}

// Format returns FormatPyTorch.
func (r *PyTorchReader) Format() Format {
	return FormatPyTorch
}

// TensorNames returns all tensor names, sorted, including tensors whose
// storage type cannot be read.
func (r *PyTorchReader) TensorNames() []string {
	names := sortedKeys(r.tensors)
	if len(r.errs) == 0 {
		return names
	}
	names = append(names, sortedKeys(r.errs)...)
	sort.Strings(names)
	return names
}

// EntryCount returns the number of entries in the checkpoint dict,
// non-tensor values included.
func (r *PyTorchReader) EntryCount() int {
	return r.entries
}

// Tensor returns the tensor stored under name.
func (r *PyTorchReader) Tensor(name string) (*tensor.RawTensor, error) {
	if err, ok := r.errs[name]; ok {
		return nil, err
	}
	raw, ok := r.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return raw, nil
}

// collectPyTorchTensors walks the unpickled top-level object. A plain state
// dict maps names to tensors; training checkpoints that wrap it under
// "state_dict" are unwrapped. Non-tensor entries are skipped, and tensors
// with an unreadable storage fail only when they are loaded.
func collectPyTorchTensors(obj any) (*PyTorchReader, error) {
	entries, count, err := dictEntries(obj)
	if err != nil {
		return nil, err
	}

	if nested, ok := entries["state_dict"]; ok {
		if _, isTensor := nested.(*pytorch.Tensor); !isTensor {
			return collectPyTorchTensors(nested)
		}
	}

	r := &PyTorchReader{
		tensors: make(map[string]*tensor.RawTensor, len(entries)),
		errs:    make(map[string]error),
		entries: count,
	}
	for name, value := range entries {
		pt, ok := value.(*pytorch.Tensor)
		if !ok {
			continue
		}
		raw, err := fromPyTorchTensor(pt)
		if err != nil {
			r.errs[name] = fmt.Errorf("tensor %s: %w", name, err)
			continue
		}
		r.tensors[name] = raw
	}
	return r, nil
}

// dictEntries flattens the dict flavours gopickle produces into a Go map
// keyed by string. count is the dict's full length, non-string keys
// included.
func dictEntries(obj any) (entries map[string]any, count int, err error) {
	entries = make(map[string]any)
	switch d := obj.(type) {
	case *types.OrderedDict:
		for key, entry := range d.Map {
			if name, ok := key.(string); ok {
				entries[name] = entry.Value
			}
		}
		count = d.Len()
	case *types.Dict:
		for _, entry := range *d {
			if name, ok := entry.Key.(string); ok {
				entries[name] = entry.Value
			}
		}
		count = d.Len()
	default:
		return nil, 0, fmt.Errorf("%w: top-level object is %T, want a dict", ErrUnsupportedFormat, obj)
	}
	return entries, count, nil
}

// fromPyTorchTensor exposes a torch tensor as a strided view of its storage.
func fromPyTorchTensor(pt *pytorch.Tensor) (*tensor.RawTensor, error) {
	var (
		data  []byte
		dtype tensor.DataType
	)

	// gopickle widens half and bfloat16 storages to float32 while unpickling.
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		data, dtype = float32Bytes(s.Data), tensor.Float32
	case *pytorch.HalfStorage:
		data, dtype = float32Bytes(s.Data), tensor.Float32
	case *pytorch.BFloat16Storage:
		data, dtype = float32Bytes(s.Data), tensor.Float32
	case *pytorch.DoubleStorage:
		data, dtype = float64Bytes(s.Data), tensor.Float64
	case *pytorch.LongStorage:
		data, dtype = int64Bytes(s.Data), tensor.Int64
	case *pytorch.IntStorage:
		data, dtype = int32Bytes(s.Data), tensor.Int32
	case *pytorch.CharStorage:
		data, dtype = int8Bytes(s.Data), tensor.Int8
	case *pytorch.ByteStorage:
		data, dtype = s.Data, tensor.Uint8
	case *pytorch.BoolStorage:
		data, dtype = boolBytes(s.Data), tensor.Bool
	default:
		return nil, fmt.Errorf("%w: storage %T", ErrUnsupportedDType, pt.Source)
	}

	strides := pt.Stride
	if len(strides) == 0 && len(pt.Size) > 0 {
		strides = tensor.Shape(pt.Size).ComputeStrides()
	}
	return tensor.NewStrided(tensor.Shape(pt.Size), strides, pt.StorageOffset, dtype, data)
}

func float32Bytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func float64Bytes(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

func int64Bytes(values []int64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func int32Bytes(values []int32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func int8Bytes(values []int8) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(v)
	}
	return out
}

func boolBytes(values []bool) []byte {
	out := make([]byte, len(values))
	for i, v := range values {
		if v {
			out[i] = 1
		}
	}
	return out
}
