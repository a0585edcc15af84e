package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RawTensor is an immutable tensor value.
//
// The element buffer may be shared between tensors: Transpose and NewStrided
// produce views that reinterpret an existing buffer through different strides.
// Nothing writes to a buffer once a RawTensor owns it.
type RawTensor struct {
	data   []byte   // Little-endian elements, possibly shared
	shape  Shape    // Tensor dimensions
	stride []int    // Strides in elements
	offset int      // Offset of element [0, 0, ...] in elements
	dtype  DataType // Runtime type information
}

// NewRaw creates a new contiguous RawTensor filled with zeros.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if !dtype.Valid() {
		return nil, fmt.Errorf("invalid dtype: %d", dtype)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// Zeros returns a float32 vector of n zeros.
func Zeros(n int) (*RawTensor, error) {
	return NewRaw(Shape{n}, Float32)
}

// FromBytes wraps little-endian element bytes in a contiguous tensor.
// The tensor takes ownership of data; callers must not modify it afterwards.
func FromBytes(shape Shape, dtype DataType, data []byte) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if !dtype.Valid() {
		return nil, fmt.Errorf("invalid dtype: %d", dtype)
	}
	if want := shape.NumElements() * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("data length %d does not match shape %s of %s (want %d bytes)",
			len(data), shape, dtype, want)
	}

	return &RawTensor{
		data:   data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}, nil
}

// FromFloat32 builds a contiguous float32 tensor from values in row-major order.
func FromFloat32(shape Shape, values []float32) (*RawTensor, error) {
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("got %d values for shape %s", len(values), shape)
	}
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return FromBytes(shape, Float32, data)
}

// NewStrided creates a view over data with explicit strides and offset
// (both in elements). Every addressable element must lie inside data.
func NewStrided(shape Shape, strides []int, offset int, dtype DataType, data []byte) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if !dtype.Valid() {
		return nil, fmt.Errorf("invalid dtype: %d", dtype)
	}
	if len(strides) != len(shape) {
		return nil, fmt.Errorf("strides %v do not match rank %d", strides, len(shape))
	}
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}

	last := offset
	for i, st := range strides {
		if st < 0 {
			return nil, fmt.Errorf("negative stride %d at axis %d", st, i)
		}
		last += (shape[i] - 1) * st
	}
	if capacity := len(data) / dtype.Size(); last >= capacity {
		return nil, fmt.Errorf("view addresses element %d beyond buffer of %d elements", last, capacity)
	}

	return &RawTensor{
		data:   data,
		shape:  shape.Clone(),
		stride: append([]int(nil), strides...),
		offset: offset,
		dtype:  dtype,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape.Clone()
}

// Strides returns the tensor's strides in elements.
func (r *RawTensor) Strides() []int {
	return append([]int(nil), r.stride...)
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Rank returns the number of axes.
func (r *RawTensor) Rank() int {
	return len(r.shape)
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size of the logical payload in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the logical row-major order matches the
// physical buffer order. Axes of size 1 are ignored.
func (r *RawTensor) IsContiguous() bool {
	want := 1
	for i := len(r.shape) - 1; i >= 0; i-- {
		if r.shape[i] == 1 {
			continue
		}
		if r.stride[i] != want {
			return false
		}
		want *= r.shape[i]
	}
	return true
}

// Bytes returns a copy of the payload in logical row-major order.
func (r *RawTensor) Bytes() []byte {
	size := r.dtype.Size()
	out := make([]byte, r.ByteSize())
	if r.IsContiguous() {
		copy(out, r.data[r.offset*size:])
		return out
	}

	pos := 0
	r.forEach(func(idx int) {
		copy(out[pos:pos+size], r.data[idx*size:])
		pos += size
	})
	return out
}

// Contiguous returns a tensor with the same logical content laid out
// row-major. A contiguous tensor is returned unchanged.
func (r *RawTensor) Contiguous() *RawTensor {
	if r.IsContiguous() && r.offset == 0 && len(r.data) == r.ByteSize() {
		return r
	}
	return &RawTensor{
		data:   r.Bytes(),
		shape:  r.shape.Clone(),
		stride: r.shape.ComputeStrides(),
		dtype:  r.dtype,
	}
}

// AsFloat32 decodes the elements in logical order.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	out := make([]float32, 0, r.NumElements())
	r.forEach(func(idx int) {
		out = append(out, r.loadFloat32(idx))
	})
	return out
}

// At returns the element at the given logical index converted to float32.
// Panics if the index is out of range.
func (r *RawTensor) At(index ...int) float32 {
	if len(index) != len(r.shape) {
		panic(fmt.Sprintf("at: got %d indices for rank %d", len(index), len(r.shape)))
	}
	pos := r.offset
	for i, v := range index {
		if v < 0 || v >= r.shape[i] {
			panic(fmt.Sprintf("at: index %d out of range for axis %d of size %d", v, i, r.shape[i]))
		}
		pos += v * r.stride[i]
	}
	return r.loadFloat32(pos)
}

// forEach visits the buffer index of every element in logical row-major order.
func (r *RawTensor) forEach(fn func(idx int)) {
	n := r.NumElements()
	if len(r.shape) == 0 {
		fn(r.offset)
		return
	}

	counter := make([]int, len(r.shape))
	pos := r.offset
	for range n {
		fn(pos)
		// Odometer increment, last axis fastest.
		for axis := len(r.shape) - 1; axis >= 0; axis-- {
			counter[axis]++
			pos += r.stride[axis]
			if counter[axis] < r.shape[axis] {
				break
			}
			pos -= counter[axis] * r.stride[axis]
			counter[axis] = 0
		}
	}
}

// loadFloat32 reads the element at buffer index idx and converts it to float32.
func (r *RawTensor) loadFloat32(idx int) float32 {
	b := r.data[idx*r.dtype.Size():]
	switch r.dtype {
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case Float64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case Float16:
		return Float16ToFloat32(binary.LittleEndian.Uint16(b))
	case BFloat16:
		return BFloat16ToFloat32(binary.LittleEndian.Uint16(b))
	case Int32:
		//nolint:gosec // G115: reinterpreting two's complement bits.
		return float32(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		//nolint:gosec // G115: reinterpreting two's complement bits.
		return float32(int64(binary.LittleEndian.Uint64(b)))
	case Int8:
		return float32(int8(b[0]))
	case Uint8:
		return float32(b[0])
	case Bool:
		if b[0] != 0 {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("unsupported dtype %s", r.dtype))
	}
}
