package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Transpose swaps two axes. The result is a view sharing r's buffer:
// no data is copied and the result is generally not contiguous.
//
// Example:
//
//	x, _ := tensor.NewRaw(tensor.Shape{4, 8, 16}, tensor.Float32)
//	y, _ := x.Transpose(1, 2) // Shape: [4, 16, 8]
func (r *RawTensor) Transpose(a, b int) (*RawTensor, error) {
	ndim := len(r.shape)
	if a < 0 || a >= ndim || b < 0 || b >= ndim {
		return nil, fmt.Errorf("transpose: axes (%d, %d) out of range for %dD tensor", a, b, ndim)
	}

	shape := r.shape.Clone()
	stride := append([]int(nil), r.stride...)
	shape[a], shape[b] = shape[b], shape[a]
	stride[a], stride[b] = stride[b], stride[a]

	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		offset: r.offset,
		dtype:  r.dtype,
	}, nil
}

// Cast converts the tensor to another data type.
//
// Casting to the tensor's own dtype returns r unchanged (strides included).
// Only Float32 is supported as a target; any source dtype can be cast to it.
// The result of a real conversion is contiguous.
func (r *RawTensor) Cast(dtype DataType) (*RawTensor, error) {
	if r.dtype == dtype {
		return r, nil
	}
	if dtype != Float32 {
		return nil, fmt.Errorf("cast: unsupported target dtype %s", dtype)
	}

	out := make([]byte, 0, r.NumElements()*4)
	r.forEach(func(idx int) {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(r.loadFloat32(idx)))
	})

	return &RawTensor{
		data:   out,
		shape:  r.shape.Clone(),
		stride: r.shape.ComputeStrides(),
		dtype:  Float32,
	}, nil
}
