package tensor

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// iota3 builds a [d0, d1, d2] float32 tensor with value = flat index.
func iota3(t *testing.T, d0, d1, d2 int) *RawTensor {
	t.Helper()
	values := make([]float32, d0*d1*d2)
	for i := range values {
		values[i] = float32(i)
	}
	raw, err := FromFloat32(Shape{d0, d1, d2}, values)
	require.NoError(t, err)
	return raw
}

func TestTransposeIsView(t *testing.T) {
	x := iota3(t, 2, 3, 4)

	y, err := x.Transpose(1, 2)
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 4, 3}, y.Shape())
	assert.Equal(t, []int{12, 1, 4}, y.Strides())
	assert.False(t, y.IsContiguous())
	assert.Equal(t, Shape{2, 3, 4}, x.Shape(), "source must not change")
}

func TestTransposeValues(t *testing.T) {
	x := iota3(t, 2, 3, 4)
	y, err := x.Transpose(1, 2)
	require.NoError(t, err)

	for h := range 2 {
		for a := range 3 {
			for b := range 4 {
				assert.Equal(t, x.At(h, a, b), y.At(h, b, a))
			}
		}
	}

	// Logical row-major bytes of the view.
	got := y.AsFloat32()
	want := []float32{
		0, 4, 8, 1, 5, 9, 2, 6, 10, 3, 7, 11,
		12, 16, 20, 13, 17, 21, 14, 18, 22, 15, 19, 23,
	}
	assert.Equal(t, want, got)
}

func TestTransposeTwiceRestoresLayout(t *testing.T) {
	x := iota3(t, 3, 2, 5)
	y, err := x.Transpose(1, 2)
	require.NoError(t, err)
	z, err := y.Transpose(1, 2)
	require.NoError(t, err)

	assert.True(t, z.IsContiguous())
	assert.Equal(t, x.Bytes(), z.Bytes())
}

func TestTransposeInvalidAxes(t *testing.T) {
	x := iota3(t, 2, 2, 2)
	_, err := x.Transpose(1, 3)
	require.Error(t, err)
	_, err = x.Transpose(-1, 0)
	require.Error(t, err)
}

func TestCastSameDTypeKeepsView(t *testing.T) {
	x := iota3(t, 2, 3, 4)
	y, err := x.Transpose(1, 2)
	require.NoError(t, err)

	z, err := y.Cast(Float32)
	require.NoError(t, err)
	assert.Same(t, y, z)
	assert.False(t, z.IsContiguous())
}

func TestCastToFloat32(t *testing.T) {
	tests := []struct {
		name  string
		dtype DataType
		put   func(b []byte, v float32)
	}{
		{"float64", Float64, func(b []byte, v float32) {
			binary.LittleEndian.PutUint64(b, math.Float64bits(float64(v)))
		}},
		{"bfloat16", BFloat16, func(b []byte, v float32) {
			binary.LittleEndian.PutUint16(b, Float32ToBFloat16(v))
		}},
		{"int32", Int32, func(b []byte, v float32) {
			binary.LittleEndian.PutUint32(b, uint32(int32(v)))
		}},
		{"int64", Int64, func(b []byte, v float32) {
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		}},
		{"int8", Int8, func(b []byte, v float32) {
			b[0] = byte(int8(v))
		}},
	}

	values := []float32{-3, -1, 0, 2, 5, 64}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.dtype.Size()
			data := make([]byte, len(values)*size)
			for i, v := range values {
				tt.put(data[i*size:], v)
			}
			raw, err := FromBytes(Shape{2, 3}, tt.dtype, data)
			require.NoError(t, err)

			out, err := raw.Cast(Float32)
			require.NoError(t, err)
			assert.Equal(t, Float32, out.DType())
			assert.Equal(t, Shape{2, 3}, out.Shape())
			assert.Equal(t, values, out.AsFloat32())
		})
	}
}

func TestCastFloat16StridedView(t *testing.T) {
	// 1.0, 2.0, 3.0, 4.0 in half precision.
	halves := []uint16{0x3C00, 0x4000, 0x4200, 0x4400}
	data := make([]byte, 8)
	for i, h := range halves {
		binary.LittleEndian.PutUint16(data[i*2:], h)
	}
	raw, err := FromBytes(Shape{1, 2, 2}, Float16, data)
	require.NoError(t, err)

	view, err := raw.Transpose(1, 2)
	require.NoError(t, err)

	out, err := view.Cast(Float32)
	require.NoError(t, err)
	assert.True(t, out.IsContiguous())
	assert.Equal(t, []float32{1, 3, 2, 4}, out.AsFloat32())
}

func TestCastUnsupportedTarget(t *testing.T) {
	raw, err := NewRaw(Shape{2}, Float32)
	require.NoError(t, err)
	_, err = raw.Cast(Int32)
	require.Error(t, err)
}
