package statefile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/tensor"
)

func mustFloat32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromFloat32(shape, values)
	require.NoError(t, err)
	return raw
}

func TestEncodeTensorRecordBytes(t *testing.T) {
	zeros, err := tensor.Zeros(2)
	require.NoError(t, err)

	got, err := Marshal(List(TensorValue(zeros)), DefaultOptions())
	require.NoError(t, err)

	want := []byte{0x91, 0x83}
	want = append(want, 0xa5)
	want = append(want, "dtype"...)
	want = append(want, 0xad)
	want = append(want, "torch.float32"...)
	want = append(want, 0xa4)
	want = append(want, "data"...)
	want = append(want, 0xc4, 0x08, 0, 0, 0, 0, 0, 0, 0, 0)
	want = append(want, 0xa5)
	want = append(want, "shape"...)
	want = append(want, 0x91, 0x02)

	assert.Equal(t, want, got)
}

func TestEncodePlainDTypeStyle(t *testing.T) {
	one := mustFloat32(t, tensor.Shape{1}, 1)

	got, err := Marshal(TensorValue(one), Options{DTypeStyle: DTypeStylePlain})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, msgpack.Unmarshal(got, &decoded))
	assert.Equal(t, "float32", decoded["dtype"])
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, decoded["data"])
}

func TestEncodeLargeShapeUsesCompactInts(t *testing.T) {
	raw, err := tensor.NewRaw(tensor.Shape{300}, tensor.Uint8)
	require.NoError(t, err)

	got, err := Marshal(TensorValue(raw), DefaultOptions())
	require.NoError(t, err)

	// shape array: fixarray(1), uint16 300
	assert.Equal(t, []byte{0x91, 0xcd, 0x01, 0x2c}, got[len(got)-4:])
}

func TestEncodeTransposedViewInLogicalOrder(t *testing.T) {
	x := mustFloat32(t, tensor.Shape{1, 2, 3}, 0, 1, 2, 3, 4, 5)
	view, err := x.Transpose(1, 2)
	require.NoError(t, err)

	got, err := Marshal(TensorValue(view), DefaultOptions())
	require.NoError(t, err)

	v, err := Unmarshal(got)
	require.NoError(t, err)
	require.Equal(t, KindTensor, v.Kind())
	assert.Equal(t, tensor.Shape{1, 3, 2}, v.Tensor().Shape())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, v.Tensor().AsFloat32())
}

func TestEncodeScalars(t *testing.T) {
	v, err := FromAny([]any{nil, true, -3, uint8(200), 1.5, "hi", []byte{1, 2}})
	require.NoError(t, err)

	got, err := Marshal(v, DefaultOptions())
	require.NoError(t, err)

	want := []byte{
		0x97,
		0xc0,
		0xc3,
		0xfd,
		0xcc, 0xc8,
		0xcb, 0x3f, 0xf8, 0, 0, 0, 0, 0, 0,
		0xa2, 'h', 'i',
		0xc4, 0x02, 1, 2,
	}
	assert.Equal(t, want, got)
}

func TestFromAnyUnsupported(t *testing.T) {
	tests := []any{
		map[string]int{"a": 1},
		struct{}{},
		complex(1, 2),
		[]any{1, make(chan int)},
		(*tensor.RawTensor)(nil),
	}
	for _, x := range tests {
		_, err := FromAny(x)
		var unsupported *UnsupportedTypeError
		require.ErrorAs(t, err, &unsupported, "%T", x)
		assert.True(t, errors.Is(err, ErrUnsupportedType))
	}
}

func TestEncodeUnknownDTypeStyle(t *testing.T) {
	one := mustFloat32(t, tensor.Shape{1}, 1)
	_, err := Marshal(TensorValue(one), Options{DTypeStyle: "numpy"})
	require.Error(t, err)
}

func TestEncodeIsDeterministic(t *testing.T) {
	file := extractFixture(t, 3, tensor.Shape{2, 3, 3})

	a, err := Marshal(EncodeState(file), DefaultOptions())
	require.NoError(t, err)
	b, err := Marshal(EncodeState(file), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// extractFixture runs the extractor over n sequential layers.
func extractFixture(t *testing.T, n int, shape tensor.Shape) *state.File {
	t.Helper()
	src := memSource{}
	for i := range n {
		values := make([]float32, shape.NumElements())
		for j := range values {
			values[j] = float32(i*100 + j)
		}
		src[state.TimeStateKey(i)] = mustFloat32(t, shape, values...)
	}
	file, err := state.Extract(src, state.DefaultOptions())
	require.NoError(t, err)
	return file
}

type memSource map[string]*tensor.RawTensor

func (m memSource) TensorNames() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	return names
}

func (m memSource) Tensor(name string) (*tensor.RawTensor, error) {
	return m[name], nil
}

func TestEncodeStateGenericRoundTrip(t *testing.T) {
	file := extractFixture(t, 2, tensor.Shape{4, 8, 8})

	data, err := Marshal(EncodeState(file), DefaultOptions())
	require.NoError(t, err)

	// Decode with the plain msgpack reader, independent of this package.
	var generic []any
	require.NoError(t, msgpack.Unmarshal(data, &generic))
	require.Len(t, generic, 2)

	for i, layer := range generic {
		records, ok := layer.([]any)
		require.True(t, ok)
		require.Len(t, records, 3)

		wantShapes := [][]int{{32}, {4, 8, 8}, {32}}
		for j, rec := range records {
			m, ok := rec.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "torch.float32", m["dtype"])

			dims := m["shape"].([]any)
			got := make([]int, len(dims))
			for k, d := range dims {
				n, ok := toInt(d)
				require.True(t, ok)
				got[k] = n
			}
			assert.Equal(t, wantShapes[j], got, "layer %d record %d", i, j)

			payload := m["data"].([]byte)
			assert.Equal(t, file.Layers[i].Tensors()[j].Bytes(), payload)
		}
		assert.Equal(t, make([]byte, 4*32), records[0].(map[string]any)["data"])
	}
}
