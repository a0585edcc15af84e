package statefile

import (
	"fmt"

	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/tensor"
)

// Kind tags the variant held by a Value.
type Kind int

// Value kinds.
const (
	KindScalar Kind = iota
	KindList
	KindTensor
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindTensor:
		return "tensor"
	default:
		return "unknown"
	}
}

// Value is a node of an encodable document: a list of values, a tensor
// record or a scalar. The zero Value is the nil scalar.
type Value struct {
	kind   Kind
	items  []Value
	tensor *tensor.RawTensor
	dtype  string // dtype string of a decoded record
	scalar Scalar
}

// List returns a list value.
func List(items ...Value) Value {
	return Value{kind: KindList, items: items}
}

// TensorValue returns a tensor record value.
func TensorValue(t *tensor.RawTensor) Value {
	return Value{kind: KindTensor, tensor: t}
}

// decodedTensor keeps the dtype string exactly as the file spelled it.
func decodedTensor(t *tensor.RawTensor, dtype string) Value {
	return Value{kind: KindTensor, tensor: t, dtype: dtype}
}

// ScalarValue returns a scalar value.
func ScalarValue(s Scalar) Value {
	return Value{kind: KindScalar, scalar: s}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Items returns the elements of a list value, nil otherwise.
func (v Value) Items() []Value { return v.items }

// Tensor returns the tensor of a tensor value, nil otherwise.
func (v Value) Tensor() *tensor.RawTensor { return v.tensor }

// RecordDType returns the dtype string a decoded tensor record carried,
// or "" for values built in memory.
func (v Value) RecordDType() string { return v.dtype }

// Scalar returns the scalar of a scalar value.
func (v Value) Scalar() Scalar { return v.scalar }

// ScalarKind tags the variant held by a Scalar.
type ScalarKind int

// Scalar kinds.
const (
	ScalarNil ScalarKind = iota
	ScalarBool
	ScalarInt
	ScalarUint
	ScalarFloat
	ScalarString
	ScalarBytes
)

// Scalar is a msgpack native scalar.
type Scalar struct {
	kind ScalarKind
	b    bool
	i    int64
	u    uint64
	f    float64
	s    string
	raw  []byte
}

// Nil returns the nil scalar.
func Nil() Scalar { return Scalar{} }

// Bool returns a boolean scalar.
func Bool(b bool) Scalar { return Scalar{kind: ScalarBool, b: b} }

// Int returns a signed integer scalar.
func Int(i int64) Scalar { return Scalar{kind: ScalarInt, i: i} }

// Uint returns an unsigned integer scalar.
func Uint(u uint64) Scalar { return Scalar{kind: ScalarUint, u: u} }

// Float returns a floating point scalar.
func Float(f float64) Scalar { return Scalar{kind: ScalarFloat, f: f} }

// String returns a string scalar.
func String(s string) Scalar { return Scalar{kind: ScalarString, s: s} }

// Bytes returns a binary scalar.
func Bytes(b []byte) Scalar { return Scalar{kind: ScalarBytes, raw: b} }

// Kind returns the scalar variant tag.
func (s Scalar) Kind() ScalarKind { return s.kind }

// FromAny lifts a Go value into a Value. Accepted leaves are
// *tensor.RawTensor, nil, bool, sized and unsized integers, floats, string and
// []byte; accepted containers are []Value, []any and []*tensor.RawTensor.
// Anything else yields an *UnsupportedTypeError.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case *tensor.RawTensor:
		if v == nil {
			return Value{}, &UnsupportedTypeError{Type: "*tensor.RawTensor", Details: "nil tensor"}
		}
		return TensorValue(v), nil
	case []Value:
		return List(v...), nil
	case []*tensor.RawTensor:
		items := make([]Value, len(v))
		for i, t := range v {
			item, err := FromAny(t)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(v))
		for i, elem := range v {
			item, err := FromAny(elem)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case nil:
		return ScalarValue(Nil()), nil
	case bool:
		return ScalarValue(Bool(v)), nil
	case int:
		return ScalarValue(Int(int64(v))), nil
	case int8:
		return ScalarValue(Int(int64(v))), nil
	case int16:
		return ScalarValue(Int(int64(v))), nil
	case int32:
		return ScalarValue(Int(int64(v))), nil
	case int64:
		return ScalarValue(Int(v)), nil
	case uint:
		return ScalarValue(Uint(uint64(v))), nil
	case uint8:
		return ScalarValue(Uint(uint64(v))), nil
	case uint16:
		return ScalarValue(Uint(uint64(v))), nil
	case uint32:
		return ScalarValue(Uint(uint64(v))), nil
	case uint64:
		return ScalarValue(Uint(v)), nil
	case float32:
		return ScalarValue(Float(float64(v))), nil
	case float64:
		return ScalarValue(Float(v)), nil
	case string:
		return ScalarValue(String(v)), nil
	case []byte:
		return ScalarValue(Bytes(v)), nil
	default:
		return Value{}, &UnsupportedTypeError{Type: fmt.Sprintf("%T", x)}
	}
}

// EncodeState arranges an extracted state as a list of layers, each a list of
// its three tensors.
func EncodeState(file *state.File) Value {
	layers := make([]Value, len(file.Layers))
	for i, layer := range file.Layers {
		tensors := layer.Tensors()
		layers[i] = List(
			TensorValue(tensors[0]),
			TensorValue(tensors[1]),
			TensorValue(tensors[2]),
		)
	}
	return List(layers...)
}
