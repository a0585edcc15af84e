package statefile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Record field names, in encoding order.
const (
	FieldDType = "dtype"
	FieldData  = "data"
	FieldShape = "shape"
)

// Options configures encoding.
type Options struct {
	DTypeStyle DTypeStyle
}

// DefaultOptions returns torch-style dtype names.
func DefaultOptions() Options {
	return Options{DTypeStyle: DTypeStyleTorch}
}

// Encoder writes Values as msgpack.
type Encoder struct {
	enc  *msgpack.Encoder
	opts Options
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer, opts Options) *Encoder {
	enc := msgpack.NewEncoder(w)
	// Smallest integer representation, as the Python and C++ packers emit.
	enc.UseCompactInts(true)
	return &Encoder{enc: enc, opts: opts}
}

// Encode writes v.
func (e *Encoder) Encode(v Value) error {
	switch v.kind {
	case KindList:
		if err := e.enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, item := range v.items {
			if err := e.Encode(item); err != nil {
				return err
			}
		}
		return nil
	case KindTensor:
		return e.encodeTensor(v)
	case KindScalar:
		return e.encodeScalar(v.scalar)
	default:
		return &UnsupportedTypeError{Type: v.kind.String()}
	}
}

// encodeTensor writes {dtype, data, shape}. data is the logical row-major
// payload, so transposed views are materialized here.
func (e *Encoder) encodeTensor(v Value) error {
	t := v.tensor
	if t == nil {
		return &UnsupportedTypeError{Type: "*tensor.RawTensor", Details: "nil tensor"}
	}
	name, err := DTypeName(t.DType(), e.opts.DTypeStyle)
	if err != nil {
		return err
	}

	if err := e.enc.EncodeMapLen(3); err != nil {
		return err
	}
	if err := e.encodeField(FieldDType); err != nil {
		return err
	}
	if err := e.enc.EncodeString(name); err != nil {
		return err
	}
	if err := e.encodeField(FieldData); err != nil {
		return err
	}
	if err := e.enc.EncodeBytes(t.Bytes()); err != nil {
		return err
	}
	if err := e.encodeField(FieldShape); err != nil {
		return err
	}
	shape := t.Shape()
	if err := e.enc.EncodeArrayLen(len(shape)); err != nil {
		return err
	}
	for _, dim := range shape {
		if err := e.enc.EncodeInt(int64(dim)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeField(name string) error {
	return e.enc.EncodeString(name)
}

func (e *Encoder) encodeScalar(s Scalar) error {
	switch s.kind {
	case ScalarNil:
		return e.enc.EncodeNil()
	case ScalarBool:
		return e.enc.EncodeBool(s.b)
	case ScalarInt:
		return e.enc.EncodeInt(s.i)
	case ScalarUint:
		return e.enc.EncodeUint(s.u)
	case ScalarFloat:
		return e.enc.EncodeFloat64(s.f)
	case ScalarString:
		return e.enc.EncodeString(s.s)
	case ScalarBytes:
		return e.enc.EncodeBytes(s.raw)
	default:
		return &UnsupportedTypeError{Type: fmt.Sprintf("scalar(%d)", s.kind)}
	}
}

// Encode writes v to w.
func Encode(w io.Writer, v Value, opts Options) error {
	return NewEncoder(w, opts).Encode(v)
}

// Marshal returns the encoding of v.
func Marshal(v Value, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
