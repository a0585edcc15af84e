package statefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/born-ml/frstate/internal/tensor"
)

// Decode reads one document from r.
//
// Arrays become lists, maps with exactly the dtype, data and shape keys
// become tensors, and everything else becomes a scalar. Other maps are
// rejected since no state file contains them.
func Decode(r io.Reader) (Value, error) {
	dec := msgpack.NewDecoder(r)
	raw, err := dec.DecodeInterface()
	if err != nil {
		return Value{}, fmt.Errorf("%w: failed to decode msgpack: %w", ErrInvalidFile, err)
	}

	if _, err := dec.PeekCode(); !errors.Is(err, io.EOF) {
		return Value{}, &ValidationError{Type: "trailing_data", Layer: -1, Record: -1,
			Details: "bytes remain after the top-level value"}
	}

	return fromDecoded(raw)
}

// Unmarshal decodes a document held in memory.
func Unmarshal(data []byte) (Value, error) {
	return Decode(bytes.NewReader(data))
}

func fromDecoded(x any) (Value, error) {
	switch v := x.(type) {
	case []any:
		items := make([]Value, len(v))
		for i, elem := range v {
			item, err := fromDecoded(elem)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case map[string]any:
		return tensorFromRecord(v)
	default:
		return FromAny(v)
	}
}

// tensorFromRecord rebuilds a tensor from a decoded {dtype, data, shape} map.
func tensorFromRecord(record map[string]any) (Value, error) {
	if len(record) != 3 {
		return Value{}, recordError("record_fields", fmt.Sprintf("got fields %v, want dtype, data, shape", keys(record)))
	}

	name, ok := record[FieldDType].(string)
	if !ok {
		return Value{}, recordError("record_dtype", fmt.Sprintf("dtype is %T, want string", record[FieldDType]))
	}
	dtype, _, ok := ParseDTypeName(name)
	if !ok {
		return Value{}, recordError("record_dtype", fmt.Sprintf("unknown dtype %q", name))
	}

	var data []byte
	switch d := record[FieldData].(type) {
	case []byte:
		data = d
	case string: // Written by packers without a bin type.
		data = []byte(d)
	default:
		return Value{}, recordError("record_data", fmt.Sprintf("data is %T, want bin", record[FieldData]))
	}

	dims, ok := record[FieldShape].([]any)
	if !ok {
		return Value{}, recordError("record_shape", fmt.Sprintf("shape is %T, want array", record[FieldShape]))
	}
	shape := make(tensor.Shape, len(dims))
	for i, d := range dims {
		n, ok := toInt(d)
		if !ok || n <= 0 {
			return Value{}, recordError("record_shape", fmt.Sprintf("dimension %d is %v", i, d))
		}
		shape[i] = n
	}

	if want := shape.NumElements() * dtype.Size(); len(data) != want {
		return Value{}, recordError("payload_size",
			fmt.Sprintf("data has %d bytes, shape %s of %s needs %d", len(data), shape, dtype, want))
	}

	t, err := tensor.FromBytes(shape, dtype, data)
	if err != nil {
		return Value{}, recordError("record_tensor", err.Error())
	}
	return decodedTensor(t, name), nil
}

func recordError(kind, details string) *ValidationError {
	return &ValidationError{Type: kind, Layer: -1, Record: -1, Details: details}
}

// toInt converts any decoded msgpack integer to int.
func toInt(x any) (int, bool) {
	switch v := x.(type) {
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		if v > uint64(int(^uint(0)>>1)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
