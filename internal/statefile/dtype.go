package statefile

import (
	"fmt"
	"strings"

	"github.com/born-ml/frstate/internal/tensor"
)

// DTypeStyle selects how tensor dtypes are named in the "dtype" field.
type DTypeStyle string

// DType naming styles.
const (
	// DTypeStyleTorch writes torch names ("torch.float32"), which is what
	// the runtime itself emits when it saves a state.
	DTypeStyleTorch DTypeStyle = "torch"
	// DTypeStylePlain writes bare names ("float32").
	DTypeStylePlain DTypeStyle = "plain"
)

const torchPrefix = "torch."

// Valid reports whether s is a known style.
func (s DTypeStyle) Valid() bool {
	return s == DTypeStyleTorch || s == DTypeStylePlain
}

// DTypeName returns the dtype string written for dt.
func DTypeName(dt tensor.DataType, style DTypeStyle) (string, error) {
	if !dt.Valid() {
		return "", &UnsupportedTypeError{Type: fmt.Sprintf("dtype(%d)", dt), Details: "no dtype name"}
	}
	switch style {
	case DTypeStyleTorch, "":
		return torchPrefix + dt.String(), nil
	case DTypeStylePlain:
		return dt.String(), nil
	default:
		return "", fmt.Errorf("unknown dtype style %q", style)
	}
}

// ParseDTypeName accepts either naming style and reports which one was used.
func ParseDTypeName(name string) (tensor.DataType, DTypeStyle, bool) {
	style := DTypeStylePlain
	if rest, ok := strings.CutPrefix(name, torchPrefix); ok {
		name, style = rest, DTypeStyleTorch
	}
	dt, ok := tensor.ParseDataType(name)
	if !ok {
		return 0, "", false
	}
	return dt, style, true
}
