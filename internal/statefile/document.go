package statefile

import (
	"fmt"

	"github.com/born-ml/frstate/internal/tensor"
)

// RecordsPerLayer is the number of tensors stored for every layer.
const RecordsPerLayer = 3

// ValidationLevel controls the strictness of ReadFile.
type ValidationLevel int

const (
	// ValidationStrict checks the layout and that every layer agrees on n_embd
	// (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal checks the layout only: a list of layers, each
	// holding three tensor records.
	ValidationNormal
	// ValidationNone only requires the top level to be a list of lists of
	// tensors.
	ValidationNone
)

// ReadOptions configures ReadFile.
type ReadOptions struct {
	ValidationLevel ValidationLevel
}

// DefaultReadOptions returns strict validation.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{ValidationLevel: ValidationStrict}
}

// RecordInfo summarises one tensor record.
type RecordInfo struct {
	DType string `toml:"dtype"`
	Shape []int  `toml:"shape"`
	Bytes int    `toml:"bytes"`
}

// LayerInfo summarises one layer.
type LayerInfo struct {
	Index   int          `toml:"index"`
	Records []RecordInfo `toml:"records"`
}

// Summary describes a state file for display.
type Summary struct {
	Layers         int         `toml:"layers"`
	EmbeddingWidth int         `toml:"n_embd"`
	Bytes          int64       `toml:"bytes"`
	SHA256         string      `toml:"sha256"`
	LayerInfo      []LayerInfo `toml:"layer"`
}

// Document is a decoded state file.
type Document struct {
	Layers   [][]*tensor.RawTensor
	DTypes   [][]string // dtype strings as written, parallel to Layers
	Size     int64    // Encoded size in bytes, set by ReadFile
	Checksum [32]byte // SHA-256 of the encoded bytes, set by ReadFile
}

// NewDocument checks that v has the state file layout.
func NewDocument(v Value, opts ReadOptions) (*Document, error) {
	if v.Kind() != KindList {
		return nil, &ValidationError{Type: "top_level", Layer: -1, Record: -1,
			Details: fmt.Sprintf("top level is a %s, want list", v.Kind())}
	}

	doc := &Document{
		Layers: make([][]*tensor.RawTensor, len(v.Items())),
		DTypes: make([][]string, len(v.Items())),
	}
	for i, layer := range v.Items() {
		if layer.Kind() != KindList {
			return nil, &ValidationError{Type: "layer_kind", Layer: i, Record: -1,
				Details: fmt.Sprintf("layer is a %s, want list", layer.Kind())}
		}
		if opts.ValidationLevel != ValidationNone && len(layer.Items()) != RecordsPerLayer {
			return nil, &ValidationError{Type: "layer_arity", Layer: i, Record: -1,
				Details: fmt.Sprintf("got %d records, want %d", len(layer.Items()), RecordsPerLayer)}
		}

		records := make([]*tensor.RawTensor, len(layer.Items()))
		dtypes := make([]string, len(layer.Items()))
		for j, rec := range layer.Items() {
			if rec.Kind() != KindTensor {
				return nil, &ValidationError{Type: "record_kind", Layer: i, Record: j,
					Details: fmt.Sprintf("record is a %s, want tensor", rec.Kind())}
			}
			records[j] = rec.Tensor()
			dtypes[j] = rec.RecordDType()
		}
		doc.Layers[i] = records
		doc.DTypes[i] = dtypes
	}

	if opts.ValidationLevel == ValidationStrict {
		if err := doc.validateWidths(); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// validateWidths checks every layer against layer 0: the boundary vectors
// are rank 1 with n_embd elements, and the state matrix has rank 3 and
// shape[0] * shape[2] == n_embd.
func (d *Document) validateWidths() error {
	width := -1
	for i, layer := range d.Layers {
		a, s, b := layer[0], layer[1], layer[2]
		for j, v := range []*tensor.RawTensor{a, b} {
			if v.Rank() != 1 {
				return &ValidationError{Type: "boundary_rank", Layer: i, Record: 2 * j,
					Details: fmt.Sprintf("shape %s, want a vector", v.Shape())}
			}
		}
		if !a.Shape().Equal(b.Shape()) {
			return &ValidationError{Type: "boundary_mismatch", Layer: i, Record: 2,
				Details: fmt.Sprintf("shape %s differs from record 0 %s", b.Shape(), a.Shape())}
		}
		if s.Rank() != 3 {
			return &ValidationError{Type: "state_rank", Layer: i, Record: 1,
				Details: fmt.Sprintf("shape %s, want [heads, dim1, dim0]", s.Shape())}
		}

		n := a.Shape()[0]
		if width < 0 {
			width = n
		}
		if n != width {
			return &ValidationError{Type: "width_mismatch", Layer: i, Record: 0,
				Details: fmt.Sprintf("n_embd %d differs from layer 0 (%d)", n, width)}
		}
		if shape := s.Shape(); shape[0]*shape[2] != width {
			return &ValidationError{Type: "width_mismatch", Layer: i, Record: 1,
				Details: fmt.Sprintf("state shape %s does not match n_embd %d", shape, width)}
		}
	}
	return nil
}

// EmbeddingWidth returns the length of layer 0's boundary vector, or 0.
func (d *Document) EmbeddingWidth() int {
	if len(d.Layers) == 0 || len(d.Layers[0]) == 0 || d.Layers[0][0].Rank() != 1 {
		return 0
	}
	return d.Layers[0][0].Shape()[0]
}

// Summary returns a display summary of d. Dtypes are reported as the file
// spelled them unless style is set, in which case they are renamed.
func (d *Document) Summary(style DTypeStyle) Summary {
	s := Summary{
		Layers:         len(d.Layers),
		EmbeddingWidth: d.EmbeddingWidth(),
		Bytes:          d.Size,
		SHA256:         fmt.Sprintf("%x", d.Checksum),
		LayerInfo:      make([]LayerInfo, len(d.Layers)),
	}
	for i, layer := range d.Layers {
		info := LayerInfo{Index: i, Records: make([]RecordInfo, len(layer))}
		for j, t := range layer {
			name := d.recordDType(i, j, style)
			info.Records[j] = RecordInfo{DType: name, Shape: []int(t.Shape()), Bytes: t.ByteSize()}
		}
		s.LayerInfo[i] = info
	}
	return s
}

func (d *Document) recordDType(layer, record int, style DTypeStyle) string {
	if style == "" && layer < len(d.DTypes) && record < len(d.DTypes[layer]) {
		if name := d.DTypes[layer][record]; name != "" {
			return name
		}
	}
	if style == "" {
		style = DTypeStyleTorch
	}
	name, err := DTypeName(d.Layers[layer][record].DType(), style)
	if err != nil {
		return d.Layers[layer][record].DType().String()
	}
	return name
}
