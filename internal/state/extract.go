package state

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/born-ml/frstate/internal/tensor"
)

// Source is a read-only mapping from checkpoint keys to tensors.
type Source interface {
	// TensorNames returns every key in the checkpoint, in no particular order.
	TensorNames() []string

	// Tensor loads the tensor stored under name.
	Tensor(name string) (*tensor.RawTensor, error)
}

// EntryCounter is implemented by sources whose raw entry count differs
// from their tensor names, such as pickles holding non-tensor values.
type EntryCounter interface {
	EntryCount() int
}

// LayerCountMode selects how the number of layers is derived.
type LayerCountMode string

// Layer counting modes.
const (
	// LayerCountPattern counts keys of the form blocks.<i>.att.time_state.
	LayerCountPattern LayerCountMode = "pattern"
	// LayerCountEntries uses the total number of checkpoint entries. This
	// matches the historical converter and breaks on checkpoints that carry
	// anything besides time_state tensors.
	LayerCountEntries LayerCountMode = "entries"
)

// Options configures Extract.
type Options struct {
	LayerCount  LayerCountMode
	StrictWidth bool         // Require every layer to match layer 0's n_embd
	Logger      *slog.Logger // Debug output per layer; nil discards
}

// DefaultOptions returns pattern layer counting with strict width checks.
func DefaultOptions() Options {
	return Options{
		LayerCount:  LayerCountPattern,
		StrictWidth: true,
	}
}

var timeStateKey = regexp.MustCompile(`^blocks\.(0|[1-9][0-9]*)\.att\.time_state$`)

// TimeStateKey returns the checkpoint key of layer i's time_state.
func TimeStateKey(i int) string {
	return fmt.Sprintf("blocks.%d.att.time_state", i)
}

// Layer is one layer of a state file.
type Layer struct {
	BoundaryA *tensor.RawTensor // Zero vector, length n_embd
	TimeState *tensor.RawTensor // Transposed time_state, float32
	BoundaryB *tensor.RawTensor // Zero vector, length n_embd
}

// Tensors returns the layer's tensors in file order.
func (l Layer) Tensors() [3]*tensor.RawTensor {
	return [3]*tensor.RawTensor{l.BoundaryA, l.TimeState, l.BoundaryB}
}

// File is the full state extracted from a checkpoint.
type File struct {
	Layers         []Layer
	EmbeddingWidth int
}

// Extract builds the per-layer state from src.
//
// blocks.0.att.time_state must be present; its first two dimensions define
// n_embd. On any error nothing is returned.
func Extract(src Source, opts Options) (*File, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	names := src.TensorNames()
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[name] = struct{}{}
	}

	firstKey := TimeStateKey(0)
	if _, ok := present[firstKey]; !ok {
		return nil, &MissingKeyError{Key: firstKey, Layer: 0}
	}

	entries := len(names)
	if c, ok := src.(EntryCounter); ok {
		entries = c.EntryCount()
	}
	layerCount, err := countLayers(names, entries, opts.LayerCount)
	if err != nil {
		return nil, err
	}

	file := &File{Layers: make([]Layer, 0, layerCount)}
	for i := range layerCount {
		key := TimeStateKey(i)
		if _, ok := present[key]; !ok {
			return nil, &MissingKeyError{Key: key, Layer: i}
		}

		raw, err := src.Tensor(key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}

		width, err := embeddingWidth(raw, key, i)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			file.EmbeddingWidth = width
		} else if opts.StrictWidth && width != file.EmbeddingWidth {
			return nil, &ShapeError{
				Key:     key,
				Layer:   i,
				Shape:   raw.Shape(),
				Details: fmt.Sprintf("n_embd %d differs from layer 0 (%d)", width, file.EmbeddingWidth),
			}
		}

		layer, err := buildLayer(raw, file.EmbeddingWidth, key, i)
		if err != nil {
			return nil, err
		}
		logger.Debug("extracted layer",
			"layer", i,
			"source_shape", raw.Shape().String(),
			"source_dtype", raw.DType().String(),
			"state_shape", layer.TimeState.Shape().String(),
		)
		file.Layers = append(file.Layers, layer)
	}

	return file, nil
}

// countLayers derives the layer count according to mode.
func countLayers(names []string, entries int, mode LayerCountMode) (int, error) {
	switch mode {
	case LayerCountEntries:
		return entries, nil
	case LayerCountPattern, "":
		n := 0
		for _, name := range names {
			if timeStateKey.MatchString(name) {
				n++
			}
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unknown layer count mode %q", mode)
	}
}

// embeddingWidth returns shape[0] * shape[1].
func embeddingWidth(raw *tensor.RawTensor, key string, layer int) (int, error) {
	shape := raw.Shape()
	if len(shape) < 2 {
		return 0, &ShapeError{Key: key, Layer: layer, Shape: shape, Details: "need at least 2 axes"}
	}
	return shape[0] * shape[1], nil
}

// buildLayer casts, transposes and pads one time_state tensor.
func buildLayer(raw *tensor.RawTensor, width int, key string, layer int) (Layer, error) {
	if raw.Rank() < 3 {
		return Layer{}, &ShapeError{
			Key:     key,
			Layer:   layer,
			Shape:   raw.Shape(),
			Details: "need at least 3 axes to swap axes 1 and 2",
		}
	}

	f32, err := raw.Cast(tensor.Float32)
	if err != nil {
		return Layer{}, fmt.Errorf("failed to cast %s: %w", key, err)
	}
	transposed, err := f32.Transpose(1, 2)
	if err != nil {
		return Layer{}, fmt.Errorf("failed to transpose %s: %w", key, err)
	}

	a, err := tensor.Zeros(width)
	if err != nil {
		return Layer{}, fmt.Errorf("failed to allocate boundary vector: %w", err)
	}
	b, err := tensor.Zeros(width)
	if err != nil {
		return Layer{}, fmt.Errorf("failed to allocate boundary vector: %w", err)
	}

	return Layer{BoundaryA: a, TimeState: transposed, BoundaryB: b}, nil
}
