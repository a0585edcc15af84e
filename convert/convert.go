// Package convert exports the time_state to state file conversion.
//
// This package wraps the internal checkpoint, state and statefile packages
// and exports a small public API for embedding the converter in other tools.
//
// Example usage:
//
//	import "github.com/born-ml/frstate/convert"
//
//	result, err := convert.Run(ctx, "model.safetensors", "state.msgpack", convert.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d layers, n_embd %d\n", result.Layers, result.EmbeddingWidth)
//
//	// Validate and summarise the result
//	doc, err := convert.ReadStateFile("state.msgpack")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(doc.Summary(convert.DTypeStyleTorch).SHA256)
package convert

import (
	"context"

	"github.com/born-ml/frstate/internal/convert"
	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/statefile"
)

// Options configures a conversion.
type Options = convert.Options

// Result describes a finished conversion.
type Result = convert.Result

// Document is a decoded and validated state file.
type Document = statefile.Document

// DTypeStyle selects the dtype naming in written records.
type DTypeStyle = statefile.DTypeStyle

// DType naming styles.
const (
	DTypeStyleTorch DTypeStyle = statefile.DTypeStyleTorch
	DTypeStylePlain DTypeStyle = statefile.DTypeStylePlain
)

// Errors reported by Run, matched with errors.Is.
var (
	ErrMissingKey  = state.ErrMissingKey
	ErrShape       = state.ErrShape
	ErrInvalidFile = statefile.ErrInvalidFile
	ErrIO          = statefile.ErrIO
	ErrSamePath    = convert.ErrSamePath
)

// DefaultOptions returns pattern layer counting, strict width checks, torch
// dtype names and mode 0644.
func DefaultOptions() Options {
	return convert.DefaultOptions()
}

// Run converts the checkpoint at input (SafeTensors or PyTorch) into a state
// file at output. On error no output file is written.
//
// Example:
//
//	opts := convert.DefaultOptions()
//	opts.Write.DTypeStyle = convert.DTypeStylePlain
//	result, err := convert.Run(ctx, "rwkv-state.pth", "state.msgpack", opts)
func Run(ctx context.Context, input, output string, opts Options) (*Result, error) {
	return convert.Run(ctx, input, output, opts)
}

// ReadStateFile decodes the state file at path with strict validation.
func ReadStateFile(path string) (*Document, error) {
	return statefile.ReadFile(path, statefile.DefaultReadOptions())
}
