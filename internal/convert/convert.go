// Package convert turns a checkpoint's time_state tensors into a state file.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/frstate/internal/checkpoint"
	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/statefile"
)

// ErrSamePath is returned when the output would overwrite the input.
var ErrSamePath = errors.New("output path is the input checkpoint")

// Options configures a conversion.
type Options struct {
	Extract state.Options
	Write   statefile.WriteOptions
	Logger  *slog.Logger // nil discards
}

// DefaultOptions returns pattern layer counting, strict width checks, torch
// dtype names and mode 0644.
func DefaultOptions() Options {
	return Options{
		Extract: state.DefaultOptions(),
		Write:   statefile.DefaultWriteOptions(),
	}
}

// Result describes a finished conversion.
type Result struct {
	Input          string
	Output         string
	Format         checkpoint.Format
	Layers         int
	EmbeddingWidth int
	Bytes          int64
	Checksum       [32]byte // SHA-256 of the state file
	InputChecksum  [32]byte // SHA-256 of the checkpoint; zero for FromSource
}

// Run converts the checkpoint at input into a state file at output.
//
// The output is written only after every layer has been extracted, and is
// replaced atomically. On error no output file is created.
func Run(ctx context.Context, input, output string, opts Options) (*Result, error) {
	same, err := samePath(input, output)
	if err != nil {
		return nil, err
	}
	if same {
		return nil, fmt.Errorf("%w: %s", ErrSamePath, output)
	}

	logger := loggerOf(opts)
	reader, err := checkpoint.Open(input)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()
	logger.Info("opened checkpoint", "path", input, "format", reader.Format().String(),
		"tensors", len(reader.TensorNames()))

	result, err := FromSource(ctx, reader, output, opts)
	if err != nil {
		return nil, err
	}
	result.Input = input
	result.Format = reader.Format()

	result.InputChecksum, err = checksumFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum checkpoint: %w", err)
	}
	logger.Debug("checksummed checkpoint", "path", input, "sha256", fmt.Sprintf("%x", result.InputChecksum))
	return result, nil
}

func checksumFile(path string) ([32]byte, error) {
	//nolint:gosec // G304: the checkpoint path is user input
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	return statefile.ComputeChecksumReader(f)
}

// FromSource converts an already opened checkpoint.
func FromSource(ctx context.Context, src state.Source, output string, opts Options) (*Result, error) {
	logger := loggerOf(opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	extractOpts := opts.Extract
	if extractOpts.Logger == nil {
		extractOpts.Logger = logger
	}
	file, err := state.Extract(src, extractOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to extract state: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	written, err := statefile.WriteFile(output, statefile.EncodeState(file), opts.Write)
	if err != nil {
		return nil, fmt.Errorf("failed to write state file: %w", err)
	}
	logger.Info("wrote state file",
		"path", written.Path,
		"layers", len(file.Layers),
		"n_embd", file.EmbeddingWidth,
		"bytes", written.Bytes,
	)

	return &Result{
		Output:         written.Path,
		Format:         checkpoint.FormatMemory,
		Layers:         len(file.Layers),
		EmbeddingWidth: file.EmbeddingWidth,
		Bytes:          written.Bytes,
		Checksum:       written.Checksum,
	}, nil
}

func loggerOf(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", a, err)
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", b, err)
	}
	return absA == absB, nil
}
