package convert

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/frstate/internal/checkpoint"
	"github.com/born-ml/frstate/internal/state"
	"github.com/born-ml/frstate/internal/statefile"
	"github.com/born-ml/frstate/internal/tensor"
)

type fixture struct {
	dtype string
	shape []int
	data  []byte
}

func f32(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func sequence(n int, base float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = base + float32(i)
	}
	return out
}

// writeCheckpoint writes a SafeTensors file holding tensors in key order.
func writeCheckpoint(t *testing.T, path string, names []string, tensors map[string]fixture) {
	t.Helper()

	header := map[string]any{}
	var body []byte
	for _, name := range names {
		ft := tensors[name]
		start := len(body)
		body = append(body, ft.data...)
		header[name] = map[string]any{
			"dtype":        ft.dtype,
			"shape":        ft.shape,
			"data_offsets": []int{start, len(body)},
		}
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)

	var out []byte
	out = binary.LittleEndian.AppendUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)
	out = append(out, body...)
	require.NoError(t, os.WriteFile(path, out, 0o600))
}

func twoLayerCheckpoint(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model.safetensors")
	writeCheckpoint(t, path,
		[]string{"blocks.0.att.time_state", "blocks.1.att.time_state", "emb.weight"},
		map[string]fixture{
			"blocks.0.att.time_state": {dtype: "F32", shape: []int{4, 8, 8}, data: f32(sequence(256, 0)...)},
			"blocks.1.att.time_state": {dtype: "F32", shape: []int{4, 8, 8}, data: f32(sequence(256, 1000)...)},
			"emb.weight":              {dtype: "F32", shape: []int{2}, data: f32(1, 2)},
		})
	return path
}

func TestRunTwoLayers(t *testing.T) {
	dir := t.TempDir()
	input := twoLayerCheckpoint(t, dir)
	output := filepath.Join(dir, "state.msgpack")

	result, err := Run(context.Background(), input, output, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, input, result.Input)
	assert.Equal(t, output, result.Output)
	assert.Equal(t, checkpoint.FormatSafeTensors, result.Format)
	assert.Equal(t, 2, result.Layers)
	assert.Equal(t, 32, result.EmbeddingWidth)

	in, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(in), result.InputChecksum)

	doc, err := statefile.ReadFile(output, statefile.DefaultReadOptions())
	require.NoError(t, err)
	assert.Equal(t, result.Bytes, doc.Size)
	assert.Equal(t, result.Checksum, doc.Checksum)
	require.Len(t, doc.Layers, 2)

	for i, layer := range doc.Layers {
		require.Len(t, layer, 3)
		assert.Equal(t, tensor.Shape{32}, layer[0].Shape())
		assert.Equal(t, tensor.Shape{4, 8, 8}, layer[1].Shape())
		assert.Equal(t, tensor.Shape{32}, layer[2].Shape())
		assert.Equal(t, make([]float32, 32), layer[0].AsFloat32())
		assert.Equal(t, make([]float32, 32), layer[2].AsFloat32())

		base := float32(1000 * i)
		for h := range 4 {
			for a := range 8 {
				for b := range 8 {
					want := base + float32(h*64+a*8+b)
					require.Equal(t, want, layer[1].At(h, b, a), "layer %d [%d,%d,%d]", i, h, a, b)
				}
			}
		}
	}
}

func TestRunPlainDTypeNames(t *testing.T) {
	dir := t.TempDir()
	input := twoLayerCheckpoint(t, dir)
	output := filepath.Join(dir, "state.msgpack")

	opts := DefaultOptions()
	opts.Write.DTypeStyle = statefile.DTypeStylePlain
	_, err := Run(context.Background(), input, output, opts)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("\xa7float32")))
	assert.False(t, bytes.Contains(data, []byte("torch.")))
}

func TestRunHalfPrecisionInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "model.safetensors")

	// 1.0, 2.0, -0.5 and 0 as float16.
	half := []byte{0x00, 0x3c, 0x00, 0x40, 0x00, 0xb8, 0x00, 0x00}
	writeCheckpoint(t, input, []string{"blocks.0.att.time_state"}, map[string]fixture{
		"blocks.0.att.time_state": {dtype: "F16", shape: []int{1, 2, 2}, data: half},
	})
	output := filepath.Join(dir, "state.msgpack")

	result, err := Run(context.Background(), input, output, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.EmbeddingWidth)

	doc, err := statefile.ReadFile(output, statefile.DefaultReadOptions())
	require.NoError(t, err)
	s := doc.Layers[0][1]
	assert.Equal(t, tensor.Float32, s.DType())
	assert.Equal(t, []float32{1, -0.5, 2, 0}, s.AsFloat32())
}

func TestRunMissingFirstLayer(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "model.safetensors")
	writeCheckpoint(t, input, []string{"emb.weight"}, map[string]fixture{
		"emb.weight": {dtype: "F32", shape: []int{2}, data: f32(1, 2)},
	})
	output := filepath.Join(dir, "state.msgpack")

	_, err := Run(context.Background(), input, output, DefaultOptions())
	var missing *state.MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "blocks.0.att.time_state", missing.Key)
	assert.ErrorIs(t, err, state.ErrMissingKey)

	_, statErr := os.Stat(output)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no output file on failure")
}

func TestRunLayerGap(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "model.safetensors")
	writeCheckpoint(t, input, []string{"blocks.0.att.time_state", "blocks.2.att.time_state"}, map[string]fixture{
		"blocks.0.att.time_state": {dtype: "F32", shape: []int{1, 2, 2}, data: f32(1, 2, 3, 4)},
		"blocks.2.att.time_state": {dtype: "F32", shape: []int{1, 2, 2}, data: f32(1, 2, 3, 4)},
	})
	output := filepath.Join(dir, "state.msgpack")

	_, err := Run(context.Background(), input, output, DefaultOptions())
	var missing *state.MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Layer)

	_, statErr := os.Stat(output)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRunShapeErrorKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "model.safetensors")
	writeCheckpoint(t, input, []string{"blocks.0.att.time_state"}, map[string]fixture{
		"blocks.0.att.time_state": {dtype: "F32", shape: []int{4}, data: f32(1, 2, 3, 4)},
	})
	output := filepath.Join(dir, "state.msgpack")
	require.NoError(t, os.WriteFile(output, []byte("keep"), 0o600))

	_, err := Run(context.Background(), input, output, DefaultOptions())
	assert.ErrorIs(t, err, state.ErrShape)

	data, readErr := os.ReadFile(output)
	require.NoError(t, readErr)
	assert.Equal(t, []byte("keep"), data)
}

func TestRunUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "state.msgpack")

	_, err := Run(context.Background(), filepath.Join(dir, "missing.safetensors"), output, DefaultOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open checkpoint")

	garbage := filepath.Join(dir, "garbage.bin")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint"), 0o600))
	_, err = Run(context.Background(), garbage, output, DefaultOptions())
	assert.ErrorIs(t, err, checkpoint.ErrUnsupportedFormat)
}

func TestRunSamePath(t *testing.T) {
	input := twoLayerCheckpoint(t, t.TempDir())

	_, err := Run(context.Background(), input, input, DefaultOptions())
	assert.ErrorIs(t, err, ErrSamePath)
}

func TestFromSourceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	output := filepath.Join(t.TempDir(), "state.msgpack")
	_, err := FromSource(ctx, checkpoint.Map{}, output, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromSourceLogsLayers(t *testing.T) {
	ts, err := tensor.FromFloat32(tensor.Shape{1, 2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	src := checkpoint.Map{"blocks.0.att.time_state": ts}

	var logs bytes.Buffer
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	output := filepath.Join(t.TempDir(), "state.msgpack")
	result, err := FromSource(context.Background(), src, output, opts)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.FormatMemory, result.Format)
	assert.Equal(t, 1, result.Layers)

	assert.Contains(t, logs.String(), "extracted layer")
	assert.Contains(t, logs.String(), "wrote state file")
	assert.Contains(t, logs.String(), "n_embd=2")
}
