package convert_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/frstate/convert"
)

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := convert.Run(context.Background(), filepath.Join(dir, "none.safetensors"),
		filepath.Join(dir, "state.msgpack"), convert.DefaultOptions())
	require.Error(t, err)
}

func TestRunSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	_, err := convert.Run(context.Background(), path, path, convert.DefaultOptions())
	assert.ErrorIs(t, err, convert.ErrSamePath)
}

func TestReadStateFileMissing(t *testing.T) {
	_, err := convert.ReadStateFile(filepath.Join(t.TempDir(), "state.msgpack"))
	assert.ErrorIs(t, err, convert.ErrIO)
}
