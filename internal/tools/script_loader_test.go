package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScriptDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adder.yaml"), []byte(`
name: adder
description: adds two numbers
parameters:
  type: object
  properties:
    a: {type: number}
    b: {type: number}
  required: [a, b]
script: "({sum: args.a + args.b})"
timeout: 5s
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loaded, err := LoadScriptDir(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "adder", loaded[0].Name())

	res, err := loaded[0].Execute(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.JSONEq(t, `{"sum": 5}`, string(res.Payload))
}

func TestLoadScriptDirMissingIsEmpty(t *testing.T) {
	loaded, err := LoadScriptDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadScriptDirRejectsBrokenManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"),
		[]byte("name: x"), 0o644)) // no script
	_, err := LoadScriptDir(dir)
	assert.Error(t, err)
}
