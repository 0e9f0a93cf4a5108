package deltacodec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateApplyRoundtrip(t *testing.T) {
	dir := t.TempDir()
	originalPath := filepath.Join(dir, "original")
	newPath := filepath.Join(dir, "new")

	original := make([]byte, 3*BlockSize)
	for i := range original {
		original[i] = byte(i % 251)
	}
	modified := append([]byte(nil), original...)
	modified[BlockSize+5] = modified[BlockSize+5] + 1
	modified = append(modified, []byte("trailing bytes")...)

	require.NoError(t, os.WriteFile(originalPath, original, 0o644))
	require.NoError(t, os.WriteFile(newPath, modified, 0o644))

	delta, err := Create(originalPath, newPath)
	require.NoError(t, err)

	result, err := Apply(originalPath, delta)
	require.NoError(t, err)
	assert.Equal(t, modified, result)
}

func TestCreateBytesApplyBytesRoundtrip(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "new")

	original := []byte("the quick brown fox jumps over the lazy dog")
	modified := []byte("the quick brown FOX jumps over the lazy dog, extended")
	require.NoError(t, os.WriteFile(newPath, modified, 0o644))

	delta, err := CreateBytes(original, newPath)
	require.NoError(t, err)

	result, err := ApplyBytes(original, delta)
	require.NoError(t, err)
	assert.Equal(t, modified, result)
}

func TestCreateFromMissingOriginalIsAllReplace(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(newPath, []byte("brand new content"), 0o644))

	delta, err := Create(filepath.Join(dir, "does-not-exist"), newPath)
	require.NoError(t, err)
	for _, op := range delta.Ops {
		assert.Equal(t, OpReplace, op.Kind)
	}
}

func TestApplyRejectsStaleOriginal(t *testing.T) {
	dir := t.TempDir()
	originalPath := filepath.Join(dir, "original")
	newPath := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(originalPath, []byte("version one"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("version two"), 0o644))

	delta, err := Create(originalPath, newPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(originalPath, []byte("version one, mutated"), 0o644))
	_, err = Apply(originalPath, delta)
	assert.Error(t, err)
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	dir := t.TempDir()
	originalPath := filepath.Join(dir, "original")
	newPath := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(originalPath, []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("aaab"), 0o644))

	delta, err := Create(originalPath, newPath)
	require.NoError(t, err)

	path := filepath.Join(dir, "a.delta")
	require.NoError(t, Save(delta, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, delta.OriginalHash, loaded.OriginalHash)
	assert.Equal(t, delta.NewHash, loaded.NewHash)
	assert.Equal(t, delta.Ops, loaded.Ops)
}

func TestDecodeRejectsCorruptBlob(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
}
