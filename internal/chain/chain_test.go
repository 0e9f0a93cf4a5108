package chain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardiex/ardiex/internal/deltacodec"
	"github.com/ardiex/ardiex/internal/layout"
)

func mkEntry(t *testing.T, dest, name string) string {
	t.Helper()
	path := filepath.Join(dest, name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	return path
}

func TestMaterializeReturnsWholeFileWithNoDeltas(t *testing.T) {
	dest := t.TempDir()
	fullDir := mkEntry(t, dest, layout.FullPrefix+layout.FormatTimestamp(time.Now().Add(-time.Hour)))
	require.NoError(t, os.WriteFile(filepath.Join(fullDir, "a.txt"), []byte("version one"), 0o644))

	data, found, err := Materialize(dest, "a.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("version one"), data)
}

func TestMaterializeAppliesDeltasAfterBase(t *testing.T) {
	dest := t.TempDir()
	now := time.Now()
	fullDir := mkEntry(t, dest, layout.FullPrefix+layout.FormatTimestamp(now.Add(-2*time.Hour)))
	incDir := mkEntry(t, dest, layout.IncPrefix+layout.FormatTimestamp(now.Add(-time.Hour)))

	base := []byte("hello world")
	require.NoError(t, os.WriteFile(filepath.Join(fullDir, "a.txt"), base, 0o644))

	updated := []byte("hello WORLD, extended")
	newPath := filepath.Join(dest, "new-version-source")
	require.NoError(t, os.WriteFile(newPath, updated, 0o644))
	delta, err := deltacodec.CreateBytes(base, newPath)
	require.NoError(t, err)
	require.NoError(t, deltacodec.Save(delta, filepath.Join(incDir, "a.txt"+DeltaSuffix)))

	data, found, err := Materialize(dest, "a.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updated, data)
}

func TestMaterializeNotFoundWhenNoArtifactExists(t *testing.T) {
	dest := t.TempDir()
	mkEntry(t, dest, layout.FullPrefix+layout.FormatTimestamp(time.Now()))

	_, found, err := Materialize(dest, "missing.txt")
	require.NoError(t, err)
	assert.False(t, found)
}
