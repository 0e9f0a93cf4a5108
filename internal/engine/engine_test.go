package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/metastore"
)

func newResolved(mode config.BackupMode) config.ResolvedSourceConfig {
	return config.ResolvedSourceConfig{
		MaxBackups:         10,
		BackupMode:         mode,
		FullBackupInterval: 9,
		EnablePeriodic:     true,
	}
}

func TestPerformRoundFirstRoundIsFull(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello"), 0o644))

	e := New(metastore.New())
	res := e.performRound(context.Background(), sourceDir, newResolved(config.ModeDelta), destination)

	require.NoError(t, res.Err)
	assert.Equal(t, config.HistoryFull, res.BackupType)
	assert.Equal(t, 1, res.FilesCount)

	history, err := e.Store.HistoryOf(destination)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, config.HistoryFull, history[0].BackupType)
	assert.Empty(t, history[0].IncChecksum)
}

func TestPerformRoundNoChangesStillCommitsEmptyIncremental(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello"), 0o644))

	e := New(metastore.New())
	resolved := newResolved(config.ModeDelta)
	first := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, first.Err)

	second := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, second.Err)
	assert.Equal(t, config.HistoryInc, second.BackupType)
	assert.Equal(t, 0, second.FilesCount)

	history, err := e.Store.HistoryOf(destination)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[1].IncChecksum)
}

func TestPerformRoundDeltaModeWritesDeltaForModifiedFile(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	filePath := filepath.Join(sourceDir, "a.txt")
	const size = 20 * 4096
	require.NoError(t, os.WriteFile(filePath, make([]byte, size), 0o644))

	e := New(metastore.New())
	resolved := newResolved(config.ModeDelta)
	first := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, first.Err)

	modified := make([]byte, size)
	modified[0] = 1
	require.NoError(t, os.WriteFile(filePath, modified, 0o644))

	second := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, second.Err)
	assert.Equal(t, 1, second.FilesCount)

	deltaPath := filepath.Join(destination, second.BackupName, "a.txt.delta")
	assert.FileExists(t, deltaPath)
}

func TestPerformRoundCopyModeNeverWritesDeltas(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	filePath := filepath.Join(sourceDir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, make([]byte, 8192), 0o644))

	e := New(metastore.New())
	resolved := newResolved(config.ModeCopy)
	first := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, first.Err)

	modified := make([]byte, 8192)
	modified[0] = 1
	require.NoError(t, os.WriteFile(filePath, modified, 0o644))

	second := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, second.Err)

	copyPath := filepath.Join(destination, second.BackupName, "a.txt")
	assert.FileExists(t, copyPath)
	assert.NoFileExists(t, copyPath+".delta")
}

func TestPerformRoundForceFullOverridesInterval(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello"), 0o644))

	e := New(metastore.New())
	resolved := newResolved(config.ModeDelta)
	first := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, first.Err)

	e.ForceFull(destination)
	second := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, second.Err)
	assert.Equal(t, config.HistoryFull, second.BackupType)
}

func TestDecideFullReachesAutoInterval(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("hello"), 0o644))

	e := New(metastore.New())
	resolved := newResolved(config.ModeDelta)
	resolved.FullBackupInterval = 1

	first := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, first.Err)
	require.Equal(t, config.HistoryFull, first.BackupType)

	second := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, second.Err)
	assert.Equal(t, config.HistoryInc, second.BackupType)

	third := e.performRound(context.Background(), sourceDir, resolved, destination)
	require.NoError(t, third.Err)
	assert.Equal(t, config.HistoryFull, third.BackupType)
}
