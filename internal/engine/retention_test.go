package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
)

// TestApplyRetentionEvictsWholeChains reproduces spec §8 scenario 3:
// max_backups=3, full_backup_interval=2, four rounds producing
// full, inc, inc, full. Retention must evict the oldest full together
// with both incrementals that depend on it, never landing mid-chain.
// performRound runs its own retention pass, so the rounds use a budget of
// maxBackups+1 to keep all four entries for the explicit call below.
func TestApplyRetentionEvictsWholeChains(t *testing.T) {
	sourceDir := t.TempDir()
	destination := t.TempDir()
	path := filepath.Join(sourceDir, "a.txt")

	const maxBackups = 3
	resolved := config.ResolvedSourceConfig{
		MaxBackups:         maxBackups + 1,
		BackupMode:         config.ModeDelta,
		FullBackupInterval: 2,
		EnablePeriodic:     true,
	}

	store := metastore.New()
	e := New(store)

	for i := 0; i < 4; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i), byte(i), byte(i)}, 0o644))
		res := e.performRound(context.Background(), sourceDir, resolved, destination)
		require.NoError(t, res.Err)
	}

	entries, err := layout.ListEntries(destination)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.True(t, entries[0].IsFull)
	require.False(t, entries[1].IsFull)
	require.False(t, entries[2].IsFull)
	require.True(t, entries[3].IsFull)

	require.NoError(t, ApplyRetention(store, destination, maxBackups))

	remaining, err := layout.ListEntries(destination)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].IsFull, "eviction must never leave an orphan incremental on disk")

	history, err := store.HistoryOf(destination)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, config.HistoryFull, history[0].BackupType, "history must begin with a full entry after eviction")
	assert.Equal(t, remaining[0].Name, history[0].BackupName)
}

func TestApplyRetentionNoopWithinBudget(t *testing.T) {
	destination := t.TempDir()
	store := metastore.New()
	require.NoError(t, os.MkdirAll(filepath.Join(destination, "full_20260101_000000.000"), 0o755))

	require.NoError(t, ApplyRetention(store, destination, 3))

	entries, err := layout.ListEntries(destination)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
