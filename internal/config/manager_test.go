package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateWritesDefaultsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	mgr, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, ModeDelta, mgr.Get().BackupMode)
}

func TestLoadOrCreateReadsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	mgr, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.NoError(t, mgr.Set("max_backups", "5"))

	reloaded, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, 5, reloaded.Get().MaxBackups)
}

func TestAddSourceRejectsRelativePath(t *testing.T) {
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	err = mgr.AddSource("relative/path", nil)
	assert.Error(t, err)
}

func TestAddAndRemoveSource(t *testing.T) {
	sourceDir := t.TempDir()
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	require.NoError(t, mgr.AddSource(sourceDir, nil))
	assert.Len(t, mgr.Get().Sources, 1)

	require.NoError(t, mgr.RemoveSource(sourceDir))
	assert.Empty(t, mgr.Get().Sources)
}

func TestAddBackupDirIsIdempotent(t *testing.T) {
	sourceDir := t.TempDir()
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSource(sourceDir, nil))

	backupDir := filepath.Join(t.TempDir(), "backup")
	require.NoError(t, mgr.AddBackupDir(sourceDir, backupDir))
	require.NoError(t, mgr.AddBackupDir(sourceDir, backupDir))

	assert.Equal(t, []string{backupDir}, mgr.Get().Sources[0].BackupDirs)
}

func TestSetSourceOverrideAndReset(t *testing.T) {
	sourceDir := t.TempDir()
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSource(sourceDir, nil))

	require.NoError(t, mgr.SetSource(sourceDir, "backup_mode", "copy"))
	resolved := mgr.Get().Sources[0].Resolve(mgr.Get())
	assert.Equal(t, ModeCopy, resolved.BackupMode)

	require.NoError(t, mgr.SetSource(sourceDir, "backup_mode", "reset"))
	resolved = mgr.Get().Sources[0].Resolve(mgr.Get())
	assert.Equal(t, mgr.Get().BackupMode, resolved.BackupMode)
}

func TestSetRejectsUnknownKey(t *testing.T) {
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Error(t, mgr.Set("not_a_real_key", "x"))
}

func TestResolveMergesSourceOverridesWithGlobalDefaults(t *testing.T) {
	global := Default()
	maxBackups := 3
	mode := ModeCopy
	src := SourceConfig{SourceDir: "/tmp/src", MaxBackups: &maxBackups, BackupMode: &mode}

	resolved := src.Resolve(global)
	assert.Equal(t, 3, resolved.MaxBackups)
	assert.Equal(t, ModeCopy, resolved.BackupMode)
	assert.Equal(t, global.CronSchedule, resolved.CronSchedule)
}

func TestEffectiveBackupDirsDefaultsToDotBackup(t *testing.T) {
	src := SourceConfig{SourceDir: "/tmp/src"}
	assert.Equal(t, []string{filepath.Join("/tmp/src", ".backup")}, src.EffectiveBackupDirs())
}

func TestAutoFullBackupInterval(t *testing.T) {
	assert.Equal(t, 1, AutoFullBackupInterval(0))
	assert.Equal(t, 1, AutoFullBackupInterval(1))
	assert.Equal(t, 9, AutoFullBackupInterval(10))
}

func TestManagerGetReturnsIndependentCopy(t *testing.T) {
	sourceDir := t.TempDir()
	mgr, err := LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	require.NoError(t, mgr.AddSource(sourceDir, nil))

	snapshot := mgr.Get()
	snapshot.Sources[0].Enabled = false

	assert.True(t, mgr.Get().Sources[0].Enabled)
}

func TestSettingsPathIsNextToExecutable(t *testing.T) {
	path, err := SettingsPath()
	require.NoError(t, err)
	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(exe), "settings.json"), path)
}
