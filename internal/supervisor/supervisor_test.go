package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/trigger"
)

func TestFingerprintIsStableAndSensitiveToChange(t *testing.T) {
	cfg := config.Default()
	a := fingerprint(cfg)
	b := fingerprint(cfg)
	assert.Equal(t, a, b)

	cfg.MaxBackups = cfg.MaxBackups + 1
	assert.NotEqual(t, a, fingerprint(cfg))
}

func TestRejectOnceSuppressesRepeats(t *testing.T) {
	s := &Supervisor{}
	s.rejectOnce("fp-1", assertErr("bad config"))
	firstRejected := s.lastRejected
	s.rejectOnce("fp-1", assertErr("bad config again"))
	assert.Equal(t, firstRejected, s.lastRejected)

	s.rejectOnce("fp-2", assertErr("different bad config"))
	assert.Equal(t, "fp-2", s.lastRejected)
}

func TestHandleTriggerCoalescesWhileActive(t *testing.T) {
	s := &Supervisor{
		mgr:             mustManager(t),
		active:          make(map[string]bool),
		pending:         make(map[string]bool),
		pendingFromCron: make(map[string]bool),
	}

	s.mu.Lock()
	s.active["/src"] = true
	s.mu.Unlock()

	s.handleTrigger(context.Background(), "/src", false)

	s.mu.Lock()
	pending := s.pending["/src"]
	fromCron := s.pendingFromCron["/src"]
	s.mu.Unlock()
	assert.True(t, pending, "a trigger arriving while active must be coalesced into pending")
	assert.False(t, fromCron, "a watcher-origin trigger must not be recorded as cron-origin")
}

func TestHandleTriggerRecordsCronOriginWhileActive(t *testing.T) {
	s := &Supervisor{
		mgr:             mustManager(t),
		active:          make(map[string]bool),
		pending:         make(map[string]bool),
		pendingFromCron: make(map[string]bool),
	}

	s.mu.Lock()
	s.active["/src"] = true
	s.mu.Unlock()

	s.handleTrigger(context.Background(), "/src", true)

	s.mu.Lock()
	fromCron := s.pendingFromCron["/src"]
	s.mu.Unlock()
	assert.True(t, fromCron, "a cron-origin trigger arriving while active must be tracked so the rerun still respects the size gate")
}

func TestCheckReloadIgnoresUnchangedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	mgr, err := config.LoadOrCreate(path)
	require.NoError(t, err)

	s := &Supervisor{
		mgr:     mgr,
		pending: make(map[string]bool),
		active:  make(map[string]bool),
	}
	s.lastFingerprint = fingerprint(mgr.Get())

	before := s.lastFingerprint
	s.checkReload()
	assert.Equal(t, before, s.lastFingerprint)
}

func TestApplyConfigRemovesWatchForDroppedSource(t *testing.T) {
	sourceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "a.txt"), []byte("x"), 0o644))

	watch, err := trigger.NewWatcher()
	require.NoError(t, err)
	defer watch.Close()

	s := &Supervisor{
		mgr:     mustManager(t),
		watch:   watch,
		cron:    trigger.NewScheduler(),
		watched: make(map[string]bool),
		active:  make(map[string]bool),
		pending: make(map[string]bool),
	}

	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{
		SourceDir:         sourceDir,
		Enabled:           true,
		EnableEventDriven: boolPtr(true),
	}}
	s.applyConfig(cfg)
	assert.True(t, s.watched[sourceDir], "source with event-driven enabled must be tracked as watched")

	cfg.Sources = nil
	s.applyConfig(cfg)
	assert.False(t, s.watched[sourceDir], "dropping a source from config must remove its watch")
}

func TestApplyConfigRemovesWatchWhenEventDrivenDisabled(t *testing.T) {
	sourceDir := t.TempDir()

	watch, err := trigger.NewWatcher()
	require.NoError(t, err)
	defer watch.Close()

	s := &Supervisor{
		mgr:     mustManager(t),
		watch:   watch,
		cron:    trigger.NewScheduler(),
		watched: make(map[string]bool),
		active:  make(map[string]bool),
		pending: make(map[string]bool),
	}

	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{{
		SourceDir:         sourceDir,
		Enabled:           true,
		EnableEventDriven: boolPtr(true),
	}}
	s.applyConfig(cfg)
	require.True(t, s.watched[sourceDir])

	cfg.Sources[0].EnableEventDriven = boolPtr(false)
	s.applyConfig(cfg)
	assert.False(t, s.watched[sourceDir], "turning off event-driven triggering must remove the watch")
}

func boolPtr(b bool) *bool { return &b }

func mustManager(t *testing.T) *config.Manager {
	t.Helper()
	mgr, err := config.LoadOrCreate(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	return mgr
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
