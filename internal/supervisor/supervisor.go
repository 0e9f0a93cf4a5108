// Package supervisor runs Ardiex's long-lived `run` command: a select
// loop over trigger messages, a 2s settings.json hot-reload tick, and
// shutdown, fanning both cron and FS-event triggers into the engine
// (spec §4.8, §4.9, §5).
package supervisor

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/engine"
	"github.com/ardiex/ardiex/internal/hashutil"
	"github.com/ardiex/ardiex/internal/metastore"
	"github.com/ardiex/ardiex/internal/trigger"
	"github.com/ardiex/ardiex/internal/validate"
)

const reloadTick = 2 * time.Second

// Supervisor owns the cron scheduler, the FS watcher, and the engine,
// and keeps them all in sync with whatever settings.json currently says.
type Supervisor struct {
	mgr    *config.Manager
	engine *engine.Engine

	cron     *trigger.Scheduler
	watch    *trigger.Watcher
	sizeGate *trigger.SizeGate

	mu      sync.Mutex
	pending map[string]bool // sources with a coalesced trigger waiting behind an in-flight round
	// pendingFromCron records whether any trigger coalesced into pending[dir]
	// originated from the cron scheduler, so the rerun still respects the
	// size gate if it does (spec §4.8: the gate is cron's wait, not the
	// FS watcher's).
	pendingFromCron map[string]bool
	active          map[string]bool // sources with a round currently running
	watched         map[string]bool // sources the FS watcher currently has a watch on
	lastFingerprint string
	lastRejected    string
}

func New(mgr *config.Manager, store *metastore.Store) (*Supervisor, error) {
	watch, err := trigger.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		mgr:             mgr,
		engine:          engine.New(store),
		cron:            trigger.NewScheduler(),
		watch:           watch,
		sizeGate:        trigger.NewSizeGate(),
		pending:         make(map[string]bool),
		pendingFromCron: make(map[string]bool),
		active:          make(map[string]bool),
		watched:         make(map[string]bool),
	}, nil
}

// Run validates the current config, wires up triggers for it, and blocks
// in the select loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	cfg := s.mgr.Get()
	result, err := validate.All(cfg, s.engine.Store)
	if err != nil {
		return err
	}
	for dest, forced := range result.ForceFull {
		if forced {
			s.engine.ForceFull(dest)
		}
	}
	s.applyConfig(cfg)
	s.lastFingerprint = fingerprint(cfg)

	s.cron.Start()
	defer s.cron.Stop()
	defer s.watch.Close()

	ticker := time.NewTicker(reloadTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.waitActive()
			return nil
		case sourceDir := <-s.cron.Fires:
			s.handleTrigger(ctx, sourceDir, true)
		case sourceDir := <-s.watch.Fires:
			s.handleTrigger(ctx, sourceDir, false)
		case <-ticker.C:
			s.checkReload()
		}
	}
}

// handleTrigger runs a backup round for sourceDir in the background,
// coalescing any trigger that arrives while a round for that source is
// already active into a single pending follow-up round (spec §5).
// fromCron marks whether this particular trigger came from the cron
// scheduler rather than the FS watcher.
func (s *Supervisor) handleTrigger(ctx context.Context, sourceDir string, fromCron bool) {
	s.mu.Lock()
	if s.active[sourceDir] {
		s.pending[sourceDir] = true
		if fromCron {
			s.pendingFromCron[sourceDir] = true
		}
		s.mu.Unlock()
		return
	}
	s.active[sourceDir] = true
	s.mu.Unlock()

	go s.runSource(ctx, sourceDir, fromCron)
}

func (s *Supervisor) runSource(ctx context.Context, sourceDir string, fromCron bool) {
	defer func() {
		s.mu.Lock()
		s.active[sourceDir] = false
		rerun := s.pending[sourceDir]
		rerunFromCron := s.pendingFromCron[sourceDir]
		delete(s.pending, sourceDir)
		delete(s.pendingFromCron, sourceDir)
		s.mu.Unlock()
		if rerun {
			s.handleTrigger(ctx, sourceDir, rerunFromCron)
		}
	}()

	cfg := s.mgr.Get()
	var src *config.SourceConfig
	for i := range cfg.Sources {
		if cfg.Sources[i].SourceDir == sourceDir {
			src = &cfg.Sources[i]
			break
		}
	}
	if src == nil || !src.Enabled {
		return
	}

	resolved := src.Resolve(cfg)
	if fromCron && resolved.EnablePeriodic && cfg.EnableMinIntervalBySize {
		s.sizeGate.Wait(sourceDir)
	}

	for _, res := range s.engine.BackupSource(ctx, cfg, *src) {
		if res.Err != nil {
			log.Printf("supervisor: round failed for %s -> %s: %v", res.SourceDir, res.Destination, res.Err)
			continue
		}
		log.Printf("supervisor: %s round for %s -> %s complete: %d files, %d bytes",
			res.BackupType, res.SourceDir, res.Destination, res.FilesCount, res.Bytes)
	}
}

func (s *Supervisor) waitActive() {
	for {
		s.mu.Lock()
		anyActive := false
		for _, active := range s.active {
			if active {
				anyActive = true
				break
			}
		}
		s.mu.Unlock()
		if !anyActive {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// checkReload implements spec §4.8's hot-reload: re-read settings.json,
// and if its fingerprint changed, validate the candidate and either
// apply it or remember the bad fingerprint to suppress duplicate
// rejection logs.
func (s *Supervisor) checkReload() {
	path, err := config.SettingsPath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var candidate config.GlobalConfig
	if err := json.Unmarshal(data, &candidate); err != nil {
		s.rejectOnce(fingerprintBytes(data), err)
		return
	}

	fp := fingerprint(&candidate)
	if fp == s.lastFingerprint {
		return
	}

	if _, err := validate.All(&candidate, s.engine.Store); err != nil {
		s.rejectOnce(fp, err)
		return
	}

	reloaded, err := config.LoadOrCreate(path)
	if err != nil {
		s.rejectOnce(fp, err)
		return
	}
	s.mgr = reloaded
	s.applyConfig(reloaded.Get())
	s.lastFingerprint = fp
	s.lastRejected = ""
	log.Printf("[HOT-RELOAD] Applied successfully")
	snapshot, _ := json.MarshalIndent(reloaded.Get(), "", "  ")
	log.Printf("[CONFIG] %s", snapshot)
}

func (s *Supervisor) rejectOnce(fp string, err error) {
	if fp == s.lastRejected {
		return
	}
	s.lastRejected = fp
	log.Printf("[HOT-RELOAD] Rejected invalid configuration: %v", err)
}

// applyConfig reconciles the cron scheduler and FS watcher with cfg: any
// source no longer present, disabled, or with event-driven triggering
// turned off has its watch torn down, same as Scheduler.Sync does for cron
// jobs (spec §4.8's "rebuild them from the new config").
func (s *Supervisor) applyConfig(cfg *config.GlobalConfig) {
	schedules := make(map[string]string)
	wantWatched := make(map[string]bool)

	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		resolved := src.Resolve(cfg)

		if resolved.EnablePeriodic {
			schedules[src.SourceDir] = resolved.CronSchedule
		}
		if resolved.EnableEventDriven {
			wantWatched[src.SourceDir] = true
			backupDirs := src.EffectiveBackupDirs()
			if err := s.watch.AddSource(src.SourceDir, resolved.ExcludePatterns, backupDirs); err != nil {
				log.Printf("supervisor: failed to watch %s: %v", src.SourceDir, err)
				continue
			}
			s.watched[src.SourceDir] = true
		}
	}

	for sourceDir := range s.watched {
		if !wantWatched[sourceDir] {
			s.watch.RemoveSource(sourceDir)
			delete(s.watched, sourceDir)
		}
	}

	s.cron.Sync(schedules)
}

// fingerprint hashes cfg's normalized JSON encoding, used by hot-reload
// to detect whether settings.json actually changed (spec's Fingerprint
// glossary entry).
func fingerprint(cfg *config.GlobalConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	return fingerprintBytes(data)
}

func fingerprintBytes(data []byte) string {
	return hashutil.HashBytes(data)
}
