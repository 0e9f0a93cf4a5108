// Package validate implements the startup pre-flight pass described in
// spec §4.5: global config sanity, per-source path legality, and
// per-destination force_full verdicts from history/disk reconciliation
// and delta-chain integrity.
package validate

import (
	"fmt"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"github.com/ardiex/ardiex/internal/artifact"
	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/deltacodec"
	"github.com/ardiex/ardiex/internal/errs"
	"github.com/ardiex/ardiex/internal/fsutil"
	"github.com/ardiex/ardiex/internal/hashutil"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Result is the outcome of validating one GlobalConfig: a destination set
// that must force a full round on its next backup, applicable only when
// All returned a nil error.
type Result struct {
	ForceFull map[string]bool
}

// All runs every global and per-source check, then the per-destination
// reconciliation pass, returning the first fatal Config error it finds, or
// a Result describing which destinations need a forced full round.
func All(cfg *config.GlobalConfig, store *metastore.Store) (*Result, error) {
	if _, err := cronParser.Parse(cfg.CronSchedule); err != nil {
		return nil, errs.New(errs.Config, "validate_global", fmt.Errorf("invalid cron_schedule %q: %w", cfg.CronSchedule, err))
	}
	if cfg.MaxBackups <= 0 {
		return nil, errs.New(errs.Config, "validate_global", fmt.Errorf("max_backups must be > 0"))
	}
	if cfg.MaxLogFileSizeMB <= 0 {
		return nil, errs.New(errs.Config, "validate_global", fmt.Errorf("max_log_file_size_mb must be > 0"))
	}

	seenSources := make(map[string]bool, len(cfg.Sources))
	result := &Result{ForceFull: make(map[string]bool)}

	for _, src := range cfg.Sources {
		if seenSources[src.SourceDir] {
			return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("duplicate source directory"))
		}
		seenSources[src.SourceDir] = true

		if !filepath.IsAbs(src.SourceDir) {
			return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("source path must be absolute"))
		}
		if !src.Enabled {
			continue
		}
		if !fsutil.Exists(src.SourceDir) {
			return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("source directory does not exist"))
		}
		if !fsutil.IsDir(src.SourceDir) {
			return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("source path is not a directory"))
		}
		if src.MaxBackups != nil && *src.MaxBackups <= 0 {
			return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("max_backups must be > 0"))
		}
		if src.CronSchedule != nil {
			if _, err := cronParser.Parse(*src.CronSchedule); err != nil {
				return nil, errs.WithSource(errs.Config, "validate_source", src.SourceDir, fmt.Errorf("invalid cron_schedule %q: %w", *src.CronSchedule, err))
			}
		}

		backupDirs := src.EffectiveBackupDirs()
		seenDirs := make(map[string]bool, len(backupDirs))
		for _, dest := range backupDirs {
			if !filepath.IsAbs(dest) {
				return nil, errs.WithDestination(errs.Config, "validate_source", src.SourceDir, dest, fmt.Errorf("backup path must be absolute"))
			}
			if seenDirs[dest] {
				return nil, errs.WithDestination(errs.Config, "validate_source", src.SourceDir, dest, fmt.Errorf("duplicate backup directory"))
			}
			seenDirs[dest] = true
			if dest == src.SourceDir {
				return nil, errs.WithDestination(errs.Config, "validate_source", src.SourceDir, dest, fmt.Errorf("backup directory cannot be the same as source"))
			}
			if !fsutil.Exists(dest) {
				if err := fsutil.EnsureDir(dest); err != nil {
					return nil, err
				}
			} else if !fsutil.IsDir(dest) {
				return nil, errs.WithDestination(errs.Config, "validate_source", src.SourceDir, dest, fmt.Errorf("backup path is not a directory"))
			}
		}

		resolved := src.Resolve(cfg)
		for _, dest := range backupDirs {
			result.ForceFull[dest] = needsForceFull(dest, resolved, store)
		}
	}

	return result, nil
}

// needsForceFull reconciles dest's on-disk entries against its recorded
// history, recomputes every inc_checksum, walks the delta chain, and
// checks the auto full-backup interval. Any failure forces a full round
// rather than aborting validation (spec §4.5: these checks are non-fatal).
func needsForceFull(dest string, resolved config.ResolvedSourceConfig, store *metastore.Store) bool {
	entries, err := layout.ListEntries(dest)
	if err != nil {
		return true
	}
	if len(entries) == 0 {
		return false
	}

	history, err := store.HistoryOf(dest)
	if err != nil {
		return true
	}
	if !historyMatchesDisk(entries, history) {
		return true
	}
	if !checksumsMatch(entries, history, resolved.BackupMode) {
		return true
	}
	if !deltaChainValid(dest, entries) {
		return true
	}

	if resolved.BackupMode == config.ModeDelta {
		count, err := store.CountIncSinceLastFull(dest)
		if err != nil || count >= resolved.FullBackupInterval {
			return true
		}
	}
	return false
}

func historyMatchesDisk(entries []layout.Entry, history []config.BackupHistoryEntry) bool {
	if len(entries) != len(history) {
		return false
	}
	byName := make(map[string]bool, len(history))
	for _, h := range history {
		byName[h.BackupName] = true
	}
	for _, e := range entries {
		if !byName[e.Name] {
			return false
		}
	}
	return true
}

func checksumsMatch(entries []layout.Entry, history []config.BackupHistoryEntry, mode config.BackupMode) bool {
	historyByName := make(map[string]config.BackupHistoryEntry, len(history))
	for _, h := range history {
		historyByName[h.BackupName] = h
	}

	for _, e := range entries {
		if e.IsFull {
			continue
		}
		h, ok := historyByName[e.Name]
		if !ok || h.IncChecksum == "" {
			continue
		}
		records, err := snapshotRecords(e.Path, mode)
		if err != nil {
			return false
		}
		if artifact.Checksum(records) != h.IncChecksum {
			return false
		}
	}
	return true
}

// snapshotRecords re-derives the artifact.Record set for an on-disk inc_*
// directory, mirroring exactly what the engine recorded when it wrote
// these artifacts (spec §4.6 step g). mode decides the Kind assigned to
// non-delta artifacts. A delta artifact's ArtifactSHA is the hash of the
// logical reconstructed file content (delta.NewHash), the same value
// writeArtifact records at write time — not a hash of the serialized
// .delta blob on disk, which is a different value entirely.
func snapshotRecords(dir string, mode config.BackupMode) ([]artifact.Record, error) {
	wholeKind := artifact.KindWhole
	if mode == config.ModeCopy {
		wholeKind = artifact.KindCopy
	}

	var records []artifact.Record
	err := walkArtifacts(dir, func(relPath, absPath string, isDelta bool) error {
		kind := wholeKind
		h := ""
		if isDelta {
			kind = artifact.KindDelta
			relPath = relPath[:len(relPath)-len(deltaExt)]
			d, err := deltacodec.Load(absPath)
			if err != nil {
				return err
			}
			h = d.NewHash
		} else {
			fileHash, err := hashutil.HashFile(absPath)
			if err != nil {
				return err
			}
			h = fileHash
		}
		records = append(records, artifact.Record{RelPath: relPath, Kind: kind, ArtifactSHA: h})
		return nil
	})
	return records, err
}

func deltaChainValid(dest string, entries []layout.Entry) bool {
	haveFull := false
	for _, e := range entries {
		if e.IsFull {
			haveFull = true
			break
		}
	}
	if !haveFull {
		// An incremental-only chain with no full base can't be trusted.
		for _, e := range entries {
			if !e.IsFull {
				return false
			}
		}
		return true
	}

	ok := true
	for _, e := range entries {
		if e.IsFull {
			continue
		}
		walkErr := walkArtifacts(e.Path, func(relPath, absPath string, isDelta bool) error {
			if !isDelta {
				return nil
			}
			d, err := deltacodec.Load(absPath)
			if err != nil {
				return err
			}
			targetRel := relPath[:len(relPath)-len(deltaExt)]
			base, found, err := priorVersion(dest, entries, e, targetRel)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("delta %s has no prior base", relPath)
			}
			if hashutil.HashBytes(base) != d.OriginalHash {
				return fmt.Errorf("delta %s original_hash mismatch", relPath)
			}
			return nil
		})
		if walkErr != nil {
			ok = false
			break
		}
	}
	return ok
}
