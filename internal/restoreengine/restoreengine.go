// Package restoreengine reconstructs a source tree at a chosen point in
// time by applying a full snapshot and replaying incrementals up to that
// point (spec §4.7).
package restoreengine

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardiex/ardiex/internal/chain"
	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/deltacodec"
	"github.com/ardiex/ardiex/internal/errs"
	"github.com/ardiex/ardiex/internal/fsutil"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
)

// ListBackups returns destination's full_*/inc_* entries ordered by
// timestamp ascending.
func ListBackups(destination string) ([]layout.Entry, error) {
	return layout.ListEntries(destination)
}

// RestoreToPoint applies the most recent full_* with timestamp <= point
// (or the latest full when hasPoint is false) and every inc_* after
// it up to and including point, into target. It returns the number of
// distinct files restored; a file that a later round deleted is not
// counted.
func RestoreToPoint(store *metastore.Store, destination, target string, point layout.Entry, hasPoint bool) (int, error) {
	entries, err := layout.ListEntries(destination)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, errs.WithDestination(errs.Config, "restore", "", destination, errNoMatch("no backups found"))
	}

	toApply, err := selectEntries(entries, point, hasPoint)
	if err != nil {
		return 0, err
	}

	if err := fsutil.EnsureDir(target); err != nil {
		return 0, err
	}

	history, err := store.HistoryOf(destination)
	if err != nil {
		return 0, err
	}
	historyByName := make(map[string]config.BackupHistoryEntry, len(history))
	for _, h := range history {
		historyByName[h.BackupName] = h
	}

	restored := make(map[string]bool)
	for i, e := range toApply {
		n, err := applyEntry(e, target, restored)
		if err != nil {
			return len(restored), err
		}
		if h, ok := historyByName[e.Name]; ok {
			applyDeletions(target, h.DeletedFiles)
			for _, rel := range h.DeletedFiles {
				delete(restored, rel)
			}
		}
		log.Printf("restore: progress %d%% - applied %s (%d files)", ((i + 1) * 100) / len(toApply), e.Name, n)
	}
	return len(restored), nil
}

func selectEntries(entries []layout.Entry, point layout.Entry, hasPoint bool) ([]layout.Entry, error) {
	cutoff := point.Timestamp
	if !hasPoint {
		cutoff = entries[len(entries)-1].Timestamp
	}

	fullIdx := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsFull && !entries[i].Timestamp.After(cutoff) {
			fullIdx = i
			break
		}
	}
	if fullIdx == -1 {
		return nil, errs.New(errs.Config, "restore", errNoMatch("no full backup found before restore point"))
	}

	result := []layout.Entry{entries[fullIdx]}
	for _, e := range entries[fullIdx+1:] {
		if e.IsFull {
			continue
		}
		if e.Timestamp.After(cutoff) {
			break
		}
		result = append(result, e)
	}
	return result, nil
}

// applyEntry restores one full_*/inc_* directory's contents into target,
// adding each restored relative path to restored.
func applyEntry(e layout.Entry, target string, restored map[string]bool) (int, error) {
	count := 0
	err := filepathWalk(e.Path, func(path string) {
		rel, relErr := filepath.Rel(e.Path, path)
		if relErr != nil {
			return
		}
		rel = filepath.ToSlash(rel)

		if strings.HasSuffix(rel, chain.DeltaSuffix) {
			origRel := strings.TrimSuffix(rel, chain.DeltaSuffix)
			targetFile := filepath.Join(target, origRel)
			if err := applyDeltaArtifact(path, targetFile); err != nil {
				log.Printf("restore: skip %s: %v", rel, err)
				return
			}
			restored[origRel] = true
			count++
			return
		}

		targetFile := filepath.Join(target, rel)
		if _, err := fsutil.CopyFile(path, targetFile); err != nil {
			log.Printf("restore: skip %s: %v", rel, err)
			return
		}
		restored[rel] = true
		count++
	})
	return count, err
}

func applyDeltaArtifact(deltaPath, targetFile string) error {
	d, err := deltacodec.Load(deltaPath)
	if err != nil {
		return err
	}

	var base []byte
	if fsutil.Exists(targetFile) {
		content, err := os.ReadFile(targetFile)
		if err != nil {
			return errs.WithSource(errs.Io, "restore_apply_delta", targetFile, err)
		}
		base = content
	}

	result, err := deltacodec.ApplyBytes(base, d)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(targetFile, result, 0o644)
}

// applyDeletions removes from target every relative path recorded as
// deleted by this round, reproducing source-side deletions that the
// original spec's incrementals did not encode (see SPEC_FULL.md §3).
func applyDeletions(target string, deletedFiles []string) {
	for _, rel := range deletedFiles {
		path := filepath.Join(target, filepath.FromSlash(rel))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("restore: failed to remove deleted file %s: %v", rel, err)
		}
	}
}

func filepathWalk(dir string, fn func(path string)) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		fn(path)
		return nil
	})
}

type restoreErr string

func (e restoreErr) Error() string { return string(e) }

func errNoMatch(msg string) error { return restoreErr(msg) }
