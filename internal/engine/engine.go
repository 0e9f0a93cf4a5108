// Package engine performs backup rounds: scanning a source, deciding
// which files changed, writing the appropriate artifacts into a new
// full_*/inc_* directory, and updating that destination's metadata
// ledger (spec §4.4-§4.6).
package engine

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/ardiex/ardiex/internal/artifact"
	"github.com/ardiex/ardiex/internal/chain"
	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/deltacodec"
	"github.com/ardiex/ardiex/internal/errs"
	"github.com/ardiex/ardiex/internal/fsutil"
	"github.com/ardiex/ardiex/internal/hashutil"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
	"github.com/ardiex/ardiex/internal/scanner"
)

// BackupResult summarizes one completed (or failed) round for one
// destination.
type BackupResult struct {
	SourceDir   string
	Destination string
	BackupName  string
	BackupType  config.BackupHistoryType
	FilesCount  int
	Bytes       int64
	Duration    time.Duration
	Err         error
}

// Engine orchestrates rounds across sources and destinations, holding the
// per-destination locks that keep at most one round active per
// destination (spec §5) and the metadata cache shared across rounds.
type Engine struct {
	Store *metastore.Store

	mu        sync.Mutex
	destLocks map[string]*sync.Mutex
	forceFull map[string]bool // destination -> next round must be full
}

func New(store *metastore.Store) *Engine {
	return &Engine{
		Store:     store,
		destLocks: make(map[string]*sync.Mutex),
		forceFull: make(map[string]bool),
	}
}

// ForceFull marks destination as requiring a full round on its next
// backup, regardless of the auto-interval. Used by the validator when
// disk/ledger reconciliation finds the chain can't be trusted.
func (e *Engine) ForceFull(destination string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceFull[destination] = true
}

func (e *Engine) destLock(destination string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.destLocks[destination]
	if !ok {
		l = &sync.Mutex{}
		e.destLocks[destination] = l
	}
	return l
}

func (e *Engine) takeForceFull(destination string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forceFull[destination] {
		delete(e.forceFull, destination)
		return true
	}
	return false
}

// BackupAllSources runs one round per enabled source against each of its
// destinations. Sources run concurrently with each other; a single
// source's destinations are processed sequentially (spec §4.6).
func (e *Engine) BackupAllSources(ctx context.Context, cfg *config.GlobalConfig) []BackupResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []BackupResult
	)

	for i := range cfg.Sources {
		src := cfg.Sources[i]
		if !src.Enabled {
			continue
		}
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()
			resolved := src.Resolve(cfg)
			for _, dest := range src.EffectiveBackupDirs() {
				res := e.performRound(ctx, src.SourceDir, resolved, dest)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				if res.Err != nil {
					log.Printf("backup: %s -> %s: %v", src.SourceDir, dest, res.Err)
				}
			}
		}(src)
	}

	wg.Wait()
	return results
}

// BackupSource runs a round for one source against all of its
// destinations, sequentially. Used for a one-shot `ardiex backup --target`
// invocation and by the supervisor's per-source rounds.
func (e *Engine) BackupSource(ctx context.Context, cfg *config.GlobalConfig, src config.SourceConfig) []BackupResult {
	resolved := src.Resolve(cfg)
	results := make([]BackupResult, 0, len(src.EffectiveBackupDirs()))
	for _, dest := range src.EffectiveBackupDirs() {
		results = append(results, e.performRound(ctx, src.SourceDir, resolved, dest))
	}
	return results
}

// performRound implements spec §4.6 steps a-l for one (source,
// destination) pair.
func (e *Engine) performRound(ctx context.Context, sourceDir string, resolved config.ResolvedSourceConfig, destination string) BackupResult {
	start := time.Now()
	lock := e.destLock(destination)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: errs.New(errs.Cancelled, "backup_round", err)}
	}

	if err := fsutil.EnsureDir(destination); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: err}
	}

	meta, err := e.Store.Load(destination)
	if err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: err}
	}

	isFull, err := e.decideFull(destination, resolved)
	if err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: err}
	}

	files, err := scanner.Scan(sourceDir, resolved.ExcludePatterns)
	if err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: errs.WithDestination(errs.Io, "backup_round", sourceDir, destination, err)}
	}
	hashes, err := scanner.HashAll(files)
	if err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, Err: errs.WithDestination(errs.Io, "backup_round", sourceDir, destination, err)}
	}

	var changed []scanner.File
	var deleted []string
	if isFull {
		changed = files
	} else {
		cs := scanner.DetectChanges(files, hashes, meta.FileHashes)
		changed = cs.Changed
		deleted = cs.Deleted
	}

	backupName := layout.NextBackupName(destination, isFull)
	roundDir := filepath.Join(destination, backupName)
	if err := fsutil.EnsureDir(roundDir); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, BackupName: backupName, Err: err}
	}

	records := make([]artifact.Record, 0, len(changed))
	var bytesWritten int64
	for _, f := range changed {
		if err := ctx.Err(); err != nil {
			return BackupResult{SourceDir: sourceDir, Destination: destination, BackupName: backupName, Err: errs.New(errs.Cancelled, "backup_round", err)}
		}
		rec, n, writeErr := e.writeArtifact(sourceDir, destination, roundDir, f, isFull, resolved.BackupMode)
		if writeErr != nil {
			// Per-file failures are logged and skipped; the round continues
			// with the file's previous hash left untouched so the next
			// round retries it (spec §7: Warn never aborts a round).
			log.Printf("backup: skip %s: %v", f.RelPath, writeErr)
			delete(hashes, f.RelPath)
			if prev, ok := meta.FileHashes[f.RelPath]; ok {
				hashes[f.RelPath] = prev
			}
			continue
		}
		records = append(records, rec)
		bytesWritten += n
	}

	entry := config.BackupHistoryEntry{
		BackupName:     backupName,
		CreatedAt:      start,
		FilesBackedUp:  len(records),
		BytesProcessed: bytesWritten,
		DeletedFiles:   deleted,
	}
	if isFull {
		entry.BackupType = config.HistoryFull
	} else {
		entry.BackupType = config.HistoryInc
		entry.IncChecksum = artifact.Checksum(records)
	}

	if err := e.Store.ReplaceHashes(destination, hashes); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, BackupName: backupName, Err: err}
	}
	if err := e.Store.UpsertHistory(destination, entry); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, BackupName: backupName, Err: err}
	}
	if err := e.Store.Persist(destination); err != nil {
		return BackupResult{SourceDir: sourceDir, Destination: destination, BackupName: backupName, Err: err}
	}

	if err := ApplyRetention(e.Store, destination, resolved.MaxBackups); err != nil {
		log.Printf("backup: retention eviction failed for %s: %v", destination, err)
	}

	return BackupResult{
		SourceDir:   sourceDir,
		Destination: destination,
		BackupName:  backupName,
		BackupType:  entry.BackupType,
		FilesCount:  len(records),
		Bytes:       bytesWritten,
		Duration:    time.Since(start),
	}
}

// decideFull implements spec §4.5: a round is full if forced, if the
// destination has no prior full backup, or if the auto full-backup
// interval has been reached.
func (e *Engine) decideFull(destination string, resolved config.ResolvedSourceConfig) (bool, error) {
	if e.takeForceFull(destination) {
		return true, nil
	}
	idx, err := e.Store.LatestFullIndex(destination)
	if err != nil {
		return false, err
	}
	if idx == -1 {
		return true, nil
	}
	count, err := e.Store.CountIncSinceLastFull(destination)
	if err != nil {
		return false, err
	}
	return count >= resolved.FullBackupInterval, nil
}

// writeArtifact stores one changed file into roundDir, returning the
// artifact.Record describing what was written and the number of bytes
// written to disk for it.
func (e *Engine) writeArtifact(sourceDir, destination, roundDir string, f scanner.File, isFull bool, mode config.BackupMode) (artifact.Record, int64, error) {
	dstPath := filepath.Join(roundDir, f.RelPath)

	if isFull || mode == config.ModeCopy {
		n, err := fsutil.CopyFile(f.AbsPath, dstPath)
		if err != nil {
			return artifact.Record{}, 0, err
		}
		kind := artifact.KindWhole
		if !isFull {
			kind = artifact.KindCopy
		}
		return artifact.Record{RelPath: f.RelPath, Kind: kind, ArtifactSHA: mustHash(dstPath)}, n, nil
	}

	// Delta mode incremental: diff against the latest materialized version
	// of this file across the destination's prior snapshots.
	base, found, err := chain.Materialize(destination, f.RelPath)
	if err != nil {
		return artifact.Record{}, 0, err
	}
	if !found {
		n, err := fsutil.CopyFile(f.AbsPath, dstPath)
		if err != nil {
			return artifact.Record{}, 0, err
		}
		return artifact.Record{RelPath: f.RelPath, Kind: artifact.KindWhole, ArtifactSHA: mustHash(dstPath)}, n, nil
	}

	delta, err := deltacodec.CreateBytes(base, f.AbsPath)
	if err != nil {
		return artifact.Record{}, 0, err
	}
	deltaSize, err := deltacodec.Size(delta)
	if err != nil {
		return artifact.Record{}, 0, err
	}

	// A delta is discarded once it reaches half the whole file's size (spec
	// §4.2: delta size >= 0.5 * new file size), comparing cross-multiplied
	// to avoid integer-division rounding at the boundary.
	if 2*deltaSize >= f.Size {
		n, err := fsutil.CopyFile(f.AbsPath, dstPath)
		if err != nil {
			return artifact.Record{}, 0, err
		}
		return artifact.Record{RelPath: f.RelPath, Kind: artifact.KindWhole, ArtifactSHA: mustHash(dstPath)}, n, nil
	}

	if err := fsutil.EnsureDir(filepath.Dir(dstPath)); err != nil {
		return artifact.Record{}, 0, err
	}
	deltaPath := dstPath + chain.DeltaSuffix
	if err := deltacodec.Save(delta, deltaPath); err != nil {
		return artifact.Record{}, 0, err
	}
	return artifact.Record{RelPath: f.RelPath, Kind: artifact.KindDelta, ArtifactSHA: delta.NewHash}, deltaSize, nil
}

func mustHash(path string) string {
	h, err := hashutil.HashFile(path)
	if err != nil {
		return ""
	}
	return h
}
