// Package metastore owns the per-destination metadata.json ledger (spec
// §4.3): one SourceMetadata per (source, destination) pair, loaded once and
// kept in memory, written atomically at the end of every successful round.
// History is scoped by destination because the same source can have
// different chains across its backup_dirs.
package metastore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/errs"
)

// Store caches one *config.SourceMetadata per destination directory. Every
// method is keyed by destination alone, because that's the directory whose
// metadata.json the entry is persisted to.
type Store struct {
	mu      sync.Mutex
	entries map[string]*config.SourceMetadata // destination -> metadata
}

func New() *Store {
	return &Store{entries: make(map[string]*config.SourceMetadata)}
}

func metadataPath(destination string) string {
	return filepath.Join(destination, "metadata.json")
}

// Load reads destination's metadata.json into the cache if not already
// loaded, returning the cached value either way.
func (s *Store) Load(destination string) (*config.SourceMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(destination)
}

func (s *Store) loadLocked(destination string) (*config.SourceMetadata, error) {
	if m, ok := s.entries[destination]; ok {
		return m, nil
	}

	path := metadataPath(destination)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		m := config.NewSourceMetadata()
		s.entries[destination] = m
		return m, nil
	case err != nil:
		return nil, errs.WithDestination(errs.Io, "load_metadata", "", destination, err)
	}

	var m config.SourceMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.WithDestination(errs.Corrupt, "load_metadata", "", destination, err)
	}
	if m.FileHashes == nil {
		m.FileHashes = make(map[string]string)
	}
	s.entries[destination] = &m
	return &m, nil
}

// GetSource returns the cached (or freshly loaded) metadata for
// destination.
func (s *Store) GetSource(destination string) (*config.SourceMetadata, error) {
	return s.Load(destination)
}

// ReplaceHashes overwrites the file-hash map for destination's metadata.
func (s *Store) ReplaceHashes(destination string, hashes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked(destination)
	if err != nil {
		return err
	}
	m.FileHashes = hashes
	return nil
}

// UpsertHistory appends entry to destination's history (replacing any
// existing entry with the same BackupName), updating LastBackup and, for
// full entries, LastFullBackup.
func (s *Store) UpsertHistory(destination string, entry config.BackupHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked(destination)
	if err != nil {
		return err
	}

	filtered := m.BackupHistory[:0:0]
	for _, e := range m.BackupHistory {
		if e.BackupName != entry.BackupName {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, entry)
	m.BackupHistory = filtered

	createdAt := entry.CreatedAt
	m.LastBackup = &createdAt
	if entry.BackupType == config.HistoryFull {
		m.LastFullBackup = &createdAt
	}
	return nil
}

// HistoryOf returns destination's backup history, ordered by CreatedAt.
func (s *Store) HistoryOf(destination string) ([]config.BackupHistoryEntry, error) {
	m, err := s.Load(destination)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.BackupHistoryEntry, len(m.BackupHistory))
	copy(out, m.BackupHistory)
	return out, nil
}

// LatestFullIndex returns the index of the most recent full entry in
// destination's history, or -1 if there is none.
func (s *Store) LatestFullIndex(destination string) (int, error) {
	history, err := s.HistoryOf(destination)
	if err != nil {
		return -1, err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].BackupType == config.HistoryFull {
			return i, nil
		}
	}
	return -1, nil
}

// CountIncSinceLastFull counts incremental entries after the most recent
// full entry in destination's history (spec §4.5's auto full-interval
// check).
func (s *Store) CountIncSinceLastFull(destination string) (int, error) {
	history, err := s.HistoryOf(destination)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].BackupType == config.HistoryFull {
			break
		}
		count++
	}
	return count, nil
}

// Persist writes destination's cached metadata to disk atomically.
func (s *Store) Persist(destination string) error {
	s.mu.Lock()
	m, ok := s.entries[destination]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.WithDestination(errs.Io, "save_metadata", "", destination, err)
	}

	path := metadataPath(destination)
	tmp := path + ".tmp"
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return errs.WithDestination(errs.Io, "save_metadata", "", destination, err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.WithDestination(errs.Io, "save_metadata", "", destination, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.WithDestination(errs.Io, "save_metadata", "", destination, err)
	}
	return nil
}

// DropCache removes destination's cached metadata, forcing the next Load
// to re-read from disk. Used by the validator's history-reconciliation
// pass when disk and ledger disagree.
func (s *Store) DropCache(destination string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, destination)
}

// ReplaceHistory overwrites destination's entire history in one step,
// used when reconciling the ledger against what's actually on disk.
func (s *Store) ReplaceHistory(destination string, history []config.BackupHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked(destination)
	if err != nil {
		return err
	}
	m.BackupHistory = history
	return nil
}
