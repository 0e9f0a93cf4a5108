// Package config defines Ardiex's settings.json schema (spec §3) and the
// manager that loads, mutates, and persists it.
package config

import (
	"path/filepath"
	"time"
)

// BackupMode selects whether incrementals store whole-file copies or
// block-level deltas against the most recent preceding version.
type BackupMode string

const (
	ModeDelta BackupMode = "delta"
	ModeCopy  BackupMode = "copy"
)

// GlobalConfig is the root of settings.json.
type GlobalConfig struct {
	Sources                 []SourceConfig           `json:"sources"`
	EnablePeriodic          bool                     `json:"enable_periodic"`
	EnableEventDriven       bool                     `json:"enable_event_driven"`
	ExcludePatterns         []string                 `json:"exclude_patterns"`
	MaxBackups              int                      `json:"max_backups"`
	MaxLogFileSizeMB        int64                    `json:"max_log_file_size_mb"`
	BackupMode              BackupMode               `json:"backup_mode"`
	CronSchedule            string                   `json:"cron_schedule"`
	EnableMinIntervalBySize bool                     `json:"enable_min_interval_by_size"`
	Metadata                map[string]SourceSummary `json:"metadata"`
}

// SourceSummary is the denormalized, display-only snapshot of a source kept
// in settings.json under "metadata" keyed by absolute source path, used by
// `config list`. The authoritative per-destination ledger lives in each
// backup directory's own metadata.json (spec §4.3, §6) and is owned by
// package metastore, not by this struct.
type SourceSummary struct {
	LastFullBackup *time.Time `json:"last_full_backup,omitempty"`
	LastBackup     *time.Time `json:"last_backup,omitempty"`
}

// SourceConfig describes one backed-up directory. Any override field left
// nil falls back to the corresponding GlobalConfig value via Resolve.
type SourceConfig struct {
	SourceDir         string      `json:"source_dir"`
	BackupDirs        []string    `json:"backup_dirs"`
	Enabled           bool        `json:"enabled"`
	ExcludePatterns   []string    `json:"exclude_patterns,omitempty"`
	MaxBackups        *int        `json:"max_backups,omitempty"`
	BackupMode        *BackupMode `json:"backup_mode,omitempty"`
	CronSchedule      *string     `json:"cron_schedule,omitempty"`
	EnableEventDriven *bool       `json:"enable_event_driven,omitempty"`
	EnablePeriodic    *bool       `json:"enable_periodic,omitempty"`
}

// EffectiveBackupDirs returns BackupDirs, or a single implicit
// "<source_dir>/.backup" when none were configured.
func (s *SourceConfig) EffectiveBackupDirs() []string {
	if len(s.BackupDirs) == 0 {
		return []string{defaultBackupDir(s.SourceDir)}
	}
	out := make([]string, len(s.BackupDirs))
	copy(out, s.BackupDirs)
	return out
}

// ResolvedSourceConfig is the runtime-only merge of a SourceConfig's
// overrides with the GlobalConfig defaults. It is never serialized.
type ResolvedSourceConfig struct {
	ExcludePatterns     []string
	MaxBackups          int
	BackupMode          BackupMode
	FullBackupInterval  int
	CronSchedule        string
	EnableEventDriven   bool
	EnablePeriodic      bool
}

// BackupHistoryType distinguishes a full snapshot from an incremental one.
type BackupHistoryType string

const (
	HistoryFull BackupHistoryType = "full"
	HistoryInc  BackupHistoryType = "inc"
)

// BackupHistoryEntry records one completed round for one destination.
type BackupHistoryEntry struct {
	BackupName     string            `json:"backup_name"`
	BackupType     BackupHistoryType `json:"backup_type"`
	CreatedAt      time.Time         `json:"created_at"`
	FilesBackedUp  int               `json:"files_backed_up"`
	BytesProcessed int64             `json:"bytes_processed"`
	// IncChecksum is only present (and only meaningful) for incrementals:
	// sha256 over the canonical artifact-set serialization (spec §4.6 step g).
	IncChecksum string `json:"inc_checksum,omitempty"`
	// DeletedFiles lists relative paths removed from the source since the
	// previous round for this destination. This supplements the distilled
	// spec (see SPEC_FULL.md, Open Questions) so restore can reproduce
	// deletions instead of leaving stale files in the target tree.
	DeletedFiles []string `json:"deleted_files,omitempty"`
}

// SourceMetadata is the per-destination ledger stored at
// "<backup_dir>/metadata.json" (spec §4.3, §6).
type SourceMetadata struct {
	LastFullBackup *time.Time           `json:"last_full_backup,omitempty"`
	LastBackup     *time.Time           `json:"last_backup,omitempty"`
	FileHashes     map[string]string    `json:"file_hashes"`
	BackupHistory  []BackupHistoryEntry `json:"backup_history"`
}

// NewSourceMetadata returns an empty, ready-to-use SourceMetadata.
func NewSourceMetadata() *SourceMetadata {
	return &SourceMetadata{
		FileHashes:    make(map[string]string),
		BackupHistory: make([]BackupHistoryEntry, 0),
	}
}

// Default returns the default GlobalConfig written on first run.
func Default() *GlobalConfig {
	return &GlobalConfig{
		Sources:                 []SourceConfig{},
		EnablePeriodic:          true,
		EnableEventDriven:       true,
		ExcludePatterns:         []string{"*.tmp", "*.log", ".git/*", ".DS_Store"},
		MaxBackups:              10,
		MaxLogFileSizeMB:        20,
		BackupMode:              ModeDelta,
		CronSchedule:            "0 0 * * * *",
		EnableMinIntervalBySize: true,
		Metadata:                map[string]SourceSummary{},
	}
}

// AutoFullBackupInterval derives the number of incrementals allowed between
// full backups from the resolved max_backups value. It is never
// user-settable and never serialized; callers always recompute it.
func AutoFullBackupInterval(maxBackups int) int {
	if maxBackups <= 1 {
		return 1
	}
	return maxBackups - 1
}

// Resolve merges s's overrides with global's defaults.
func (s *SourceConfig) Resolve(global *GlobalConfig) ResolvedSourceConfig {
	maxBackups := global.MaxBackups
	if s.MaxBackups != nil {
		maxBackups = *s.MaxBackups
	}

	excludePatterns := global.ExcludePatterns
	if s.ExcludePatterns != nil {
		excludePatterns = s.ExcludePatterns
	}

	mode := global.BackupMode
	if s.BackupMode != nil {
		mode = *s.BackupMode
	}

	cron := global.CronSchedule
	if s.CronSchedule != nil {
		cron = *s.CronSchedule
	}

	eventDriven := global.EnableEventDriven
	if s.EnableEventDriven != nil {
		eventDriven = *s.EnableEventDriven
	}

	periodic := global.EnablePeriodic
	if s.EnablePeriodic != nil {
		periodic = *s.EnablePeriodic
	}

	return ResolvedSourceConfig{
		ExcludePatterns:    excludePatterns,
		MaxBackups:         maxBackups,
		BackupMode:         mode,
		FullBackupInterval: AutoFullBackupInterval(maxBackups),
		CronSchedule:       cron,
		EnableEventDriven:  eventDriven,
		EnablePeriodic:     periodic,
	}
}

func defaultBackupDir(sourceDir string) string {
	return filepath.Join(sourceDir, ".backup")
}
