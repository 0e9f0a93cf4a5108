package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ardiex/ardiex/internal/errs"
)

// Manager owns settings.json: load-or-create on startup, in-memory access,
// and the mutations the `config` CLI subcommands perform.
type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  *GlobalConfig
}

// SettingsPath returns "settings.json" next to the running executable,
// matching original_source's get_config_path.
func SettingsPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", errs.New(errs.Config, "settings_path", err)
	}
	return filepath.Join(filepath.Dir(exe), "settings.json"), nil
}

// LoadOrCreate reads settings.json, creating it with defaults if absent.
func LoadOrCreate(path string) (*Manager, error) {
	m := &Manager{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		m.cfg = Default()
		if err := m.save(); err != nil {
			return nil, err
		}
		return m, nil
	case err != nil:
		return nil, errs.WithSource(errs.Io, "load_config", path, err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errs.WithSource(errs.Config, "load_config", path, err)
	}
	if cfg.Metadata == nil {
		cfg.Metadata = map[string]SourceSummary{}
	}
	m.cfg = &cfg
	return m, nil
}

// Get returns a read-only snapshot of the current config.
func (m *Manager) Get() *GlobalConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := *m.cfg
	cp.Sources = append([]SourceConfig(nil), m.cfg.Sources...)
	cp.ExcludePatterns = append([]string(nil), m.cfg.ExcludePatterns...)
	return &cp
}

func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return errs.New(errs.Config, "save_config", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.WithSource(errs.Io, "save_config", m.path, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errs.WithSource(errs.Io, "save_config", m.path, err)
	}
	return nil
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

func (m *Manager) AddSource(sourceDir string, backupDirs []string) error {
	if !filepath.IsAbs(sourceDir) {
		return errs.WithSource(errs.Config, "add_source", sourceDir, fmt.Errorf("source path must be absolute"))
	}
	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return errs.WithSource(errs.Config, "add_source", sourceDir, fmt.Errorf("source directory does not exist"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sc := SourceConfig{SourceDir: sourceDir, BackupDirs: backupDirs, Enabled: true}
	replaced := false
	for i := range m.cfg.Sources {
		if m.cfg.Sources[i].SourceDir == sourceDir {
			m.cfg.Sources[i] = sc
			replaced = true
			break
		}
	}
	if !replaced {
		m.cfg.Sources = append(m.cfg.Sources, sc)
	}
	return m.save()
}

func (m *Manager) RemoveSource(sourceDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]SourceConfig, 0, len(m.cfg.Sources))
	for _, s := range m.cfg.Sources {
		if s.SourceDir != sourceDir {
			filtered = append(filtered, s)
		}
	}
	m.cfg.Sources = filtered
	delete(m.cfg.Metadata, sourceDir)
	return m.save()
}

func (m *Manager) AddBackupDir(sourceDir, backupDir string) error {
	if !filepath.IsAbs(backupDir) {
		return errs.WithSource(errs.Config, "add_backup", sourceDir, fmt.Errorf("backup path must be absolute"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.findSource(sourceDir)
	if src == nil {
		return errs.WithSource(errs.Config, "add_backup", sourceDir, fmt.Errorf("unknown source"))
	}
	for _, d := range src.BackupDirs {
		if d == backupDir {
			return nil
		}
	}
	src.BackupDirs = append(src.BackupDirs, backupDir)
	return m.save()
}

func (m *Manager) RemoveBackupDir(sourceDir, backupDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.findSource(sourceDir)
	if src == nil {
		return errs.WithSource(errs.Config, "remove_backup", sourceDir, fmt.Errorf("unknown source"))
	}
	filtered := make([]string, 0, len(src.BackupDirs))
	for _, d := range src.BackupDirs {
		if d != backupDir {
			filtered = append(filtered, d)
		}
	}
	src.BackupDirs = filtered
	return m.save()
}

func (m *Manager) findSource(sourceDir string) *SourceConfig {
	for i := range m.cfg.Sources {
		if m.cfg.Sources[i].SourceDir == sourceDir {
			return &m.cfg.Sources[i]
		}
	}
	return nil
}
