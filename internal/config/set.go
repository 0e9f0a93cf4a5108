package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ardiex/ardiex/internal/errs"
)

// Set applies `config set <key> <value>` against the global config.
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch key {
	case "enable_periodic":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errs.New(errs.Config, "set", fmt.Errorf("enable_periodic must be a bool: %w", err))
		}
		m.cfg.EnablePeriodic = b
	case "enable_event_driven":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errs.New(errs.Config, "set", fmt.Errorf("enable_event_driven must be a bool: %w", err))
		}
		m.cfg.EnableEventDriven = b
	case "enable_min_interval_by_size":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errs.New(errs.Config, "set", fmt.Errorf("enable_min_interval_by_size must be a bool: %w", err))
		}
		m.cfg.EnableMinIntervalBySize = b
	case "exclude_patterns":
		m.cfg.ExcludePatterns = splitCSV(value)
	case "max_backups":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return errs.New(errs.Config, "set", fmt.Errorf("max_backups must be a positive integer"))
		}
		m.cfg.MaxBackups = n
	case "max_log_file_size_mb":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return errs.New(errs.Config, "set", fmt.Errorf("max_log_file_size_mb must be a positive integer"))
		}
		m.cfg.MaxLogFileSizeMB = n
	case "backup_mode":
		mode, err := parseBackupMode(value)
		if err != nil {
			return err
		}
		m.cfg.BackupMode = mode
	case "cron_schedule":
		m.cfg.CronSchedule = value
	default:
		return errs.New(errs.Config, "set", fmt.Errorf("unknown key: %s", key))
	}
	return m.save()
}

// SetSource applies `config set-source <source> <key> <value|reset>`.
// A value of "reset" clears the per-source override, falling back to the
// global value via Resolve.
func (m *Manager) SetSource(sourceDir, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.findSource(sourceDir)
	if src == nil {
		return errs.WithSource(errs.Config, "set_source", sourceDir, fmt.Errorf("unknown source"))
	}

	reset := value == "reset"

	switch key {
	case "exclude_patterns":
		if reset {
			src.ExcludePatterns = nil
		} else {
			src.ExcludePatterns = splitCSV(value)
		}
	case "max_backups":
		if reset {
			src.MaxBackups = nil
		} else {
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return errs.New(errs.Config, "set_source", fmt.Errorf("max_backups must be a positive integer"))
			}
			src.MaxBackups = &n
		}
	case "backup_mode":
		if reset {
			src.BackupMode = nil
		} else {
			mode, err := parseBackupMode(value)
			if err != nil {
				return err
			}
			src.BackupMode = &mode
		}
	case "cron_schedule":
		if reset {
			src.CronSchedule = nil
		} else {
			src.CronSchedule = &value
		}
	case "enable_event_driven":
		if reset {
			src.EnableEventDriven = nil
		} else {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errs.New(errs.Config, "set_source", fmt.Errorf("enable_event_driven must be a bool"))
			}
			src.EnableEventDriven = &b
		}
	case "enable_periodic":
		if reset {
			src.EnablePeriodic = nil
		} else {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errs.New(errs.Config, "set_source", fmt.Errorf("enable_periodic must be a bool"))
			}
			src.EnablePeriodic = &b
		}
	case "enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errs.New(errs.Config, "set_source", fmt.Errorf("enabled must be a bool"))
		}
		src.Enabled = b
	default:
		return errs.New(errs.Config, "set_source", fmt.Errorf("unknown key: %s", key))
	}
	return m.save()
}

func parseBackupMode(value string) (BackupMode, error) {
	switch BackupMode(value) {
	case ModeDelta, ModeCopy:
		return BackupMode(value), nil
	default:
		return "", errs.New(errs.Config, "parse_backup_mode", fmt.Errorf("backup_mode must be 'delta' or 'copy', got %q", value))
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
