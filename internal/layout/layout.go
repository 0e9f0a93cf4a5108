// Package layout understands the on-disk shape of a destination directory:
// "full_YYYYMMDD_HHMMSS.mmm" and "inc_YYYYMMDD_HHMMSS.mmm" subdirectories,
// with a dot between the seconds and the three millisecond digits,
// independent of the in-memory metadata ledger.
package layout

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ardiex/ardiex/internal/errs"
)

const (
	FullPrefix = "full_"
	IncPrefix  = "inc_"
	TimeFormat = "20060102_150405.000"
)

// Entry is one full_*/inc_* directory found on disk.
type Entry struct {
	Name      string
	Path      string
	IsFull    bool
	Timestamp time.Time
}

// ParseTimestamp extracts the time.Time encoded in a backup directory
// name, stripping the full_/inc_ prefix. The format is Go's
// reference-time layout "20060102_150405.000": date, underscore, time,
// then a dot and three millisecond digits. Names without that dot are
// not parsed.
func ParseTimestamp(name string) (time.Time, bool) {
	var ts string
	switch {
	case strings.HasPrefix(name, FullPrefix):
		ts = strings.TrimPrefix(name, FullPrefix)
	case strings.HasPrefix(name, IncPrefix):
		ts = strings.TrimPrefix(name, IncPrefix)
	default:
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeFormat, ts, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTimestamp renders t in the "full_"/"inc_" directory-name format.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("20060102_150405.000")
}

// ListEntries returns every full_*/inc_* directory under destination,
// ordered by timestamp ascending (ties broken by name).
func ListEntries(destination string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(destination)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WithDestination(errs.Io, "list_entries", "", destination, err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		isFull := strings.HasPrefix(name, FullPrefix)
		isInc := strings.HasPrefix(name, IncPrefix)
		if !isFull && !isInc {
			continue
		}
		ts, ok := ParseTimestamp(name)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Name:      name,
			Path:      filepath.Join(destination, name),
			IsFull:    isFull,
			Timestamp: ts,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// NextBackupName generates a directory name for a new round, retrying with
// the next millisecond on collision (spec §4.6 step c).
func NextBackupName(destination string, isFull bool) string {
	prefix := IncPrefix
	if isFull {
		prefix = FullPrefix
	}

	t := time.Now()
	for {
		name := prefix + FormatTimestamp(t)
		if _, err := os.Stat(filepath.Join(destination, name)); os.IsNotExist(err) {
			return name
		}
		t = t.Add(time.Millisecond)
	}
}
