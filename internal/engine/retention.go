package engine

import (
	"log"
	"os"

	"github.com/ardiex/ardiex/internal/config"
	"github.com/ardiex/ardiex/internal/layout"
	"github.com/ardiex/ardiex/internal/metastore"
)

// ApplyRetention removes the oldest full_*/inc_* directories under
// destination once there are more than maxBackups, without ever evicting
// a full snapshot that a still-kept incremental's delta chain depends on
// (spec §4.7).
func ApplyRetention(store *metastore.Store, destination string, maxBackups int) error {
	entries, err := layout.ListEntries(destination)
	if err != nil {
		return err
	}
	if len(entries) <= maxBackups {
		return nil
	}

	chains := groupChains(entries)
	var removedNames []string
	for len(chains) > 1 && totalEntries(chains) > maxBackups {
		oldest := chains[0]
		chains = chains[1:]
		for _, e := range oldest {
			if err := os.RemoveAll(e.Path); err != nil {
				log.Printf("retention: failed to remove %s: %v", e.Path, err)
				continue
			}
			log.Printf("retention: removed old backup %s", e.Path)
			removedNames = append(removedNames, e.Name)
		}
	}
	if len(removedNames) == 0 {
		return nil
	}

	history, err := store.HistoryOf(destination)
	if err != nil {
		return err
	}
	removed := make(map[string]bool, len(removedNames))
	for _, n := range removedNames {
		removed[n] = true
	}
	kept := make([]config.BackupHistoryEntry, 0, len(history))
	for _, h := range history {
		if !removed[h.BackupName] {
			kept = append(kept, h)
		}
	}
	return store.ReplaceHistory(destination, kept)
}

// groupChains splits entries (ordered ascending by timestamp) into chains,
// each starting with a full snapshot and running through every incremental
// that depends on it. Any incrementals preceding the first full form a
// leading pseudo-chain with no full snapshot of their own; as the oldest
// chain it is the first one ApplyRetention evicts, as a single unit.
func groupChains(entries []layout.Entry) [][]layout.Entry {
	var chains [][]layout.Entry
	for _, e := range entries {
		if e.IsFull || len(chains) == 0 {
			chains = append(chains, []layout.Entry{e})
			continue
		}
		chains[len(chains)-1] = append(chains[len(chains)-1], e)
	}
	return chains
}

func totalEntries(chains [][]layout.Entry) int {
	n := 0
	for _, c := range chains {
		n += len(c)
	}
	return n
}
