// Package artifact describes the per-file artifacts written into one
// inc_* directory and computes the deterministic inc_checksum recorded in
// that round's BackupHistoryEntry (spec §4.6 step g).
package artifact

import (
	"sort"
	"strings"

	"github.com/ardiex/ardiex/internal/hashutil"
)

// Kind is how a changed file was stored inside an incremental snapshot.
type Kind string

const (
	KindCopy  Kind = "copy"
	KindDelta Kind = "delta"
	KindWhole Kind = "whole"
)

// Record is one entry in the checksum set: a relative path, how it was
// stored, and a content hash. For whole and copy artifacts that hash is
// of the bytes written to disk; for a delta artifact it is the hash of the
// file content the delta reconstructs (DeltaFile.NewHash), not of the
// .delta blob itself.
type Record struct {
	RelPath     string
	Kind        Kind
	ArtifactSHA string
}

// Checksum computes sha256 over the canonical serialization of records:
// sorted lexicographically by relative path (forward slashes), each
// entry rendered as "relpath\x00kind\x00hash\n". The sort key and
// separator are fixed here once and for all (spec §9's inc_checksum
// Open Question), so re-running against the same directory always
// reproduces the same value regardless of filesystem enumeration order.
func Checksum(records []Record) string {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	var sb strings.Builder
	for _, r := range sorted {
		sb.WriteString(r.RelPath)
		sb.WriteByte(0)
		sb.WriteString(string(r.Kind))
		sb.WriteByte(0)
		sb.WriteString(r.ArtifactSHA)
		sb.WriteByte('\n')
	}
	return hashutil.HashBytes([]byte(sb.String()))
}
