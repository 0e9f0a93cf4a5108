package validate

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ardiex/ardiex/internal/chain"
	"github.com/ardiex/ardiex/internal/deltacodec"
	"github.com/ardiex/ardiex/internal/layout"
)

const deltaExt = chain.DeltaSuffix

// walkArtifacts visits every artifact file under dir (an inc_*/full_*
// directory), reporting its relative path (including any .delta suffix),
// absolute path, and whether it is a delta artifact.
func walkArtifacts(dir string, fn func(relPath, absPath string, isDelta bool) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		return fn(rel, path, len(rel) > len(deltaExt) && rel[len(rel)-len(deltaExt):] == deltaExt)
	})
}

// priorVersion materializes relPath's content as of just before entry
// target, by replaying the same base-plus-pending-deltas algorithm as
// package chain but restricted to the entries preceding target.
func priorVersion(dest string, entries []layout.Entry, target layout.Entry, relPath string) ([]byte, bool, error) {
	var base []byte
	haveBase := false
	var pendingDeltas []string

	for _, e := range entries {
		if e.Name == target.Name {
			break
		}
		wholePath := filepath.Join(e.Path, relPath)
		deltaPath := wholePath + deltaExt

		if fileExists(wholePath) {
			content, err := os.ReadFile(wholePath)
			if err != nil {
				return nil, false, err
			}
			base = content
			haveBase = true
			pendingDeltas = pendingDeltas[:0]
			continue
		}
		if fileExists(deltaPath) && haveBase {
			pendingDeltas = append(pendingDeltas, deltaPath)
		}
	}

	if !haveBase {
		return nil, false, nil
	}
	for _, dp := range pendingDeltas {
		d, err := deltacodec.Load(dp)
		if err != nil {
			return nil, false, err
		}
		applied, err := deltacodec.ApplyBytes(base, d)
		if err != nil {
			return nil, false, err
		}
		base = applied
	}
	return base, true, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
