// Package scanner walks a source directory, applies exclude patterns, and
// detects which files changed since a previous hash map (spec §4.4).
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ardiex/ardiex/internal/errs"
	"github.com/ardiex/ardiex/internal/hashutil"
)

// File is one non-excluded file found under a source directory.
type File struct {
	RelPath string
	AbsPath string
	Size    int64
}

// Scan recursively enumerates sourceDir, skipping anything IsExcluded
// flags. Symlinks to files are followed; symlinks to directories are not
// traversed, to avoid cycles.
func Scan(sourceDir string, excludePatterns []string) ([]File, error) {
	var files []File

	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		relPath, relErr := filepath.Rel(sourceDir, path)
		if relErr != nil {
			return relErr
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr != nil {
				// Broken symlink: skip it rather than failing the round.
				return nil
			}
			if target.IsDir() {
				// Do not traverse symlinked directories, to prevent cycles.
				return nil
			}
			if IsExcluded(relPath, excludePatterns) {
				return nil
			}
			files = append(files, File{RelPath: filepath.ToSlash(relPath), AbsPath: path, Size: target.Size()})
			return nil
		}

		if d.IsDir() {
			if IsExcluded(relPath, excludePatterns) {
				return filepath.SkipDir
			}
			return nil
		}

		if IsExcluded(relPath, excludePatterns) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files = append(files, File{RelPath: filepath.ToSlash(relPath), AbsPath: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errs.WithSource(errs.Io, "scan", sourceDir, err)
	}
	return files, nil
}

// HashAll hashes every file returned by Scan, producing a relative-path to
// hex SHA-256 map.
func HashAll(files []File) (map[string]string, error) {
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		h, err := hashutil.HashFile(f.AbsPath)
		if err != nil {
			return nil, err
		}
		hashes[f.RelPath] = h
	}
	return hashes, nil
}

// ChangeSet is the result of comparing a freshly scanned file set against
// a previously recorded file_hashes map.
type ChangeSet struct {
	Changed []File   // new or modified files
	Deleted []string // relative paths present before but absent now
}

// DetectChanges compares files/hashes against previousHashes. A file is
// "changed" if it's new or its hash differs; a path previously hashed but
// now absent is reported as deleted.
func DetectChanges(files []File, hashes map[string]string, previousHashes map[string]string) ChangeSet {
	var cs ChangeSet
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f.RelPath] = true
		if prev, ok := previousHashes[f.RelPath]; !ok || prev != hashes[f.RelPath] {
			cs.Changed = append(cs.Changed, f)
		}
	}

	for relPath := range previousHashes {
		if !seen[relPath] {
			cs.Deleted = append(cs.Deleted, relPath)
		}
	}
	return cs
}
