// Package fsutil holds small filesystem helpers shared by the engine,
// restore engine, and config manager.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ardiex/ardiex/internal/errs"
)

// EnsureDir creates dirPath and any missing parents.
func EnsureDir(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return errs.WithSource(errs.Io, "ensure_dir", dirPath, err)
	}
	return nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Exists reports whether path exists, following symlinks.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyFile copies src to dst byte-for-byte, creating dst's parent directory
// and overwriting any existing file at dst.
func CopyFile(src, dst string) (int64, error) {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, errs.WithSource(errs.Io, "copy_file", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, errs.WithSource(errs.Io, "copy_file", dst, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, errs.WithSource(errs.Io, "copy_file", src, err)
	}
	return n, out.Close()
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errs.WithSource(errs.Io, "write_atomic", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.WithSource(errs.Io, "write_atomic", path, err)
	}
	return nil
}

// DirSize recursively sums the size of every regular file under dir.
func DirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
