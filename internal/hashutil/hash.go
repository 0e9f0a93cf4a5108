// Package hashutil streams SHA-256 over files and byte ranges so large
// files never need to be fully buffered in memory.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/ardiex/ardiex/internal/errs"
)

// chunkSize bounds memory use while hashing large files.
const chunkSize = 64 * 1024

// HashFile returns the lowercase hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.WithSource(errs.Io, "hash_file", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", errs.WithSource(errs.Io, "hash_file", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
