package scanner

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IsExcluded reports whether relPath should be skipped given patterns.
// A path is excluded if any pattern matches the path as a whole, or
// matches any individual path segment (spec §4.4). Matching is
// case-sensitive on POSIX and case-insensitive on Windows.
func IsExcluded(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	segments := strings.Split(relPath, "/")

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		matchPath, matchPatternForPath := relPath, pattern
		if runtime.GOOS == "windows" {
			matchPath = strings.ToLower(matchPath)
			matchPatternForPath = strings.ToLower(matchPatternForPath)
		}
		if ok, _ := doublestar.Match(matchPatternForPath, matchPath); ok {
			return true
		}

		for _, segment := range segments {
			matchSeg, matchPatternForSeg := segment, pattern
			if runtime.GOOS == "windows" {
				matchSeg = strings.ToLower(matchSeg)
				matchPatternForSeg = strings.ToLower(matchPatternForSeg)
			}
			if ok, _ := doublestar.Match(matchPatternForSeg, matchSeg); ok {
				return true
			}
		}
	}
	return false
}
