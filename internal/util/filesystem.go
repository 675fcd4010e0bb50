package util

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// IsSameFilesystem checks if two paths are on the same filesystem
// by comparing their device IDs (st_dev).
// Returns (true, nil) if on same filesystem
// Returns (false, nil) if on different filesystems
// Returns (false, err) if paths cannot be stat'd
func IsSameFilesystem(path1, path2 string) (bool, error) {
	stat1, err := os.Stat(path1)
	if err != nil {
		return false, err
	}

	stat2, err := os.Stat(path2)
	if err != nil {
		return false, err
	}

	// Cast to syscall.Stat_t to access device ID
	sysStat1, ok1 := stat1.Sys().(*syscall.Stat_t)
	sysStat2, ok2 := stat2.Sys().(*syscall.Stat_t)

	if !ok1 || !ok2 {
		// If we can't get syscall.Stat_t, assume different filesystems
		// (better to warn when unsure)
		return false, nil
	}

	return sysStat1.Dev == sysStat2.Dev, nil
}

// NormalizePath cleans path and, for case-insensitive comparisons,
// lowercases it — the form spec.md §4.10's virtual path matching
// needs when CaseSensitiveNames is false.
func NormalizePath(path string, caseSensitive bool) string {
	cleaned := filepath.Clean(path)
	if caseSensitive {
		return cleaned
	}
	return strings.ToLower(cleaned)
}

// PathsEqual compares two paths under the given case-sensitivity rule.
func PathsEqual(path1, path2 string, caseSensitive bool) bool {
	return NormalizePath(path1, caseSensitive) == NormalizePath(path2, caseSensitive)
}

// DetectFilesystemCaseSensitivity probes dir by writing a file with an
// all-lowercase name and checking whether the upper-cased form of its
// full path resolves to it; if that form does not exist, the
// filesystem is reported as case-sensitive.
func DetectFilesystemCaseSensitivity(dir string) (bool, error) {
	probe := filepath.Join(dir, ".musfuse-case-probe")
	if err := os.WriteFile(probe, []byte("x"), 0o600); err != nil {
		return false, err
	}
	defer os.Remove(probe)

	upper := strings.ToUpper(probe)
	if upper == probe {
		// name has no case to vary (shouldn't happen with the fixed
		// probe name above, but fail safe rather than mis-detect).
		return true, nil
	}

	_, err := os.Stat(upper)
	if err == nil {
		return false, nil
	}
	if os.IsNotExist(err) {
		return true, nil
	}
	return false, err
}
