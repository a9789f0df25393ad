package cachedir

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// orphanAge is how old a leftover "*.tmp.*" file must be before
// SweepOrphanedTempFiles removes it: signal-time cleanup is
// best-effort (a killed process can leak a temp file), so sweeping
// only removes files old enough that no in-flight writer could still
// own them.
const orphanAge = 2 * 24 * time.Hour

// SweepOrphanedTempFiles walks cacheDir removing "*.tmp.*" files older
// than orphanAge, left behind by a process that died between creating
// its temp file and renaming it into place.
func SweepOrphanedTempFiles(cacheDir string) (removed int, err error) {
	cutoff := time.Now().Add(-orphanAge)
	walkErr := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if rmErr := os.Remove(path); rmErr == nil {
			removed++
		}
		return nil
	})
	return removed, walkErr
}

// isTempFile reports whether name matches the "<rest>.tmp.<uniq>"
// pattern internal/manifest and internal/result use for atomic writes.
func isTempFile(name string) bool {
	idx := strings.Index(name, ".tmp.")
	return idx > 0
}

// sweepStampFile records when the last orphan sweep ran, so the full
// cache walk only happens once per orphanAge window rather than on
// every invocation.
const sweepStampFile = ".last_sweep"

// MaybeSweep runs SweepOrphanedTempFiles if the last sweep is more
// than orphanAge old (or never happened), then refreshes the stamp.
func MaybeSweep(cacheDir string) (removed int, err error) {
	stamp := filepath.Join(cacheDir, sweepStampFile)
	if info, statErr := os.Stat(stamp); statErr == nil {
		if time.Since(info.ModTime()) < orphanAge {
			return 0, nil
		}
	}
	removed, err = SweepOrphanedTempFiles(cacheDir)
	if werr := os.WriteFile(stamp, []byte{}, 0o644); werr == nil {
		now := time.Now()
		os.Chtimes(stamp, now, now)
	}
	return removed, err
}
