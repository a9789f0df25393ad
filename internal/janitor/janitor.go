// Package janitor implements size/file-count eviction for --cleanup
// and the max_size/max_files limits: walk the cache, evict the
// least-recently-used entries (oldest mtime first) until both totals
// are back under their limits, then subtract what was evicted from
// each shard's internal/cachedir.Counter. Totals always come from the
// walk; the counters are not read here.
package janitor

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cacheline/ccwrap/internal/cachedir"
)

// entry is one on-disk cache object (a ".manifest" or ".result" file)
// considered for eviction.
type entry struct {
	path  string
	hex0  string
	size  int64
	mtime int64
}

// Result summarizes one cleanup pass.
type Result struct {
	FilesRemoved int
	BytesFreed   int64
	FilesTotal   int
	BytesTotal   int64
}

// Clean walks cacheDir and removes the oldest entries until the total
// size is at or under maxSize (bytes, 0 == unlimited) and the total
// file count is at or under maxFiles (0 == unlimited). Pass both zero
// to just compute current totals without evicting anything;
// --show-stats uses Totals for that instead.
func Clean(cacheDir string, maxSize int64, maxFiles int) (Result, error) {
	entries, err := scan(cacheDir)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, e := range entries {
		res.FilesTotal++
		res.BytesTotal += e.size
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime < entries[j].mtime })

	files := res.FilesTotal
	size := res.BytesTotal
	shardDeltas := make(map[string][2]int64) // hex0 -> {files, bytes} removed

	for _, e := range entries {
		overSize := maxSize > 0 && size > maxSize
		overFiles := maxFiles > 0 && files > maxFiles
		if !overSize && !overFiles {
			break
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			continue
		}
		if strings.HasSuffix(e.path, ".result") {
			// Drop the hard-link sidecar blob the result store may have
			// materialized next to the bundle.
			os.Remove(e.path + ".o")
		}
		files--
		size -= e.size
		res.FilesRemoved++
		res.BytesFreed += e.size
		d := shardDeltas[e.hex0]
		d[0]--
		d[1] -= e.size
		shardDeltas[e.hex0] = d
	}

	for hex0, d := range shardDeltas {
		counter, err := cachedir.OpenCounter(cacheDir, hex0)
		if err != nil {
			continue
		}
		counter.Add(d[0], d[1])
		counter.Close()
	}

	return res, nil
}

// scan walks the two-level shard layout and returns every cache object
// found, skipping counter databases, CACHEDIR.TAG, and lock files.
func scan(cacheDir string) ([]entry, error) {
	var out []entry
	err := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if cachedir.IsCounterFile(name) || name == "CACHEDIR.TAG" || strings.HasSuffix(name, ".lock") {
			return nil
		}
		if !strings.HasSuffix(name, ".manifest") && !strings.HasSuffix(name, ".result") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(cacheDir, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 1 {
			return nil
		}
		out = append(out, entry{
			path:  path,
			hex0:  parts[0],
			size:  info.Size(),
			mtime: info.ModTime().UnixNano(),
		})
		return nil
	})
	return out, err
}

// Totals reports the cache's current size/file-count without evicting
// anything, for --show-stats/--print-stats.
func Totals(cacheDir string) (files int, bytes int64, err error) {
	entries, err := scan(cacheDir)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		files++
		bytes += e.size
	}
	return files, bytes, nil
}
