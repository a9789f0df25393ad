package manifest

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cacheline/ccwrap/internal/cachedir"
	"github.com/cacheline/ccwrap/internal/digest"
	"github.com/cacheline/ccwrap/internal/lock"
)

// DefaultMaxCandidates bounds how many candidates a manifest keeps
// before the oldest are evicted.
const DefaultMaxCandidates = 1500

// Store reads and writes manifest files under a cache directory.
type Store struct {
	CacheDir         string
	MaxCandidates    int
	CompressionLevel int
	LockTimeout      time.Duration
}

// NewStore returns a Store rooted at cacheDir.
func NewStore(cacheDir string, maxCandidates, compressionLevel int) *Store {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Store{
		CacheDir:         cacheDir,
		MaxCandidates:    maxCandidates,
		CompressionLevel: compressionLevel,
		LockTimeout:      5 * time.Second,
	}
}

func (s *Store) path(key digest.Digest) string {
	return cachedir.PathFor(s.CacheDir, key, "manifest")
}

// readManifest loads the manifest for key, returning an empty
// Manifest (not an error) if the file doesn't exist or is corrupt:
// readers tolerate absence and truncation, a short read is a miss.
func (s *Store) readManifest(key digest.Digest) (Manifest, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return Manifest{}, err
	}
	m, err := Decode(raw)
	if err != nil {
		return Manifest{}, nil
	}
	return m, nil
}

// CandidateMatcher decides whether a candidate's recorded include set
// still matches what's on disk, returning true on a hit. Passed in by
// the orchestrator since the comparison strategy (stat-match fast
// path vs. full rehash) depends on sloppiness the manifest package
// itself shouldn't need to know about.
type CandidateMatcher func(candidate Candidate) (bool, error)

// Get scans key's manifest in insertion order and returns the result
// digest of the first candidate matcher accepts.
func (s *Store) Get(key digest.Digest, matcher CandidateMatcher) (digest.Digest, bool, error) {
	m, err := s.readManifest(key)
	if err != nil {
		return digest.Digest{}, false, err
	}
	for _, c := range m.Candidates {
		ok, err := matcher(c)
		if err != nil {
			return digest.Digest{}, false, err
		}
		if ok {
			return c.Result, true, nil
		}
	}
	return digest.Digest{}, false, nil
}

// Put appends a new candidate to key's manifest, evicting the oldest
// candidates past MaxCandidates, and atomically replaces the file.
func (s *Store) Put(key digest.Digest, candidate Candidate) error {
	path := s.path(key)
	if _, err := cachedir.EnsureShardDir(s.CacheDir, key); err != nil {
		return err
	}

	fl, err := lock.Lock(path, s.LockTimeout)
	if err != nil {
		return fmt.Errorf("manifest: locking %s: %w", path, err)
	}
	defer fl.Unlock()

	m, err := s.readManifest(key)
	if err != nil {
		return err
	}
	m.Candidates = append(m.Candidates, candidate)
	if len(m.Candidates) > s.MaxCandidates {
		m.Candidates = m.Candidates[len(m.Candidates)-s.MaxCandidates:]
	}

	raw, err := Encode(m, s.CompressionLevel)
	if err != nil {
		return err
	}

	var oldSize int64
	newFile := true
	if info, statErr := os.Stat(path); statErr == nil {
		oldSize = info.Size()
		newFile = false
	}
	if err := writeAtomic(path, raw); err != nil {
		return err
	}
	cachedir.RecordWrite(s.CacheDir, key, newFile, int64(len(raw))-oldSize)
	return nil
}

// writeAtomic writes data to a "<path>.tmp.<pid>" sibling then renames
// it over path, so concurrent readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp." + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("manifest: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("manifest: renaming into place: %w", err)
	}
	return nil
}

// Dump decodes and returns the raw Manifest for key (empty when the
// file is absent or corrupt). The --dump-manifest command decodes a
// file by path instead.
func (s *Store) Dump(key digest.Digest) (Manifest, error) {
	return s.readManifest(key)
}
