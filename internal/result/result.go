package result

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cacheline/ccwrap/internal/cachedir"
	"github.com/cacheline/ccwrap/internal/digest"
	"github.com/cacheline/ccwrap/internal/lock"
)

// Store reads and writes ".result" files under a cache directory.
type Store struct {
	CacheDir         string
	CompressionLevel int
	HardLink         bool
}

// NewStore returns a Store rooted at cacheDir.
func NewStore(cacheDir string, compressionLevel int, hardLink bool) *Store {
	return &Store{CacheDir: cacheDir, CompressionLevel: compressionLevel, HardLink: hardLink}
}

func (s *Store) path(key digest.Digest) string {
	return cachedir.PathFor(s.CacheDir, key, "result")
}

// objectBlobSuffix names the sidecar file holding an uncompressed copy
// of the object payload, created on the first hard-linked Get so later
// hits can link against it instead of rewriting the bytes.
const objectBlobSuffix = ".o"

func (s *Store) blobPath(key digest.Digest) string {
	return s.path(key) + objectBlobSuffix
}

// Sources maps each file type a compilation produced to the path it
// currently lives at on disk.
type Sources map[FileType]string

// Put bundles the files named in sources into a single ".result" file
// for key.
func (s *Store) Put(key digest.Digest, sources Sources) error {
	return s.PutWithStderr(key, sources, nil)
}

// PutWithStderr bundles sources plus the compilation's captured
// stderr. An empty stderr produces no stderr entry at all, so a quiet
// compile's bundle carries only its file artifacts.
func (s *Store) PutWithStderr(key digest.Digest, sources Sources, stderr []byte) error {
	path := s.path(key)
	if _, err := cachedir.EnsureShardDir(s.CacheDir, key); err != nil {
		return err
	}

	fl, err := lock.Lock(path, 5*time.Second)
	if err != nil {
		return fmt.Errorf("result: locking %s: %w", path, err)
	}
	defer fl.Unlock()

	payloads := make(map[FileType][]byte, len(sources)+1)
	for t, src := range sources {
		payload, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("result: reading %s for %s: %w", src, t, err)
		}
		payloads[t] = payload
	}
	if len(stderr) > 0 {
		payloads[FileStderrOutput] = stderr
	}

	b := Bundle{CreationTime: time.Now()}
	for _, t := range orderedTypes(payloads) {
		b.Entries = append(b.Entries, Entry{Type: t, Payload: payloads[t]})
	}

	raw, err := Encode(b, s.CompressionLevel)
	if err != nil {
		return err
	}

	var oldSize int64
	newFile := true
	if info, statErr := os.Stat(path); statErr == nil {
		oldSize = info.Size()
		newFile = false
	}
	if err := writeAtomicFile(path, raw); err != nil {
		return err
	}
	// A rewrite invalidates any sidecar blob linked out of the old
	// payload; the next hard-linked Get recreates it.
	os.Remove(s.blobPath(key))
	cachedir.RecordWrite(s.CacheDir, key, newFile, int64(len(raw))-oldSize)
	return nil
}

// Destinations maps each requested file type to the path it should be
// materialized at. A destination of os.DevNull is honored silently:
// the entry is skipped without being written.
type Destinations map[FileType]string

// Get reads key's result bundle and writes each requested entry to its
// destination. A requested type missing from the bundle is a hard
// miss, reported as an error.
func (s *Store) Get(key digest.Digest, destinations Destinations) error {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return fmt.Errorf("result: reading bundle: %w", err)
	}
	b, err := Decode(raw)
	if err != nil {
		return fmt.Errorf("result: decoding bundle: %w", err)
	}

	for _, t := range orderedTypes(destinations) {
		dest := destinations[t]
		if dest == os.DevNull {
			continue
		}
		entry, ok := b.Get(t)
		if !ok {
			return fmt.Errorf("result: bundle missing requested %s entry", t)
		}
		if err := s.materialize(key, entry, dest); err != nil {
			return fmt.Errorf("result: writing %s: %w", t, err)
		}
	}
	return nil
}

// Stderr returns the captured stderr entry for key, if the bundle has
// one. A compile that wrote nothing to stderr has no entry, and a
// missing or unreadable bundle reads as "nothing to replay".
func (s *Store) Stderr(key digest.Digest) ([]byte, bool) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	b, err := Decode(raw)
	if err != nil {
		return nil, false
	}
	e, ok := b.Get(FileStderrOutput)
	if !ok {
		return nil, false
	}
	return e.Payload, true
}

// Remove deletes key's result file, used when a bundle turns out to be
// corrupt.
func (s *Store) Remove(key digest.Digest) error {
	path := s.path(key)
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	os.Remove(s.blobPath(key))
	cachedir.RecordRemove(s.CacheDir, key, size)
	return nil
}

// materialize writes an entry's payload to dest. Object files are
// hard-linked from a shared sidecar blob when s.HardLink is set and
// the destination filesystem allows it; every other entry type is
// always a plain copy, since hard-linking a shared stderr/dependency
// file would let one build's edits corrupt another's cached copy.
func (s *Store) materialize(key digest.Digest, entry Entry, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if s.HardLink && entry.Type == FileObject {
		blob := s.blobPath(key)
		if _, err := os.Stat(blob); err != nil {
			if werr := writeFile(blob, entry.Payload, 0o644); werr != nil {
				return writeFile(dest, entry.Payload, 0o644)
			}
		}
		if err := Link(blob, dest); err == nil {
			return nil
		}
	}
	// Unlink first: dest may still be a hard link from an earlier hit,
	// and writing through it would corrupt the shared blob.
	os.Remove(dest)
	return writeFile(dest, entry.Payload, 0o644)
}

// Link attempts to materialize an already-on-disk blob (the object
// sidecar blob, when materialize hard-links a hit) at dest via a hard
// link, falling back to a copy when linking isn't possible
// (cross-device, read-only source, or unsupported filesystem).
func Link(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	os.Remove(dest)
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	return copyFilePreservingMode(src, dest)
}

func copyFilePreservingMode(src, dest string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dest, srcInfo.Mode())
}

func writeFile(path string, data []byte, mode os.FileMode) error {
	return os.WriteFile(path, data, mode)
}

func writeAtomicFile(path string, data []byte) error {
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("result: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("result: renaming into place: %w", err)
	}
	return nil
}

// orderedTypes returns t's keys in FileType enum order, so bundles are
// written deterministically regardless of map iteration order.
func orderedTypes[V any](m map[FileType]V) []FileType {
	all := []FileType{FileObject, FileDependency, FileStderrOutput, FileCoverage, FileStackUsage, FileDiagnostic, FileDwarfObject}
	out := make([]FileType, 0, len(m))
	for _, t := range all {
		if _, ok := m[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
