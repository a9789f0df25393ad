// Package includes implements the include-file hasher: scanning
// preprocessed output (or a dependency file) for every header the
// compilation actually touched, canonicalizing each path, deciding
// whether it's safe to trust, and folding its content digest into the
// running hash and the invocation's included-files map.
package includes

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cacheline/ccwrap/internal/args"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/digest"
)

// IncludedFile records one header that contributed to a compilation:
// its canonical path, content digest, and the stat fields the
// file_stat_matches fast path compares.
type IncludedFile struct {
	CanonicalPath string
	ContentDigest digest.Digest
	Size          int64
	Mtime         time.Time
	Ctime         time.Time
}

// Set accumulates the (path -> content digest) map the context builds
// up over one invocation, keyed by an xxhash of the canonical path for
// fast duplicate detection across possibly thousands of headers.
type Set struct {
	order []string
	byKey map[uint64]*IncludedFile
}

// NewSet creates an empty included-file set.
func NewSet() *Set {
	return &Set{byKey: make(map[uint64]*IncludedFile)}
}

// Add records path with its digest, ignoring a repeat of the same
// canonical path (headers are commonly #included from many places).
func (s *Set) Add(f IncludedFile) {
	key := xxhash.Sum64String(f.CanonicalPath)
	if _, ok := s.byKey[key]; ok {
		return
	}
	s.byKey[key] = &f
	s.order = append(s.order, f.CanonicalPath)
}

// Files returns every recorded file in first-seen order.
func (s *Set) Files() []IncludedFile {
	out := make([]IncludedFile, 0, len(s.order))
	for _, p := range s.order {
		key := xxhash.Sum64String(p)
		out = append(out, *s.byKey[key])
	}
	return out
}

// Scanner applies the per-path decision ladder (skip angle-bracket
// paths, skip the input itself, respect sloppiness, check freshness,
// hash content) and feeds the running hash plus the shared
// IncludedFile Set.
type Scanner struct {
	Cfg          *config.Config
	BaseDir      string
	InputFile    string
	CompileStart time.Time
	Compiler     args.Compiler

	Hash *digest.Hasher
	Set  *Set

	// Refused is set once any included file fails its freshness or
	// time-macro checks; direct mode is disabled for the rest of the
	// invocation once this happens.
	Refused bool
	// RefusedReason explains why, for diagnostics/tracing.
	RefusedReason string

	// SawIncbin is set if a `.incbin` directive is seen; the
	// orchestrator must bail out to the real compiler, since the
	// referenced binary is invisible to the include scan.
	SawIncbin bool

	// IgnoreHeadersInDirs holds path prefixes skipped unconditionally.
	// No configuration key or environment variable fills it; it is
	// empty unless the caller sets it.
	IgnoreHeadersInDirs []string

	seen map[string]bool
}

// NewScanner builds a Scanner sharing hash h and file-set set.
func NewScanner(cfg *config.Config, baseDir, inputFile string, start time.Time, compiler args.Compiler, h *digest.Hasher, set *Set) *Scanner {
	return &Scanner{
		Cfg:          cfg,
		BaseDir:      baseDir,
		InputFile:    inputFile,
		CompileStart: start,
		Compiler:     compiler,
		Hash:         h,
		Set:          set,
		seen:         make(map[string]bool),
	}
}

// ConsiderPCH runs the decision ladder for an explicitly-supplied
// precompiled header. The preprocessor does not always echo the PCH
// it loaded, so the orchestrator feeds the path from the command line
// after the scan proper.
func (s *Scanner) ConsiderPCH(path string) error {
	return s.consider(path, false)
}

// consider runs the full per-path decision ladder for one referenced
// path, deduplicating against paths already processed in this scan.
func (s *Scanner) consider(raw string, isSystemHeader bool) error {
	canon := s.canonicalize(raw)
	if s.seen[canon] {
		return nil
	}
	skip, info := s.shouldSkip(raw, canon, isSystemHeader)
	if skip {
		return nil
	}
	s.seen[canon] = true
	return s.processFile(canon, info)
}

func (s *Scanner) refuse(reason string) {
	if !s.Refused {
		s.Refused = true
		s.RefusedReason = reason
	}
}

// canonicalize strips a leading "./" and makes path relative to
// BaseDir if configured.
func (s *Scanner) canonicalize(p string) string {
	p = strings.TrimPrefix(p, "./")
	if s.BaseDir != "" {
		if rel, err := filepath.Rel(s.BaseDir, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	return p
}

// shouldSkip filters out paths that never contribute to the hash:
// angle-bracket pseudo-paths, the input file itself, sloppy system
// headers, ignore prefixes, and non-regular files/directories.
// isSystemHeader reflects marker flag 3 ("# N \"path\" 3") for the
// file currently being considered.
func (s *Scanner) shouldSkip(raw, canon string, isSystemHeader bool) (bool, os.FileInfo) {
	if strings.HasPrefix(raw, "<") {
		return true, nil
	}
	if canon == s.InputFile || filepath.Clean(canon) == filepath.Clean(s.InputFile) {
		return true, nil
	}
	if s.Cfg != nil && s.Cfg.Sloppiness.Has(config.SloppySystemHeaders) && isSystemHeader {
		return true, nil
	}
	for _, prefix := range s.IgnoreHeadersInDirs {
		if strings.HasPrefix(canon, prefix) {
			return true, nil
		}
	}
	info, err := os.Stat(canon)
	if err != nil {
		return true, nil
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return true, nil
	}
	return false, info
}

// processFile handles a file already known to exist: the freshness
// check, optional PCH .sum substitution, and content hashing with the
// time-macro scan.
func (s *Scanner) processFile(canon string, info os.FileInfo) error {
	if !s.Cfg.Sloppiness.Has(config.SloppyMtime) && !info.ModTime().Before(s.CompileStart) {
		s.refuse("include file mtime not older than compile start: " + canon)
		return nil
	}
	if ct := ctimeOf(info); !s.Cfg.Sloppiness.Has(config.SloppyCtime) && !ct.IsZero() && !ct.Before(s.CompileStart) {
		s.refuse("include file ctime not older than compile start: " + canon)
		return nil
	}

	hashPath := canon
	if strings.HasSuffix(canon, ".gch") || strings.HasSuffix(canon, ".pch") {
		if _, err := os.Stat(canon + ".sum"); err == nil {
			hashPath = canon + ".sum"
		}
	}

	f, err := os.Open(hashPath)
	if err != nil {
		s.refuse("cannot open include file: " + canon)
		return nil
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("includes: reading %s: %w", hashPath, err)
	}

	if !s.Cfg.Sloppiness.Has(config.SloppyTimeMacros) && containsTimeMacro(content) {
		s.refuse("include file contains a time macro: " + canon)
		return nil
	}

	h := digest.New()
	h.Delimiter("include-content")
	h.Absorb(content)
	contentDigest := h.Finalize()

	rec := IncludedFile{
		CanonicalPath: canon,
		ContentDigest: contentDigest,
		Size:          info.Size(),
		Mtime:         info.ModTime(),
	}
	if ct := ctimeOf(info); !ct.IsZero() {
		rec.Ctime = ct
	}
	s.Set.Add(rec)

	s.Hash.Delimiter("include-path")
	s.Hash.AbsorbString(canon)
	s.Hash.Delimiter("include-digest")
	s.Hash.Absorb(contentDigest[:])
	return nil
}

var timeMacros = [][]byte{[]byte("__DATE__"), []byte("__TIME__"), []byte("__TIMESTAMP__")}

// containsTimeMacro scans raw source bytes for __DATE__/__TIME__/
// __TIMESTAMP__. A textual scan is sufficient: these macros only
// matter as literal tokens, and the compiler itself expands them the
// same way regardless of surrounding context.
func containsTimeMacro(content []byte) bool {
	for _, m := range timeMacros {
		if bytes.Contains(content, m) {
			return true
		}
	}
	return false
}

// SourceHasTimeMacro reports whether the file at path uses a time
// macro, which makes its output time-dependent and therefore
// unsuitable for caching. An unreadable file reads as "no macro"; the
// open error will surface through the normal compile path instead.
func SourceHasTimeMacro(path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return containsTimeMacro(content)
}

// readAllLines is a small helper shared by ScanPreprocessed and
// ScanDepFile for consistent buffered reading of large files.
func readAllLines(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return sc
}
