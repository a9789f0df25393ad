// Package commoninfo absorbs the fixed-order common-hash fields:
// everything that must be part of both the direct-mode and
// preprocessor-mode cache key regardless of which branch actually
// runs.
package commoninfo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cacheline/ccwrap/internal/args"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/digest"
)

// CompilerIdentity is how item 3 ("compiler identity per compiler_check
// policy") is supplied to Absorb; callers resolve the policy (none,
// mtime, string:X, content, or a shell command) before calling in, since
// running the check command is an I/O operation this package shouldn't
// own.
type CompilerIdentity struct {
	Policy string // the configured policy string, absorbed verbatim for "none"
	Bytes  []byte // resolved identity bytes for mtime/string/content/command policies
}

// Inputs collects everything Absorb needs beyond the running Hasher
// itself.
type Inputs struct {
	Cfg            *config.Config
	Info           *args.ArgsInfo
	CompilerPath   string
	Compiler       args.Compiler
	Identity       CompilerIdentity
	GeneratingDebugInfo bool // -g or equivalent present
	Cwd            string
	SanitizerBlacklists []string
	CompileStart   time.Time
}

// Absorb feeds the common-hash fields into h in a fixed order. Each
// field is preceded by its own Delimiter so an empty field never
// collapses into an adjacent one.
func Absorb(h *digest.Hasher, in Inputs) error {
	// 1. HASH_PREFIX is absorbed by digest.New() itself; nothing to do
	// here, it's already the first thing in h's buffer.

	// 2. Source file extension.
	h.Delimiter("source-ext")
	h.AbsorbString(filepath.Ext(in.Info.InputFile))

	// 3. Compiler identity per compiler_check policy.
	h.Delimiter("compiler-identity")
	h.AbsorbString(in.Identity.Policy)
	h.Absorb(in.Identity.Bytes)

	// 4. Compiler basename.
	h.Delimiter("compiler-basename")
	h.AbsorbString(filepath.Base(in.CompilerPath))

	// 5. Locale environment variables, unless sloppy.
	h.Delimiter("locale")
	if !in.Cfg.Sloppiness.Has(config.SloppyLocale) {
		for _, name := range []string{"LANG", "LC_ALL", "LC_CTYPE", "LC_MESSAGES"} {
			h.Delimiter(name)
			h.AbsorbString(os.Getenv(name))
		}
	}

	// 6. Current working directory, only when generating debug info and
	// hash_dir is on, rewritten first by the old=new pairs of the
	// base_dir setting. The -fdebug-prefix-map values given on the
	// command line are not applied: the classifier keeps only their
	// presence.
	h.Delimiter("cwd")
	if in.GeneratingDebugInfo && in.Cfg.HashDir {
		h.AbsorbString(applyPrefixMap(in.Cwd, in.Cfg.BasedirPaths))
	}

	// 7. Output object path, when dep-file generation or split-dwarf is
	// in use.
	h.Delimiter("output-object")
	if in.Info.GeneratingDeps || in.Info.SplitDwarf {
		h.AbsorbString(in.Info.OutputObject)
	}

	// 8. Coverage GCDA path, when profile-arcs is on.
	h.Delimiter("gcda-path")
	if in.Info.Coverage {
		h.AbsorbString(replaceExt(in.Info.OutputObject, ".gcda"))
	}

	// 9. Sanitizer blacklist contents.
	h.Delimiter("sanitizer-blacklists")
	for _, path := range in.SanitizerBlacklists {
		if err := absorbFile(h, path); err != nil {
			return err
		}
	}

	// 10. Extra-files-to-hash contents.
	h.Delimiter("extra-files")
	for _, path := range in.Cfg.ExtraFilesToHash {
		if err := absorbFile(h, path); err != nil {
			return err
		}
	}

	// 11. GCC_COLORS, when the compiler is gcc.
	h.Delimiter("gcc-colors")
	if in.Compiler == args.CompilerGCC {
		h.AbsorbString(os.Getenv("GCC_COLORS"))
	}

	return nil
}

func absorbFile(h *digest.Hasher, path string) error {
	h.Delimiter("file:" + path)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return h.AbsorbReader(f)
}

func replaceExt(path, newExt string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + newExt
}

// applyPrefixMap rewrites cwd according to ccache's -fdebug-prefix-map
// convention (old=new pairs) so that two builds differing only in
// base directory can still share a cache entry.
func applyPrefixMap(cwd string, mappings []string) string {
	for _, m := range mappings {
		parts := strings.SplitN(m, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.HasPrefix(cwd, parts[0]) {
			return parts[1] + strings.TrimPrefix(cwd, parts[0])
		}
	}
	return cwd
}
