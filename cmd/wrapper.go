package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cacheline/ccwrap/internal/cachedir"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/orchestrator"
	"github.com/cacheline/ccwrap/internal/stats"
)

// RunAsCompiler handles the compiler-wrapper invocation form:
// compiler/argv is the real compile ccwrap intercepts, classifies,
// and either serves from cache or runs for real. It returns the
// process exit code main.go should use rather than exiting directly,
// so it stays testable.
func RunAsCompiler(compiler string, argv []string) int {
	compilerPath, err := resolveCompiler(compiler)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccwrap:", err)
		return 1
	}

	cfg, err := config.NewLoader(config.Sysconfdir()).Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccwrap:", err)
		return 1
	}

	if err := cachedir.EnsureTag(cfg.CacheDir); err != nil {
		fmt.Fprintln(os.Stderr, "ccwrap:", err)
		return 1
	}
	cachedir.MaybeSweep(cfg.CacheDir)

	st, err := stats.Open(cfg.CacheDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ccwrap:", err)
		return 1
	}
	defer st.Close()

	o := orchestrator.New(cfg, compilerPath, st)
	code, _ := o.Run(argv)
	return code
}

// resolveCompiler finds the real compiler binary compiler names,
// either a path given directly or a bare name to search PATH for.
// Entries that resolve back to the running ccwrap binary itself are
// skipped, the same self-exec loop ccache avoids by walking past its
// own symlink directory when searching PATH.
func resolveCompiler(compiler string) (string, error) {
	if strings.ContainsRune(compiler, os.PathSeparator) {
		if _, err := os.Stat(compiler); err != nil {
			return "", fmt.Errorf("could not find compiler %q: %w", compiler, err)
		}
		return compiler, nil
	}

	self, err := os.Executable()
	if err != nil {
		self = ""
	} else if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}

	for _, dir := range strings.Split(os.Getenv("PATH"), string(os.PathListSeparator)) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, compiler)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(candidate); err == nil && self != "" && resolved == self {
			continue
		}
		return candidate, nil
	}

	if path, err := exec.LookPath(compiler); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("could not find compiler %q in PATH", compiler)
}
