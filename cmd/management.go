package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/cacheline/ccwrap/internal/cachedir"
	"github.com/cacheline/ccwrap/internal/codes"
	"github.com/cacheline/ccwrap/internal/config"
	"github.com/cacheline/ccwrap/internal/digest"
	"github.com/cacheline/ccwrap/internal/janitor"
	"github.com/cacheline/ccwrap/internal/manifest"
	"github.com/cacheline/ccwrap/internal/result"
	"github.com/cacheline/ccwrap/internal/stats"
)

// runManagement dispatches the single management flag the caller set,
// mirroring ccache's own single-binary, flag-not-subcommand CLI. A
// bare positional with no recognized flag falls through to the
// compiler-wrapper path, the same form main.go intercepts before
// cobra parses argv at all.
func runManagement(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	switch {
	case flags.Changed("clear"):
		return withConfig(nil, runClear)
	case flags.Changed("cleanup"):
		return withConfig(cmd, runCleanup)
	case flags.Changed("max-files"):
		n, _ := flags.GetInt("max-files")
		return withConfig(cmd, func(cfg *config.Config) error { return setConfigAndReport(cfg, "max_files", strconv.Itoa(n)) })
	case flags.Changed("max-size"):
		v, _ := flags.GetString("max-size")
		return withConfig(cmd, func(cfg *config.Config) error { return setConfigAndReport(cfg, "max_size", v) })
	case flags.Changed("recompress"):
		v, _ := flags.GetString("recompress")
		return withConfig(cmd, func(cfg *config.Config) error { return runRecompress(cfg, v) })
	case flags.Changed("show-compression"):
		return withConfig(cmd, runShowCompression)
	case flags.Changed("show-config"):
		return withConfig(cmd, runShowConfig)
	case flags.Changed("show-stats"):
		return withConfig(cmd, func(cfg *config.Config) error { return runShowStats(cfg, false) })
	case flags.Changed("print-stats"):
		return withConfig(cmd, func(cfg *config.Config) error { return runShowStats(cfg, true) })
	case flags.Changed("zero-stats"):
		return withConfig(cmd, runZeroStats)
	case flags.Changed("get-config"):
		v, _ := flags.GetString("get-config")
		return withConfig(cmd, func(cfg *config.Config) error { return runGetConfig(cfg, v) })
	case flags.Changed("set-config"):
		v, _ := flags.GetString("set-config")
		return withConfig(cmd, func(cfg *config.Config) error { return runSetConfig(cfg, v) })
	case flags.Changed("hash-file"):
		v, _ := flags.GetString("hash-file")
		return runHashFile(v)
	case flags.Changed("dump-manifest"):
		v, _ := flags.GetString("dump-manifest")
		return runDumpManifest(v)
	case flags.Changed("dump-result"):
		v, _ := flags.GetString("dump-result")
		return runDumpResult(v)
	}

	if len(args) > 0 {
		os.Exit(RunAsCompiler(args[0], args[1:]))
		return nil
	}

	return cmd.Usage()
}

// withConfig loads configuration (binding cmd's flags when non-nil)
// before handing off to fn, the same load-then-act shape every
// management action needs.
func withConfig(cmd *cobra.Command, fn func(*config.Config) error) error {
	cfg, err := config.NewLoader(config.Sysconfdir()).Load(cmd)
	if err != nil {
		return err
	}
	return fn(cfg)
}

func runClear(cfg *config.Config) error {
	if err := os.RemoveAll(cfg.CacheDir); err != nil {
		return fmt.Errorf("clearing %s: %w", cfg.CacheDir, err)
	}
	if err := cachedir.EnsureTag(cfg.CacheDir); err != nil {
		return err
	}
	st, err := stats.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Zero(); err != nil {
		return err
	}
	fmt.Println("cache cleared")
	return nil
}

func runCleanup(cfg *config.Config) error {
	res, err := janitor.Clean(cfg.CacheDir, cfg.MaxSize, cfg.MaxFiles)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d files, freed %d bytes (now %d files, %d bytes)\n",
		res.FilesRemoved, res.BytesFreed, res.FilesTotal-res.FilesRemoved, res.BytesTotal-res.BytesFreed)
	return nil
}

func setConfigAndReport(cfg *config.Config, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := config.SetFileValue(cfg.ConfigPath, key, value); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", key, value)
	return nil
}

func runGetConfig(cfg *config.Config, key string) error {
	v, ok := cfg.Get(key)
	if !ok {
		return fmt.Errorf("unknown configuration key %q", key)
	}
	fmt.Println(v)
	return nil
}

func runSetConfig(cfg *config.Config, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("--set-config expects KEY=VALUE, got %q", kv)
	}
	return setConfigAndReport(cfg, strings.TrimSpace(key), strings.TrimSpace(value))
}

func runShowConfig(cfg *config.Config) error {
	for _, key := range config.ConfigKeys() {
		v, _ := cfg.Get(key)
		fmt.Printf("%s = %s\n", key, v)
	}
	return nil
}

func runShowStats(cfg *config.Config, machineReadable bool) error {
	st, err := stats.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer st.Close()

	counters, err := st.All()
	if err != nil {
		return err
	}
	files, bytes, err := janitor.Totals(cfg.CacheDir)
	if err != nil {
		return err
	}

	if machineReadable {
		fmt.Printf("cache_dir\t%s\n", cfg.CacheDir)
		fmt.Printf("files_in_cache\t%d\n", files)
		fmt.Printf("cache_size\t%d\n", bytes)
		for _, k := range codesInOrder(counters) {
			fmt.Printf("%s\t%d\n", k.String(), counters[k])
		}
		return nil
	}

	fmt.Printf("cache directory                    %s\n", cfg.CacheDir)
	fmt.Printf("files in cache                      %d\n", files)
	fmt.Printf("cache size                           %s\n", humanBytes(bytes))
	for _, k := range codesInOrder(counters) {
		if counters[k] == 0 {
			continue
		}
		fmt.Printf("%-36s%d\n", k.String(), counters[k])
	}
	return nil
}

func runZeroStats(cfg *config.Config) error {
	st, err := stats.Open(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Zero(); err != nil {
		return err
	}
	fmt.Println("statistics zeroed")
	return nil
}

func runHashFile(path string) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	d, err := digest.HashReader("hash-file", r)
	if err != nil {
		return err
	}
	fmt.Println(d.String())
	return nil
}

func runDumpManifest(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := manifest.Decode(raw)
	if err != nil {
		return err
	}
	fmt.Printf("%d candidate(s)\n", len(m.Candidates))
	for i, c := range m.Candidates {
		fmt.Printf("candidate %d: result=%s, %d included file(s)\n", i, c.Result.String(), len(c.IncludedFiles))
		for _, f := range c.IncludedFiles {
			fmt.Printf("  %s (%d bytes, digest=%s)\n", f.Path, f.Size, f.Digest.String())
		}
	}
	return nil
}

func runDumpResult(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := result.Decode(raw)
	if err != nil {
		return err
	}
	fmt.Printf("created: %s\n", b.CreationTime.Format("2006-01-02T15:04:05Z07:00"))
	for _, e := range b.Entries {
		fmt.Printf("  %s: %d bytes\n", e.Type.String(), len(e.Payload))
	}
	return nil
}

// runRecompress walks every ".manifest"/".result" file under the cache
// and rewrites it at the requested compression level.
func runRecompress(cfg *config.Config, levelArg string) error {
	level, err := parseRecompressLevel(levelArg)
	if err != nil {
		return err
	}

	touched := 0
	err = filepath.WalkDir(cfg.CacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch {
		case strings.HasSuffix(path, ".manifest"):
			if recompressManifest(path, level) == nil {
				touched++
			}
		case strings.HasSuffix(path, ".result"):
			if recompressResult(path, level) == nil {
				touched++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("recompressed %d file(s)\n", touched)
	return nil
}

func parseRecompressLevel(v string) (int, error) {
	if v == "uncompressed" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("--recompress expects a level or \"uncompressed\", got %q", v)
	}
	return n, nil
}

func recompressManifest(path string, level int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := manifest.Decode(raw)
	if err != nil {
		return err
	}
	out, err := manifest.Encode(m, level)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func recompressResult(path string, level int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	b, err := result.Decode(raw)
	if err != nil {
		return err
	}
	out, err := result.Encode(b, level)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

func runShowCompression(cfg *config.Config) error {
	var compressedBytes, originalBytes int64
	var manifests, results int

	err := filepath.WalkDir(cfg.CacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		switch {
		case strings.HasSuffix(path, ".manifest"):
			manifests++
			compressedBytes += info.Size()
			if raw, readErr := os.ReadFile(path); readErr == nil {
				if m, decErr := manifest.Decode(raw); decErr == nil {
					originalBytes += int64(manifestApproxSize(m))
				}
			}
		case strings.HasSuffix(path, ".result"):
			results++
			compressedBytes += info.Size()
			if raw, readErr := os.ReadFile(path); readErr == nil {
				if b, decErr := result.Decode(raw); decErr == nil {
					for _, e := range b.Entries {
						originalBytes += int64(len(e.Payload))
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("manifest files                      %d\n", manifests)
	fmt.Printf("result files                         %d\n", results)
	fmt.Printf("original data                        %s\n", humanBytes(originalBytes))
	fmt.Printf("compressed data                      %s\n", humanBytes(compressedBytes))
	if originalBytes > 0 {
		fmt.Printf("compression ratio                   %.3f\n", float64(originalBytes)/float64(compressedBytes))
	}
	return nil
}

// manifestApproxSize estimates a manifest's decompressed payload size
// from its decoded contents, for --show-compression's ratio. It need
// not match the encoder's byte-for-byte layout, only be proportional
// to it.
func manifestApproxSize(m manifest.Manifest) int {
	size := 0
	for _, c := range m.Candidates {
		size += len(c.Result)
		for _, f := range c.IncludedFiles {
			size += len(f.Path) + len(f.Digest) + 24
		}
	}
	return size
}

func humanBytes(n int64) string {
	return units.BytesSize(float64(n))
}

func codesInOrder(counters map[codes.StatKind]uint64) []codes.StatKind {
	keys := make([]codes.StatKind, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
