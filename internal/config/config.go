// Package config holds ccwrap's configuration: defaults, the two
// ccache.conf files, CCACHE_* environment overrides, and management
// flag binding.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// Default configuration values.
const (
	DefaultMaxSize            = "5G"
	DefaultMaxFiles           = 0 // 0 == unlimited
	DefaultCompilerCheck      = "mtime"
	DefaultCompression        = true
	DefaultCompressionLevel   = 0 // library default
	DefaultDirectMode         = true
	DefaultDepend             = false
	DefaultReadOnly           = false
	DefaultReadOnlyDirect     = false
	DefaultHashDir            = true
	DefaultManifestMaxEntries = 1500
)

// Config holds every option overridable by configuration file, flag,
// or CCACHE_<NAME>/CCACHE_NO<NAME> environment variable.
type Config struct {
	CacheDir   string
	ConfigPath string

	MaxSize  int64 // bytes; 0 == unlimited
	MaxFiles int   // 0 == unlimited

	CompilerCheck string // "none" | "mtime" | "content" | "string:X" | a shell command

	Compression      bool
	CompressionLevel int // 0 == library default

	DirectMode     bool
	Depend         bool
	ReadOnly       bool
	ReadOnlyDirect bool

	HashDir bool // absorb CWD into the common hash when generating debug info

	Sloppiness Sloppiness

	BasedirPaths []string // base_dir candidates for -fdebug-prefix-map-style canonicalization

	ManifestMaxEntries int

	ExtraFilesToHash []string

	Debug bool // CCACHE_DEBUG_INCLUDED / CCACHE_INTERNAL_TRACE
}

// knownKeys enumerates every key ccache.conf may set; anything else is
// a hard parse error rather than a silently ignored typo.
var knownKeys = map[string]bool{
	"cache_dir":            true,
	"max_size":             true,
	"max_files":            true,
	"compiler_check":       true,
	"compression":          true,
	"compression_level":    true,
	"direct_mode":          true,
	"depend_mode":          true,
	"read_only":            true,
	"read_only_direct":     true,
	"hash_dir":             true,
	"sloppiness":           true,
	"base_dir":             true,
	"extra_files_to_hash":  true,
	"debug":                true,
}

// Default returns the built-in defaults, before any file/env/flag
// overlay is applied.
func Default() *Config {
	maxSize, _ := units.RAMInBytes(DefaultMaxSize)
	return &Config{
		MaxSize:            maxSize,
		MaxFiles:           DefaultMaxFiles,
		CompilerCheck:      DefaultCompilerCheck,
		Compression:        DefaultCompression,
		CompressionLevel:   DefaultCompressionLevel,
		DirectMode:         DefaultDirectMode,
		Depend:             DefaultDepend,
		ReadOnly:           DefaultReadOnly,
		ReadOnlyDirect:     DefaultReadOnlyDirect,
		HashDir:            DefaultHashDir,
		ManifestMaxEntries: DefaultManifestMaxEntries,
	}
}

// applyKV applies a single parsed key=value pair, rejecting unknown
// keys.
func (c *Config) applyKV(key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !knownKeys[key] {
		return fmt.Errorf("config: unknown key %q", key)
	}

	switch key {
	case "cache_dir":
		c.CacheDir = value
	case "max_size":
		n, err := units.RAMInBytes(value)
		if err != nil {
			return fmt.Errorf("config: invalid max_size %q: %w", value, err)
		}
		c.MaxSize = n
	case "max_files":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return fmt.Errorf("config: invalid max_files %q: %w", value, err)
		}
		c.MaxFiles = n
	case "compiler_check":
		c.CompilerCheck = value
	case "compression":
		c.Compression = parseBool(value)
	case "compression_level":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return fmt.Errorf("config: invalid compression_level %q: %w", value, err)
		}
		c.CompressionLevel = n
	case "direct_mode":
		c.DirectMode = parseBool(value)
	case "depend_mode":
		c.Depend = parseBool(value)
	case "read_only":
		c.ReadOnly = parseBool(value)
	case "read_only_direct":
		c.ReadOnlyDirect = parseBool(value)
	case "hash_dir":
		c.HashDir = parseBool(value)
	case "sloppiness":
		c.Sloppiness = ParseSloppiness(value)
	case "base_dir":
		c.BasedirPaths = splitNonEmpty(value, ":")
	case "extra_files_to_hash":
		c.ExtraFilesToHash = splitNonEmpty(value, ":")
	case "debug":
		c.Debug = parseBool(value)
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envName returns the CCACHE_<UPPER> environment variable name for a
// config key (e.g. "max_size" -> "CCACHE_MAX_SIZE").
func envName(key string) string {
	return "CCACHE_" + strings.ToUpper(key)
}

// negEnvName returns the CCACHE_NO<UPPER> boolean-negation variable
// name (e.g. "direct_mode" -> "CCACHE_NODIRECT_MODE").
func negEnvName(key string) string {
	return "CCACHE_NO" + strings.ToUpper(key)
}

// ApplyEnv folds environment overrides on top of c, last in the
// precedence order: environment beats both the primary and secondary
// config files.
func (c *Config) ApplyEnv(environ []string) error {
	lookup := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			lookup[kv[:i]] = kv[i+1:]
		}
	}

	for key := range knownKeys {
		if v, ok := lookup[envName(key)]; ok {
			if err := c.applyKV(key, v); err != nil {
				return err
			}
			continue
		}
		if _, ok := lookup[negEnvName(key)]; ok {
			if err := c.applyKV(key, "false"); err != nil {
				return err
			}
		}
	}

	if v, ok := lookup["CCACHE_DIR"]; ok {
		c.CacheDir = v
	}
	return nil
}

// DefaultCacheDir returns the conventional cache directory ($HOME/.ccwrap),
// used when neither CCACHE_DIR nor cache_dir is set.
func DefaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ccwrap")
	}
	return ".ccwrap"
}

// PrimaryConfigPath is <cache_dir>/ccache.conf.
func PrimaryConfigPath(cacheDir string) string {
	return filepath.Join(cacheDir, "ccache.conf")
}

// SecondaryConfigPath is <sysconfdir>/ccache.conf.
func SecondaryConfigPath(sysconfdir string) string {
	return filepath.Join(sysconfdir, "ccache.conf")
}

// ConfigKeys lists every known key in sorted order, for --show-config.
func ConfigKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get renders key's current value the way it would appear in
// ccache.conf, for --get-config/--show-config. ok is false for an
// unrecognized key.
func (c *Config) Get(key string) (value string, ok bool) {
	switch key {
	case "cache_dir":
		return c.CacheDir, true
	case "max_size":
		return units.BytesSize(float64(c.MaxSize)), true
	case "max_files":
		return strconv.Itoa(c.MaxFiles), true
	case "compiler_check":
		return c.CompilerCheck, true
	case "compression":
		return strconv.FormatBool(c.Compression), true
	case "compression_level":
		return strconv.Itoa(c.CompressionLevel), true
	case "direct_mode":
		return strconv.FormatBool(c.DirectMode), true
	case "depend_mode":
		return strconv.FormatBool(c.Depend), true
	case "read_only":
		return strconv.FormatBool(c.ReadOnly), true
	case "read_only_direct":
		return strconv.FormatBool(c.ReadOnlyDirect), true
	case "hash_dir":
		return strconv.FormatBool(c.HashDir), true
	case "sloppiness":
		return c.Sloppiness.String(), true
	case "base_dir":
		return strings.Join(c.BasedirPaths, ":"), true
	case "extra_files_to_hash":
		return strings.Join(c.ExtraFilesToHash, ":"), true
	case "debug":
		return strconv.FormatBool(c.Debug), true
	default:
		return "", false
	}
}

// Set applies a single key=value pair onto c without validating it
// against any file, for --set-config.
func (c *Config) Set(key, value string) error {
	if !knownKeys[key] {
		return fmt.Errorf("config: unknown key %q", key)
	}
	return c.applyKV(key, value)
}
