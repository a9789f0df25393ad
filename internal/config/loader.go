package config

import (
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader sequences configuration sources in precedence order:
// built-in defaults, then the secondary (sysconfdir) file, then the
// primary (cache_dir) file, then environment.
//
// viper owns the defaults-and-flag-binding concern; ccache.conf's own
// key=value grammar is read by ParseFile/LoadFile in file.go and
// folded in directly, since its "unknown keys are an error" rule has
// no equivalent in viper's file loaders.
type Loader struct {
	Sysconfdir string
}

// NewLoader creates a Loader. sysconfdir is platform-specific (ccache
// itself uses /etc on Unix); pass "" to skip the secondary file.
func NewLoader(sysconfdir string) *Loader {
	return &Loader{Sysconfdir: sysconfdir}
}

// Load resolves the full configuration: defaults, secondary file,
// primary file, bound management flags, then environment last.
func (l *Loader) Load(cmd *cobra.Command) (*Config, error) {
	cfg := Default()

	l.setupViperDefaults()

	if cacheDir := os.Getenv("CCACHE_DIR"); cacheDir != "" {
		cfg.CacheDir = cacheDir
	} else {
		cfg.CacheDir = DefaultCacheDir()
	}

	if l.Sysconfdir != "" {
		if err := cfg.LoadFile(SecondaryConfigPath(l.Sysconfdir)); err != nil {
			return nil, err
		}
	}

	primary := PrimaryConfigPath(cfg.CacheDir)
	if override := os.Getenv("CCACHE_CONFIGPATH"); override != "" {
		primary = override
	}
	if err := cfg.LoadFile(primary); err != nil {
		return nil, err
	}
	cfg.ConfigPath = primary

	if cmd != nil {
		l.bindManagementFlags(cmd)
		l.applyViperOverrides(cfg)
	}

	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}

	if os.Getenv("CCACHE_DEBUG_INCLUDED") != "" || os.Getenv("CCACHE_INTERNAL_TRACE") != "" {
		cfg.Debug = true
	}

	return cfg, nil
}

func (l *Loader) setupViperDefaults() {
	viper.SetDefault("max_size", DefaultMaxSize)
	viper.SetDefault("max_files", DefaultMaxFiles)
	viper.SetDefault("compiler_check", DefaultCompilerCheck)
	viper.SetDefault("compression", DefaultCompression)
	viper.SetDefault("direct_mode", DefaultDirectMode)
}

// bindManagementFlags wires cobra management flags (--max-size,
// --max-files, ...) into viper.
func (l *Loader) bindManagementFlags(cmd *cobra.Command) {
	for _, name := range []string{"max-size", "max-files", "recompress"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = viper.BindPFlag(name, f)
		}
	}
}

// applyViperOverrides copies any viper-bound flag values that were
// actually set onto cfg, after the file-based load, so a flag beats
// both config files.
func (l *Loader) applyViperOverrides(cfg *Config) {
	if viper.IsSet("max-size") {
		if v := viper.GetString("max-size"); v != "" {
			_ = cfg.applyKV("max_size", v)
		}
	}
	if viper.IsSet("max-files") {
		_ = cfg.applyKV("max_files", viper.GetString("max-files"))
	}
}

// Sysconfdir returns the conventional system config directory for the
// current platform.
func Sysconfdir() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	return "/etc"
}
