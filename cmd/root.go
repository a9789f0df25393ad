// Package cmd implements ccwrap's command-line surface: the
// compiler-wrapper entry point (dispatched from main.go before cobra
// ever sees argv, since compiler flags aren't cobra flags) and the
// flat set of management options. Every management action is a
// root-level flag rather than a subcommand, matching how compiler
// caches are conventionally driven.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cacheline/ccwrap/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "ccwrap",
	Short:        "Transparent compiler cache",
	Long:         `ccwrap wraps a C/C++ compiler invocation, caching its result so an identical rebuild is served from disk instead of recompiling.`,
	RunE:         runManagement,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
}

// Execute runs the management-flag command tree; the compiler-wrapper
// form is dispatched by main.go before Execute is ever called.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ccwrap:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	flags := rootCmd.Flags()
	flags.Bool("cleanup", false, "clean up the cache (enforce max-size/max-files)")
	flags.Bool("clear", false, "clear the entire cache")
	flags.Int("max-files", 0, "set the maximum number of files in the cache (0 = unlimited)")
	flags.String("max-size", "", "set the maximum size of the cache (k/M/G/T or Ki/Mi/Gi/Ti, default suffix G)")
	flags.String("recompress", "", "recompress the cache at LEVEL, or \"uncompressed\"")
	flags.Bool("show-compression", false, "show compression statistics")
	flags.Bool("show-config", false, "show the current configuration")
	flags.Bool("show-stats", false, "show human-readable statistics")
	flags.Bool("print-stats", false, "show machine-readable statistics")
	flags.Bool("zero-stats", false, "zero statistics counters")
	flags.String("get-config", "", "print the value of a configuration key")
	flags.String("set-config", "", "set a configuration key (KEY=VALUE)")
	flags.String("hash-file", "", "print the hash of a file (\"-\" for stdin)")
	flags.String("dump-manifest", "", "dump the contents of a manifest file")
	flags.String("dump-result", "", "dump the contents of a result file")

	viper.SetDefault("compiler_check", "mtime")
	viper.SetDefault("direct_mode", true)
}
