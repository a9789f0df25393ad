// Command ccwrap is a transparent compiler cache: run as a compiler
// wrapper it serves a matching prior build from its cache instead of
// recompiling; run as itself it exposes the cache's management
// surface.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cacheline/ccwrap/cmd"
)

// ourNames are the basenames cobra's management command tree answers
// to. Invoked under any other basename (a symlink or hardlink named
// after a real compiler) or with a first argument that isn't a flag
// (the direct "ccwrap gcc ..." form), argv[1:] is the compiler
// invocation to wrap instead.
var ourNames = map[string]bool{
	"ccwrap":     true,
	"ccwrap.exe": true,
}

func main() {
	base := filepath.Base(os.Args[0])

	if !ourNames[base] {
		os.Exit(cmd.RunAsCompiler(base, os.Args[1:]))
	}

	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		os.Exit(cmd.RunAsCompiler(os.Args[1], os.Args[2:]))
	}

	cmd.Execute()
}
