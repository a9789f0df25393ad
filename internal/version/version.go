// Package version holds the build-time identity stamped into the
// ccwrap binary via -ldflags, the same way moby's version package is
// overridden at link time rather than edited by hand.
package version

// Version, Commit, and BuildTime are overridden at build time with
// -ldflags "-X github.com/cacheline/ccwrap/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
