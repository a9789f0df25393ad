package config

import "strings"

// Sloppiness is a bit-set of relaxations the user may enable to trade
// cache safety for hit rate.
type Sloppiness uint32

const SloppyNone Sloppiness = 0

const (
	// SloppyFileStatMatches accepts a manifest candidate's included
	// file as unchanged if its recorded size and mtime still match,
	// without rehashing its content; the recorded ctime is not compared.
	SloppyFileStatMatches Sloppiness = 1 << iota
	// SloppyMtime relaxes the include-file mtime freshness check.
	SloppyMtime
	// SloppyCtime relaxes the include-file freshness check for ctime.
	SloppyCtime
	// SloppyLocale skips locale environment variables in the common hash.
	SloppyLocale
	// SloppySystemHeaders skips header paths recognized as system headers.
	SloppySystemHeaders
	// SloppyPCHDefines permits precompiled headers with defines that
	// would otherwise force a bailout.
	SloppyPCHDefines
	// SloppyTimeMacros disables the __DATE__/__TIME__/__TIMESTAMP__ scan.
	SloppyTimeMacros
)

var sloppinessNames = map[string]Sloppiness{
	"file_stat_matches": SloppyFileStatMatches,
	"mtime":             SloppyMtime,
	"ctime":             SloppyCtime,
	"locale":            SloppyLocale,
	"system_headers":    SloppySystemHeaders,
	"pch_defines":       SloppyPCHDefines,
	"time_macros":       SloppyTimeMacros,
}

// ParseSloppiness parses ccache's comma-separated sloppiness list.
func ParseSloppiness(s string) Sloppiness {
	var out Sloppiness
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if bit, ok := sloppinessNames[part]; ok {
			out |= bit
		}
	}
	return out
}

// Has reports whether every bit in want is set in s.
func (s Sloppiness) Has(want Sloppiness) bool {
	return s&want == want
}

// sloppinessOrder fixes String's output order, since map iteration
// over sloppinessNames would otherwise be nondeterministic.
var sloppinessOrder = []string{
	"file_stat_matches", "mtime", "ctime", "locale",
	"system_headers", "pch_defines", "time_macros",
}

// String renders s as ccache.conf's comma-separated list, the inverse
// of ParseSloppiness.
func (s Sloppiness) String() string {
	var names []string
	for _, name := range sloppinessOrder {
		if s.Has(sloppinessNames[name]) {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}
