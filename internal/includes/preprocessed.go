package includes

import (
	"io"
	"strconv"
	"strings"

	"github.com/cacheline/ccwrap/internal/args"
)

// pumpBanner marks the noise lines a distcc-pump wrapped preprocessor
// interleaves into its output: nine or more leading underscores.
const pumpBanner = "_________"

// ScanPreprocessed walks preprocessed compiler output line by line,
// following every GCC/Clang line-marker form to discover which header
// files actually contributed, hashing each one's content into the
// Scanner's running hash and Set. It returns the cleaned preprocessed
// text stripped of markers and pump banner noise, since that's what
// the preprocessor-mode hash absorbs next.
func (s *Scanner) ScanPreprocessed(r io.Reader) ([]byte, error) {
	sc := readAllLines(r)

	var out strings.Builder
	gcc6Workaround := false

	for sc.Scan() {
		line := sc.Text()

		if s.Compiler == args.CompilerPump && strings.HasPrefix(line, pumpBanner) {
			continue
		}

		if path, flags, ok := parseNumberedMarker(line); ok {
			if gcc6Workaround && path == "<command-line>" && flags == "2" {
				// GCC 6 emits `# 32 "<command-line>" 2` immediately after
				// a bogus `# 31 "<command-line>"` marker; ccache rewrites
				// the pair back to a harmless `# 1` marker.
				gcc6Workaround = false
				continue
			}
			gcc6Workaround = path == "<command-line>" && flags == ""
			if err := s.handleMarkerPath(path, flags); err != nil {
				return nil, err
			}
			continue
		}

		if path, ok := parsePCHPragma(line); ok {
			if err := s.consider(path, false); err != nil {
				return nil, err
			}
			continue
		}

		if path, ok := parseLineDirective(line); ok {
			if err := s.consider(path, false); err != nil {
				return nil, err
			}
			continue
		}

		if strings.Contains(line, ".incbin") {
			s.SawIncbin = true
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}

// handleMarkerPath applies a `# N "path" flags` marker: flag "1" opens
// a new file (the one to hash), flag "2" returns to the includer
// (never hashed again here since consider() dedups), flag "3" marks a
// system header subject to sloppy_system_headers, flag "4" marks an
// extern-C block and carries no path significance for hashing.
func (s *Scanner) handleMarkerPath(path, flags string) error {
	if path == "" || path == "<built-in>" || path == "<command-line>" {
		return nil
	}
	isSystemHeader := strings.Contains(flags, "3")
	return s.consider(path, isSystemHeader)
}

// parseNumberedMarker matches `# N "path"[ flags...]`, the classic GCC
// preprocessor line marker.
func parseNumberedMarker(line string) (path, flags string, ok bool) {
	if line == "" || line[0] != '#' {
		return "", "", false
	}
	rest := strings.TrimSpace(line[1:])
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return "", "", false
	}
	if _, err := strconv.Atoi(rest[:sp]); err != nil {
		return "", "", false
	}
	rem := strings.TrimSpace(rest[sp+1:])
	if len(rem) < 2 || rem[0] != '"' {
		return "", "", false
	}
	end := strings.IndexByte(rem[1:], '"')
	if end < 0 {
		return "", "", false
	}
	path = rem[1 : 1+end]
	flags = strings.TrimSpace(rem[1+end+1:])
	return path, flags, true
}

// parsePCHPragma matches `#pragma GCC pch_preprocess "path"`, emitted
// when a precompiled header was used.
func parsePCHPragma(line string) (string, bool) {
	const prefix = "#pragma GCC pch_preprocess \""
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// parseLineDirective matches Clang's `#line N "path"` form.
func parseLineDirective(line string) (string, bool) {
	const prefix = "#line "
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(line, prefix)
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return "", false
	}
	if _, err := strconv.Atoi(rest[:sp]); err != nil {
		return "", false
	}
	rem := strings.TrimSpace(rest[sp+1:])
	if len(rem) < 2 || rem[0] != '"' {
		return "", false
	}
	end := strings.IndexByte(rem[1:], '"')
	if end < 0 {
		return "", false
	}
	return rem[1 : 1+end], true
}
