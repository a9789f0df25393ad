package includes

import (
	"io"
	"strings"
)

// ScanDepFile parses a Makefile-style dependency file (the kind -MD
// emits) and runs every referenced path through the same decision
// ladder as ScanPreprocessed, minus the time-macro content scan that
// only applies to preprocessed text.
//
// Dependency file grammar: one or more "target: dep dep dep" lines,
// continued across newlines with a trailing backslash, whitespace
// separated, with `\ ` escaping a literal space inside a path.
func (s *Scanner) ScanDepFile(r io.Reader) error {
	sc := readAllLines(r)

	var pending strings.Builder
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasSuffix(trimmed, "\\") {
			pending.WriteString(strings.TrimSuffix(trimmed, "\\"))
			pending.WriteByte(' ')
			continue
		}
		pending.WriteString(trimmed)
		if err := s.scanDepLine(pending.String()); err != nil {
			return err
		}
		pending.Reset()
	}
	if pending.Len() > 0 {
		if err := s.scanDepLine(pending.String()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (s *Scanner) scanDepLine(line string) error {
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		line = line[idx+1:]
	}
	for _, dep := range splitDepWords(line) {
		if dep == "" {
			continue
		}
		if err := s.consider(dep, false); err != nil {
			return err
		}
	}
	return nil
}

// splitDepWords splits on unescaped whitespace, honoring a backslash
// before a space as an escape rather than a separator.
func splitDepWords(line string) []string {
	var words []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}
