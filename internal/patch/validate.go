package patch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ForbiddenPaths are project paths the agent never writes to.
var ForbiddenPaths = []string{
	".env",
	".env.*",
	".git",
	".gencode",
	"node_modules",
	".DS_Store",
}

// CheckPath rejects paths that are absolute, escape the project root, or
// match ForbiddenPaths. rel is relative to the project root.
func CheckPath(rel string) error {
	if rel == "" {
		return fmt.Errorf("empty path")
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("path %s is absolute, must be relative to the project root", rel)
	}
	clean := filepath.ToSlash(filepath.Clean(rel))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %s escapes the project root", rel)
	}

	for _, part := range strings.Split(clean, "/") {
		lower := strings.ToLower(part)
		for _, forbidden := range ForbiddenPaths {
			f := strings.ToLower(forbidden)
			if strings.HasSuffix(f, "*") {
				if strings.HasPrefix(lower, strings.TrimSuffix(f, "*")) {
					return fmt.Errorf("path %s matches forbidden pattern: %s", rel, forbidden)
				}
				continue
			}
			if lower == f {
				return fmt.Errorf("path %s matches forbidden pattern: %s", rel, forbidden)
			}
		}
	}
	return nil
}

// Stats counts changed lines of a unified diff.
type Stats struct {
	Added   int
	Removed int
}

func (s Stats) String() string {
	return fmt.Sprintf("+%d -%d", s.Added, s.Removed)
}

// DiffStats counts added and removed lines, skipping file headers.
func DiffStats(diffText string) Stats {
	var s Stats
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			s.Added++
		case strings.HasPrefix(line, "-"):
			s.Removed++
		}
	}
	return s
}

// ContentStats compares two versions line by line for display.
func ContentStats(before, after string) Stats {
	count := func(s string) map[string]int {
		m := make(map[string]int)
		for _, l := range splitLines(s) {
			m[l]++
		}
		return m
	}
	b, a := count(before), count(after)
	var s Stats
	for l, n := range a {
		if d := n - b[l]; d > 0 {
			s.Added += d
		}
	}
	for l, n := range b {
		if d := n - a[l]; d > 0 {
			s.Removed += d
		}
	}
	return s
}
