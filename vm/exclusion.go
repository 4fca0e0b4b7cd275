package vm

import (
	"path"
	"strconv"
)

// Exclusions name units that must never be compiled natively. Each entry
// is a glob in path.Match syntax: Names match qualified unit names
// ("Point#x", "block in Point#each"), Files match the defining file, and
// Lines match "file:line".
type Exclusions struct {
	Names []string
	Files []string
	Lines []string
}

// Empty reports whether no pattern is configured.
func (e Exclusions) Empty() bool {
	return len(e.Names) == 0 && len(e.Files) == 0 && len(e.Lines) == 0
}

// Match returns the pattern that excludes u, or "".
func (e Exclusions) Match(u *Unit) string {
	if p := matchAny(e.Names, u.name); p != "" {
		return p
	}
	if p := matchAny(e.Files, u.file); p != "" {
		return p
	}
	return matchAny(e.Lines, u.file+":"+strconv.Itoa(u.line))
}

func matchAny(patterns []string, s string) string {
	for _, p := range patterns {
		if p == s {
			return p
		}
		if ok, err := path.Match(p, s); err == nil && ok {
			return p
		}
	}
	return ""
}
