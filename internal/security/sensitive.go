package security

import (
	"path/filepath"
	"strings"
)

// SensitiveFile reports whether path matches a sensitive pattern. Patterns
// are tried against the base name, the path relative to either root, and
// the path as given.
func (m *Manager) SensitiveFile(path string) bool {
	if len(m.sensitive) == 0 || path == "" {
		return false
	}

	candidates := []string{filepath.Base(path), filepath.ToSlash(path)}
	if filepath.IsAbs(path) {
		for _, root := range []string{m.projectRoot, m.sessionRoot} {
			if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
				candidates = append(candidates, filepath.ToSlash(rel))
			}
		}
	}

	for _, g := range m.sensitive {
		for _, c := range candidates {
			if g.Match(c) {
				return true
			}
		}
	}
	return false
}
