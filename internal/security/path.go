package security

import (
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// ValidatePath returns the resolved form of path after checking that it
// cannot escape the project or session root. Relative paths resolve against
// the session root.
//
// Every directory above the final element is resolved, so the returned path
// holds no symlinks a later swap could redirect. The final element is kept
// as written so callers act on a link rather than through it, but where it
// points must still lie inside a root. With allowCreation a missing path is
// accepted as long as its existing ancestors pass the same checks.
func (m *Manager) ValidatePath(path string, allowCreation bool) (string, error) {
	if err := checkSyntax(path); err != nil {
		return "", err
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(m.sessionRoot, abs)
	}
	abs = filepath.Clean(abs)

	root, realRoot, ok := m.rootOf(abs)
	if !ok {
		return "", outsideRoots(path)
	}
	if abs == root {
		return realRoot, nil
	}

	parent, err := m.resolveParent(abs, root, realRoot)
	if err != nil {
		return "", err
	}
	target := filepath.Join(parent, filepath.Base(abs))

	info, err := os.Lstat(target)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		dest, err := filepath.EvalSymlinks(target)
		if os.IsNotExist(err) {
			return "", errors.NewSecurityError("path is a dangling symlink", errors.ErrPathOutsideRoot).WithPath(path)
		}
		if err != nil {
			return "", errors.NewSecurityError("cannot resolve path", err).WithPath(path)
		}
		if !m.insideRoots(dest) {
			return "", outsideRoots(path)
		}
	case err == nil:
	case os.IsNotExist(err):
		if !allowCreation {
			return "", errors.NewSecurityError("path does not exist", errors.ErrPathNotFound).WithPath(path)
		}
	default:
		return "", errors.NewSecurityError("cannot resolve path", err).WithPath(path)
	}
	return target, nil
}

// checkSyntax rejects paths that are empty, carry a null byte or contain a
// ".." segment. It runs before any joining or cleaning.
func checkSyntax(path string) error {
	if path == "" {
		return errors.NewSecurityError("empty path", errors.ErrInvalidInput)
	}
	if strings.ContainsRune(path, '\x00') {
		return errors.NewSecurityError("path contains a null byte", errors.ErrNullByte).WithPath(path)
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return errors.NewSecurityError("path contains a parent directory reference", errors.ErrPathTraversal).WithPath(path)
		}
	}
	return nil
}

// rootOf returns the root abs lies under, as given and symlink-resolved.
// The session wins when it is nested in the project.
func (m *Manager) rootOf(abs string) (string, string, bool) {
	for _, r := range [][2]string{{m.sessionRoot, m.realSession}, {m.projectRoot, m.realProject}} {
		for _, base := range r {
			if within(abs, base) {
				return base, r[1], true
			}
		}
	}
	return "", "", false
}

// resolveParent resolves the directory holding abs. securejoin walks it with
// realRoot as the filesystem root, so the walk itself never leaves the root.
// A symlink the OS would follow elsewhere makes the two views disagree; that
// is only accepted when the OS view lands inside the other root.
func (m *Manager) resolveParent(abs, root, realRoot string) (string, error) {
	rel, err := filepath.Rel(root, filepath.Dir(abs))
	if err != nil {
		return "", errors.NewSecurityError("cannot resolve path", err).WithPath(abs)
	}
	scoped, err := securejoin.SecureJoin(realRoot, rel)
	if err != nil {
		return "", errors.NewSecurityError("cannot resolve path", err).WithPath(abs)
	}

	followed, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	if followed == scoped {
		return scoped, nil
	}
	if m.insideRoots(followed) {
		return followed, nil
	}
	return "", outsideRoots(abs)
}

// resolveExisting follows the symlinks in p. Missing trailing elements are
// kept as written; a dangling symlink is refused.
func resolveExisting(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", errors.NewSecurityError("cannot resolve path", err).WithPath(p)
	}
	if info, lerr := os.Lstat(p); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", errors.NewSecurityError("path is a dangling symlink", errors.ErrPathOutsideRoot).WithPath(p)
	}

	parent := filepath.Dir(p)
	if parent == p {
		return "", errors.NewSecurityError("no existing ancestor", errors.ErrPathNotFound).WithPath(p)
	}
	head, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(head, filepath.Base(p)), nil
}

func (m *Manager) insideRoots(resolved string) bool {
	return within(resolved, m.realProject) || within(resolved, m.realSession)
}

func outsideRoots(path string) error {
	return errors.NewSecurityError("path resolves outside the project and session roots", errors.ErrPathOutsideRoot).WithPath(path)
}

// ValidateFileOperation checks a copy from the project into the session.
// A relative source resolves against the project root and must exist; a
// relative dest resolves against the session root and may be created.
func (m *Manager) ValidateFileOperation(source, dest string) (string, string, error) {
	if err := checkSyntax(source); err != nil {
		return "", "", err
	}
	if !filepath.IsAbs(source) {
		source = filepath.Join(m.projectRoot, source)
	}
	src, err := m.ValidatePath(source, false)
	if err != nil {
		return "", "", err
	}

	dst, err := m.ValidatePath(dest, true)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// within reports whether path is root or lies beneath it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
