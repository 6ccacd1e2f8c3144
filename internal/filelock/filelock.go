// Package filelock serializes rule runs against the same session across
// processes using flock(2).
package filelock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive advisory lock on a file. The zero value is not
// usable; create one with New or ForSession.
type Lock struct {
	path string
	file *os.File
}

// New returns a Lock on the file at path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// ForSession returns the lock guarding sessionRoot. Lock files live in
// lockDir rather than the session so they never show up in the worktree.
func ForSession(lockDir, sessionRoot string) *Lock {
	sum := sha256.Sum256([]byte(filepath.Clean(sessionRoot)))
	name := filepath.Base(sessionRoot) + "-" + hex.EncodeToString(sum[:8]) + ".lock"
	return New(filepath.Join(lockDir, name))
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Lock acquires the lock, blocking until it is available.
func (l *Lock) Lock() error {
	f, err := l.open()
	if err != nil {
		return err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return nil
}

// TryLock acquires the lock without blocking. It reports false when another
// holder has it.
func (l *Lock) TryLock() (bool, error) {
	f, err := l.open()
	if err != nil {
		return false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	l.file = f
	return true, nil
}

// Unlock releases the lock. It is a no-op when the lock is not held.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}

func (l *Lock) open() (*os.File, error) {
	if l.file != nil {
		return nil, fmt.Errorf("lock %s already held", l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}
