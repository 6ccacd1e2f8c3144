package rules

import (
	"fmt"
	"maps"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// ChangeType selects how a Change is undone.
type ChangeType string

const (
	ChangeFileCreated      ChangeType = "file_created"
	ChangeDirectoryCreated ChangeType = "directory_created"
	ChangeFileModified     ChangeType = "file_modified"
	ChangeSymlinkCreated   ChangeType = "symlink_created"
	ChangeCommandExecuted  ChangeType = "command_executed"
)

// MetaBackupPath is the metadata key holding the backup of a modified file.
const MetaBackupPath = "backup_path"

// ErrDirectoryNotEmpty is returned when undoing a directory_created change
// whose directory still holds entries. The directory is left in place.
var ErrDirectoryNotEmpty = errors.New("directory not empty")

// Change is one reversible side effect recorded by a rule during Apply.
// Metadata is copied on construction and on read, so a Change never
// changes after it is recorded.
type Change struct {
	Type      ChangeType
	Target    string
	Timestamp time.Time

	metadata map[string]any
}

// NewChange records a change of the given type against target.
func NewChange(typ ChangeType, target string, metadata map[string]any) Change {
	return Change{
		Type:      typ,
		Target:    target,
		Timestamp: time.Now(),
		metadata:  maps.Clone(metadata),
	}
}

// Metadata returns a copy of the change's metadata.
func (c Change) Metadata() map[string]any {
	if c.metadata == nil {
		return map[string]any{}
	}
	return maps.Clone(c.metadata)
}

// Meta returns a single metadata value.
func (c Change) Meta(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// Undo reverses the change. Targets that are already gone count as undone.
// A created directory is only removed when empty; entries written by
// anything else keep it alive and Undo reports ErrDirectoryNotEmpty.
func (c Change) Undo() error {
	switch c.Type {
	case ChangeFileCreated:
		return removeIfExists(c.Target)

	case ChangeDirectoryCreated:
		err := removeIfExists(c.Target)
		if errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST) {
			return fmt.Errorf("%s: %w", c.Target, ErrDirectoryNotEmpty)
		}
		return err

	case ChangeFileModified:
		v, _ := c.Meta(MetaBackupPath)
		backup, _ := v.(string)
		if backup == "" {
			return fmt.Errorf("no backup recorded for %s", c.Target)
		}
		// Rename restores the original and drops the backup in one step.
		if err := os.Rename(backup, c.Target); err != nil {
			return fmt.Errorf("restore %s from %s: %w", c.Target, backup, err)
		}
		return nil

	case ChangeSymlinkCreated:
		info, err := os.Lstat(c.Target)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%s is no longer a symlink", c.Target)
		}
		return os.Remove(c.Target)

	case ChangeCommandExecuted:
		// Commands are not reversible.
		return nil

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownChangeType, c.Type)
	}
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
