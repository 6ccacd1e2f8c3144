package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/sxn/internal/security"
)

// KindCopyFiles copies or symlinks project files into the session.
const KindCopyFiles = "copy_files"

// Copy strategies.
const (
	StrategyCopy    = "copy"
	StrategySymlink = "symlink"
)

// CopyFilesConfig is the decoded config of a copy_files rule.
type CopyFilesConfig struct {
	Files []FileEntry `mapstructure:"files"`
}

// FileEntry describes one file (or glob of files) to bring into the session.
type FileEntry struct {
	// Source is relative to the project root and may be a glob.
	Source string `mapstructure:"source"`
	// Destination is relative to the session root. It defaults to Source;
	// for a glob it is a directory the matches are placed under.
	Destination string `mapstructure:"destination"`
	Strategy    string `mapstructure:"strategy"`
	// Permissions is an octal mode string such as "0600".
	Permissions string `mapstructure:"permissions"`
	Encrypt     bool   `mapstructure:"encrypt"`
	// Required defaults to true; a missing optional source is skipped.
	Required *bool `mapstructure:"required"`

	mode    os.FileMode
	pattern glob.Glob
}

func (f *FileEntry) required() bool { return f.Required == nil || *f.Required }

func (f *FileEntry) strategy() string {
	if f.Strategy == "" {
		return StrategyCopy
	}
	return f.Strategy
}

// CopyFilesRule implements the copy_files kind.
type CopyFilesRule struct {
	Base
	cfg CopyFilesConfig
}

// NewCopyFilesRule is the copy_files Factory.
func NewCopyFilesRule(spec Spec, env *Env) (Rule, error) {
	base, err := NewBase(KindCopyFiles, spec, env)
	if err != nil {
		return nil, err
	}
	return &CopyFilesRule{Base: base}, nil
}

// Validate checks the files list.
func (r *CopyFilesRule) Validate() error {
	return r.RunValidate(r.validateConfig)
}

func (r *CopyFilesRule) validateConfig() error {
	var cfg CopyFilesConfig
	if err := decodeConfig(r.config, &cfg); err != nil {
		return r.invalid("config", nil, err.Error())
	}
	if len(cfg.Files) == 0 {
		return r.invalid("files", nil, "at least one file is required")
	}

	for i := range cfg.Files {
		f := &cfg.Files[i]
		field := fmt.Sprintf("files[%d]", i)

		if f.Source == "" {
			return r.invalid(field+".source", nil, "source is required")
		}
		if strings.ContainsRune(f.Source, '\x00') || strings.ContainsRune(f.Destination, '\x00') {
			return r.invalid(field, nil, "paths must not contain null bytes")
		}
		if filepath.IsAbs(f.Source) {
			return r.invalid(field+".source", f.Source, "source must be relative to the project root")
		}

		switch f.strategy() {
		case StrategyCopy, StrategySymlink:
		default:
			return r.invalid(field+".strategy", f.Strategy, "strategy must be copy or symlink")
		}
		if f.strategy() == StrategySymlink && (f.Encrypt || f.Permissions != "") {
			return r.invalid(field+".strategy", f.Strategy, "symlinks cannot be encrypted or given permissions")
		}

		if f.Permissions != "" {
			mode, err := strconv.ParseUint(f.Permissions, 8, 32)
			if err != nil || mode > 0o777 {
				return r.invalid(field+".permissions", f.Permissions, "permissions must be an octal mode such as 0600")
			}
			f.mode = os.FileMode(mode)
		}

		if isGlob(f.Source) {
			g, err := glob.Compile(filepath.ToSlash(f.Source), '/')
			if err != nil {
				return r.invalid(field+".source", f.Source, fmt.Sprintf("invalid glob: %v", err))
			}
			f.pattern = g
		}
	}

	if r.env.Security == nil {
		return r.invalid("security", nil, "no security collaborator configured")
	}

	r.cfg = cfg
	return nil
}

// Apply copies every entry, recording a change per mutation.
func (r *CopyFilesRule) Apply(ctx context.Context) error {
	return r.RunApply(ctx, r.apply)
}

func (r *CopyFilesRule) apply(ctx context.Context) error {
	for i := range r.cfg.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := &r.cfg.Files[i]

		pairs, err := r.expand(f)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			if f.required() {
				return fmt.Errorf("required source %s not found", f.Source)
			}
			r.log.Info("optional source not found, skipping", "source", f.Source)
			continue
		}

		for _, p := range pairs {
			if err := r.copyOne(f, p.source, p.dest); err != nil {
				return err
			}
		}
	}
	return nil
}

type copyPair struct{ source, dest string }

// expand resolves an entry to project-relative source and session-relative
// destination pairs. Globs keep each match's layout below Destination.
func (r *CopyFilesRule) expand(f *FileEntry) ([]copyPair, error) {
	if f.pattern == nil {
		if _, err := os.Lstat(filepath.Join(r.env.ProjectRoot, f.Source)); err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		dest := f.Destination
		if dest == "" {
			dest = f.Source
		}
		return []copyPair{{source: f.Source, dest: dest}}, nil
	}

	var pairs []copyPair
	err := filepath.WalkDir(r.env.ProjectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(r.env.ProjectRoot, path)
		if err != nil {
			return err
		}
		if f.pattern.Match(filepath.ToSlash(rel)) {
			pairs = append(pairs, copyPair{source: rel, dest: filepath.Join(f.Destination, rel)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", f.Source, err)
	}
	return pairs, nil
}

func (r *CopyFilesRule) copyOne(f *FileEntry, source, dest string) error {
	sec := r.env.Security
	src, dst, err := sec.ValidateFileOperation(source, dest)
	if err != nil {
		return err
	}

	if err := ensureParents(&r.Base, dst); err != nil {
		return err
	}

	_, statErr := os.Lstat(dst)
	exists := statErr == nil

	if f.strategy() == StrategySymlink {
		if exists {
			backup := security.BackupPath(dst)
			if err := os.Rename(dst, backup); err != nil {
				return fmt.Errorf("back up %s: %w", dst, err)
			}
			r.Record(ChangeFileModified, dst, map[string]any{MetaBackupPath: backup})
		}
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", dst, src, err)
		}
		r.Record(ChangeSymlinkCreated, dst, map[string]any{"source": src})
		r.log.Debug("symlinked file", "source", src, "dest", dst)
		return nil
	}

	// A zero mode lets the security layer pick 0600 for sensitive files.
	res, err := sec.CopyFile(src, dst, security.CopyOptions{
		Permissions: f.mode,
		Encrypt:     f.Encrypt,
		Backup:      exists,
	})
	if err != nil {
		return err
	}

	meta := map[string]any{
		"source":    src,
		"checksum":  res.Checksum,
		"encrypted": res.Encrypted,
	}
	if res.BackupPath != "" {
		meta[MetaBackupPath] = res.BackupPath
		r.Record(ChangeFileModified, dst, meta)
	} else {
		r.Record(ChangeFileCreated, dst, meta)
	}
	return nil
}

// ensureParents creates the missing parent directories of path, recording
// each one it created so rollback removes them.
func ensureParents(b *Base, path string) error {
	var missing []string
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return err
		}
		missing = append(missing, dir)
		if filepath.Dir(dir) == dir {
			break
		}
	}

	// Create outermost first so undo, which runs in reverse, removes innermost first.
	for i := len(missing) - 1; i >= 0; i-- {
		err := os.Mkdir(missing[i], 0o755)
		if os.IsExist(err) {
			// A rule running alongside got there first; the directory is its change.
			continue
		}
		if err != nil {
			return fmt.Errorf("create directory %s: %w", missing[i], err)
		}
		b.Record(ChangeDirectoryCreated, missing[i], nil)
	}
	return nil
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
