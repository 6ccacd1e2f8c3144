package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/sxn/internal/logging"
	"github.com/Iron-Ham/sxn/internal/security"
)

// DefaultCommandTimeout applies when neither the command nor the Env sets one.
const DefaultCommandTimeout = 5 * time.Minute

// Security is the set of guarded operations rules perform. *security.Manager
// implements it.
type Security interface {
	ValidatePath(path string, allowCreation bool) (string, error)
	ValidateFileOperation(source, dest string) (string, string, error)
	CommandAllowed(argv []string) bool
	Execute(ctx context.Context, argv []string, opts security.ExecOptions) (*security.ExecResult, error)
	CopyFile(source, dest string, opts security.CopyOptions) (*security.CopyResult, error)
	SensitiveFile(path string) bool
}

// Renderer renders template source against a set of variables.
type Renderer interface {
	Render(source string, vars map[string]any) (string, error)
}

// Env carries the collaborators every rule in a run is bound to.
type Env struct {
	// ProjectRoot is the absolute path of the repository rules read from.
	ProjectRoot string
	// SessionRoot is the absolute path of the worktree rules write into.
	SessionRoot string

	Security Security
	Renderer Renderer
	Logger   *logging.Logger

	// CommandTimeout is the default timeout for setup commands.
	CommandTimeout time.Duration
	// Variables are template bindings shared by every template rule.
	Variables map[string]any
}

// NewEnv returns an Env rooted at projectRoot and sessionRoot. Both must be
// existing, writable directories.
func NewEnv(projectRoot, sessionRoot string) (*Env, error) {
	project, err := checkRoot("project", projectRoot)
	if err != nil {
		return nil, err
	}
	session, err := checkRoot("session", sessionRoot)
	if err != nil {
		return nil, err
	}

	return &Env{
		ProjectRoot:    project,
		SessionRoot:    session,
		Logger:         logging.NopLogger(),
		CommandTimeout: DefaultCommandTimeout,
		Variables:      map[string]any{},
	}, nil
}

func checkRoot(label, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%s root is required", label)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%s root %s: %w", label, path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%s root %s does not exist: %w", label, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s root %s is not a directory", label, abs)
	}
	if err := unix.Access(abs, unix.W_OK); err != nil {
		return "", fmt.Errorf("%s root %s is not writable: %w", label, abs, err)
	}
	return abs, nil
}

func (e *Env) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.NopLogger()
	}
	return e.Logger
}

func (e *Env) commandTimeout() time.Duration {
	if e.CommandTimeout <= 0 {
		return DefaultCommandTimeout
	}
	return e.CommandTimeout
}
