package cmd

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/sxn/internal/config"
	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/logging"
	"github.com/Iron-Ham/sxn/internal/rules"
	"github.com/Iron-Ham/sxn/internal/security"
	"github.com/Iron-Ham/sxn/internal/template"
	"github.com/Iron-Ham/sxn/internal/worktree"
)

// session is the project/session pair a rules command operates on.
type session struct {
	ProjectRoot string
	SessionRoot string
	Branch      string
}

// resolveSession locates the session directory and its project. An explicit
// projectRoot wins; otherwise the project is the main worktree of the
// repository the session belongs to, and a sessionDir below a worktree's
// root is widened to that root.
func resolveSession(sessionDir, projectRoot string) (*session, error) {
	if sessionDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get current directory")
		}
		sessionDir = cwd
	}
	sessionAbs, err := filepath.Abs(sessionDir)
	if err != nil {
		return nil, err
	}
	s := &session{SessionRoot: sessionAbs}

	mgr, gitErr := worktree.New(sessionAbs)
	if gitErr == nil {
		if projectRoot == "" {
			if wt, err := mgr.Find(sessionAbs); err == nil {
				s.SessionRoot = wt.Path
			}
		}
		if branch, err := mgr.GetBranch(s.SessionRoot); err == nil {
			s.Branch = branch
		}
	}

	switch {
	case projectRoot != "":
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return nil, err
		}
		s.ProjectRoot = abs
	case gitErr != nil:
		return nil, fmt.Errorf("cannot find the project for %s: %w (use --project)", sessionAbs, gitErr)
	default:
		main, err := mgr.MainWorktree()
		if err != nil {
			return nil, errors.Wrapf(err, "cannot find the project for %s", s.SessionRoot)
		}
		s.ProjectRoot = main.Path
	}
	return s, nil
}

// variables are the template bindings every template rule sees.
func (s *session) variables() map[string]any {
	return map[string]any{
		"session": map[string]any{
			"name": filepath.Base(s.SessionRoot),
			"path": s.SessionRoot,
		},
		"project": map[string]any{
			"name": filepath.Base(s.ProjectRoot),
			"path": s.ProjectRoot,
		},
		"git": map[string]any{
			"branch": s.Branch,
		},
	}
}

// newEnv wires the security layer, renderer and logger a run needs.
func newEnv(cfg *config.Config, s *session, logger *logging.Logger) (*rules.Env, error) {
	env, err := rules.NewEnv(s.ProjectRoot, s.SessionRoot)
	if err != nil {
		return nil, err
	}

	key, err := encryptionKey(cfg.Security.EncryptionKeyEnv)
	if err != nil {
		return nil, err
	}
	sec, err := security.New(security.Options{
		ProjectRoot:       env.ProjectRoot,
		SessionRoot:       env.SessionRoot,
		AllowedCommands:   cfg.Security.AllowedCommands,
		SensitivePatterns: cfg.Security.SensitivePatterns,
		EncryptionKey:     key,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	env.Security = sec
	env.Renderer = template.New()
	env.Logger = logger
	env.CommandTimeout = cfg.Security.CommandTimeout()
	env.Variables = s.variables()
	return env, nil
}

// encryptionKey reads a base64 key from the named environment variable. An
// unset variable disables encryption.
func encryptionKey(name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	if len(key) != security.KeySize {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", name, security.KeySize, len(key))
	}
	return key, nil
}

// rulesPath returns the rules file for a project, honoring an override.
func rulesPath(cfg *config.Config, projectRoot, override string) string {
	if override != "" {
		return override
	}
	return cfg.Rules.ResolveRulesFile(projectRoot)
}
