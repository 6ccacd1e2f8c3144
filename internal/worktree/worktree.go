// Package worktree inspects the git repository and worktrees a session lives
// in. It never creates or removes worktrees; session bookkeeping happens
// elsewhere.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Run executes a command and returns combined output.
func (CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Worktree is one entry of `git worktree list`.
type Worktree struct {
	Path string
	Head string
	// Branch is the short branch name, empty when detached or bare.
	Branch   string
	Detached bool
	Bare     bool
}

// Manager answers questions about a repository's worktrees.
type Manager struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
// Returns an error if no git repository is found.
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git is a file inside a linked worktree
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	return NewWithExecutor(gitRoot, CLICommandExecutor{}), nil
}

// NewWithExecutor creates a Manager rooted at repoDir that runs git through
// executor.
func NewWithExecutor(repoDir string, executor CommandExecutor) *Manager {
	return &Manager{repoDir: repoDir, executor: executor}
}

// RepoDir returns the git root the Manager was created for.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// List returns every worktree of the repository. The main worktree is first.
func (m *Manager) List() ([]Worktree, error) {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w\n%s", err, truncateOutput(string(output), 500))
	}
	return parsePorcelain(string(output)), nil
}

// MainWorktree returns the repository's main worktree, which is the project
// root for every session created from it.
func (m *Manager) MainWorktree() (Worktree, error) {
	worktrees, err := m.List()
	if err != nil {
		return Worktree{}, err
	}
	if len(worktrees) == 0 {
		return Worktree{}, fmt.Errorf("no worktrees found in %s", m.repoDir)
	}
	return worktrees[0], nil
}

// Find returns the worktree containing path. When worktrees nest, the
// deepest one wins.
func (m *Manager) Find(path string) (Worktree, error) {
	target, err := realPath(path)
	if err != nil {
		return Worktree{}, err
	}
	worktrees, err := m.List()
	if err != nil {
		return Worktree{}, err
	}

	var best Worktree
	found := false
	for _, wt := range worktrees {
		root, err := realPath(wt.Path)
		if err != nil {
			continue
		}
		if !within(root, target) {
			continue
		}
		if !found || len(root) > len(best.Path) {
			best = wt
			best.Path = root
			found = true
		}
	}
	if !found {
		return Worktree{}, fmt.Errorf("%s is not inside a worktree of %s", path, m.repoDir)
	}
	return best, nil
}

// GetBranch returns the branch checked out at path, or "HEAD" when detached.
func (m *Manager) GetBranch(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func parsePorcelain(output string) []Worktree {
	var (
		worktrees []Worktree
		current   *Worktree
	)
	flush := func() {
		if current != nil {
			worktrees = append(worktrees, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "worktree":
			flush()
			current = &Worktree{Path: value}
		case "HEAD":
			if current != nil {
				current.Head = value
			}
		case "branch":
			if current != nil {
				current.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "detached":
			if current != nil {
				current.Detached = true
			}
		case "bare":
			if current != nil {
				current.Bare = true
			}
		case "":
			flush()
		}
	}
	flush()
	return worktrees
}

func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// truncateOutput limits output to maxLen bytes, appending "..." when cut.
func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
