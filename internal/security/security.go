// Package security guards every filesystem and process operation a rule
// performs. Paths are confined to the project and session roots, commands
// must be on an allowlist and run without a shell, and file copies can be
// backed up, checksummed and encrypted.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gobwas/glob"

	"github.com/Iron-Ham/sxn/internal/logging"
)

// KeySize is the required length of an encryption key in bytes (AES-256).
const KeySize = 32

// DefaultTimeout applies to Execute calls that set no timeout.
const DefaultTimeout = 5 * time.Minute

// Options configures a Manager.
type Options struct {
	ProjectRoot string
	SessionRoot string

	// AllowedCommands lists programs Execute may run.
	AllowedCommands []string
	// SensitivePatterns are glob patterns identifying secret files.
	SensitivePatterns []string
	// EncryptionKey enables encrypted copies. It must be KeySize bytes and
	// is wiped from the caller's slice once moved into protected memory.
	EncryptionKey []byte

	Logger *logging.Logger
}

// Manager implements the guarded operations. It is safe for concurrent use.
type Manager struct {
	projectRoot string
	sessionRoot string
	// Symlink-resolved roots used for containment checks.
	realProject string
	realSession string

	allowed   map[string]bool
	sensitive []glob.Glob

	key    *memguard.Enclave
	logger *logging.Logger
}

var memguardInitOnce sync.Once

// New returns a Manager for the given roots. Both roots must exist.
func New(opts Options) (*Manager, error) {
	project, realProject, err := resolveRoot("project", opts.ProjectRoot)
	if err != nil {
		return nil, err
	}
	session, realSession, err := resolveRoot("session", opts.SessionRoot)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		projectRoot: project,
		sessionRoot: session,
		realProject: realProject,
		realSession: realSession,
		allowed:     make(map[string]bool, len(opts.AllowedCommands)),
		logger:      opts.Logger,
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}

	for _, cmd := range opts.AllowedCommands {
		if cmd != "" {
			m.allowed[cmd] = true
		}
	}

	for _, pattern := range opts.SensitivePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid sensitive pattern %q: %w", pattern, err)
		}
		m.sensitive = append(m.sensitive, g)
	}

	if len(opts.EncryptionKey) > 0 {
		if len(opts.EncryptionKey) != KeySize {
			return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(opts.EncryptionKey))
		}
		memguardInitOnce.Do(memguard.CatchInterrupt)
		m.key = memguard.NewEnclave(opts.EncryptionKey)
	}

	return m, nil
}

func resolveRoot(label, root string) (string, string, error) {
	if root == "" {
		return "", "", fmt.Errorf("%s root is required", label)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("%s root: %w", label, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", "", fmt.Errorf("%s root %s: %w", label, abs, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", "", fmt.Errorf("%s root %s: %w", label, abs, err)
	}
	if !info.IsDir() {
		return "", "", fmt.Errorf("%s root %s is not a directory", label, abs)
	}
	return abs, resolved, nil
}

// ProjectRoot returns the absolute project root.
func (m *Manager) ProjectRoot() string { return m.projectRoot }

// SessionRoot returns the absolute session root.
func (m *Manager) SessionRoot() string { return m.sessionRoot }

// EncryptionEnabled reports whether a key was configured.
func (m *Manager) EncryptionEnabled() bool { return m.key != nil }

// Purge wipes all protected memory held by the process, including the
// encryption key. Call it once on shutdown.
func Purge() {
	memguard.Purge()
}
