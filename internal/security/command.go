package security

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/sxn/internal/errors"
)

// ExecOptions configures a single Execute call.
type ExecOptions struct {
	// Env is added to the inherited environment, overriding duplicates.
	Env map[string]string
	// Dir is the working directory. Empty means the session root.
	Dir string
	// Timeout bounds the run. Zero means DefaultTimeout.
	Timeout time.Duration
}

// ExecResult describes a finished command.
type ExecResult struct {
	Success    bool
	ExitStatus int
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// CommandAllowed reports whether argv names an allowlisted program. The
// program matches either as written or by its base name.
func (m *Manager) CommandAllowed(argv []string) bool {
	if len(argv) == 0 || argv[0] == "" {
		return false
	}
	for _, arg := range argv {
		if strings.ContainsRune(arg, '\x00') {
			return false
		}
	}
	return m.allowed[argv[0]] || m.allowed[filepath.Base(argv[0])]
}

// Execute runs argv directly, without a shell. A non-zero exit is reported
// through ExecResult, not as an error. Errors are returned for disallowed
// commands (*errors.SecurityError), timeouts (*errors.TimeoutError),
// cancellation and failures to start.
func (m *Manager) Execute(ctx context.Context, argv []string, opts ExecOptions) (*ExecResult, error) {
	if !m.CommandAllowed(argv) {
		program := ""
		if len(argv) > 0 {
			program = argv[0]
		}
		return nil, errors.NewSecurityError("command is not on the allowlist", errors.ErrCommandNotAllowed).WithCommand(program)
	}

	dir := m.sessionRoot
	if opts.Dir != "" {
		validated, err := m.ValidatePath(opts.Dir, false)
		if err != nil {
			return nil, err
		}
		dir = validated
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	display := strings.Join(argv, " ")
	m.logger.Debug("executing command", "command", display, "dir", dir, "timeout", timeout.String())

	start := time.Now()
	runErr := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(start),
		ExitStatus: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitStatus = cmd.ProcessState.ExitCode()
	}

	switch {
	case runErr == nil:
		result.Success = true
	case ctx.Err() != nil:
		return result, fmt.Errorf("%s: %w", display, errors.ErrCanceled)
	case runCtx.Err() == context.DeadlineExceeded:
		return result, errors.NewTimeoutError(display, timeout).WithCause(runErr)
	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return result, fmt.Errorf("start %s: %w", argv[0], runErr)
		}
	}

	m.logger.Debug("command finished",
		"command", display,
		"exit_status", result.ExitStatus,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// mergeEnv overlays extra onto base in KEY=VALUE form. Extra keys are
// applied in sorted order so the result is deterministic.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
