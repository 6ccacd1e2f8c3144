package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/security"
)

// KindSetupCommands runs allowlisted commands inside the session.
const KindSetupCommands = "setup_commands"

// maxCommandTimeout caps a per-command timeout.
const maxCommandTimeout = time.Hour

// SetupCommandsConfig is the decoded config of a setup_commands rule.
type SetupCommandsConfig struct {
	Commands []CommandEntry `mapstructure:"commands"`
	// ContinueOnFailure keeps running after a required command fails.
	ContinueOnFailure bool `mapstructure:"continue_on_failure"`
}

// CommandEntry describes one command.
type CommandEntry struct {
	// Command is the argv; it is never passed through a shell.
	Command []string          `mapstructure:"command"`
	Env     map[string]string `mapstructure:"env"`
	// Timeout in seconds. Zero uses the Env's command timeout.
	Timeout          int    `mapstructure:"timeout"`
	WorkingDirectory string `mapstructure:"working_directory"`
	Description      string `mapstructure:"description"`
	Required         *bool  `mapstructure:"required"`
	// When is a CEL expression; the command runs only if it is true.
	When string `mapstructure:"when"`

	condition *Condition
}

func (c *CommandEntry) required() bool { return c.Required == nil || *c.Required }

func (c *CommandEntry) label() string {
	if c.Description != "" {
		return c.Description
	}
	return strings.Join(c.Command, " ")
}

// SetupCommandsRule implements the setup_commands kind.
type SetupCommandsRule struct {
	Base
	cfg SetupCommandsConfig
}

// NewSetupCommandsRule is the setup_commands Factory.
func NewSetupCommandsRule(spec Spec, env *Env) (Rule, error) {
	base, err := NewBase(KindSetupCommands, spec, env)
	if err != nil {
		return nil, err
	}
	return &SetupCommandsRule{Base: base}, nil
}

// Validate checks every command against the allowlist and compiles conditions.
func (r *SetupCommandsRule) Validate() error {
	return r.RunValidate(r.validateConfig)
}

func (r *SetupCommandsRule) validateConfig() error {
	var cfg SetupCommandsConfig
	if err := decodeConfig(r.config, &cfg); err != nil {
		return r.invalid("config", nil, err.Error())
	}
	if len(cfg.Commands) == 0 {
		return r.invalid("commands", nil, "at least one command is required")
	}
	if r.env.Security == nil {
		return r.invalid("security", nil, "no security collaborator configured")
	}

	for i := range cfg.Commands {
		c := &cfg.Commands[i]
		field := fmt.Sprintf("commands[%d]", i)

		if len(c.Command) == 0 || c.Command[0] == "" {
			return r.invalid(field+".command", nil, "command must be a non-empty argv list")
		}
		if !r.env.Security.CommandAllowed(c.Command) {
			return r.invalid(field+".command", c.Command[0], "command is not allowed").
				WithCause(errors.ErrCommandNotAllowed)
		}
		if c.Timeout < 0 || time.Duration(c.Timeout)*time.Second > maxCommandTimeout {
			return r.invalid(field+".timeout", c.Timeout, fmt.Sprintf("timeout must be between 0 and %d seconds", int(maxCommandTimeout.Seconds())))
		}
		if strings.ContainsRune(c.WorkingDirectory, '\x00') {
			return r.invalid(field+".working_directory", nil, "path must not contain null bytes")
		}
		for k := range c.Env {
			if k == "" || strings.ContainsAny(k, "=\x00") {
				return r.invalid(field+".env", k, "invalid environment variable name")
			}
		}
		if c.When != "" {
			cond, err := CompileCondition(c.When)
			if err != nil {
				return r.invalid(field+".when", c.When, err.Error())
			}
			c.condition = cond
		}
	}

	r.cfg = cfg
	return nil
}

// Apply runs the commands in order. Each run is recorded as a
// command_executed change, which rollback cannot undo.
func (r *SetupCommandsRule) Apply(ctx context.Context) error {
	return r.RunApply(ctx, r.apply)
}

func (r *SetupCommandsRule) apply(ctx context.Context) error {
	for i := range r.cfg.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := &r.cfg.Commands[i]

		if c.condition != nil {
			ok, err := c.condition.Eval(r.env)
			if err != nil {
				return err
			}
			if !ok {
				r.log.Info("condition false, skipping command", "command", c.label(), "when", c.When)
				continue
			}
		}

		if err := r.run(ctx, c); err != nil {
			if c.required() && !r.cfg.ContinueOnFailure {
				return err
			}
			r.log.Warn("command failed, continuing", "command", c.label(), "error", err.Error())
		}
	}
	return nil
}

func (r *SetupCommandsRule) run(ctx context.Context, c *CommandEntry) error {
	timeout := r.env.commandTimeout()
	if c.Timeout > 0 {
		timeout = time.Duration(c.Timeout) * time.Second
	}

	dir := ""
	if c.WorkingDirectory != "" {
		validated, err := r.env.Security.ValidatePath(c.WorkingDirectory, false)
		if err != nil {
			return err
		}
		dir = validated
	}

	r.log.Info("running command", "command", c.label())
	res, err := r.env.Security.Execute(ctx, c.Command, security.ExecOptions{
		Env:     c.Env,
		Dir:     dir,
		Timeout: timeout,
	})
	if res != nil {
		r.Record(ChangeCommandExecuted, strings.Join(c.Command, " "), map[string]any{
			"exit_status": res.ExitStatus,
			"duration_ms": res.Duration.Milliseconds(),
			"success":     res.Success,
		})
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s exited with status %d%s",
			errors.ErrCommandFailed, c.label(), res.ExitStatus, stderrTail(res.Stderr))
	}
	return nil
}

// stderrTail formats the last line of stderr for an error message.
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	if i := strings.LastIndexByte(stderr, '\n'); i >= 0 {
		stderr = stderr[i+1:]
	}
	const max = 200
	if len(stderr) > max {
		stderr = stderr[:max] + "..."
	}
	return ": " + stderr
}
