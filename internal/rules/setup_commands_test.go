package rules

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/testutil"
)

func buildSetupCommands(t *testing.T, env *Env, cfg Config) Rule {
	t.Helper()
	r, err := NewSetupCommandsRule(Spec{Name: "setup", Config: cfg}, env)
	if err != nil {
		t.Fatalf("NewSetupCommandsRule() error = %v", err)
	}
	return r
}

func cmd(argv ...string) map[string]any {
	list := make([]any, len(argv))
	for i, a := range argv {
		list[i] = a
	}
	return map[string]any{"command": list}
}

func TestSetupCommandsValidate(t *testing.T) {
	env, _, _ := newTestEnv(t, "sh", "npm")

	withField := func(m map[string]any, k string, v any) map[string]any {
		m[k] = v
		return m
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"valid", Config{"commands": []any{cmd("npm", "install")}}, nil},
		{"valid with when", Config{"commands": []any{withField(cmd("npm", "ci"), "when", `platform == "linux"`)}}, nil},
		{"no commands", Config{"commands": []any{}}, errors.ErrInvalidConfig},
		{"empty argv", Config{"commands": []any{cmd()}}, errors.ErrInvalidConfig},
		{"not allowed", Config{"commands": []any{cmd("rm", "-rf", "/")}}, errors.ErrCommandNotAllowed},
		{"negative timeout", Config{"commands": []any{withField(cmd("npm"), "timeout", -1)}}, errors.ErrInvalidConfig},
		{"huge timeout", Config{"commands": []any{withField(cmd("npm"), "timeout", 100000)}}, errors.ErrInvalidConfig},
		{"bad env name", Config{"commands": []any{withField(cmd("npm"), "env", map[string]any{"A=B": "x"})}}, errors.ErrInvalidConfig},
		{"bad when", Config{"commands": []any{withField(cmd("npm"), "when", `platform ==`)}}, errors.ErrInvalidConfig},
		{"non-bool when", Config{"commands": []any{withField(cmd("npm"), "when", `platform`)}}, errors.ErrInvalidConfig},
		{"unknown key", Config{"commands": []any{withField(cmd("npm"), "shell", true)}}, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := buildSetupCommands(t, env, tt.cfg).Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSetupCommandsApply(t *testing.T) {
	env, _, session := newTestEnv(t, "sh")
	ctx := context.Background()
	testutil.WriteFiles(t, session, map[string]string{"sub/.keep": ""})

	skipped := cmd("sh", "-c", "touch skipped.txt")
	skipped["when"] = `platform == "not-` + runtime.GOOS + `"`

	inSub := cmd("sh", "-c", "touch here.txt")
	inSub["working_directory"] = "sub"

	withEnv := cmd("sh", "-c", `printf %s "$GREETING" > greeting.txt`)
	withEnv["env"] = map[string]any{"GREETING": "hi"}
	withEnv["description"] = "write greeting"

	r := buildSetupCommands(t, env, Config{"commands": []any{skipped, inSub, withEnv}})
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := r.Apply(ctx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	testutil.AssertNotExists(t, session, "skipped.txt")
	testutil.AssertExists(t, session, "sub/here.txt")
	if got := testutil.ReadFile(t, session, "greeting.txt"); got != "hi" {
		t.Errorf("greeting.txt = %q, want hi", got)
	}

	changes := r.Changes()
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	for _, c := range changes {
		if c.Type != ChangeCommandExecuted {
			t.Errorf("change type = %s, want command_executed", c.Type)
		}
		if v, _ := c.Meta("exit_status"); v != 0 {
			t.Errorf("exit_status = %v, want 0", v)
		}
	}

	// command_executed changes are not undone, so the files stay behind.
	if err := r.Rollback(ctx); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	testutil.AssertExists(t, session, "greeting.txt")
}

func TestSetupCommandsFailure(t *testing.T) {
	ctx := context.Background()
	failing := cmd("sh", "-c", "echo boom >&2; exit 2")

	t.Run("required failure fails the rule", func(t *testing.T) {
		env, _, _ := newTestEnv(t, "sh")
		r := buildSetupCommands(t, env, Config{"commands": []any{failing, cmd("sh", "-c", "true")}})
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
		err := r.Apply(ctx)
		if !errors.Is(err, errors.ErrCommandFailed) {
			t.Fatalf("Apply() error = %v, want ErrCommandFailed", err)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("error should carry stderr: %v", err)
		}
		if r.State() != StateFailed {
			t.Errorf("state = %s, want failed", r.State())
		}
	})

	t.Run("optional failure continues", func(t *testing.T) {
		env, _, session := newTestEnv(t, "sh")
		optional := cmd("sh", "-c", "exit 1")
		optional["required"] = false
		r := buildSetupCommands(t, env, Config{"commands": []any{optional, cmd("sh", "-c", "touch after.txt")}})
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
		if err := r.Apply(ctx); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		testutil.AssertExists(t, session, "after.txt")
		if len(r.Changes()) != 2 {
			t.Errorf("changes = %d, want 2", len(r.Changes()))
		}
	})

	t.Run("continue_on_failure", func(t *testing.T) {
		env, _, session := newTestEnv(t, "sh")
		r := buildSetupCommands(t, env, Config{
			"commands":            []any{failing, cmd("sh", "-c", "touch after.txt")},
			"continue_on_failure": true,
		})
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
		if err := r.Apply(ctx); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		testutil.AssertExists(t, session, "after.txt")
	})

	t.Run("timeout", func(t *testing.T) {
		env, _, _ := newTestEnv(t, "sleep")
		slow := cmd("sleep", "5")
		slow["timeout"] = 1
		r := buildSetupCommands(t, env, Config{"commands": []any{slow}})
		if err := r.Validate(); err != nil {
			t.Fatal(err)
		}
		var timeoutErr *errors.TimeoutError
		if err := r.Apply(ctx); !errors.As(err, &timeoutErr) {
			t.Errorf("Apply() error = %v, want *TimeoutError", err)
		}
	})
}

func TestStderrTail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  \n", ""},
		{"one line\n", ": one line"},
		{"first\nsecond\n", ": second"},
		{strings.Repeat("x", 250), ": " + strings.Repeat("x", 200) + "..."},
	}
	for _, tt := range tests {
		if got := stderrTail(tt.in); got != tt.want {
			t.Errorf("stderrTail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
