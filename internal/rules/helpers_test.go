package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/sxn/internal/security"
	"github.com/Iron-Ham/sxn/internal/testutil"
)

// newTestEnv returns an Env over fresh project and session roots with a real
// security manager allowing the given commands.
func newTestEnv(t *testing.T, allowed ...string) (*Env, string, string) {
	t.Helper()

	project, session := testutil.SetupRoots(t)
	env, err := NewEnv(project, session)
	if err != nil {
		t.Fatalf("NewEnv() error = %v", err)
	}
	sec, err := security.New(security.Options{
		ProjectRoot:       project,
		SessionRoot:       session,
		AllowedCommands:   allowed,
		SensitivePatterns: []string{".env", "*.key"},
	})
	if err != nil {
		t.Fatalf("security.New() error = %v", err)
	}
	env.Security = sec
	env.Renderer = stubRenderer{}
	return env, env.ProjectRoot, env.SessionRoot
}

// stubRenderer replaces {{name}} with vars["name"].
type stubRenderer struct{}

func (stubRenderer) Render(source string, vars map[string]any) (string, error) {
	if strings.Contains(source, "{{fail}}") {
		return "", fmt.Errorf("render failure")
	}
	for k, v := range vars {
		source = strings.ReplaceAll(source, "{{"+k+"}}", fmt.Sprint(v))
	}
	return source, nil
}

// scriptedRule is a test kind whose Apply creates the files listed in its
// config and optionally fails afterwards.
type scriptedRule struct {
	Base
	files []string
	fail  bool
}

func newScriptedRule(spec Spec, env *Env) (Rule, error) {
	base, err := NewBase("scripted", spec, env)
	if err != nil {
		return nil, err
	}
	return &scriptedRule{Base: base}, nil
}

func (r *scriptedRule) Validate() error {
	return r.RunValidate(func() error {
		if v, ok := r.config["invalid"].(bool); ok && v {
			return r.invalid("invalid", true, "rule marked invalid")
		}
		if files, ok := r.config["files"].([]string); ok {
			r.files = files
		}
		r.fail, _ = r.config["fail"].(bool)
		return nil
	})
}

func (r *scriptedRule) Apply(ctx context.Context) error {
	return r.RunApply(ctx, func(ctx context.Context) error {
		for _, f := range r.files {
			path := filepath.Join(r.env.SessionRoot, f)
			if err := os.WriteFile(path, []byte(r.name), 0o644); err != nil {
				return err
			}
			r.Record(ChangeFileCreated, path, nil)
		}
		if r.fail {
			return fmt.Errorf("scripted failure")
		}
		if v, ok := r.config["panic"].(bool); ok && v {
			panic("scripted panic")
		}
		return nil
	})
}

func boolPtr(b bool) *bool { return &b }
