package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/rules"
	"github.com/Iron-Ham/sxn/internal/security"
	"github.com/Iron-Ham/sxn/internal/template"
	"github.com/Iron-Ham/sxn/internal/testutil"
)

// recorder observes mock rules across a run.
type recorder struct {
	mu        sync.Mutex
	applied   []string
	applying  map[string]bool
	rollbacks []string

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{applying: map[string]bool{}}
}

func (rec *recorder) enter(name string) {
	n := rec.running.Add(1)
	for {
		cur := rec.maxRunning.Load()
		if n <= cur || rec.maxRunning.CompareAndSwap(cur, n) {
			break
		}
	}
	rec.mu.Lock()
	rec.applying[name] = true
	rec.mu.Unlock()
}

func (rec *recorder) leave(name string, ok bool) {
	rec.running.Add(-1)
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.applied = append(rec.applied, name)
	rec.mu.Unlock()
}

func (rec *recorder) rolledBack(name string) {
	rec.mu.Lock()
	rec.rollbacks = append(rec.rollbacks, name)
	rec.mu.Unlock()
}

func (rec *recorder) rollbackCount(name string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	n := 0
	for _, r := range rec.rollbacks {
		if r == name {
			n++
		}
	}
	return n
}

func (rec *recorder) reachedApplying(name string) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.applying[name]
}

// mockRule writes <name>.txt into the session root and is driven by its
// config: fail, invalid, panic (inside Apply) and delay_ms.
type mockRule struct {
	rules.Base
	rec *recorder
}

const mockKind = "mock"

func (r *mockRule) flag(key string) bool {
	v, _ := r.Config()[key].(bool)
	return v
}

func (r *mockRule) Validate() error {
	return r.RunValidate(func() error {
		if r.flag("invalid") {
			return errors.NewValidationError("mock rule marked invalid").WithField("invalid")
		}
		return nil
	})
}

func (r *mockRule) Apply(ctx context.Context) error {
	return r.RunApply(ctx, func(ctx context.Context) error {
		r.rec.enter(r.Name())
		ok := false
		defer func() { r.rec.leave(r.Name(), ok) }()

		if ms, _ := r.Config()["delay_ms"].(int); ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
		path := filepath.Join(r.Env().SessionRoot, r.Name()+".txt")
		if err := os.WriteFile(path, []byte(r.Name()), 0o644); err != nil {
			return err
		}
		r.Record(rules.ChangeFileCreated, path, nil)

		if r.flag("fail") {
			return fmt.Errorf("mock failure in %s", r.Name())
		}
		if r.flag("panic") {
			panic("mock panic")
		}
		ok = true
		return nil
	})
}

func (r *mockRule) Rollback(ctx context.Context) error {
	r.rec.rolledBack(r.Name())
	return r.Base.Rollback(ctx)
}

// rawPanicRule panics outside the Base guard.
type rawPanicRule struct {
	*mockRule
}

func (r rawPanicRule) Apply(ctx context.Context) error {
	panic("engine-level panic")
}

func mockRegistry(rec *recorder) *rules.Registry {
	reg := rules.NewRegistry()
	reg.MustRegister(mockKind, func(spec rules.Spec, env *rules.Env) (rules.Rule, error) {
		base, err := rules.NewBase(mockKind, spec, env)
		if err != nil {
			return nil, err
		}
		return &mockRule{Base: base, rec: rec}, nil
	})
	reg.MustRegister("raw_panic", func(spec rules.Spec, env *rules.Env) (rules.Rule, error) {
		base, err := rules.NewBase("raw_panic", spec, env)
		if err != nil {
			return nil, err
		}
		return rawPanicRule{&mockRule{Base: base, rec: rec}}, nil
	})
	return reg
}

func newMockEngine(t *testing.T, opts ...Option) (*Engine, *recorder, string) {
	t.Helper()
	project, session := testutil.SetupRoots(t)
	env, err := rules.NewEnv(project, session)
	if err != nil {
		t.Fatalf("NewEnv() error = %v", err)
	}
	rec := newRecorder()
	return New(mockRegistry(rec), env, opts...), rec, env.SessionRoot
}

// spec builds a mock spec. Config keys are passed as alternating key/value.
func spec(deps []string, kv ...any) rules.Spec {
	cfg := rules.Config{}
	for i := 0; i+1 < len(kv); i += 2 {
		cfg[kv[i].(string)] = kv[i+1]
	}
	return rules.Spec{Kind: mockKind, Config: cfg, Dependencies: deps}
}

// newRealEnv returns an Env with the production collaborators.
func newRealEnv(t *testing.T, allowed ...string) *rules.Env {
	t.Helper()
	project, session := testutil.SetupRoots(t)
	env, err := rules.NewEnv(project, session)
	if err != nil {
		t.Fatalf("NewEnv() error = %v", err)
	}
	sec, err := security.New(security.Options{
		ProjectRoot:     env.ProjectRoot,
		SessionRoot:     env.SessionRoot,
		AllowedCommands: allowed,
	})
	if err != nil {
		t.Fatalf("security.New() error = %v", err)
	}
	env.Security = sec
	env.Renderer = template.New()
	return env
}
