package rules

import (
	"fmt"
	"slices"
	"testing"

	"github.com/Iron-Ham/sxn/internal/errors"
)

func TestDefaultRegistryKinds(t *testing.T) {
	r := DefaultRegistry()
	want := []string{KindCopyFiles, KindSetupCommands, KindTemplate}
	if got := r.Kinds(); !slices.Equal(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
	for _, k := range want {
		if !r.Has(k) {
			t.Errorf("Has(%q) = false", k)
		}
	}
	if r.Has("unknown") {
		t.Error("Has(unknown) = true")
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("scripted", newScriptedRule); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("scripted", newScriptedRule); err == nil {
		t.Error("expected error registering a duplicate kind")
	}
	if err := r.Register("", newScriptedRule); err == nil {
		t.Error("expected error for empty kind")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Error("expected error for nil factory")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister() of a duplicate should panic")
		}
	}()
	r.MustRegister("scripted", newScriptedRule)
}

func TestRegistryBuild(t *testing.T) {
	env, _, _ := newTestEnv(t)
	r := NewRegistry()
	r.MustRegister("scripted", newScriptedRule)
	r.MustRegister("broken", func(spec Spec, env *Env) (Rule, error) {
		return nil, fmt.Errorf("constructor exploded")
	})

	t.Run("known kind", func(t *testing.T) {
		rule, err := r.Build(Spec{Name: "a", Kind: "scripted"}, env)
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if rule.Name() != "a" || rule.Kind() != "scripted" || rule.State() != StatePending {
			t.Errorf("rule = %s/%s/%s", rule.Name(), rule.Kind(), rule.State())
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := r.Build(Spec{Name: "a", Kind: "nope"}, env)
		var verr *errors.ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, errors.ErrUnknownRuleKind) {
			t.Fatalf("Build() error = %v, want ValidationError wrapping ErrUnknownRuleKind", err)
		}
		if verr.Rule != "a" {
			t.Errorf("ValidationError.Rule = %q", verr.Rule)
		}
	})

	t.Run("factory error is wrapped", func(t *testing.T) {
		_, err := r.Build(Spec{Name: "b", Kind: "broken"}, env)
		var verr *errors.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Build() error = %v, want *ValidationError", err)
		}
	})
}
