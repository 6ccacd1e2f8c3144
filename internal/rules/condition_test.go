package rules

import (
	"runtime"
	"testing"
)

func TestCompileCondition(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"platform check", `platform == "linux"`, false},
		{"env lookup", `"CI" in env && env["CI"] == "true"`, false},
		{"root check", `session_root.endsWith("session")`, false},
		{"non-bool", `platform`, true},
		{"syntax error", `platform ==`, true},
		{"undeclared variable", `os == "linux"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileCondition(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CompileCondition(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err == nil && c.String() != tt.expr {
				t.Errorf("String() = %q", c.String())
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	env, _, _ := newTestEnv(t)
	t.Setenv("SXN_CONDITION_TEST", "yes")

	tests := []struct {
		expr string
		want bool
	}{
		{`platform == "` + runtime.GOOS + `"`, true},
		{`arch == "` + runtime.GOARCH + `"`, true},
		{`platform == "plan9-but-not-really"`, false},
		{`env["SXN_CONDITION_TEST"] == "yes"`, true},
		{`"SXN_CONDITION_MISSING" in env`, false},
		{`session_root.endsWith("session") && project_root.endsWith("project")`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := CompileCondition(tt.expr)
			if err != nil {
				t.Fatalf("CompileCondition() error = %v", err)
			}
			got, err := c.Eval(env)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionEvalMissingKey(t *testing.T) {
	env, _, _ := newTestEnv(t)
	c, err := CompileCondition(`env["SXN_CONDITION_DEFINITELY_UNSET"] == "x"`)
	if err != nil {
		t.Fatalf("CompileCondition() error = %v", err)
	}
	if _, err := c.Eval(env); err == nil {
		t.Error("expected error indexing a missing env key")
	}
}
