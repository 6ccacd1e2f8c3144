package rules

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionCostLimit bounds evaluation of a single `when` expression.
const conditionCostLimit = 100000

var (
	conditionEnvOnce sync.Once
	conditionEnv     *cel.Env
	conditionEnvErr  error
)

// newConditionEnv declares the variables a `when` expression can read.
func newConditionEnv() (*cel.Env, error) {
	conditionEnvOnce.Do(func() {
		conditionEnv, conditionEnvErr = cel.NewEnv(
			cel.Variable("platform", cel.StringType),
			cel.Variable("arch", cel.StringType),
			cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("project_root", cel.StringType),
			cel.Variable("session_root", cel.StringType),
		)
	})
	return conditionEnv, conditionEnvErr
}

// Condition is a compiled CEL boolean expression gating a setup command.
type Condition struct {
	expr string
	prg  cel.Program
}

// CompileCondition type-checks expr and requires it to yield a bool.
func CompileCondition(expr string) (*Condition, error) {
	env, err := newConditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast, cel.CostLimit(conditionCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return &Condition{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (c *Condition) String() string { return c.expr }

// Eval evaluates the condition for a rule bound to env.
func (c *Condition) Eval(env *Env) (bool, error) {
	out, _, err := c.prg.Eval(conditionVars(env))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a bool", c.expr)
	}
	return result, nil
}

func conditionVars(env *Env) map[string]any {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return map[string]any{
		"platform":     runtime.GOOS,
		"arch":         runtime.GOARCH,
		"env":          vars,
		"project_root": env.ProjectRoot,
		"session_root": env.SessionRoot,
	}
}
