package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/sxn/internal/engine"
	"github.com/Iron-Ham/sxn/internal/errors"
)

func TestPrinterPlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)
	if p.color {
		t.Fatal("a bytes.Buffer should never be styled")
	}
	if got := p.style(errorStyle, "boom"); got != "boom" {
		t.Errorf("style() = %q, want plain text", got)
	}
}

func TestErrorText(t *testing.T) {
	p := newPrinter(&bytes.Buffer{})
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"user facing", errors.NewSecurityError("command not allowed", errors.ErrCommandNotAllowed), "security error: command not allowed"},
		{"plain error", fmt.Errorf("boom"), "internal error: boom"},
		{"wrapped user facing", errors.Wrap(errors.NewValidationError("kind is required"), "parse rules.yaml"), "parse rules.yaml: validation error: kind is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.errorText(tt.err); !strings.HasPrefix(got, tt.want) {
				t.Errorf("errorText() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name    string
		result  *engine.Result
		want    []string
		notWant []string
	}{
		{
			name: "success",
			result: &engine.Result{
				RunID:         "run-1",
				AppliedRules:  []string{"a", "b"},
				Phases:        [][]string{{"a"}, {"b"}},
				TotalRules:    2,
				TotalDuration: 1500 * time.Millisecond,
			},
			want:    []string{"Rules applied", "(run-1)", "Phase 1", "✓ a", "Phase 2", "✓ b", "2/2 applied, 0 failed, 0 skipped in 1.5s"},
			notWant: []string{"rolled back"},
		},
		{
			name: "failure with rollback",
			result: &engine.Result{
				RunID:        "run-2",
				AppliedRules: []string{"a"},
				FailedRules:  []engine.FailedRule{{Name: "b", Err: errors.NewApplicationError("apply failed", fmt.Errorf("exit 1")).WithRule("b")}},
				SkippedRules: []engine.SkippedRule{{Name: "c", Reason: "dependency 'b' was not applied"}},
				Phases:       [][]string{{"a", "d"}, {"b"}, {"c"}},
				TotalRules:   4,
				RolledBack:   true,
			},
			want:    []string{"Rules failed", "↺ a", "✗ b  application error", "apply failed: exit 1", "- c  dependency 'b' was not applied", "· d  not run", "rolled back"},
			notWant: []string{"internal error"},
		},
		{
			name: "engine error",
			result: &engine.Result{
				RunID:  "run-3",
				Errors: []engine.RuleError{{Rule: engine.EngineErrorSource, Err: errors.NewValidationError("circular dependency detected: a -> a")}},
			},
			want:    []string{"Rules failed", "error: validation error", "circular dependency detected"},
			notWant: []string{"internal error"},
		},
		{
			name: "internal engine error",
			result: &engine.Result{
				RunID:  "run-4",
				Errors: []engine.RuleError{{Rule: engine.EngineErrorSource, Err: fmt.Errorf("panic: nil map")}},
			},
			want: []string{"error: internal error: panic: nil map"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newPrinter(&buf).printResult(tt.result)
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output should not contain %q:\n%s", w, out)
				}
			}
		})
	}
}
