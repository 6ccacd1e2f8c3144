package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// EngineErrorSource tags errors raised by the engine itself rather than by
// a rule.
const EngineErrorSource = "engine"

// Result is the outcome of one ApplyRules call.
type Result struct {
	RunID        string        `json:"run_id"`
	AppliedRules []string      `json:"applied_rules"`
	FailedRules  []FailedRule  `json:"failed_rules"`
	SkippedRules []SkippedRule `json:"skipped_rules"`
	// Errors flattens every failure and skip reason, in the order they
	// were recorded.
	Errors     []RuleError `json:"errors"`
	TotalRules int         `json:"total_rules"`
	Phases     [][]string  `json:"phases"`
	RolledBack bool        `json:"rolled_back"`

	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// FailedRule is a rule whose Apply returned an error.
type FailedRule struct {
	Name string
	Err  error
}

// SkippedRule is a rule that never ran.
type SkippedRule struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RuleError attributes an error to a rule, or to EngineErrorSource.
type RuleError struct {
	Rule string
	Err  error
}

// MarshalJSON renders the error as its message.
func (f FailedRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string `json:"name"`
		Error string `json:"error"`
	}{f.Name, errString(f.Err)})
}

// MarshalJSON renders the error as its message.
func (e RuleError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Rule  string `json:"rule"`
		Error string `json:"error"`
	}{e.Rule, errString(e.Err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newResult(runID string) *Result {
	return &Result{
		RunID:        runID,
		AppliedRules: []string{},
		FailedRules:  []FailedRule{},
		SkippedRules: []SkippedRule{},
		Errors:       []RuleError{},
		Phases:       [][]string{},
	}
}

// Start records the start time.
func (r *Result) Start() {
	r.StartTime = time.Now()
}

// Finish records the end time and total duration. It does nothing if Start
// was never called.
func (r *Result) Finish() {
	if r.StartTime.IsZero() {
		return
	}
	r.EndTime = time.Now()
	r.TotalDuration = r.EndTime.Sub(r.StartTime)
}

// Success reports whether every rule applied: nothing failed, nothing was
// skipped and no error was recorded.
func (r *Result) Success() bool {
	return len(r.FailedRules) == 0 && len(r.SkippedRules) == 0 && len(r.Errors) == 0
}

func (r *Result) addApplied(name string) {
	r.AppliedRules = append(r.AppliedRules, name)
}

func (r *Result) addFailed(name string, err error) {
	r.FailedRules = append(r.FailedRules, FailedRule{Name: name, Err: err})
	r.Errors = append(r.Errors, RuleError{Rule: name, Err: err})
}

func (r *Result) addSkipped(name, reason string) {
	r.SkippedRules = append(r.SkippedRules, SkippedRule{Name: name, Reason: reason})
	r.Errors = append(r.Errors, RuleError{Rule: name, Err: fmt.Errorf("skipped: %s", reason)})
}

func (r *Result) addEngineError(err error) {
	r.Errors = append(r.Errors, RuleError{Rule: EngineErrorSource, Err: err})
}
