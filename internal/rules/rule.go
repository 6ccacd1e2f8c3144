package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Rule is a unit of session provisioning work with a validate/apply/rollback
// contract and a private change log.
type Rule interface {
	Name() string
	Kind() string
	Dependencies() []string
	Config() Config
	State() State
	Changes() []Change
	Errors() []error
	StartedAt() time.Time
	Duration() time.Duration

	// Validate checks the rule's configuration. It moves the rule to
	// validated, or to failed with a *errors.ValidationError.
	Validate() error
	// Apply performs the rule's work, recording a Change per mutation.
	// On failure the rule is left in failed with a *errors.ApplicationError.
	Apply(ctx context.Context) error
	// Rollback undoes recorded changes in reverse order.
	Rollback(ctx context.Context) error

	// CanExecute reports whether every dependency is in completed.
	CanExecute(completed map[string]bool) bool
	// Rollbackable reports whether the rule is applied and has changes to undo.
	Rollbackable() bool
}

// Spec is the declarative description of one rule.
type Spec struct {
	Name         string
	Kind         string
	Config       Config
	Dependencies []string
}

// Specs maps rule names to their specs. The key is authoritative: a Spec
// with an empty Name takes its key.
type Specs map[string]Spec

// Config is a rule kind's opaque configuration.
type Config map[string]any

// Clone returns a deep copy of c. Nested maps and slices are copied so the
// clone shares no mutable state with c.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case Config:
		return val.Clone()
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		m := make(map[string]string, len(val))
		for k, inner := range val {
			m[k] = inner
		}
		return m
	default:
		return v
	}
}

// decodeConfig decodes a rule config into a typed struct. Unknown keys are
// rejected so typos surface at validation time.
func decodeConfig(cfg Config, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(cfg))
}
