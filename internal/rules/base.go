package rules

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/logging"
)

// Base implements the lifecycle shared by every rule kind. Kinds embed it
// and supply their own Validate and Apply by calling RunValidate and RunApply.
//
// A rule is driven by one goroutine at a time, so Base does no locking.
type Base struct {
	name   string
	kind   string
	config Config
	deps   []string
	env    *Env
	log    *logging.Logger

	state     State
	changes   []Change
	errs      []error
	startedAt time.Time
	duration  time.Duration
}

// NewBase binds a rule of the given kind to env. The spec's config and
// dependencies are copied, so later changes to spec do not reach the rule.
func NewBase(kind string, spec Spec, env *Env) (Base, error) {
	if spec.Name == "" {
		return Base{}, fmt.Errorf("rule name is required")
	}
	if env == nil || env.ProjectRoot == "" || env.SessionRoot == "" {
		return Base{}, fmt.Errorf("rule %s: project and session roots are required", spec.Name)
	}

	return Base{
		name:   spec.Name,
		kind:   kind,
		config: spec.Config.Clone(),
		deps:   slices.Clone(spec.Dependencies),
		env:    env,
		log:    env.logger().WithRule(spec.Name),
		state:  StatePending,
	}, nil
}

func (b *Base) Name() string { return b.name }
func (b *Base) Kind() string { return b.kind }

// Dependencies returns a copy of the rule's dependency names.
func (b *Base) Dependencies() []string { return slices.Clone(b.deps) }

// Config returns a copy of the rule's configuration.
func (b *Base) Config() Config { return b.config.Clone() }

func (b *Base) State() State { return b.state }
func (b *Base) Changes() []Change { return slices.Clone(b.changes) }
func (b *Base) Errors() []error { return slices.Clone(b.errs) }
func (b *Base) StartedAt() time.Time { return b.startedAt }
func (b *Base) Duration() time.Duration { return b.duration }
func (b *Base) Env() *Env { return b.env }
func (b *Base) Logger() *logging.Logger { return b.log }

// CanExecute reports whether every dependency is in completed.
func (b *Base) CanExecute(completed map[string]bool) bool {
	for _, dep := range b.deps {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Rollbackable reports whether the rule is applied and has changes to undo.
func (b *Base) Rollbackable() bool {
	return b.state == StateApplied && len(b.changes) > 0
}

// Record appends a change to the rule's log.
func (b *Base) Record(typ ChangeType, target string, metadata map[string]any) {
	b.changes = append(b.changes, NewChange(typ, target, metadata))
}

// RunValidate checks dependency names, then runs the kind-specific check.
// Calling it again after a successful validation is a no-op.
func (b *Base) RunValidate(check func() error) error {
	switch b.state {
	case StateValidated:
		return nil
	case StatePending:
	default:
		return errors.NewValidationError(fmt.Sprintf("cannot validate rule in state %s", b.state)).
			WithRule(b.name).
			WithCause(errors.ErrInvalidState)
	}

	b.state = mustTransition(b.state, StateValidating)

	err := b.validateDependencies()
	if err == nil && check != nil {
		err = safeCall(check)
	}
	if err != nil {
		verr := b.asValidationError(err)
		b.errs = append(b.errs, verr)
		b.state = mustTransition(b.state, StateFailed)
		return verr
	}

	b.state = mustTransition(b.state, StateValidated)
	return nil
}

func (b *Base) validateDependencies() error {
	for i, dep := range b.deps {
		if dep == "" {
			return errors.NewValidationError("dependency name must be a non-empty string").
				WithRule(b.name).
				WithField(fmt.Sprintf("dependencies[%d]", i)).
				WithCause(errors.ErrInvalidConfig)
		}
	}
	return nil
}

func (b *Base) asValidationError(err error) *errors.ValidationError {
	var verr *errors.ValidationError
	if errors.As(err, &verr) {
		if verr.Rule == "" {
			verr.WithRule(b.name)
		}
		return verr
	}
	return errors.NewValidationError("invalid configuration").WithRule(b.name).WithCause(err)
}

// invalid builds a ValidationError for a config field of this rule.
func (b *Base) invalid(field string, value any, msg string) *errors.ValidationError {
	verr := errors.NewValidationError(msg).
		WithRule(b.name).
		WithField(field).
		WithCause(errors.ErrInvalidConfig)
	if value != nil {
		verr.WithValue(value)
	}
	return verr
}

// RunApply runs fn with the rule in applying. On error or panic the changes
// fn recorded are undone, the rule moves to failed, and the error comes back
// wrapped in a *errors.ApplicationError.
func (b *Base) RunApply(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.state != StateValidated {
		return errors.NewApplicationError(fmt.Sprintf("cannot apply rule in state %s", b.state), errors.ErrInvalidState).
			WithRule(b.name).
			WithKind(b.kind)
	}

	b.state = mustTransition(b.state, StateApplying)
	b.startedAt = time.Now()

	err := safeCall(func() error { return fn(ctx) })
	b.duration = time.Since(b.startedAt)

	if err != nil {
		b.errs = append(b.errs, err)
		b.unwind()
		b.state = mustTransition(b.state, StateFailed)
		b.log.Warn("rule apply failed", "kind", b.kind, "error", err.Error())
		return errors.NewApplicationError("apply failed", err).WithRule(b.name).WithKind(b.kind)
	}

	b.state = mustTransition(b.state, StateApplied)
	b.log.Debug("rule applied",
		"kind", b.kind,
		"changes", len(b.changes),
		"duration_ms", b.duration.Milliseconds(),
	)
	return nil
}

// unwind undoes the changes of a failed apply. Undo errors are recorded on
// the rule and do not stop the remaining undos.
func (b *Base) unwind() {
	for i := len(b.changes) - 1; i >= 0; i-- {
		c := b.changes[i]
		if err := b.undo(c); err != nil {
			b.errs = append(b.errs, errors.NewRollbackError(fmt.Sprintf("undo %s", c.Type), err).
				WithRule(b.name).
				WithTarget(c.Target))
			b.log.Warn("failed to undo partial change", "type", string(c.Type), "target", c.Target, "error", err.Error())
		}
	}
	b.changes = nil
}

// Rollback undoes the rule's changes in reverse order. It is a no-op for
// pending, failed and rolled-back rules. Every undo is attempted; if any
// fail the rule ends in failed and a *errors.RollbackError is returned.
func (b *Base) Rollback(ctx context.Context) error {
	switch b.state {
	case StatePending, StateFailed, StateRolledBack:
		return nil
	case StateValidated, StateApplied:
	default:
		return errors.NewRollbackError(fmt.Sprintf("cannot roll back rule in state %s", b.state), errors.ErrInvalidState).
			WithRule(b.name)
	}

	b.state = mustTransition(b.state, StateRollingBack)

	var failures []error
	for i := len(b.changes) - 1; i >= 0; i-- {
		c := b.changes[i]
		if err := b.undo(c); err != nil {
			failures = append(failures, errors.NewRollbackError(fmt.Sprintf("undo %s", c.Type), err).
				WithRule(b.name).
				WithTarget(c.Target))
		}
	}
	undone := len(b.changes)
	b.changes = nil

	if len(failures) > 0 {
		b.errs = append(b.errs, failures...)
		b.state = mustTransition(b.state, StateFailed)
		if len(failures) == 1 {
			return failures[0]
		}
		return errors.NewRollbackError(fmt.Sprintf("%d undo steps failed", len(failures)), errors.Join(failures...)).
			WithRule(b.name)
	}

	b.state = mustTransition(b.state, StateRolledBack)
	b.log.Debug("rule rolled back", "changes", undone)
	return nil
}

// undo reverses c. A directory the rule created but another rule has since
// written into is kept.
func (b *Base) undo(c Change) error {
	err := c.Undo()
	if errors.Is(err, ErrDirectoryNotEmpty) {
		b.log.Debug("directory still in use, leaving it in place", "target", c.Target)
		return nil
	}
	return err
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
