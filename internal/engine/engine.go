// Package engine resolves rule dependencies into phases, applies each phase
// with bounded parallelism, and rolls applied rules back in reverse
// completion order when a batch fails.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/sxn/internal/config"
	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/logging"
	"github.com/Iron-Ham/sxn/internal/rules"
)

// Options controls one ApplyRules call.
type Options struct {
	// Parallel runs the rules of a phase concurrently.
	Parallel bool
	// MaxParallelism caps concurrent rules per phase. Zero or less uses
	// config.DefaultMaxParallelism.
	MaxParallelism int
	// ContinueOnFailure keeps scheduling after a failure and skips the
	// automatic rollback.
	ContinueOnFailure bool
	// ValidateOnly stops after validation.
	ValidateOnly bool
}

// DefaultOptions returns parallel execution with the default cap.
func DefaultOptions() Options {
	return Options{Parallel: true, MaxParallelism: config.DefaultMaxParallelism()}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Rules log through their Env's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine applies rule batches. One batch runs at a time; the rules applied
// by the latest batch stay available to RollbackRules until it is called.
type Engine struct {
	registry *rules.Registry
	env      *rules.Env
	logger   *logging.Logger
	metrics  *Metrics

	// mu guards applied, which is in completion order.
	mu      sync.Mutex
	applied []rules.Rule
}

// New returns an Engine that builds rules through registry and binds them
// to env.
func New(registry *rules.Registry, env *rules.Env, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		env:      env,
		logger:   logging.NopLogger(),
	}
	if env != nil && env.Logger != nil {
		e.logger = env.Logger
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AvailableRuleKinds returns the sorted registered rule kinds.
func (e *Engine) AvailableRuleKinds() []string {
	return e.registry.Kinds()
}

// ValidateRulesConfig is a strict pre-flight check. It returns the rules in
// phase order, or the first unknown kind, unresolved or circular
// dependency, or invalid rule as a *errors.ValidationError.
func (e *Engine) ValidateRulesConfig(specs rules.Specs) ([]rules.Rule, error) {
	g, err := BuildGraph(specs, e.registry, e.env)
	if err != nil {
		return nil, err
	}
	ordered := g.Rules()
	for _, r := range ordered {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// batch is the state shared by the workers of one ApplyRules call.
type batch struct {
	mu        sync.Mutex
	result    *Result
	completed map[string]bool
	// notApplied holds the rules that were skipped or failed.
	notApplied map[string]bool
	aborted    bool
}

func (b *batch) stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// ApplyRules resolves, validates and applies specs. It never panics and
// never returns a nil Result: resolver errors and recovered panics are
// reported as an EngineErrorSource entry in Result.Errors.
func (e *Engine) ApplyRules(ctx context.Context, specs rules.Specs, opts Options) (result *Result) {
	runID := uuid.NewString()
	log := e.logger.WithRun(runID)
	result = newResult(runID)
	result.TotalRules = len(specs)
	result.Start()

	e.mu.Lock()
	e.applied = nil
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error("engine panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result.addEngineError(fmt.Errorf("engine panic: %v", r))
		}
		result.Finish()
		e.metrics.run(result.Success(), len(result.Phases))
		log.Info("rules run finished",
			"success", result.Success(),
			"applied", len(result.AppliedRules),
			"failed", len(result.FailedRules),
			"skipped", len(result.SkippedRules),
			"rolled_back", result.RolledBack,
			"duration_ms", result.TotalDuration.Milliseconds(),
		)
	}()

	g, err := BuildGraph(specs, e.registry, e.env)
	if err != nil {
		log.Warn("rule graph resolution failed", "error", err.Error())
		result.addEngineError(err)
		return result
	}
	result.Phases = g.Phases()
	log.Info("rules resolved", "rules", g.Len(), "phases", len(result.Phases))

	b := &batch{
		result:     result,
		completed:  make(map[string]bool, g.Len()),
		notApplied: make(map[string]bool),
	}

	// Lenient validation: an invalid rule is skipped, its siblings still run.
	for _, r := range g.Rules() {
		if err := r.Validate(); err != nil {
			log.Warn("rule failed validation", "rule", r.Name(), "error", err.Error())
			result.addSkipped(r.Name(), err.Error())
			b.notApplied[r.Name()] = true
			e.metrics.ruleOutcome(r.Kind(), outcomeSkipped)
		}
	}
	if opts.ValidateOnly {
		return result
	}

	limit := opts.MaxParallelism
	if limit <= 0 {
		limit = config.DefaultMaxParallelism()
	}

	for i, phase := range result.Phases {
		if b.stopped() {
			break
		}
		if err := ctx.Err(); err != nil {
			e.abort(b, log, fmt.Errorf("%w: %v", errors.ErrCanceled, err))
			break
		}

		phaseLog := log.WithPhase(i)
		runnable := e.prepare(b, g, phase, phaseLog)
		phaseLog.Debug("phase starting", "rules", len(runnable))

		if !opts.Parallel || len(runnable) <= 1 {
			for _, r := range runnable {
				if b.stopped() || ctx.Err() != nil {
					break
				}
				func() {
					defer e.recoverWorker(b, r, phaseLog)
					e.applyOne(ctx, b, r, opts, phaseLog)
				}()
			}
			continue
		}

		var wg errgroup.Group
		wg.SetLimit(limit)
		for _, r := range runnable {
			if b.stopped() || ctx.Err() != nil {
				break
			}
			wg.Go(func() error {
				defer e.recoverWorker(b, r, phaseLog)
				if b.stopped() {
					return nil
				}
				e.applyOne(ctx, b, r, opts, phaseLog)
				return nil
			})
		}
		_ = wg.Wait()
	}

	if err := ctx.Err(); err != nil && !b.stopped() {
		e.abort(b, log, fmt.Errorf("%w: %v", errors.ErrCanceled, err))
	}

	if b.stopped() && !opts.ContinueOnFailure {
		log.Info("rolling back applied rules")
		result.RolledBack = e.RollbackRules(context.WithoutCancel(ctx))
	}
	return result
}

// prepare returns the rules of a phase that can run, recording the rest as
// skipped because a dependency was not applied.
func (e *Engine) prepare(b *batch, g *Graph, phase []string, log *logging.Logger) []rules.Rule {
	b.mu.Lock()
	defer b.mu.Unlock()

	var runnable []rules.Rule
	for _, name := range phase {
		r, _ := g.Rule(name)
		if b.notApplied[name] {
			continue
		}
		if r.CanExecute(b.completed) {
			runnable = append(runnable, r)
			continue
		}
		blocker := ""
		for _, dep := range r.Dependencies() {
			if !b.completed[dep] {
				blocker = dep
				break
			}
		}
		reason := fmt.Sprintf("dependency '%s' was not applied", blocker)
		log.Info("skipping rule", "rule", name, "reason", reason)
		b.result.addSkipped(name, reason)
		b.notApplied[name] = true
		e.metrics.ruleOutcome(r.Kind(), outcomeSkipped)
	}
	return runnable
}

// applyOne applies r and records the outcome. Only the recording holds the
// batch lock.
func (e *Engine) applyOne(ctx context.Context, b *batch, r rules.Rule, opts Options, log *logging.Logger) {
	log.Debug("applying rule", "rule", r.Name(), "kind", r.Kind())
	err := r.Apply(ctx)
	e.metrics.applyDuration(r.Kind(), r.Duration())

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		log.Warn("rule failed", "rule", r.Name(), "error", err.Error())
		b.result.addFailed(r.Name(), err)
		b.notApplied[r.Name()] = true
		e.metrics.ruleOutcome(r.Kind(), outcomeFailed)
		if !opts.ContinueOnFailure {
			b.aborted = true
		}
		return
	}

	b.result.addApplied(r.Name())
	b.completed[r.Name()] = true
	e.metrics.ruleOutcome(r.Kind(), outcomeApplied)

	e.mu.Lock()
	e.applied = append(e.applied, r)
	e.mu.Unlock()
}

// recoverWorker turns a panic in a phase worker into an engine error.
func (e *Engine) recoverWorker(b *batch, r rules.Rule, log *logging.Logger) {
	if p := recover(); p != nil {
		log.Error("worker panic", "rule", r.Name(), "panic", fmt.Sprint(p))
		b.mu.Lock()
		b.result.addEngineError(fmt.Errorf("panic applying %s: %v", r.Name(), p))
		b.aborted = true
		b.mu.Unlock()
	}
}

func (e *Engine) abort(b *batch, log *logging.Logger, err error) {
	log.Warn("run aborted", "error", err.Error())
	b.mu.Lock()
	b.result.addEngineError(err)
	b.aborted = true
	b.mu.Unlock()
}
