package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Iron-Ham/sxn/internal/errors"
	"github.com/Iron-Ham/sxn/internal/rules"
)

// Graph is a resolved, acyclic set of rules partitioned into phases.
type Graph struct {
	rules  map[string]rules.Rule
	names  []string
	phases [][]string
}

// BuildGraph instantiates every spec through reg, checks that dependencies
// resolve and are acyclic, and partitions the rules into phases. Phase k
// holds the rules whose dependencies all sit in phases before k.
func BuildGraph(specs rules.Specs, reg *rules.Registry, env *rules.Env) (*Graph, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine: registry is required")
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	g := &Graph{rules: make(map[string]rules.Rule, len(specs)), names: names}
	for _, name := range names {
		spec := specs[name]
		spec.Name = name
		rule, err := reg.Build(spec, env)
		if err != nil {
			return nil, err
		}
		g.rules[name] = rule
	}

	for _, name := range names {
		for _, dep := range g.rules[name].Dependencies() {
			if _, ok := g.rules[dep]; !ok {
				return nil, errors.NewValidationError(fmt.Sprintf("depends on non-existent rule '%s'", dep)).
					WithRule(name).
					WithField("dependencies").
					WithValue(dep).
					WithCause(errors.ErrMissingDependency)
			}
		}
	}

	if cycle := g.detectCycle(); cycle != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> "))).
			WithRule(cycle[len(cycle)-2]).
			WithField("dependencies").
			WithCause(errors.ErrDependencyCycle)
	}

	g.phases = g.partition()
	return g, nil
}

// detectCycle returns the first cycle found as a path that starts and ends
// with the same rule, or nil. The second-to-last element is the rule whose
// dependency closed the cycle.
func (g *Graph) detectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(name string) []string
	dfs = func(name string) []string {
		visited[name] = true
		recStack[name] = true

		for _, dep := range g.rules[name].Dependencies() {
			if !visited[dep] {
				parent[dep] = name
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if recStack[dep] {
				cycle := []string{dep}
				for current := name; current != dep; current = parent[current] {
					cycle = append([]string{current}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		recStack[name] = false
		return nil
	}

	for _, name := range g.names {
		if !visited[name] {
			if cycle := dfs(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// partition groups the rules into dependency levels. It panics if a pass
// places nothing, which cannot happen once detectCycle has passed.
func (g *Graph) partition() [][]string {
	placed := make(map[string]bool, len(g.names))
	var phases [][]string

	for len(placed) < len(g.names) {
		var phase []string
		for _, name := range g.names {
			if placed[name] {
				continue
			}
			if g.rules[name].CanExecute(placed) {
				phase = append(phase, name)
			}
		}
		if len(phase) == 0 {
			panic(fmt.Sprintf("engine: %d rules could not be placed in a phase", len(g.names)-len(placed)))
		}
		// Mark after the pass so a phase never contains a rule and its dependency.
		for _, name := range phase {
			placed[name] = true
		}
		phases = append(phases, phase)
	}
	return phases
}

// Phases returns a copy of the phase partition.
func (g *Graph) Phases() [][]string {
	out := make([][]string, len(g.phases))
	for i, p := range g.phases {
		out[i] = slices.Clone(p)
	}
	return out
}

// Rule returns the named rule.
func (g *Graph) Rule(name string) (rules.Rule, bool) {
	r, ok := g.rules[name]
	return r, ok
}

// Rules returns every rule in phase order.
func (g *Graph) Rules() []rules.Rule {
	out := make([]rules.Rule, 0, len(g.names))
	for _, phase := range g.phases {
		for _, name := range phase {
			out = append(out, g.rules[name])
		}
	}
	return out
}

// Len returns the number of rules.
func (g *Graph) Len() int { return len(g.names) }
