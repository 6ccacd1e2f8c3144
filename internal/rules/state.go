package rules

import "fmt"

// State is a rule's position in its lifecycle.
type State string

const (
	StatePending     State = "pending"
	StateValidating  State = "validating"
	StateValidated   State = "validated"
	StateApplying    State = "applying"
	StateApplied     State = "applied"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateFailed      State = "failed"
)

// transitions lists the legal successor states for each state.
var transitions = map[State][]State{
	StatePending:     {StateValidating},
	StateValidating:  {StateValidated, StateFailed},
	StateValidated:   {StateApplying, StateRollingBack},
	StateApplying:    {StateApplied, StateFailed},
	StateApplied:     {StateRollingBack},
	StateRollingBack: {StateRolledBack, StateFailed},
	StateRolledBack:  nil,
	StateFailed:      nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s State) String() string {
	return string(s)
}

// mustTransition panics on an illegal transition. Callers guard every
// transition with a state check, so reaching the panic is a bug in this package.
func mustTransition(from, to State) State {
	if !from.CanTransition(to) {
		panic(fmt.Sprintf("rules: illegal state transition %s -> %s", from, to))
	}
	return to
}
