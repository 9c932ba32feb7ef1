package sieve

import "fmt"

// State is the lifecycle position of a filter stage.
type State int

const (
	// Uninitialized stages hold only their upstream read end and have not
	// yet seen a value.
	Uninitialized State = iota
	// Active stages own a prime, a downstream channel and a child stage.
	Active
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CanTransition reports whether a stage may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case Uninitialized:
		return next == Active || next == Terminated
	case Active:
		return next == Terminated
	default:
		return false
	}
}
