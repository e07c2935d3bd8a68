package process

import "fmt"

// State is the scheduling state of one process.
type State uint8

const (
	// StateUnstarted: loaded, not yet run since the last (re)load.
	StateUnstarted State = iota
	// StateRunning: has the core or is eligible for it.
	StateRunning
	// StateYielded: woken from a wait; runs again once picked, after
	// any pending upcall is staged.
	StateYielded
	// StateWaiting: parked in a wait-mode yield until an upcall or a
	// timeout.
	StateWaiting
	// StateFaulted: transient; the fault handler resolves it in the
	// same kernel pass.
	StateFaulted
	// StateStopped: terminal until an operator start command.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateRunning:
		return "running"
	case StateYielded:
		return "yielded"
	case StateWaiting:
		return "waiting"
	case StateFaulted:
		return "faulted"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Schedulable reports whether a policy may select the process.
func (s State) Schedulable() bool {
	switch s {
	case StateUnstarted, StateRunning, StateYielded:
		return true
	}
	return false
}

// legalMoves holds the scheduler-visible transitions. Restart resets
// state out of band and is the only road back from Faulted or Stopped.
var legalMoves = map[State][]State{
	StateUnstarted: {StateRunning, StateStopped},
	StateRunning:   {StateWaiting, StateFaulted, StateStopped},
	StateYielded:   {StateRunning, StateStopped},
	StateWaiting:   {StateYielded, StateStopped},
	StateFaulted:   {StateStopped},
	StateStopped:   {},
}

func (s State) canMove(to State) bool {
	for _, next := range legalMoves[s] {
		if next == to {
			return true
		}
	}
	return false
}
