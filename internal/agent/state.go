package agent

import "fmt"

// State is an agent's lifecycle state
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateIdle         State = "IDLE"
	StateThinking     State = "THINKING"
	StateOrdering     State = "ORDERING"
	StatePaused       State = "PAUSED"
	StateHalted       State = "HALTED"
	StateTerminated   State = "TERMINATED"
)

// transitions encodes the legal state machine. PAUSED and HALTED are
// reachable from any non-terminal state; TERMINATED only from rest
// states.
var transitions = map[State][]State{
	StateInitializing: {StateIdle, StatePaused, StateHalted},
	StateIdle:         {StateThinking, StatePaused, StateHalted, StateTerminated},
	StateThinking:     {StateOrdering, StateIdle, StatePaused, StateHalted},
	StateOrdering:     {StateIdle, StatePaused, StateHalted},
	StatePaused:       {StateIdle, StateHalted, StateTerminated},
	StateHalted:       {StateIdle, StateTerminated},
	StateTerminated:   {},
}

// CanTransition reports whether from -> to is a legal move
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Trading reports whether the agent may produce new order intents.
// HALTED and PAUSED agents never do.
func (s State) Trading() bool {
	return s == StateIdle || s == StateThinking || s == StateOrdering
}

// Terminal reports whether the state is final
func (s State) Terminal() bool {
	return s == StateTerminated
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("invalid state transition %s -> %s", from, to)
}
