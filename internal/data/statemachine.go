package data

import "fmt"

type State string

// StateTransition is one allowed edge of a status graph.
type StateTransition struct {
	From State
	To   State
}

// StateMachine validates status changes against a fixed transition graph. It
// carries no persistence; callers transition it and then write the resulting
// status themselves.
type StateMachine struct {
	CurrentState State
	Transitions  map[State]map[State]bool
}

func NewStateMachine(initialState State, transitions []StateTransition) *StateMachine {
	sm := &StateMachine{
		CurrentState: initialState,
		Transitions:  map[State]map[State]bool{},
	}

	for _, transition := range transitions {
		targets, ok := sm.Transitions[transition.From]
		if !ok {
			targets = map[State]bool{}
			sm.Transitions[transition.From] = targets
		}
		targets[transition.To] = true
	}

	return sm
}

// CanTransitionTo reports whether the graph allows moving from the current
// state to targetState. States with no outgoing edges are terminal.
func (sm *StateMachine) CanTransitionTo(targetState State) bool {
	return sm.Transitions[sm.CurrentState][targetState]
}

func (sm *StateMachine) TransitionTo(targetState State) error {
	if !sm.CanTransitionTo(targetState) {
		return fmt.Errorf("cannot transition from %s to %s", sm.CurrentState, targetState)
	}
	sm.CurrentState = targetState
	return nil
}
