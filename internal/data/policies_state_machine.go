package data

import (
	"fmt"
	"strings"
)

type PolicyStatus string

const (
	PendingIssuancePolicyStatus PolicyStatus = "PENDING_ISSUANCE"
	ProcessingPolicyStatus      PolicyStatus = "PROCESSING"
	ActivePolicyStatus          PolicyStatus = "ACTIVE"
	ExpiringPolicyStatus        PolicyStatus = "EXPIRING"
	ExpiredPolicyStatus         PolicyStatus = "EXPIRED"
	LapsedPolicyStatus          PolicyStatus = "LAPSED"
	CancelledPolicyStatus       PolicyStatus = "CANCELLED"
)

// PolicyStatuses returns a list of all possible policy statuses.
func PolicyStatuses() []PolicyStatus {
	return []PolicyStatus{
		PendingIssuancePolicyStatus,
		ProcessingPolicyStatus,
		ActivePolicyStatus,
		ExpiringPolicyStatus,
		ExpiredPolicyStatus,
		LapsedPolicyStatus,
		CancelledPolicyStatus,
	}
}

// LivePolicyStatuses are the statuses under which a policy still provides
// coverage and counts against the one-live-policy-per-type limit.
func LivePolicyStatuses() []PolicyStatus {
	return []PolicyStatus{ActivePolicyStatus, ExpiringPolicyStatus}
}

// TransitionTo verifies if the policy status can transition to the target status.
func (status PolicyStatus) TransitionTo(targetState PolicyStatus) error {
	return PolicyStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

func (status PolicyStatus) State() State {
	return State(status)
}

func (status PolicyStatus) Validate() error {
	switch PolicyStatus(strings.ToUpper(string(status))) {
	case PendingIssuancePolicyStatus, ProcessingPolicyStatus, ActivePolicyStatus,
		ExpiringPolicyStatus, ExpiredPolicyStatus, LapsedPolicyStatus, CancelledPolicyStatus:
		return nil
	default:
		return fmt.Errorf("invalid policy status: %s", status)
	}
}

// IsTerminal reports whether the policy can never change status again.
func (status PolicyStatus) IsTerminal() bool {
	switch status {
	case ExpiredPolicyStatus, LapsedPolicyStatus, CancelledPolicyStatus:
		return true
	default:
		return false
	}
}

// PolicyStateMachineWithInitialState returns a state machine for policies,
// initialized with the given state.
func PolicyStateMachineWithInitialState(initialState PolicyStatus) *StateMachine {
	transitions := []StateTransition{
		{From: PendingIssuancePolicyStatus.State(), To: ProcessingPolicyStatus.State()}, // claimed by a batch
		{From: PendingIssuancePolicyStatus.State(), To: CancelledPolicyStatus.State()},
		{From: ProcessingPolicyStatus.State(), To: ActivePolicyStatus.State()}, // activation succeeded
		{From: ProcessingPolicyStatus.State(), To: CancelledPolicyStatus.State()},
		{From: ActivePolicyStatus.State(), To: ExpiringPolicyStatus.State()}, // coverage end approaching
		{From: ActivePolicyStatus.State(), To: ExpiredPolicyStatus.State()},
		{From: ActivePolicyStatus.State(), To: LapsedPolicyStatus.State()},
		{From: ActivePolicyStatus.State(), To: CancelledPolicyStatus.State()}, // free-look cancellation
		{From: ExpiringPolicyStatus.State(), To: ExpiredPolicyStatus.State()},
		{From: ExpiringPolicyStatus.State(), To: CancelledPolicyStatus.State()},
	}

	return NewStateMachine(initialState.State(), transitions)
}

// ToPolicyStatus converts a string into a PolicyStatus, if possible.
func ToPolicyStatus(s string) (PolicyStatus, error) {
	err := PolicyStatus(s).Validate()
	if err != nil {
		return "", err
	}

	return PolicyStatus(strings.ToUpper(s)), nil
}
