package data

import (
	"fmt"
	"strings"
)

type PaymentRequestStatus string

const (
	InitiatedPaymentRequestStatus PaymentRequestStatus = "INITIATED"
	SentPaymentRequestStatus      PaymentRequestStatus = "SENT"
	CompletedPaymentRequestStatus PaymentRequestStatus = "COMPLETED"
	FailedPaymentRequestStatus    PaymentRequestStatus = "FAILED"
	CancelledPaymentRequestStatus PaymentRequestStatus = "CANCELLED"
	TimeoutPaymentRequestStatus   PaymentRequestStatus = "TIMEOUT"
	ExpiredPaymentRequestStatus   PaymentRequestStatus = "EXPIRED"
)

// Validate validates the payment request status
func (status PaymentRequestStatus) Validate() error {
	switch PaymentRequestStatus(strings.ToUpper(string(status))) {
	case InitiatedPaymentRequestStatus, SentPaymentRequestStatus, CompletedPaymentRequestStatus,
		FailedPaymentRequestStatus, CancelledPaymentRequestStatus, TimeoutPaymentRequestStatus,
		ExpiredPaymentRequestStatus:
		return nil
	default:
		return fmt.Errorf("invalid payment request status: %s", status)
	}
}

// IsTerminal reports whether the status admits no further transition. The
// terminal transition is the gate for the wallet credit, so exactly one
// writer may ever perform it.
func (status PaymentRequestStatus) IsTerminal() bool {
	switch status {
	case CompletedPaymentRequestStatus, FailedPaymentRequestStatus, CancelledPaymentRequestStatus,
		TimeoutPaymentRequestStatus, ExpiredPaymentRequestStatus:
		return true
	default:
		return false
	}
}

// TransitionTo transitions the payment request status to the target state
func (status PaymentRequestStatus) TransitionTo(targetState PaymentRequestStatus) error {
	return PaymentRequestStateMachineWithInitialState(status).TransitionTo(targetState.State())
}

// PaymentRequestStateMachineWithInitialState returns a state machine for payment requests initialized with the given state
func PaymentRequestStateMachineWithInitialState(initialState PaymentRequestStatus) *StateMachine {
	transitions := []StateTransition{
		{From: InitiatedPaymentRequestStatus.State(), To: SentPaymentRequestStatus.State()},      // provider accepted the push
		{From: InitiatedPaymentRequestStatus.State(), To: ExpiredPaymentRequestStatus.State()},   // provider never accepted
		{From: SentPaymentRequestStatus.State(), To: CompletedPaymentRequestStatus.State()},      // success callback or poll, triggers wallet credit
		{From: SentPaymentRequestStatus.State(), To: FailedPaymentRequestStatus.State()},         // provider reported failure
		{From: SentPaymentRequestStatus.State(), To: CancelledPaymentRequestStatus.State()},      // user rejected on phone
		{From: SentPaymentRequestStatus.State(), To: TimeoutPaymentRequestStatus.State()},        // no callback within expires_at
		{From: InitiatedPaymentRequestStatus.State(), To: FailedPaymentRequestStatus.State()},    // push rejected synchronously
		{From: InitiatedPaymentRequestStatus.State(), To: CancelledPaymentRequestStatus.State()}, // cancelled before send
	}

	return NewStateMachine(initialState.State(), transitions)
}

// PaymentRequestStatuses returns a list of all possible payment request statuses
func PaymentRequestStatuses() []PaymentRequestStatus {
	return []PaymentRequestStatus{
		InitiatedPaymentRequestStatus, SentPaymentRequestStatus, CompletedPaymentRequestStatus,
		FailedPaymentRequestStatus, CancelledPaymentRequestStatus, TimeoutPaymentRequestStatus,
		ExpiredPaymentRequestStatus,
	}
}

// ToPaymentRequestStatus converts a string to a PaymentRequestStatus
func ToPaymentRequestStatus(s string) (PaymentRequestStatus, error) {
	err := PaymentRequestStatus(s).Validate()
	if err != nil {
		return "", err
	}

	return PaymentRequestStatus(strings.ToUpper(s)), nil
}

func (status PaymentRequestStatus) State() State {
	return State(status)
}
