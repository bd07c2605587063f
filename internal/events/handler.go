package events

import (
	"context"
)

// Topic Names
const (
	PaymentSettledTopic      = "payments.payment_settled"
	PolicyActivatedTopic     = "policies.policy_activated"
	DepositCompletedTopic    = "wallets.deposit_completed"
	DailyCycleCompletedTopic = "wallets.daily_cycle_completed"
)

// Type Names
const (
	PaymentSettledType      = "payment-settled"
	PolicyActivatedType     = "policy-activated"
	DepositCompletedType    = "deposit-completed"
	DailyCycleCompletedType = "daily-cycle-completed"
)

type EventHandler interface {
	Name() string
	CanHandleMessage(ctx context.Context, message *Message) bool
	Handle(ctx context.Context, message *Message) error
}
