// Package schemas holds the payloads carried by broker messages. Payloads are
// identifiers plus the few fields consumers need to decide whether to act;
// consumers re-read the authoritative rows before mutating anything.
package schemas

import (
	"time"

	"github.com/bodasure/bodasure-backend/internal/money"
)

type EventPaymentSettledData struct {
	TransactionID    string       `json:"transaction_id"`
	PaymentRequestID string       `json:"payment_request_id"`
	RiderID          string       `json:"rider_id"`
	WalletID         string       `json:"wallet_id"`
	TransactionType  string       `json:"transaction_type"`
	Amount           money.Amount `json:"amount"`
	SettledAt        time.Time    `json:"settled_at"`
}

type EventPolicyActivatedData struct {
	PolicyID      string    `json:"policy_id"`
	PolicyNumber  string    `json:"policy_number"`
	RiderID       string    `json:"rider_id"`
	CoverageStart time.Time `json:"coverage_start"`
	CoverageEnd   time.Time `json:"coverage_end"`
}

type EventDepositCompletedData struct {
	WalletID      string       `json:"wallet_id"`
	RiderID       string       `json:"rider_id"`
	TransactionID string       `json:"transaction_id"`
	Amount        money.Amount `json:"amount"`
	CompletedAt   time.Time    `json:"completed_at"`
}

type EventDailyCycleCompletedData struct {
	WalletID      string    `json:"wallet_id"`
	RiderID       string    `json:"rider_id"`
	TransactionID string    `json:"transaction_id"`
	DaysCount     int       `json:"days_count"`
	CompletedAt   time.Time `json:"completed_at"`
}
