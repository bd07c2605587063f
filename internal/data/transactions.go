package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
)

type TransactionType string

const (
	DepositTransactionType      TransactionType = "DEPOSIT"
	DailyPaymentTransactionType TransactionType = "DAILY_PAYMENT"
	RefundTransactionType       TransactionType = "REFUND"
	AdjustmentTransactionType   TransactionType = "ADJUSTMENT"
	ReversalTransactionType     TransactionType = "REVERSAL"
)

func (t TransactionType) Validate() error {
	switch TransactionType(strings.ToUpper(string(t))) {
	case DepositTransactionType, DailyPaymentTransactionType, RefundTransactionType,
		AdjustmentTransactionType, ReversalTransactionType:
		return nil
	default:
		return fmt.Errorf("invalid transaction type: %s", t)
	}
}

type TransactionStatus string

const (
	PendingTransactionStatus    TransactionStatus = "PENDING"
	ProcessingTransactionStatus TransactionStatus = "PROCESSING"
	CompletedTransactionStatus  TransactionStatus = "COMPLETED"
	FailedTransactionStatus     TransactionStatus = "FAILED"
	CancelledTransactionStatus  TransactionStatus = "CANCELLED"
	ReversedTransactionStatus   TransactionStatus = "REVERSED"
)

func (status TransactionStatus) Validate() error {
	switch TransactionStatus(strings.ToUpper(string(status))) {
	case PendingTransactionStatus, ProcessingTransactionStatus, CompletedTransactionStatus,
		FailedTransactionStatus, CancelledTransactionStatus, ReversedTransactionStatus:
		return nil
	default:
		return fmt.Errorf("invalid transaction status: %s", status)
	}
}

// Transaction is an immutable settled financial fact. Terminal rows are never
// updated; undoing one takes an explicit REVERSAL transaction.
type Transaction struct {
	ID                    string            `json:"id" db:"id"`
	RiderID               string            `json:"rider_id" db:"rider_id"`
	WalletID              string            `json:"wallet_id" db:"wallet_id"`
	Type                  TransactionType   `json:"type" db:"type"`
	Status                TransactionStatus `json:"status" db:"status"`
	Amount                money.Amount      `json:"amount" db:"amount"`
	ProviderReceiptNumber string            `json:"provider_receipt_number,omitempty" db:"provider_receipt_number"`
	PaymentRequestID      *string           `json:"payment_request_id,omitempty" db:"payment_request_id"`
	PolicyID              *string           `json:"policy_id,omitempty" db:"policy_id"`
	DaysCount             int               `json:"days_count" db:"days_count"`
	SettledAt             *time.Time        `json:"settled_at" db:"settled_at"`
	Metadata              json.RawMessage   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
}

type TransactionModel struct {
	dbConnectionPool db.DBConnectionPool
}

type TransactionInsert struct {
	RiderID          string
	WalletID         string
	Type             TransactionType
	Amount           money.Amount
	PaymentRequestID string
	DaysCount        int
	Metadata         map[string]interface{}
}

func (ti *TransactionInsert) Validate() error {
	if strings.TrimSpace(ti.RiderID) == "" {
		return fmt.Errorf("rider_id is required")
	}
	if strings.TrimSpace(ti.WalletID) == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if err := ti.Type.Validate(); err != nil {
		return err
	}
	if ti.Amount == 0 {
		return fmt.Errorf("amount cannot be zero")
	}
	return nil
}

const transactionColumns = `
	id,
	rider_id,
	wallet_id,
	type,
	status,
	amount,
	COALESCE(provider_receipt_number, '') AS provider_receipt_number,
	payment_request_id,
	policy_id,
	days_count,
	settled_at,
	metadata,
	created_at,
	updated_at
`

func (m *TransactionModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, transactionColumns)

	transaction := Transaction{}
	err := sqlExec.GetContext(ctx, &transaction, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying transaction ID %s: %w", id, err)
	}

	return &transaction, nil
}

// GetCompletedByPaymentRequestID returns the single COMPLETED transaction a
// payment request produced, if any.
func (m *TransactionModel) GetCompletedByPaymentRequestID(ctx context.Context, sqlExec db.SQLExecuter, paymentRequestID string) (*Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE payment_request_id = $1 AND status = 'COMPLETED'
	`, transactionColumns)

	transaction := Transaction{}
	err := sqlExec.GetContext(ctx, &transaction, query, paymentRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying completed transaction for payment request %s: %w", paymentRequestID, err)
	}

	return &transaction, nil
}

func (m *TransactionModel) GetByReceiptNumber(ctx context.Context, sqlExec db.SQLExecuter, receiptNumber string) (*Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE provider_receipt_number = $1`, transactionColumns)

	transaction := Transaction{}
	err := sqlExec.GetContext(ctx, &transaction, query, receiptNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying transaction by receipt %s: %w", receiptNumber, err)
	}

	return &transaction, nil
}

// Insert creates the transaction in PROCESSING; the settlement path completes
// it in the same database transaction once the wallet credit holds.
func (m *TransactionModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert TransactionInsert) (*Transaction, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating transaction insert: %w", err)
	}

	metadataJSON, err := json.Marshal(insert.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling transaction metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO transactions
			(rider_id, wallet_id, type, status, amount, payment_request_id, days_count, metadata)
		VALUES
			($1, $2, $3, 'PROCESSING', $4, $5, $6, $7::jsonb)
		RETURNING %s
	`, transactionColumns)

	var paymentRequestID interface{}
	if insert.PaymentRequestID != "" {
		paymentRequestID = insert.PaymentRequestID
	}

	transaction := Transaction{}
	err = sqlExec.GetContext(ctx, &transaction, query,
		insert.RiderID, insert.WalletID, insert.Type, insert.Amount,
		paymentRequestID, insert.DaysCount, string(metadataJSON),
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting transaction: %w", err)
	}

	return &transaction, nil
}

// Complete settles a PROCESSING transaction. The partial unique index on
// (payment_request_id) WHERE status = 'COMPLETED' and the unique receipt
// number both funnel into ErrRecordAlreadyExists — a second settlement of the
// same fact can never land.
func (m *TransactionModel) Complete(ctx context.Context, sqlExec db.SQLExecuter, id, receiptNumber string, settledAt time.Time) (*Transaction, error) {
	query := fmt.Sprintf(`
		UPDATE transactions
		SET
			status = 'COMPLETED',
			provider_receipt_number = NULLIF($2, ''),
			settled_at = $3
		WHERE
			id = $1 AND
			status = 'PROCESSING'
		RETURNING %s
	`, transactionColumns)

	transaction := Transaction{}
	err := sqlExec.GetContext(ctx, &transaction, query, id, receiptNumber, settledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("completing transaction %s: %w", id, err)
	}

	return &transaction, nil
}

// LinkPolicy sets the weak reference from a triggering transaction to the
// policy it produced.
func (m *TransactionModel) LinkPolicy(ctx context.Context, sqlExec db.SQLExecuter, id, policyID string) error {
	const query = `UPDATE transactions SET policy_id = $2 WHERE id = $1`

	res, err := sqlExec.ExecContext(ctx, query, id, policyID)
	if err != nil {
		return fmt.Errorf("linking transaction %s to policy %s: %w", id, policyID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// Reverse marks a COMPLETED transaction REVERSED and writes the compensating
// REVERSAL row. The original stays immutable apart from the status flip.
func (m *TransactionModel) Reverse(ctx context.Context, sqlExec db.SQLExecuter, originalID, reason string) (*Transaction, error) {
	const markQuery = `
		UPDATE transactions
		SET status = 'REVERSED'
		WHERE id = $1 AND status = 'COMPLETED'
	`

	res, err := sqlExec.ExecContext(ctx, markQuery, originalID)
	if err != nil {
		return nil, fmt.Errorf("marking transaction %s reversed: %w", originalID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, fmt.Errorf("transaction %s is not COMPLETED: %w", originalID, ErrRecordNotFound)
	}

	metadataJSON, err := json.Marshal(map[string]string{"reversed_transaction_id": originalID, "reason": reason})
	if err != nil {
		return nil, fmt.Errorf("marshaling reversal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO transactions
			(rider_id, wallet_id, type, status, amount, policy_id, days_count, settled_at, metadata)
		SELECT
			rider_id, wallet_id, 'REVERSAL', 'COMPLETED', -amount, policy_id, 0, NOW(), $2::jsonb
		FROM transactions
		WHERE id = $1
		RETURNING %s
	`, transactionColumns)

	reversal := Transaction{}
	err = sqlExec.GetContext(ctx, &reversal, query, originalID, string(metadataJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting reversal for transaction %s: %w", originalID, err)
	}

	return &reversal, nil
}
