package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
)

type RefundStatus string

const (
	PendingRefundStatus    RefundStatus = "PENDING"
	ProcessingRefundStatus RefundStatus = "PROCESSING"
	CompletedRefundStatus  RefundStatus = "COMPLETED"
	FailedRefundStatus     RefundStatus = "FAILED"
)

func (status RefundStatus) Validate() error {
	switch RefundStatus(strings.ToUpper(string(status))) {
	case PendingRefundStatus, ProcessingRefundStatus, CompletedRefundStatus, FailedRefundStatus:
		return nil
	default:
		return fmt.Errorf("invalid refund status: %s", status)
	}
}

// Refund is a rider payout owed after a free-look cancellation. The unique
// policy_id constraint means a policy can be refunded once, ever.
type Refund struct {
	ID            string       `json:"id" db:"id"`
	RiderID       string       `json:"rider_id" db:"rider_id"`
	PolicyID      string       `json:"policy_id" db:"policy_id"`
	TransactionID string       `json:"transaction_id" db:"transaction_id"`
	Amount        money.Amount `json:"amount" db:"amount"`
	ReversalFee   money.Amount `json:"reversal_fee" db:"reversal_fee"`
	Status        RefundStatus `json:"status" db:"status"`
	Reason        string       `json:"reason,omitempty" db:"reason"`
	RequestedAt   time.Time    `json:"requested_at" db:"requested_at"`
	ProcessedAt   *time.Time   `json:"processed_at" db:"processed_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

type RefundModel struct {
	dbConnectionPool db.DBConnectionPool
}

type RefundInsert struct {
	RiderID       string
	PolicyID      string
	TransactionID string
	Amount        money.Amount
	ReversalFee   money.Amount
	Reason        string
}

func (ri *RefundInsert) Validate() error {
	if strings.TrimSpace(ri.RiderID) == "" {
		return fmt.Errorf("rider_id is required")
	}
	if strings.TrimSpace(ri.PolicyID) == "" {
		return fmt.Errorf("policy_id is required")
	}
	if strings.TrimSpace(ri.TransactionID) == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if !ri.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if ri.ReversalFee.IsNegative() {
		return fmt.Errorf("reversal_fee cannot be negative")
	}
	return nil
}

const refundColumns = `
	id,
	rider_id,
	policy_id,
	transaction_id,
	amount,
	reversal_fee,
	status,
	COALESCE(reason, '') AS reason,
	requested_at,
	processed_at,
	created_at,
	updated_at
`

func (m *RefundModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Refund, error) {
	query := fmt.Sprintf(`SELECT %s FROM refunds WHERE id = $1`, refundColumns)

	refund := Refund{}
	err := sqlExec.GetContext(ctx, &refund, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying refund ID %s: %w", id, err)
	}

	return &refund, nil
}

func (m *RefundModel) GetByPolicyID(ctx context.Context, sqlExec db.SQLExecuter, policyID string) (*Refund, error) {
	query := fmt.Sprintf(`SELECT %s FROM refunds WHERE policy_id = $1`, refundColumns)

	refund := Refund{}
	err := sqlExec.GetContext(ctx, &refund, query, policyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying refund for policy %s: %w", policyID, err)
	}

	return &refund, nil
}

// Insert creates the PENDING refund. A second refund for the same policy maps
// to ErrRecordAlreadyExists.
func (m *RefundModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert RefundInsert) (*Refund, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating refund insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO refunds
			(rider_id, policy_id, transaction_id, amount, reversal_fee, reason)
		VALUES
			($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING %s
	`, refundColumns)

	refund := Refund{}
	err := sqlExec.GetContext(ctx, &refund, query,
		insert.RiderID, insert.PolicyID, insert.TransactionID,
		insert.Amount, insert.ReversalFee, insert.Reason,
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting refund: %w", err)
	}

	return &refund, nil
}

// ClaimPending moves a PENDING refund to PROCESSING, so two payout workers
// cannot pick up the same refund.
func (m *RefundModel) ClaimPending(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Refund, error) {
	query := fmt.Sprintf(`
		UPDATE refunds
		SET status = 'PROCESSING'
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s
	`, refundColumns)

	refund := Refund{}
	err := sqlExec.GetContext(ctx, &refund, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("claiming refund %s: %w", id, err)
	}

	return &refund, nil
}

// Complete marks a PROCESSING refund paid out.
func (m *RefundModel) Complete(ctx context.Context, sqlExec db.SQLExecuter, id string, processedAt time.Time) (*Refund, error) {
	return m.finish(ctx, sqlExec, id, CompletedRefundStatus, processedAt)
}

// MarkFailed returns a PROCESSING refund to a terminal FAILED so ops can
// re-issue it manually.
func (m *RefundModel) MarkFailed(ctx context.Context, sqlExec db.SQLExecuter, id string, processedAt time.Time) (*Refund, error) {
	return m.finish(ctx, sqlExec, id, FailedRefundStatus, processedAt)
}

func (m *RefundModel) finish(ctx context.Context, sqlExec db.SQLExecuter, id string, status RefundStatus, processedAt time.Time) (*Refund, error) {
	query := fmt.Sprintf(`
		UPDATE refunds
		SET status = $2, processed_at = $3
		WHERE id = $1 AND status = 'PROCESSING'
		RETURNING %s
	`, refundColumns)

	refund := Refund{}
	err := sqlExec.GetContext(ctx, &refund, query, id, status, processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("finishing refund %s as %s: %w", id, status, err)
	}

	return &refund, nil
}

// GetAllPending lists refunds awaiting payout, oldest first.
func (m *RefundModel) GetAllPending(ctx context.Context, sqlExec db.SQLExecuter) ([]Refund, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM refunds
		WHERE status = 'PENDING'
		ORDER BY requested_at ASC
	`, refundColumns)

	refunds := []Refund{}
	err := sqlExec.SelectContext(ctx, &refunds, query)
	if err != nil {
		return nil, fmt.Errorf("querying pending refunds: %w", err)
	}

	return refunds, nil
}
