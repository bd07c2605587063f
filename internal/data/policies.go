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

type PolicyType string

const (
	OneMonthPolicyType    PolicyType = "ONE_MONTH"
	ElevenMonthPolicyType PolicyType = "ELEVEN_MONTH"
)

func (t PolicyType) Validate() error {
	switch PolicyType(strings.ToUpper(string(t))) {
	case OneMonthPolicyType, ElevenMonthPolicyType:
		return nil
	default:
		return fmt.Errorf("invalid policy type: %s", t)
	}
}

// CoverageMonths returns the coverage duration this policy type grants.
func (t PolicyType) CoverageMonths() int {
	if t == ElevenMonthPolicyType {
		return 11
	}
	return 1
}

// DisplayName returns the plan name imprinted on rider-facing documents.
func (t PolicyType) DisplayName() string {
	if t == ElevenMonthPolicyType {
		return "Eleven-month rider personal accident cover"
	}
	return "One-month rider personal accident cover"
}

// Policy is a cover instance. It is created PENDING_ISSUANCE by the issuance
// planner and only becomes ACTIVE when a batch assigns its policy number and
// coverage window.
type Policy struct {
	ID                      string       `json:"id" db:"id"`
	RiderID                 string       `json:"rider_id" db:"rider_id"`
	Type                    PolicyType   `json:"type" db:"type"`
	Status                  PolicyStatus `json:"status" db:"status"`
	PolicyNumber            string       `json:"policy_number,omitempty" db:"policy_number"`
	TriggeringTransactionID string       `json:"triggering_transaction_id" db:"triggering_transaction_id"`
	BatchID                 *string      `json:"batch_id,omitempty" db:"batch_id"`
	PremiumAmount           money.Amount `json:"premium_amount" db:"premium_amount"`
	CoverageStart           *time.Time   `json:"coverage_start" db:"coverage_start"`
	CoverageEnd             *time.Time   `json:"coverage_end" db:"coverage_end"`
	IssuedAt                *time.Time   `json:"issued_at" db:"issued_at"`
	CancelledAt             *time.Time   `json:"cancelled_at" db:"cancelled_at"`
	CancellationReason      string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	PreviousPolicyID        *string      `json:"previous_policy_id,omitempty" db:"previous_policy_id"`
	NextPolicyID            *string      `json:"next_policy_id,omitempty" db:"next_policy_id"`
	CertificateKey          string       `json:"certificate_key,omitempty" db:"certificate_key"`
	CreatedAt               time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at" db:"updated_at"`
}

// IsInFreeLookWindow reports whether the policy can still be cancelled with a
// refund at the given instant.
func (p *Policy) IsInFreeLookWindow(now time.Time, freeLookDays int) bool {
	if p.CoverageStart == nil {
		return false
	}
	return now.Before(p.CoverageStart.AddDate(0, 0, freeLookDays))
}

type PolicyModel struct {
	dbConnectionPool db.DBConnectionPool
}

type PolicyInsert struct {
	RiderID                 string
	Type                    PolicyType
	TriggeringTransactionID string
	PremiumAmount           money.Amount
	PreviousPolicyID        string
}

func (pi *PolicyInsert) Validate() error {
	if strings.TrimSpace(pi.RiderID) == "" {
		return fmt.Errorf("rider_id is required")
	}
	if err := pi.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(pi.TriggeringTransactionID) == "" {
		return fmt.Errorf("triggering_transaction_id is required")
	}
	if !pi.PremiumAmount.IsPositive() {
		return fmt.Errorf("premium_amount must be positive")
	}
	return nil
}

const policyColumns = `
	id,
	rider_id,
	type,
	status,
	COALESCE(policy_number, '') AS policy_number,
	triggering_transaction_id,
	batch_id,
	premium_amount,
	coverage_start,
	coverage_end,
	issued_at,
	cancelled_at,
	COALESCE(cancellation_reason, '') AS cancellation_reason,
	previous_policy_id,
	next_policy_id,
	COALESCE(certificate_key, '') AS certificate_key,
	created_at,
	updated_at
`

func (m *PolicyModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Policy, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE id = $1`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy ID %s: %w", id, err)
	}

	return &policy, nil
}

// GetForUpdate loads the policy with a row lock, for flows that must decide
// and mutate under the same snapshot (cancellation).
func (m *PolicyModel) GetForUpdate(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Policy, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE id = $1 FOR UPDATE`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy ID %s for update: %w", id, err)
	}

	return &policy, nil
}

func (m *PolicyModel) GetByPolicyNumber(ctx context.Context, sqlExec db.SQLExecuter, policyNumber string) (*Policy, error) {
	query := fmt.Sprintf(`SELECT %s FROM policies WHERE policy_number = $1`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, policyNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy number %s: %w", policyNumber, err)
	}

	return &policy, nil
}

// GetByTriggeringTransaction is the idempotency read for the issuance planner.
func (m *PolicyModel) GetByTriggeringTransaction(ctx context.Context, sqlExec db.SQLExecuter, riderID, transactionID string) (*Policy, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM policies
		WHERE rider_id = $1 AND triggering_transaction_id = $2
	`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, riderID, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy for rider %s and transaction %s: %w", riderID, transactionID, err)
	}

	return &policy, nil
}

// GetLiveByRiderAndType returns the rider's ACTIVE or EXPIRING policy of the
// given type, if one exists. The partial unique index guarantees at most one.
func (m *PolicyModel) GetLiveByRiderAndType(ctx context.Context, sqlExec db.SQLExecuter, riderID string, policyType PolicyType) (*Policy, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM policies
		WHERE rider_id = $1 AND type = $2 AND status IN ('ACTIVE', 'EXPIRING')
	`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, riderID, policyType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying live %s policy for rider %s: %w", policyType, riderID, err)
	}

	return &policy, nil
}

func (m *PolicyModel) GetAllByRiderID(ctx context.Context, sqlExec db.SQLExecuter, riderID string) ([]Policy, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM policies
		WHERE rider_id = $1
		ORDER BY created_at DESC
	`, policyColumns)

	policies := []Policy{}
	err := sqlExec.SelectContext(ctx, &policies, query, riderID)
	if err != nil {
		return nil, fmt.Errorf("querying policies for rider %s: %w", riderID, err)
	}

	return policies, nil
}

// Insert creates the policy in PENDING_ISSUANCE. The (rider_id,
// triggering_transaction_id) unique key makes planning idempotent: a repeated
// settlement event maps to ErrRecordAlreadyExists and the caller re-reads.
func (m *PolicyModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert PolicyInsert) (*Policy, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating policy insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO policies
			(rider_id, type, triggering_transaction_id, premium_amount, previous_policy_id)
		VALUES
			($1, $2, $3, $4, $5)
		RETURNING %s
	`, policyColumns)

	var previousPolicyID interface{}
	if insert.PreviousPolicyID != "" {
		previousPolicyID = insert.PreviousPolicyID
	}

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query,
		insert.RiderID, insert.Type, insert.TriggeringTransactionID, insert.PremiumAmount, previousPolicyID,
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting policy: %w", err)
	}

	return &policy, nil
}

// SetNextPolicyID chains a ONE_MONTH policy to the ELEVEN_MONTH policy that
// continues it.
func (m *PolicyModel) SetNextPolicyID(ctx context.Context, sqlExec db.SQLExecuter, id, nextPolicyID string) error {
	const query = `UPDATE policies SET next_policy_id = $2 WHERE id = $1`

	res, err := sqlExec.ExecContext(ctx, query, id, nextPolicyID)
	if err != nil {
		return fmt.Errorf("setting next policy on %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// ClaimForBatch moves every PENDING_ISSUANCE policy whose triggering
// transaction settled inside the window into PROCESSING under the given
// batch, then returns them ordered by settlement time so numbering is
// deterministic.
func (m *PolicyModel) ClaimForBatch(ctx context.Context, sqlExec db.SQLExecuter, batchID string, windowStart, windowEnd time.Time) ([]Policy, error) {
	const claimQuery = `
		UPDATE policies
		SET status = 'PROCESSING', batch_id = $1
		FROM transactions t
		WHERE
			policies.triggering_transaction_id = t.id AND
			policies.status = 'PENDING_ISSUANCE' AND
			t.settled_at > $2 AND
			t.settled_at <= $3
	`

	_, err := sqlExec.ExecContext(ctx, claimQuery, batchID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("claiming pending policies for batch %s: %w", batchID, err)
	}

	return m.GetClaimedByBatchID(ctx, sqlExec, batchID)
}

// GetClaimedByBatchID returns the batch's still-unactivated policies in
// settlement order. RetryFailed re-enters through here.
func (m *PolicyModel) GetClaimedByBatchID(ctx context.Context, sqlExec db.SQLExecuter, batchID string) ([]Policy, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT p.*, t.settled_at AS triggering_settled_at
			FROM policies p
			JOIN transactions t ON t.id = p.triggering_transaction_id
			WHERE p.batch_id = $1 AND p.status = 'PROCESSING'
		) AS claimed
		ORDER BY triggering_settled_at ASC, triggering_transaction_id ASC
	`, policyColumns)

	policies := []Policy{}
	err := sqlExec.SelectContext(ctx, &policies, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("querying claimed policies for batch %s: %w", batchID, err)
	}

	return policies, nil
}

// PolicyActivation carries everything a batch assigns at issuance time.
type PolicyActivation struct {
	PolicyNumber  string
	CoverageStart time.Time
	CoverageEnd   time.Time
	IssuedAt      time.Time
}

// Activate flips a PROCESSING policy to ACTIVE with its number and coverage
// window. A live-policy or policy-number collision surfaces as
// ErrRecordAlreadyExists so the batch can record the failure and move on.
func (m *PolicyModel) Activate(ctx context.Context, sqlExec db.SQLExecuter, id string, activation PolicyActivation) (*Policy, error) {
	query := fmt.Sprintf(`
		UPDATE policies
		SET
			status = 'ACTIVE',
			policy_number = $2,
			coverage_start = $3,
			coverage_end = $4,
			issued_at = $5
		WHERE
			id = $1 AND
			status = 'PROCESSING'
		RETURNING %s
	`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, id,
		activation.PolicyNumber, activation.CoverageStart, activation.CoverageEnd, activation.IssuedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("activating policy %s: %w", id, err)
	}

	return &policy, nil
}

// Cancel terminates a live policy inside the free-look window.
func (m *PolicyModel) Cancel(ctx context.Context, sqlExec db.SQLExecuter, id, reason string, cancelledAt time.Time) (*Policy, error) {
	query := fmt.Sprintf(`
		UPDATE policies
		SET
			status = 'CANCELLED',
			cancelled_at = $2,
			cancellation_reason = $3
		WHERE
			id = $1 AND
			status IN ('ACTIVE', 'EXPIRING')
		RETURNING %s
	`, policyColumns)

	policy := Policy{}
	err := sqlExec.GetContext(ctx, &policy, query, id, cancelledAt, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("cancelling policy %s: %w", id, err)
	}

	return &policy, nil
}

// SetCertificateKey records where the issued certificate lives in object
// storage. Returns ErrRecordAlreadyExists when a key is already set, which
// the certificate job treats as done.
func (m *PolicyModel) SetCertificateKey(ctx context.Context, sqlExec db.SQLExecuter, id, certificateKey string) error {
	const query = `
		UPDATE policies
		SET certificate_key = $2
		WHERE id = $1 AND certificate_key IS NULL
	`

	res, err := sqlExec.ExecContext(ctx, query, id, certificateKey)
	if err != nil {
		return fmt.Errorf("setting certificate key on policy %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		policy, getErr := m.Get(ctx, sqlExec, id)
		if getErr != nil {
			return getErr
		}
		if policy.CertificateKey != "" {
			return ErrRecordAlreadyExists
		}
		return ErrRecordNotFound
	}

	return nil
}

// MarkExpiring flips ACTIVE policies whose coverage ends within the warning
// window to EXPIRING and returns them so the caller can notify each rider
// exactly once.
func (m *PolicyModel) MarkExpiring(ctx context.Context, sqlExec db.SQLExecuter, asOf time.Time, warningWindow time.Duration) ([]Policy, error) {
	query := fmt.Sprintf(`
		UPDATE policies
		SET status = 'EXPIRING'
		WHERE
			status = 'ACTIVE' AND
			coverage_end IS NOT NULL AND
			coverage_end > $1 AND
			coverage_end <= $2
		RETURNING %s
	`, policyColumns)

	policies := []Policy{}
	err := sqlExec.SelectContext(ctx, &policies, query, asOf, asOf.Add(warningWindow))
	if err != nil {
		return nil, fmt.Errorf("marking expiring policies: %w", err)
	}

	return policies, nil
}

// ExpirePast moves policies whose coverage window has closed to EXPIRED.
func (m *PolicyModel) ExpirePast(ctx context.Context, sqlExec db.SQLExecuter, asOf time.Time) ([]Policy, error) {
	query := fmt.Sprintf(`
		UPDATE policies
		SET status = 'EXPIRED'
		WHERE
			status IN ('ACTIVE', 'EXPIRING') AND
			coverage_end IS NOT NULL AND
			coverage_end <= $1
		RETURNING %s
	`, policyColumns)

	policies := []Policy{}
	err := sqlExec.SelectContext(ctx, &policies, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("expiring policies: %w", err)
	}

	return policies, nil
}
