package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
)

type BatchSchedule string

const (
	Batch1Schedule BatchSchedule = "BATCH_1"
	Batch2Schedule BatchSchedule = "BATCH_2"
	Batch3Schedule BatchSchedule = "BATCH_3"
	ManualSchedule BatchSchedule = "MANUAL"
)

func (s BatchSchedule) Validate() error {
	switch BatchSchedule(strings.ToUpper(string(s))) {
	case Batch1Schedule, Batch2Schedule, Batch3Schedule, ManualSchedule:
		return nil
	default:
		return fmt.Errorf("invalid batch schedule: %s", s)
	}
}

// Tag returns the short form used in batch and policy numbers.
func (s BatchSchedule) Tag() string {
	switch s {
	case Batch1Schedule:
		return "B1"
	case Batch2Schedule:
		return "B2"
	case Batch3Schedule:
		return "B3"
	default:
		return "M"
	}
}

type PolicyBatchStatus string

const (
	PendingPolicyBatchStatus             PolicyBatchStatus = "PENDING"
	ProcessingPolicyBatchStatus          PolicyBatchStatus = "PROCESSING"
	CompletedPolicyBatchStatus           PolicyBatchStatus = "COMPLETED"
	CompletedWithErrorsPolicyBatchStatus PolicyBatchStatus = "COMPLETED_WITH_ERRORS"
	FailedPolicyBatchStatus              PolicyBatchStatus = "FAILED"
	CancelledPolicyBatchStatus           PolicyBatchStatus = "CANCELLED"
)

// FailedPolicy records one policy a batch could not activate, kept on the
// batch row for RetryFailed and ops inspection.
type FailedPolicy struct {
	PolicyID string `json:"policy_id"`
	Reason   string `json:"reason"`
}

type FailedPolicyList []FailedPolicy

// Value implements the driver.Valuer interface.
func (fpl FailedPolicyList) Value() (driver.Value, error) {
	if len(fpl) == 0 {
		return nil, nil
	}
	fplJSON, err := json.Marshal(fpl)
	if err != nil {
		return nil, fmt.Errorf("converting failed policy list to json: %w", err)
	}
	return string(fplJSON), nil
}

var _ driver.Valuer = (FailedPolicyList)(nil)

// Scan implements the sql.Scanner interface.
func (fpl *FailedPolicyList) Scan(src interface{}) error {
	if src == nil {
		*fpl = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected type %T for failed policy list", src)
	}
	if err := json.Unmarshal(data, fpl); err != nil {
		return fmt.Errorf("unmarshaling failed_policies column: %w", err)
	}
	return nil
}

var _ sql.Scanner = (*FailedPolicyList)(nil)

// PolicyBatch is one issuance run. The unique (batch_date, schedule) index is
// the cluster-wide lock: whichever instance inserts the row first owns the run.
type PolicyBatch struct {
	ID                 string            `json:"id" db:"id"`
	BatchNumber        string            `json:"batch_number" db:"batch_number"`
	Schedule           BatchSchedule     `json:"schedule" db:"schedule"`
	BatchDate          time.Time         `json:"batch_date" db:"batch_date"`
	Status             PolicyBatchStatus `json:"status" db:"status"`
	ScheduledFor       time.Time         `json:"scheduled_for" db:"scheduled_for"`
	PaymentWindowStart time.Time         `json:"payment_window_start" db:"payment_window_start"`
	PaymentWindowEnd   time.Time         `json:"payment_window_end" db:"payment_window_end"`
	StartedAt          *time.Time        `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time        `json:"completed_at" db:"completed_at"`
	TotalPolicies      int               `json:"total_policies" db:"total_policies"`
	ActivatedCount     int               `json:"activated_count" db:"activated_count"`
	FailedCount        int               `json:"failed_count" db:"failed_count"`
	TotalPremium       money.Amount      `json:"total_premium" db:"total_premium"`
	FailedPolicies     FailedPolicyList  `json:"failed_policies,omitempty" db:"failed_policies"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
}

type PolicyBatchModel struct {
	dbConnectionPool db.DBConnectionPool
}

type PolicyBatchInsert struct {
	BatchNumber        string
	Schedule           BatchSchedule
	BatchDate          time.Time
	ScheduledFor       time.Time
	PaymentWindowStart time.Time
	PaymentWindowEnd   time.Time
}

func (pbi *PolicyBatchInsert) Validate() error {
	if strings.TrimSpace(pbi.BatchNumber) == "" {
		return fmt.Errorf("batch_number is required")
	}
	if err := pbi.Schedule.Validate(); err != nil {
		return err
	}
	if pbi.BatchDate.IsZero() || pbi.ScheduledFor.IsZero() {
		return fmt.Errorf("batch_date and scheduled_for are required")
	}
	if !pbi.PaymentWindowEnd.After(pbi.PaymentWindowStart) {
		return fmt.Errorf("payment window end must be after its start")
	}
	return nil
}

const policyBatchColumns = `
	id,
	batch_number,
	schedule,
	batch_date,
	status,
	scheduled_for,
	payment_window_start,
	payment_window_end,
	started_at,
	completed_at,
	total_policies,
	activated_count,
	failed_count,
	total_premium,
	failed_policies,
	created_at,
	updated_at
`

func (m *PolicyBatchModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*PolicyBatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM policy_batches WHERE id = $1`, policyBatchColumns)

	batch := PolicyBatch{}
	err := sqlExec.GetContext(ctx, &batch, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy batch ID %s: %w", id, err)
	}

	return &batch, nil
}

func (m *PolicyBatchModel) GetByBatchNumber(ctx context.Context, sqlExec db.SQLExecuter, batchNumber string) (*PolicyBatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM policy_batches WHERE batch_number = $1`, policyBatchColumns)

	batch := PolicyBatch{}
	err := sqlExec.GetContext(ctx, &batch, query, batchNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy batch number %s: %w", batchNumber, err)
	}

	return &batch, nil
}

// GetBySlot looks up the batch holding a (date, schedule) slot.
func (m *PolicyBatchModel) GetBySlot(ctx context.Context, sqlExec db.SQLExecuter, batchDate time.Time, schedule BatchSchedule) (*PolicyBatch, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM policy_batches
		WHERE batch_date = $1 AND schedule = $2
	`, policyBatchColumns)

	batch := PolicyBatch{}
	err := sqlExec.GetContext(ctx, &batch, query, batchDate, schedule)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying policy batch for %s %s: %w", batchDate.Format(time.DateOnly), schedule, err)
	}

	return &batch, nil
}

// Insert claims the (batch_date, schedule) slot and starts the run in
// PROCESSING. Losing the slot race maps to ErrBatchAlreadyExists with no side
// effects.
func (m *PolicyBatchModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert PolicyBatchInsert) (*PolicyBatch, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating policy batch insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO policy_batches
			(batch_number, schedule, batch_date, status, scheduled_for, payment_window_start, payment_window_end, started_at)
		VALUES
			($1, $2, $3, 'PROCESSING', $4, $5, $6, NOW())
		RETURNING %s
	`, policyBatchColumns)

	batch := PolicyBatch{}
	err := sqlExec.GetContext(ctx, &batch, query,
		insert.BatchNumber, insert.Schedule, insert.BatchDate,
		insert.ScheduledFor, insert.PaymentWindowStart, insert.PaymentWindowEnd,
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrBatchAlreadyExists
		}
		return nil, fmt.Errorf("inserting policy batch: %w", err)
	}

	return &batch, nil
}

// BatchResults carries a run's final tallies.
type BatchResults struct {
	TotalPolicies  int
	ActivatedCount int
	FailedCount    int
	TotalPremium   money.Amount
	FailedPolicies FailedPolicyList
}

// Finish records the run's results and closes it as COMPLETED or
// COMPLETED_WITH_ERRORS. RetryFailed calls it again with merged tallies.
func (m *PolicyBatchModel) Finish(ctx context.Context, sqlExec db.SQLExecuter, id string, results BatchResults) (*PolicyBatch, error) {
	status := CompletedPolicyBatchStatus
	if results.FailedCount > 0 {
		status = CompletedWithErrorsPolicyBatchStatus
	}

	return m.close(ctx, sqlExec, id, status, results)
}

// MarkFailed closes the run as FAILED, preserving per-policy progress.
func (m *PolicyBatchModel) MarkFailed(ctx context.Context, sqlExec db.SQLExecuter, id string, results BatchResults) (*PolicyBatch, error) {
	return m.close(ctx, sqlExec, id, FailedPolicyBatchStatus, results)
}

func (m *PolicyBatchModel) close(ctx context.Context, sqlExec db.SQLExecuter, id string, status PolicyBatchStatus, results BatchResults) (*PolicyBatch, error) {
	query := fmt.Sprintf(`
		UPDATE policy_batches
		SET
			status = $2,
			total_policies = $3,
			activated_count = $4,
			failed_count = $5,
			total_premium = $6,
			failed_policies = $7,
			completed_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, policyBatchColumns)

	batch := PolicyBatch{}
	err := sqlExec.GetContext(ctx, &batch, query, id, status,
		results.TotalPolicies, results.ActivatedCount, results.FailedCount,
		results.TotalPremium, results.FailedPolicies,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("closing policy batch %s as %s: %w", id, status, err)
	}

	return &batch, nil
}

// List returns the most recent batches for the ops surface.
func (m *PolicyBatchModel) List(ctx context.Context, sqlExec db.SQLExecuter, limit int) ([]PolicyBatch, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM policy_batches
		ORDER BY scheduled_for DESC
		LIMIT $1
	`, policyBatchColumns)

	batches := []PolicyBatch{}
	err := sqlExec.SelectContext(ctx, &batches, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing policy batches: %w", err)
	}

	return batches, nil
}
