package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

type KYCStatus string

const (
	PendingKYCStatus  KYCStatus = "PENDING"
	InReviewKYCStatus KYCStatus = "IN_REVIEW"
	ApprovedKYCStatus KYCStatus = "APPROVED"
	RejectedKYCStatus KYCStatus = "REJECTED"
	ExpiredKYCStatus  KYCStatus = "EXPIRED"
)

func KYCStatuses() []KYCStatus {
	return []KYCStatus{PendingKYCStatus, InReviewKYCStatus, ApprovedKYCStatus, RejectedKYCStatus, ExpiredKYCStatus}
}

func (status KYCStatus) Validate() error {
	switch KYCStatus(strings.ToUpper(string(status))) {
	case PendingKYCStatus, InReviewKYCStatus, ApprovedKYCStatus, RejectedKYCStatus, ExpiredKYCStatus:
		return nil
	default:
		return fmt.Errorf("invalid KYC status: %s", status)
	}
}

// ToKYCStatus normalizes a raw string to the canonical UPPER_SNAKE_CASE form.
func ToKYCStatus(s string) (KYCStatus, error) {
	err := KYCStatus(s).Validate()
	if err != nil {
		return "", err
	}
	return KYCStatus(strings.ToUpper(s)), nil
}

type RiderStatus string

const (
	ActiveRiderStatus    RiderStatus = "ACTIVE"
	InactiveRiderStatus  RiderStatus = "INACTIVE"
	SuspendedRiderStatus RiderStatus = "SUSPENDED"
	PendingRiderStatus   RiderStatus = "PENDING"
)

func (status RiderStatus) Validate() error {
	switch RiderStatus(strings.ToUpper(string(status))) {
	case ActiveRiderStatus, InactiveRiderStatus, SuspendedRiderStatus, PendingRiderStatus:
		return nil
	default:
		return fmt.Errorf("invalid rider status: %s", status)
	}
}

type Rider struct {
	ID              string      `json:"id" db:"id"`
	PhoneNumber     string      `json:"phone_number" db:"phone_number"`
	FirstName       string      `json:"first_name" db:"first_name"`
	LastName        string      `json:"last_name" db:"last_name"`
	Email           string      `json:"email,omitempty" db:"email"`
	KYCStatus       KYCStatus   `json:"kyc_status" db:"kyc_status"`
	OrganizationID  string      `json:"organization_id,omitempty" db:"organization_id"`
	Language        string      `json:"language" db:"language"`
	Status          RiderStatus `json:"status" db:"status"`
	QuietHoursStart *int        `json:"quiet_hours_start,omitempty" db:"quiet_hours_start"`
	QuietHoursEnd   *int        `json:"quiet_hours_end,omitempty" db:"quiet_hours_end"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time  `json:"-" db:"deleted_at"`
}

// FullName returns "First Last" for certificates and message templates.
func (r Rider) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// CanInitiateDeposit is the KYC gate: only approved riders may fund a policy.
func (r Rider) CanInitiateDeposit() bool {
	return r.KYCStatus == ApprovedKYCStatus && r.Status == ActiveRiderStatus
}

type RiderInsert struct {
	PhoneNumber    string `db:"phone_number"`
	FirstName      string `db:"first_name"`
	LastName       string `db:"last_name"`
	Email          string `db:"email"`
	OrganizationID string `db:"organization_id"`
	Language       string `db:"language"`
}

func (ri *RiderInsert) Validate() error {
	if err := utils.ValidatePhoneNumber(ri.PhoneNumber); err != nil {
		return fmt.Errorf("validating phone number: %w", err)
	}
	if strings.TrimSpace(ri.FirstName) == "" {
		return fmt.Errorf("first name is required")
	}
	if strings.TrimSpace(ri.LastName) == "" {
		return fmt.Errorf("last name is required")
	}
	if ri.Email != "" {
		if err := utils.ValidateEmail(ri.Email); err != nil {
			return fmt.Errorf("validating email: %w", err)
		}
	}
	return nil
}

type RiderModel struct {
	dbConnectionPool db.DBConnectionPool
}

const riderColumns = `
	id,
	phone_number,
	first_name,
	last_name,
	COALESCE(email, '') AS email,
	kyc_status,
	COALESCE(organization_id, '') AS organization_id,
	language,
	status,
	quiet_hours_start,
	quiet_hours_end,
	created_at,
	updated_at,
	deleted_at
`

func (m *RiderModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Rider, error) {
	query := fmt.Sprintf(`SELECT %s FROM riders WHERE id = $1 AND deleted_at IS NULL`, riderColumns)

	rider := Rider{}
	err := sqlExec.GetContext(ctx, &rider, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying rider ID %s: %w", id, err)
	}

	return &rider, nil
}

func (m *RiderModel) GetByPhoneNumber(ctx context.Context, sqlExec db.SQLExecuter, phoneNumber string) (*Rider, error) {
	query := fmt.Sprintf(`SELECT %s FROM riders WHERE phone_number = $1 AND deleted_at IS NULL`, riderColumns)

	rider := Rider{}
	err := sqlExec.GetContext(ctx, &rider, query, phoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying rider by phone %s: %w", utils.TruncateString(phoneNumber, 4), err)
	}

	return &rider, nil
}

// Insert creates a rider in PENDING status with PENDING KYC. The unique phone
// index maps to ErrRecordAlreadyExists so callers can upsert on import.
func (m *RiderModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert RiderInsert) (*Rider, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating rider insert: %w", err)
	}

	language := insert.Language
	if language == "" {
		language = "en"
	}

	const query = `
		INSERT INTO riders
			(phone_number, first_name, last_name, email, organization_id, language)
		VALUES
			($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var riderID string
	err := sqlExec.GetContext(ctx, &riderID, query,
		insert.PhoneNumber,
		insert.FirstName,
		insert.LastName,
		utils.SQLNullString(insert.Email),
		utils.SQLNullString(insert.OrganizationID),
		language,
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting rider: %w", err)
	}

	return m.Get(ctx, sqlExec, riderID)
}

// RiderUpdate carries the mutable rider fields; zero values are left untouched.
type RiderUpdate struct {
	FirstName string
	LastName  string
	Email     string
	Language  string
	Status    RiderStatus
}

func (m *RiderModel) Update(ctx context.Context, sqlExec db.SQLExecuter, id string, update RiderUpdate) (*Rider, error) {
	fields := []string{}
	args := []interface{}{}

	if update.FirstName != "" {
		fields = append(fields, "first_name = ?")
		args = append(args, update.FirstName)
	}
	if update.LastName != "" {
		fields = append(fields, "last_name = ?")
		args = append(args, update.LastName)
	}
	if update.Email != "" {
		if err := utils.ValidateEmail(update.Email); err != nil {
			return nil, fmt.Errorf("validating email: %w", err)
		}
		fields = append(fields, "email = ?")
		args = append(args, update.Email)
	}
	if update.Language != "" {
		fields = append(fields, "language = ?")
		args = append(args, update.Language)
	}
	if update.Status != "" {
		if err := update.Status.Validate(); err != nil {
			return nil, fmt.Errorf("validating rider status: %w", err)
		}
		fields = append(fields, "status = ?")
		args = append(args, update.Status)
	}

	if len(fields) == 0 {
		return nil, ErrMissingInput
	}

	query := fmt.Sprintf(`UPDATE riders SET %s WHERE id = ? AND deleted_at IS NULL`, strings.Join(fields, ", "))
	args = append(args, id)

	res, err := sqlExec.ExecContext(ctx, sqlExec.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("updating rider %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrRecordNotFound
	}

	return m.Get(ctx, sqlExec, id)
}

// UpdateKYCStatus flips the KYC gate. Approval also activates pending riders,
// since approval is the last onboarding step.
func (m *RiderModel) UpdateKYCStatus(ctx context.Context, sqlExec db.SQLExecuter, id string, status KYCStatus) (*Rider, error) {
	if err := status.Validate(); err != nil {
		return nil, fmt.Errorf("validating KYC status: %w", err)
	}

	const query = `
		UPDATE riders
		SET
			kyc_status = $1,
			status = CASE WHEN $1 = 'APPROVED' AND status = 'PENDING' THEN 'ACTIVE' ELSE status END
		WHERE id = $2 AND deleted_at IS NULL
	`

	res, err := sqlExec.ExecContext(ctx, query, status, id)
	if err != nil {
		return nil, fmt.Errorf("updating rider %s KYC status: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, ErrRecordNotFound
	}

	return m.Get(ctx, sqlExec, id)
}

// UpdateQuietHours stores the rider's quiet window as minutes-of-day.
func (m *RiderModel) UpdateQuietHours(ctx context.Context, sqlExec db.SQLExecuter, id string, startMinutes, endMinutes int) error {
	if startMinutes < 0 || startMinutes > 1439 || endMinutes < 0 || endMinutes > 1439 {
		return fmt.Errorf("quiet hours must be between 0 and 1439 minutes")
	}

	const query = `UPDATE riders SET quiet_hours_start = $1, quiet_hours_end = $2 WHERE id = $3 AND deleted_at IS NULL`
	res, err := sqlExec.ExecContext(ctx, query, startMinutes, endMinutes, id)
	if err != nil {
		return fmt.Errorf("updating rider %s quiet hours: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// SoftDelete marks the rider deleted without destroying the payment history.
func (m *RiderModel) SoftDelete(ctx context.Context, sqlExec db.SQLExecuter, id string) error {
	const query = `UPDATE riders SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := sqlExec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft deleting rider %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
