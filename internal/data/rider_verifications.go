package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bodasure/bodasure-backend/db"
)

type VerificationType string

const (
	NationalIDVerificationType  VerificationType = "NATIONAL_ID_NUMBER"
	DateOfBirthVerificationType VerificationType = "DATE_OF_BIRTH"
)

func (vt VerificationType) Validate() error {
	switch VerificationType(strings.ToUpper(string(vt))) {
	case NationalIDVerificationType, DateOfBirthVerificationType:
		return nil
	default:
		return fmt.Errorf("invalid verification type: %s", vt)
	}
}

// MaxVerificationAttempts bounds how many times a rider may mismatch a
// verification value before the field locks.
const MaxVerificationAttempts = 3

type RiderVerification struct {
	ID                string           `json:"id" db:"id"`
	RiderID           string           `json:"rider_id" db:"rider_id"`
	VerificationField VerificationType `json:"verification_field" db:"verification_field"`
	HashedValue       string           `json:"-" db:"hashed_value"`
	Attempts          int              `json:"attempts" db:"attempts"`
	ConfirmedAt       *time.Time       `json:"confirmed_at" db:"confirmed_at"`
	FailedAt          *time.Time       `json:"failed_at" db:"failed_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

type RiderVerificationModel struct {
	dbConnectionPool db.DBConnectionPool
}

type RiderVerificationInsert struct {
	RiderID           string
	VerificationField VerificationType
	VerificationValue string
}

func (rvi *RiderVerificationInsert) Validate() error {
	if strings.TrimSpace(rvi.RiderID) == "" {
		return fmt.Errorf("rider id is required")
	}
	if err := rvi.VerificationField.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(rvi.VerificationValue) == "" {
		return fmt.Errorf("verification value is required")
	}
	return nil
}

func (m *RiderVerificationModel) GetByRiderIDAndField(ctx context.Context, sqlExec db.SQLExecuter, riderID string, field VerificationType) (*RiderVerification, error) {
	const query = `
		SELECT
			*
		FROM
			rider_verifications
		WHERE
			rider_id = $1 AND
			verification_field = $2
	`

	verification := RiderVerification{}
	err := sqlExec.GetContext(ctx, &verification, query, riderID, field)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying rider verification: %w", err)
	}

	return &verification, nil
}

// Upsert creates or replaces the rider's verification value, resetting the
// attempts counter so a re-imported rider gets a fresh budget.
func (m *RiderVerificationModel) Upsert(ctx context.Context, sqlExec db.SQLExecuter, insert RiderVerificationInsert) error {
	if err := insert.Validate(); err != nil {
		return fmt.Errorf("validating rider verification insert: %w", err)
	}

	hashedValue, err := HashVerificationValue(insert.VerificationValue)
	if err != nil {
		return fmt.Errorf("hashing verification value: %w", err)
	}

	const query = `
		INSERT INTO rider_verifications
			(rider_id, verification_field, hashed_value)
		VALUES
			($1, $2, $3)
		ON CONFLICT (rider_id, verification_field)
		DO UPDATE SET
			hashed_value = EXCLUDED.hashed_value,
			attempts = 0,
			failed_at = NULL
	`

	_, err = sqlExec.ExecContext(ctx, query, insert.RiderID, insert.VerificationField, hashedValue)
	if err != nil {
		return fmt.Errorf("upserting rider verification: %w", err)
	}

	return nil
}

// RecordAttempt bumps the attempts counter after a mismatch and stamps
// failed_at once the budget is spent.
func (m *RiderVerificationModel) RecordAttempt(ctx context.Context, sqlExec db.SQLExecuter, riderID string, field VerificationType) (*RiderVerification, error) {
	const query = `
		UPDATE rider_verifications
		SET
			attempts = attempts + 1,
			failed_at = CASE WHEN attempts + 1 >= $3 THEN NOW() ELSE failed_at END
		WHERE
			rider_id = $1 AND
			verification_field = $2
		RETURNING *
	`

	verification := RiderVerification{}
	err := sqlExec.GetContext(ctx, &verification, query, riderID, field, MaxVerificationAttempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("recording verification attempt: %w", err)
	}

	return &verification, nil
}

// ConfirmVerification stamps confirmed_at and resets the attempts counter.
func (m *RiderVerificationModel) ConfirmVerification(ctx context.Context, sqlExec db.SQLExecuter, riderID string, field VerificationType) error {
	const query = `
		UPDATE rider_verifications
		SET
			confirmed_at = NOW(),
			attempts = 0
		WHERE
			rider_id = $1 AND
			verification_field = $2
	`

	res, err := sqlExec.ExecContext(ctx, query, riderID, field)
	if err != nil {
		return fmt.Errorf("confirming rider verification: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// ExceededAttempts checks if the number of attempts exceeded the max value.
func (*RiderVerificationModel) ExceededAttempts(attempts int) bool {
	return attempts >= MaxVerificationAttempts
}

func HashVerificationValue(verificationValue string) (string, error) {
	hashedValue, err := bcrypt.GenerateFromPassword([]byte(verificationValue), bcrypt.MinCost)
	if err != nil {
		return "", fmt.Errorf("hashing verification value: %w", err)
	}
	return string(hashedValue), nil
}

func CompareVerificationValue(hashedValue, verificationValue string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedValue), []byte(verificationValue)) == nil
}
