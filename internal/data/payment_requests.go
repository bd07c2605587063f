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

	"github.com/lib/pq"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

type PaymentRequestType string

const (
	DepositPaymentRequestType      PaymentRequestType = "DEPOSIT"
	DailyPaymentPaymentRequestType PaymentRequestType = "DAILY_PAYMENT"
)

func (t PaymentRequestType) Validate() error {
	switch PaymentRequestType(strings.ToUpper(string(t))) {
	case DepositPaymentRequestType, DailyPaymentPaymentRequestType:
		return nil
	default:
		return fmt.Errorf("invalid payment request type: %s", t)
	}
}

// PaymentRequest is one outbound mobile-money push. Its status advances
// monotonically under the version counter; the single terminal transition is
// what makes the wallet credit at-most-once.
type PaymentRequest struct {
	ID                 string                      `json:"id" db:"id"`
	RiderID            string                      `json:"rider_id" db:"rider_id"`
	Type               PaymentRequestType          `json:"type" db:"type"`
	Amount             money.Amount                `json:"amount" db:"amount"`
	PhoneNumber        string                      `json:"phone_number" db:"phone_number"`
	IdempotencyKey     string                      `json:"idempotency_key" db:"idempotency_key"`
	ProviderCheckoutID string                      `json:"provider_checkout_id,omitempty" db:"provider_checkout_id"`
	ProviderMerchantID string                      `json:"provider_merchant_id,omitempty" db:"provider_merchant_id"`
	Status             PaymentRequestStatus        `json:"status" db:"status"`
	StatusHistory      PaymentRequestStatusHistory `json:"status_history,omitempty" db:"status_history"`
	ResultCode         string                      `json:"result_code,omitempty" db:"result_code"`
	ResultDescription  string                      `json:"result_description,omitempty" db:"result_description"`
	DaysCount          int                         `json:"days_count" db:"days_count"`
	ExpiresAt          *time.Time                  `json:"expires_at" db:"expires_at"`
	CallbackReceivedAt *time.Time                  `json:"callback_received_at" db:"callback_received_at"`
	RawCallbackPayload json.RawMessage             `json:"-" db:"raw_callback_payload"`
	Version            int                         `json:"version" db:"version"`
	CreatedAt          time.Time                   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at" db:"updated_at"`
}

type PaymentRequestStatusHistoryEntry struct {
	Status        PaymentRequestStatus `json:"status"`
	StatusMessage string               `json:"status_message"`
	Timestamp     time.Time            `json:"timestamp"`
}

type PaymentRequestStatusHistory []PaymentRequestStatusHistoryEntry

// Value implements the driver.Valuer interface.
func (prsh PaymentRequestStatusHistory) Value() (driver.Value, error) {
	var statusHistoryJSON []string
	for _, sh := range prsh {
		shJSONBytes, err := json.Marshal(sh)
		if err != nil {
			return nil, fmt.Errorf("converting status history to json: %w", err)
		}
		statusHistoryJSON = append(statusHistoryJSON, string(shJSONBytes))
	}

	return pq.Array(statusHistoryJSON).Value()
}

var _ driver.Valuer = (*PaymentRequestStatusHistory)(nil)

// Scan implements the sql.Scanner interface.
func (prsh *PaymentRequestStatusHistory) Scan(src interface{}) error {
	var statusHistoryJSON []string
	if err := pq.Array(&statusHistoryJSON).Scan(src); err != nil {
		return fmt.Errorf("scanning status history value: %w", err)
	}

	for _, sh := range statusHistoryJSON {
		var shEntry PaymentRequestStatusHistoryEntry
		err := json.Unmarshal([]byte(sh), &shEntry)
		if err != nil {
			return fmt.Errorf("unmarshaling status_history column: %w", err)
		}
		*prsh = append(*prsh, shEntry)
	}

	return nil
}

var _ sql.Scanner = (*PaymentRequestStatusHistory)(nil)

type PaymentRequestModel struct {
	dbConnectionPool db.DBConnectionPool
}

type PaymentRequestInsert struct {
	RiderID        string
	Type           PaymentRequestType
	Amount         money.Amount
	PhoneNumber    string
	IdempotencyKey string
	DaysCount      int
	ExpiresAt      time.Time
}

func (pri *PaymentRequestInsert) Validate() error {
	if strings.TrimSpace(pri.RiderID) == "" {
		return fmt.Errorf("rider_id is required")
	}
	if err := pri.Type.Validate(); err != nil {
		return err
	}
	if !pri.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if err := utils.ValidatePhoneNumber(pri.PhoneNumber); err != nil {
		return fmt.Errorf("validating phone number: %w", err)
	}
	if strings.TrimSpace(pri.IdempotencyKey) == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if pri.DaysCount < 1 || pri.DaysCount > DaysRequiredForElevenMonthPolicy {
		return fmt.Errorf("days_count must be between 1 and %d", DaysRequiredForElevenMonthPolicy)
	}
	return nil
}

const paymentRequestColumns = `
	id,
	rider_id,
	type,
	amount,
	phone_number,
	idempotency_key,
	COALESCE(provider_checkout_id, '') AS provider_checkout_id,
	COALESCE(provider_merchant_id, '') AS provider_merchant_id,
	status,
	status_history,
	COALESCE(result_code, '') AS result_code,
	COALESCE(result_description, '') AS result_description,
	days_count,
	expires_at,
	callback_received_at,
	raw_callback_payload,
	version,
	created_at,
	updated_at
`

func (m *PaymentRequestModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*PaymentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_requests WHERE id = $1`, paymentRequestColumns)

	request := PaymentRequest{}
	err := sqlExec.GetContext(ctx, &request, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying payment request ID %s: %w", id, err)
	}

	return &request, nil
}

// GetByIdempotencyKey implements the idempotency contract: the same key
// always resolves to the original request.
func (m *PaymentRequestModel) GetByIdempotencyKey(ctx context.Context, sqlExec db.SQLExecuter, idempotencyKey string) (*PaymentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_requests WHERE idempotency_key = $1`, paymentRequestColumns)

	request := PaymentRequest{}
	err := sqlExec.GetContext(ctx, &request, query, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying payment request by idempotency key: %w", err)
	}

	return &request, nil
}

func (m *PaymentRequestModel) GetByProviderCheckoutID(ctx context.Context, sqlExec db.SQLExecuter, checkoutID string) (*PaymentRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_requests WHERE provider_checkout_id = $1`, paymentRequestColumns)

	request := PaymentRequest{}
	err := sqlExec.GetContext(ctx, &request, query, checkoutID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying payment request by checkout ID %s: %w", checkoutID, err)
	}

	return &request, nil
}

// Insert creates the request in INITIATED. A duplicate idempotency key maps
// to ErrRecordAlreadyExists; the caller re-reads the winner and returns it
// unchanged.
func (m *PaymentRequestModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert PaymentRequestInsert) (*PaymentRequest, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating payment request insert: %w", err)
	}

	const query = `
		INSERT INTO payment_requests
			(rider_id, type, amount, phone_number, idempotency_key, days_count, expires_at, status_history)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, ARRAY[create_payment_request_status_history(NOW(), 'INITIATED', '')])
		RETURNING id
	`

	var requestID string
	err := sqlExec.GetContext(ctx, &requestID, query,
		insert.RiderID, insert.Type, insert.Amount, insert.PhoneNumber,
		insert.IdempotencyKey, insert.DaysCount, insert.ExpiresAt,
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting payment request: %w", err)
	}

	return m.Get(ctx, sqlExec, requestID)
}

// MarkSent records the provider's acceptance of the push. Guarded by version
// so a stale writer cannot resurrect a request the reconciler already expired.
func (m *PaymentRequestModel) MarkSent(ctx context.Context, sqlExec db.SQLExecuter, id string, version int, checkoutID, merchantID string) (*PaymentRequest, error) {
	query := fmt.Sprintf(`
		UPDATE payment_requests
		SET
			status = 'SENT',
			provider_checkout_id = $2,
			provider_merchant_id = $3,
			status_history = array_append(status_history, create_payment_request_status_history(NOW(), 'SENT', '')),
			version = version + 1
		WHERE
			id = $1 AND
			version = $4 AND
			status = 'INITIATED'
		RETURNING %s
	`, paymentRequestColumns)

	request := PaymentRequest{}
	err := sqlExec.GetContext(ctx, &request, query, id, checkoutID, utils.SQLNullString(merchantID), version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTerminalStatusRace
		}
		return nil, fmt.Errorf("marking payment request %s sent: %w", id, err)
	}

	return &request, nil
}

// TerminalTransition is the input for the single non-terminal -> terminal flip.
type TerminalTransition struct {
	Status            PaymentRequestStatus
	ResultCode        string
	ResultDescription string
	RawPayload        json.RawMessage
	CallbackReceived  bool
}

// TransitionToTerminal performs the one permitted terminal transition. The
// WHERE clause demands the version the caller read and a non-terminal status,
// so if a callback and a reconciler poll race, exactly one writer wins;
// the loser gets ErrTerminalStatusRace and must re-read.
func (m *PaymentRequestModel) TransitionToTerminal(ctx context.Context, sqlExec db.SQLExecuter, id string, version int, transition TerminalTransition) (*PaymentRequest, error) {
	if !transition.Status.IsTerminal() {
		return nil, fmt.Errorf("status %s is not terminal", transition.Status)
	}

	query := fmt.Sprintf(`
		UPDATE payment_requests
		SET
			status = $2,
			result_code = $3,
			result_description = $4,
			raw_callback_payload = COALESCE($5::jsonb, raw_callback_payload),
			callback_received_at = CASE WHEN $6 THEN NOW() ELSE callback_received_at END,
			status_history = array_append(status_history, create_payment_request_status_history(NOW(), $2, $4)),
			version = version + 1
		WHERE
			id = $1 AND
			version = $7 AND
			status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED', 'TIMEOUT', 'EXPIRED')
		RETURNING %s
	`, paymentRequestColumns)

	var rawPayload sql.NullString
	if len(transition.RawPayload) > 0 {
		rawPayload = sql.NullString{String: string(transition.RawPayload), Valid: true}
	}

	request := PaymentRequest{}
	err := sqlExec.GetContext(ctx, &request, query, id,
		transition.Status,
		utils.SQLNullString(transition.ResultCode),
		utils.SQLNullString(transition.ResultDescription),
		rawPayload,
		transition.CallbackReceived,
		version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTerminalStatusRace
		}
		return nil, fmt.Errorf("transitioning payment request %s to %s: %w", id, transition.Status, err)
	}

	return &request, nil
}

// RecordLateCallback stores the raw payload of a callback that arrived after
// the request was already terminal. No status change, no side effects.
func (m *PaymentRequestModel) RecordLateCallback(ctx context.Context, sqlExec db.SQLExecuter, id string, rawPayload json.RawMessage) error {
	const query = `
		UPDATE payment_requests
		SET
			raw_callback_payload = $2::jsonb,
			callback_received_at = COALESCE(callback_received_at, NOW())
		WHERE id = $1
	`

	res, err := sqlExec.ExecContext(ctx, query, id, string(rawPayload))
	if err != nil {
		return fmt.Errorf("recording late callback for payment request %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// GetExpiredInitiated lists INITIATED requests created before the cutoff —
// pushes the provider never acknowledged.
func (m *PaymentRequestModel) GetExpiredInitiated(ctx context.Context, sqlExec db.SQLExecuter, createdBefore time.Time) ([]PaymentRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payment_requests
		WHERE status = 'INITIATED' AND created_at < $1
		ORDER BY created_at ASC
	`, paymentRequestColumns)

	requests := []PaymentRequest{}
	err := sqlExec.SelectContext(ctx, &requests, query, createdBefore)
	if err != nil {
		return nil, fmt.Errorf("querying expired initiated payment requests: %w", err)
	}

	return requests, nil
}

// GetOverdueSent lists SENT requests past their expires_at — candidates for a
// forced TIMEOUT after the reconciler budget is spent.
func (m *PaymentRequestModel) GetOverdueSent(ctx context.Context, sqlExec db.SQLExecuter, now time.Time) ([]PaymentRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payment_requests
		WHERE status = 'SENT' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC
	`, paymentRequestColumns)

	requests := []PaymentRequest{}
	err := sqlExec.SelectContext(ctx, &requests, query, now)
	if err != nil {
		return nil, fmt.Errorf("querying overdue sent payment requests: %w", err)
	}

	return requests, nil
}

// GetAllByRiderID returns the rider's payment requests, newest first.
func (m *PaymentRequestModel) GetAllByRiderID(ctx context.Context, sqlExec db.SQLExecuter, riderID string) ([]PaymentRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM payment_requests
		WHERE rider_id = $1
		ORDER BY created_at DESC
	`, paymentRequestColumns)

	requests := []PaymentRequest{}
	err := sqlExec.SelectContext(ctx, &requests, query, riderID)
	if err != nil {
		return nil, fmt.Errorf("querying payment requests for rider %s: %w", riderID, err)
	}

	return requests, nil
}
