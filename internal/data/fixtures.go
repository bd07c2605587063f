package data

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

// RandomPhoneNumberFixture returns a unique Kenyan mobile number in E.164.
func RandomPhoneNumberFixture(t *testing.T) string {
	t.Helper()

	digits, err := utils.RandomString(7, utils.NumberBytes)
	require.NoError(t, err)

	return "+25471" + digits
}

// CreateRiderFixture inserts a rider, filling blanks with an ACTIVE,
// KYC-approved rider ready to pay.
func CreateRiderFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, r *Rider) *Rider {
	t.Helper()

	if r == nil {
		r = &Rider{}
	}
	if r.PhoneNumber == "" {
		r.PhoneNumber = RandomPhoneNumberFixture(t)
	}
	if r.FirstName == "" {
		r.FirstName = "Brian"
	}
	if r.LastName == "" {
		r.LastName = "Otieno"
	}
	if r.KYCStatus == "" {
		r.KYCStatus = ApprovedKYCStatus
	}
	if r.Status == "" {
		r.Status = ActiveRiderStatus
	}
	if r.Language == "" {
		r.Language = "en"
	}

	const query = `
		INSERT INTO riders
			(phone_number, first_name, last_name, email, kyc_status, organization_id, language, status, quiet_hours_start, quiet_hours_end)
		VALUES
			($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10)
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		r.PhoneNumber, r.FirstName, r.LastName, r.Email, r.KYCStatus,
		r.OrganizationID, r.Language, r.Status, r.QuietHoursStart, r.QuietHoursEnd,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	require.NoError(t, err)

	return r
}

// CreateWalletFixture inserts a wallet in an arbitrary state; defaults to a
// fresh ACTIVE wallet at version 1.
func CreateWalletFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, w *Wallet) *Wallet {
	t.Helper()

	require.NotEmpty(t, w.RiderID, "wallet fixture requires a rider")
	if w.Status == "" {
		w.Status = ActiveWalletStatus
	}
	if w.Version == 0 {
		w.Version = 1
	}

	const query = `
		INSERT INTO wallets
			(rider_id, balance, total_deposited, total_paid, deposit_completed, deposit_completed_at,
			 daily_payments_count, last_daily_payment_at, daily_payments_completed, status, version)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		w.RiderID, w.Balance, w.TotalDeposited, w.TotalPaid, w.DepositCompleted, w.DepositCompletedAt,
		w.DailyPaymentsCount, w.LastDailyPaymentAt, w.DailyPaymentsCompleted, w.Status, w.Version,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	require.NoError(t, err)

	return w
}

// CreatePaymentRequestFixture inserts a payment request in any status, with
// its status history seeded to match.
func CreatePaymentRequestFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, p *PaymentRequest) *PaymentRequest {
	t.Helper()

	require.NotEmpty(t, p.RiderID, "payment request fixture requires a rider")
	if p.Type == "" {
		p.Type = DepositPaymentRequestType
	}
	if p.Amount == 0 {
		p.Amount = DefaultDepositAmount
	}
	if p.PhoneNumber == "" {
		p.PhoneNumber = RandomPhoneNumberFixture(t)
	}
	if p.IdempotencyKey == "" {
		key, err := utils.RandomString(24)
		require.NoError(t, err)
		p.IdempotencyKey = key
	}
	if p.Status == "" {
		p.Status = InitiatedPaymentRequestStatus
	}
	if p.DaysCount == 0 {
		p.DaysCount = 1
	}
	if p.Version == 0 {
		p.Version = 1
	}

	const query = `
		INSERT INTO payment_requests
			(rider_id, type, amount, phone_number, idempotency_key, provider_checkout_id, provider_merchant_id,
			 status, status_history, result_code, result_description, days_count, expires_at, callback_received_at, version)
		VALUES
			($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''),
			 $8, ARRAY[create_payment_request_status_history(NOW(), $8, '')], NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14)
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		p.RiderID, p.Type, p.Amount, p.PhoneNumber, p.IdempotencyKey, p.ProviderCheckoutID, p.ProviderMerchantID,
		p.Status, p.ResultCode, p.ResultDescription, p.DaysCount, p.ExpiresAt, p.CallbackReceivedAt, p.Version,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	require.NoError(t, err)

	return p
}

// CreateTransactionFixture inserts a transaction; defaults to a COMPLETED
// deposit settled now.
func CreateTransactionFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, tx *Transaction) *Transaction {
	t.Helper()

	require.NotEmpty(t, tx.RiderID, "transaction fixture requires a rider")
	require.NotEmpty(t, tx.WalletID, "transaction fixture requires a wallet")
	if tx.Type == "" {
		tx.Type = DepositTransactionType
	}
	if tx.Status == "" {
		tx.Status = CompletedTransactionStatus
	}
	if tx.Amount == 0 {
		tx.Amount = DefaultDepositAmount
	}
	if tx.Status == CompletedTransactionStatus {
		if tx.ProviderReceiptNumber == "" {
			receipt, err := utils.RandomString(10)
			require.NoError(t, err)
			tx.ProviderReceiptNumber = receipt
		}
		if tx.SettledAt == nil {
			now := time.Now()
			tx.SettledAt = &now
		}
	}

	const query = `
		INSERT INTO transactions
			(rider_id, wallet_id, type, status, amount, provider_receipt_number, payment_request_id, policy_id, days_count, settled_at)
		VALUES
			($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		tx.RiderID, tx.WalletID, tx.Type, tx.Status, tx.Amount,
		tx.ProviderReceiptNumber, tx.PaymentRequestID, tx.PolicyID, tx.DaysCount, tx.SettledAt,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	require.NoError(t, err)

	return tx
}

// CreatePolicyFixture inserts a policy; defaults to a ONE_MONTH policy
// awaiting issuance.
func CreatePolicyFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, p *Policy) *Policy {
	t.Helper()

	require.NotEmpty(t, p.RiderID, "policy fixture requires a rider")
	require.NotEmpty(t, p.TriggeringTransactionID, "policy fixture requires a triggering transaction")
	if p.Type == "" {
		p.Type = OneMonthPolicyType
	}
	if p.Status == "" {
		p.Status = PendingIssuancePolicyStatus
	}
	if p.PremiumAmount == 0 {
		p.PremiumAmount = DefaultDepositAmount
	}

	const query = `
		INSERT INTO policies
			(rider_id, type, status, policy_number, triggering_transaction_id, batch_id, premium_amount,
			 coverage_start, coverage_end, issued_at, cancelled_at, cancellation_reason, previous_policy_id, certificate_key)
		VALUES
			($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, NULLIF($14, ''))
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		p.RiderID, p.Type, p.Status, p.PolicyNumber, p.TriggeringTransactionID, p.BatchID, p.PremiumAmount,
		p.CoverageStart, p.CoverageEnd, p.IssuedAt, p.CancelledAt, p.CancellationReason, p.PreviousPolicyID, p.CertificateKey,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	require.NoError(t, err)

	return p
}

// CreatePolicyBatchFixture inserts a batch; defaults to today's BATCH_1 in
// PROCESSING with an eight-hour payment window.
func CreatePolicyBatchFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, b *PolicyBatch) *PolicyBatch {
	t.Helper()

	if b == nil {
		b = &PolicyBatch{}
	}
	if b.Schedule == "" {
		b.Schedule = Batch1Schedule
	}
	if b.BatchDate.IsZero() {
		b.BatchDate = time.Now().Truncate(24 * time.Hour)
	}
	if b.BatchNumber == "" {
		suffix, err := utils.RandomString(6, utils.NumberBytes)
		require.NoError(t, err)
		b.BatchNumber = fmt.Sprintf("BATCH-%s-%s-%s", b.BatchDate.Format("20060102"), b.Schedule.Tag(), suffix)
	}
	if b.Status == "" {
		b.Status = ProcessingPolicyBatchStatus
	}
	if b.ScheduledFor.IsZero() {
		b.ScheduledFor = b.BatchDate.Add(8 * time.Hour)
	}
	if b.PaymentWindowStart.IsZero() {
		b.PaymentWindowStart = b.BatchDate
	}
	if b.PaymentWindowEnd.IsZero() {
		b.PaymentWindowEnd = b.ScheduledFor
	}

	const query = `
		INSERT INTO policy_batches
			(batch_number, schedule, batch_date, status, scheduled_for, payment_window_start, payment_window_end, started_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		b.BatchNumber, b.Schedule, b.BatchDate, b.Status,
		b.ScheduledFor, b.PaymentWindowStart, b.PaymentWindowEnd,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	require.NoError(t, err)

	return b
}

// CreateSettledDepositFixture wires a rider, funded wallet, SENT request and
// COMPLETED deposit transaction together — the state right after settlement.
func CreateSettledDepositFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, settledAt time.Time) (*Rider, *Wallet, *Transaction) {
	t.Helper()

	rider := CreateRiderFixture(t, ctx, sqlExec, &Rider{})
	now := settledAt
	wallet := CreateWalletFixture(t, ctx, sqlExec, &Wallet{
		RiderID:            rider.ID,
		Balance:            DefaultDepositAmount,
		TotalDeposited:     DefaultDepositAmount,
		DepositCompleted:   true,
		DepositCompletedAt: &now,
		Version:            2,
	})
	transaction := CreateTransactionFixture(t, ctx, sqlExec, &Transaction{
		RiderID:   rider.ID,
		WalletID:  wallet.ID,
		Type:      DepositTransactionType,
		Status:    CompletedTransactionStatus,
		Amount:    DefaultDepositAmount,
		SettledAt: &now,
	})

	return rider, wallet, transaction
}

// CreateNotificationTemplateFixture inserts a template; defaults to an SMS
// template with no declared variables.
func CreateNotificationTemplateFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, tmpl *NotificationTemplate) *NotificationTemplate {
	t.Helper()

	if tmpl == nil {
		tmpl = &NotificationTemplate{}
	}
	if tmpl.Channel == "" {
		tmpl.Channel = SMSNotificationChannel
	}
	if tmpl.Type == "" {
		tmpl.Type = PaymentReceivedNotificationType
	}
	if tmpl.Language == "" {
		tmpl.Language = "en"
	}
	if tmpl.Body == "" {
		tmpl.Body = "Test message body"
	}

	const query = `
		INSERT INTO notification_templates
			(channel, type, language, subject, body, variables, active)
		VALUES
			($1, $2, $3, NULLIF($4, ''), $5, $6, TRUE)
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		tmpl.Channel, tmpl.Type, tmpl.Language, tmpl.Subject, tmpl.Body, tmpl.Variables,
	).Scan(&tmpl.ID, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	require.NoError(t, err)

	return tmpl
}

// CreateNotificationFixture inserts a notification; defaults to a PENDING SMS.
func CreateNotificationFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, n *Notification) *Notification {
	t.Helper()

	require.NotEmpty(t, n.RiderID, "notification fixture requires a rider")
	if n.Channel == "" {
		n.Channel = SMSNotificationChannel
	}
	if n.Type == "" {
		n.Type = PaymentReceivedNotificationType
	}
	if n.Status == "" {
		n.Status = PendingNotificationStatus
	}
	if n.Priority == "" {
		n.Priority = NormalNotificationPriority
	}
	if n.Recipient == "" {
		n.Recipient = RandomPhoneNumberFixture(t)
	}
	if n.Body == "" {
		n.Body = "Test notification body"
	}

	const query = `
		INSERT INTO notifications
			(rider_id, channel, type, status, priority, recipient, title, body, template_id, variables,
			 retry_count, scheduled_for, sent_at, delivered_at, provider_name, external_message_id, failure_reason)
		VALUES
			($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), NULLIF($16, ''), NULLIF($17, ''))
		RETURNING
			id, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		n.RiderID, n.Channel, n.Type, n.Status, n.Priority, n.Recipient, n.Title, n.Body, n.TemplateID, n.Variables,
		n.RetryCount, n.ScheduledFor, n.SentAt, n.DeliveredAt, n.ProviderName, n.ExternalMessageID, n.FailureReason,
	).Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	require.NoError(t, err)

	return n
}

// CreateRiderVerificationFixture stores a bcrypt-hashed verification value.
func CreateRiderVerificationFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, riderID string, field VerificationType, value string) {
	t.Helper()

	hashedValue, err := HashVerificationValue(value)
	require.NoError(t, err)

	const query = `
		INSERT INTO rider_verifications
			(rider_id, verification_field, hashed_value)
		VALUES
			($1, $2, $3)
	`

	_, err = sqlExec.ExecContext(ctx, query, riderID, field, hashedValue)
	require.NoError(t, err)
}

// GetGLAccountFixture loads one of the seeded chart-of-accounts rows.
func GetGLAccountFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, code string) *GLAccount {
	t.Helper()

	query := fmt.Sprintf(`SELECT %s FROM gl_accounts WHERE code = $1`, glAccountColumns)

	account := GLAccount{}
	err := sqlExec.GetContext(ctx, &account, query, code)
	require.NoError(t, err)

	return &account
}

// SumGLBalanceFixture returns Σ(current_balance) over all accounts split by
// normal side, for asserting the books stay in balance.
func SumGLBalanceFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) (debitSide, creditSide money.Amount) {
	t.Helper()

	const query = `
		SELECT
			COALESCE(SUM(current_balance) FILTER (WHERE normal_balance = 'DEBIT'), 0) AS debit_side,
			COALESCE(SUM(current_balance) FILTER (WHERE normal_balance = 'CREDIT'), 0) AS credit_side
		FROM gl_accounts
	`

	var sums struct {
		DebitSide  money.Amount `db:"debit_side"`
		CreditSide money.Amount `db:"credit_side"`
	}
	err := sqlExec.GetContext(ctx, &sums, query)
	require.NoError(t, err)

	return sums.DebitSide, sums.CreditSide
}

// DeleteAllNotificationTemplatesFixture clears the seeded templates for tests
// that need full control of template resolution.
func DeleteAllNotificationTemplatesFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter) {
	t.Helper()

	const query = "DELETE FROM notification_templates"
	_, err := sqlExec.ExecContext(ctx, query)
	require.NoError(t, err)
}
