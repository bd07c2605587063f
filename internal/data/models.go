package data

import (
	"errors"

	"github.com/lib/pq"

	"github.com/bodasure/bodasure-backend/db"
)

var (
	ErrRecordNotFound          = errors.New("record not found")
	ErrRecordAlreadyExists     = errors.New("record already exists")
	ErrMismatchNumRowsAffected = errors.New("mismatch number of rows affected")
	ErrMissingInput            = errors.New("missing input")
	// ErrWalletVersionConflict is returned when a guarded wallet update loses
	// the optimistic-lock race; callers re-read and retry a bounded number of
	// times.
	ErrWalletVersionConflict = errors.New("wallet version conflict")
	// ErrTerminalStatusRace is returned when a payment-request terminal
	// transition loses the race against a concurrent writer (callback vs.
	// reconciler); the loser must treat the request as already settled.
	ErrTerminalStatusRace = errors.New("payment request already transitioned by a concurrent writer")
	// ErrBatchAlreadyExists is returned when a (batch_date, schedule) slot has
	// already been claimed by another instance.
	ErrBatchAlreadyExists = errors.New("policy batch already exists for this date and schedule")
)

type Models struct {
	Riders                 *RiderModel
	RiderVerifications     *RiderVerificationModel
	Wallets                *WalletModel
	PaymentRequests        *PaymentRequestModel
	Transactions           *TransactionModel
	Policies               *PolicyModel
	PolicyBatches          *PolicyBatchModel
	GLAccounts             *GLAccountModel
	JournalEntries         *JournalEntryModel
	Refunds                *RefundModel
	Notifications          *NotificationModel
	NotificationTemplates  *NotificationTemplateModel
	NotificationPreference *NotificationPreferenceModel
	DeliveryReports        *DeliveryReportModel
	APIKeys                *APIKeyModel
	DBConnectionPool       db.DBConnectionPool
}

// IsUniqueConstraintViolation reports whether err is a Postgres unique
// violation (SQLSTATE 23505), the signal behind every idempotency and
// cluster-lock conflict in this schema.
func IsUniqueConstraintViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func NewModels(dbConnectionPool db.DBConnectionPool) (*Models, error) {
	if dbConnectionPool == nil {
		return nil, errors.New("dbConnectionPool is required for NewModels")
	}
	return &Models{
		Riders:                 &RiderModel{dbConnectionPool: dbConnectionPool},
		RiderVerifications:     &RiderVerificationModel{dbConnectionPool: dbConnectionPool},
		Wallets:                &WalletModel{dbConnectionPool: dbConnectionPool},
		PaymentRequests:        &PaymentRequestModel{dbConnectionPool: dbConnectionPool},
		Transactions:           &TransactionModel{dbConnectionPool: dbConnectionPool},
		Policies:               &PolicyModel{dbConnectionPool: dbConnectionPool},
		PolicyBatches:          &PolicyBatchModel{dbConnectionPool: dbConnectionPool},
		GLAccounts:             &GLAccountModel{dbConnectionPool: dbConnectionPool},
		JournalEntries:         &JournalEntryModel{dbConnectionPool: dbConnectionPool},
		Refunds:                &RefundModel{dbConnectionPool: dbConnectionPool},
		Notifications:          &NotificationModel{dbConnectionPool: dbConnectionPool},
		NotificationTemplates:  &NotificationTemplateModel{dbConnectionPool: dbConnectionPool},
		NotificationPreference: &NotificationPreferenceModel{dbConnectionPool: dbConnectionPool},
		DeliveryReports:        &DeliveryReportModel{dbConnectionPool: dbConnectionPool},
		APIKeys:                &APIKeyModel{dbConnectionPool: dbConnectionPool},
		DBConnectionPool:       dbConnectionPool,
	}, nil
}
