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

type WalletStatus string

const (
	ActiveWalletStatus    WalletStatus = "ACTIVE"
	FrozenWalletStatus    WalletStatus = "FROZEN"
	SuspendedWalletStatus WalletStatus = "SUSPENDED"
	LapsedWalletStatus    WalletStatus = "LAPSED"
)

func (status WalletStatus) Validate() error {
	switch WalletStatus(strings.ToUpper(string(status))) {
	case ActiveWalletStatus, FrozenWalletStatus, SuspendedWalletStatus, LapsedWalletStatus:
		return nil
	default:
		return fmt.Errorf("invalid wallet status: %s", status)
	}
}

// Wallet is the rider's premium wallet. Every mutation is guarded by the
// version counter: writers send the version they read and lose with
// ErrWalletVersionConflict when another writer got there first. The row keeps
// the running invariant balance = total_deposited - total_paid; a daily
// payment lands and is consumed as premium in the same movement, so only the
// deposit leaves money on the balance.
type Wallet struct {
	ID                     string       `json:"id" db:"id"`
	RiderID                string       `json:"rider_id" db:"rider_id"`
	Balance                money.Amount `json:"balance" db:"balance"`
	TotalDeposited         money.Amount `json:"total_deposited" db:"total_deposited"`
	TotalPaid              money.Amount `json:"total_paid" db:"total_paid"`
	DepositCompleted       bool         `json:"deposit_completed" db:"deposit_completed"`
	DepositCompletedAt     *time.Time   `json:"deposit_completed_at" db:"deposit_completed_at"`
	DailyPaymentsCount     int          `json:"daily_payments_count" db:"daily_payments_count"`
	LastDailyPaymentAt     *time.Time   `json:"last_daily_payment_at" db:"last_daily_payment_at"`
	DailyPaymentsCompleted bool         `json:"daily_payments_completed" db:"daily_payments_completed"`
	Status                 WalletStatus `json:"status" db:"status"`
	Version                int          `json:"version" db:"version"`
	CreatedAt              time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
}

type WalletModel struct {
	dbConnectionPool db.DBConnectionPool
}

func (m *WalletModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Wallet, error) {
	const query = `SELECT * FROM wallets WHERE id = $1`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying wallet ID %s: %w", id, err)
	}

	return &wallet, nil
}

func (m *WalletModel) GetByRiderID(ctx context.Context, sqlExec db.SQLExecuter, riderID string) (*Wallet, error) {
	const query = `SELECT * FROM wallets WHERE rider_id = $1`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, riderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying wallet for rider %s: %w", riderID, err)
	}

	return &wallet, nil
}

// Insert creates the rider's wallet. Wallets are created once, on rider
// activation, and never destroyed.
func (m *WalletModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, riderID string) (*Wallet, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, ErrMissingInput
	}

	const query = `
		INSERT INTO wallets
			(rider_id)
		VALUES
			($1)
		RETURNING *
	`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, riderID)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting wallet for rider %s: %w", riderID, err)
	}

	return &wallet, nil
}

// GetOrInsert returns the rider's wallet, creating it when absent.
func (m *WalletModel) GetOrInsert(ctx context.Context, sqlExec db.SQLExecuter, riderID string) (*Wallet, error) {
	wallet, err := m.GetByRiderID(ctx, sqlExec, riderID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	wallet, err = m.Insert(ctx, sqlExec, riderID)
	if errors.Is(err, ErrRecordAlreadyExists) {
		// lost the creation race, the row is there now
		return m.GetByRiderID(ctx, sqlExec, riderID)
	}
	return wallet, err
}

// CreditDeposit applies the initial deposit: balance and total_deposited grow
// by amount and the deposit flag flips, exactly once. The WHERE clause is the
// whole correctness story: it demands the version the caller read, and that
// the deposit has not been completed yet. Zero rows means a concurrent writer
// or a repeated deposit, surfaced as ErrWalletVersionConflict for the caller
// to re-read and decide.
func (m *WalletModel) CreditDeposit(ctx context.Context, sqlExec db.SQLExecuter, walletID string, amount money.Amount, version int) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	const query = `
		UPDATE wallets
		SET
			balance = balance + $2,
			total_deposited = total_deposited + $2,
			deposit_completed = TRUE,
			deposit_completed_at = NOW(),
			version = version + 1
		WHERE
			id = $1 AND
			version = $3 AND
			deposit_completed = FALSE
		RETURNING *
	`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, walletID, amount, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletVersionConflict
		}
		return nil, fmt.Errorf("crediting deposit on wallet %s: %w", walletID, err)
	}

	return &wallet, nil
}

// CreditDailyPayment records days worth of daily premium: the amount arrives
// and is consumed as premium in one movement (total_deposited and total_paid
// both grow, balance nets out), and the counter advances. The cap at 30 days
// is enforced here as well as by the table CHECK. Returns the updated wallet;
// callers detect cycle completion by comparing the counter against the count
// they read.
func (m *WalletModel) CreditDailyPayment(ctx context.Context, sqlExec db.SQLExecuter, walletID string, amount money.Amount, days int, version int) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("daily payment amount must be positive, got %d", amount)
	}
	if days < 1 || days > DaysRequiredForElevenMonthPolicy {
		return nil, fmt.Errorf("days must be between 1 and %d, got %d", DaysRequiredForElevenMonthPolicy, days)
	}

	const query = `
		UPDATE wallets
		SET
			total_deposited = total_deposited + $2,
			total_paid = total_paid + $2,
			daily_payments_count = daily_payments_count + $3,
			daily_payments_completed = (daily_payments_count + $3 >= $4),
			last_daily_payment_at = NOW(),
			version = version + 1
		WHERE
			id = $1 AND
			version = $5 AND
			deposit_completed = TRUE AND
			daily_payments_count + $3 <= $4
		RETURNING *
	`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, walletID, amount, days, DaysRequiredForElevenMonthPolicy, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletVersionConflict
		}
		return nil, fmt.Errorf("crediting daily payment on wallet %s: %w", walletID, err)
	}

	return &wallet, nil
}

// DebitRefund consumes the refunded premium out of the wallet when a
// free-look refund completes, keeping balance = total_deposited - total_paid.
func (m *WalletModel) DebitRefund(ctx context.Context, sqlExec db.SQLExecuter, walletID string, amount money.Amount, version int) (*Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}

	const query = `
		UPDATE wallets
		SET
			balance = balance - $2,
			total_paid = total_paid + $2,
			version = version + 1
		WHERE
			id = $1 AND
			version = $3 AND
			balance >= $2
		RETURNING *
	`

	wallet := Wallet{}
	err := sqlExec.GetContext(ctx, &wallet, query, walletID, amount, version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletVersionConflict
		}
		return nil, fmt.Errorf("debiting refund on wallet %s: %w", walletID, err)
	}

	return &wallet, nil
}

// UpdateStatus moves the wallet between ACTIVE, FROZEN, SUSPENDED and LAPSED.
func (m *WalletModel) UpdateStatus(ctx context.Context, sqlExec db.SQLExecuter, walletID string, status WalletStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	const query = `UPDATE wallets SET status = $1, version = version + 1 WHERE id = $2`
	res, err := sqlExec.ExecContext(ctx, query, status, walletID)
	if err != nil {
		return fmt.Errorf("updating wallet %s status: %w", walletID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// LapseInactive marks ACTIVE wallets LAPSED when the deposit is done but no
// daily payment arrived within the cutoff. Returns the lapsed wallet IDs.
func (m *WalletModel) LapseInactive(ctx context.Context, sqlExec db.SQLExecuter, inactiveSince time.Time) ([]string, error) {
	const query = `
		UPDATE wallets
		SET status = 'LAPSED', version = version + 1
		WHERE
			status = 'ACTIVE' AND
			deposit_completed = TRUE AND
			daily_payments_completed = FALSE AND
			COALESCE(last_daily_payment_at, deposit_completed_at) < $1
		RETURNING id
	`

	ids := []string{}
	err := sqlExec.SelectContext(ctx, &ids, query, inactiveSince)
	if err != nil {
		return nil, fmt.Errorf("lapsing inactive wallets: %w", err)
	}

	return ids, nil
}
