package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
)

func Test_WalletModel_Insert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	walletModel := WalletModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})

	t.Run("returns error when rider ID is empty", func(t *testing.T) {
		_, err := walletModel.Insert(ctx, dbConnectionPool, "")
		require.ErrorIs(t, err, ErrMissingInput)
	})

	t.Run("creates a fresh wallet", func(t *testing.T) {
		wallet, err := walletModel.Insert(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)

		assert.Equal(t, rider.ID, wallet.RiderID)
		assert.True(t, wallet.Balance.IsZero())
		assert.False(t, wallet.DepositCompleted)
		assert.Equal(t, 0, wallet.DailyPaymentsCount)
		assert.Equal(t, ActiveWalletStatus, wallet.Status)
		assert.Equal(t, 1, wallet.Version)
	})

	t.Run("one wallet per rider", func(t *testing.T) {
		_, err := walletModel.Insert(ctx, dbConnectionPool, rider.ID)
		require.ErrorIs(t, err, ErrRecordAlreadyExists)
	})

	t.Run("GetOrInsert returns the existing wallet", func(t *testing.T) {
		wallet, err := walletModel.GetOrInsert(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, rider.ID, wallet.RiderID)

		again, err := walletModel.GetOrInsert(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, wallet.ID, again.ID)
	})
}

func Test_WalletModel_CreditDeposit(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	walletModel := WalletModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
	wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{RiderID: rider.ID})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := walletModel.CreditDeposit(ctx, dbConnectionPool, wallet.ID, 0, wallet.Version)
		require.ErrorContains(t, err, "deposit amount must be positive")
	})

	t.Run("credits the deposit exactly once", func(t *testing.T) {
		updated, err := walletModel.CreditDeposit(ctx, dbConnectionPool, wallet.ID, DefaultDepositAmount, wallet.Version)
		require.NoError(t, err)

		assert.Equal(t, DefaultDepositAmount, updated.Balance)
		assert.Equal(t, DefaultDepositAmount, updated.TotalDeposited)
		assert.True(t, updated.DepositCompleted)
		require.NotNil(t, updated.DepositCompletedAt)
		assert.Equal(t, wallet.Version+1, updated.Version)
	})

	t.Run("stale version loses", func(t *testing.T) {
		_, err := walletModel.CreditDeposit(ctx, dbConnectionPool, wallet.ID, DefaultDepositAmount, wallet.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)
	})

	t.Run("completed deposit cannot repeat even with a fresh version", func(t *testing.T) {
		current, err := walletModel.Get(ctx, dbConnectionPool, wallet.ID)
		require.NoError(t, err)

		_, err = walletModel.CreditDeposit(ctx, dbConnectionPool, wallet.ID, DefaultDepositAmount, current.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)

		// the wallet is untouched
		after, err := walletModel.Get(ctx, dbConnectionPool, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, DefaultDepositAmount, after.Balance)
		assert.Equal(t, current.Version, after.Version)
	})
}

func Test_WalletModel_CreditDailyPayment(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	walletModel := WalletModel{dbConnectionPool: dbConnectionPool}

	t.Run("requires a completed deposit", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{RiderID: rider.ID})

		_, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount, 1, wallet.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)
	})

	t.Run("validates days bounds", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{RiderID: rider.ID})

		_, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount, 0, wallet.Version)
		require.ErrorContains(t, err, "days must be between 1 and 30")

		_, err = walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount, 31, wallet.Version)
		require.ErrorContains(t, err, "days must be between 1 and 30")
	})

	t.Run("daily payment nets out of the balance", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		now := time.Now()
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            rider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount,
			DepositCompleted:   true,
			DepositCompletedAt: &now,
		})

		updated, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount, 1, wallet.Version)
		require.NoError(t, err)

		assert.Equal(t, DefaultDepositAmount, updated.Balance, "balance is untouched by pass-through premium")
		assert.Equal(t, DefaultDepositAmount+DefaultDailyAmount, updated.TotalDeposited)
		assert.Equal(t, DefaultDailyAmount, updated.TotalPaid)
		assert.Equal(t, 1, updated.DailyPaymentsCount)
		assert.False(t, updated.DailyPaymentsCompleted)
		require.NotNil(t, updated.LastDailyPaymentAt)
	})

	t.Run("multi-day catch-up payment advances the counter by days", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		now := time.Now()
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            rider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount,
			DepositCompleted:   true,
			DepositCompletedAt: &now,
		})

		amount := DefaultDailyAmount.MultiplyDays(5)
		updated, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, amount, 5, wallet.Version)
		require.NoError(t, err)
		assert.Equal(t, 5, updated.DailyPaymentsCount)
	})

	t.Run("thirtieth day completes the cycle", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		now := time.Now()
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            rider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount + DefaultDailyAmount.MultiplyDays(29),
			TotalPaid:          DefaultDailyAmount.MultiplyDays(29),
			DepositCompleted:   true,
			DepositCompletedAt: &now,
			DailyPaymentsCount: 29,
		})

		updated, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount, 1, wallet.Version)
		require.NoError(t, err)
		assert.Equal(t, 30, updated.DailyPaymentsCount)
		assert.True(t, updated.DailyPaymentsCompleted)
	})

	t.Run("days past the cap lose", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		now := time.Now()
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            rider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount + DefaultDailyAmount.MultiplyDays(29),
			TotalPaid:          DefaultDailyAmount.MultiplyDays(29),
			DepositCompleted:   true,
			DepositCompletedAt: &now,
			DailyPaymentsCount: 29,
		})

		_, err := walletModel.CreditDailyPayment(ctx, dbConnectionPool, wallet.ID, DefaultDailyAmount.MultiplyDays(2), 2, wallet.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)
	})
}

func Test_WalletModel_DebitRefund(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	walletModel := WalletModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
	now := time.Now()
	wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
		RiderID:            rider.ID,
		Balance:            DefaultDepositAmount,
		TotalDeposited:     DefaultDepositAmount,
		DepositCompleted:   true,
		DepositCompletedAt: &now,
	})

	t.Run("cannot refund more than the balance", func(t *testing.T) {
		_, err := walletModel.DebitRefund(ctx, dbConnectionPool, wallet.ID, DefaultDepositAmount+1, wallet.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)
	})

	t.Run("refund consumes the balance", func(t *testing.T) {
		updated, err := walletModel.DebitRefund(ctx, dbConnectionPool, wallet.ID, DefaultDepositAmount, wallet.Version)
		require.NoError(t, err)

		assert.True(t, updated.Balance.IsZero())
		assert.Equal(t, DefaultDepositAmount, updated.TotalPaid)
		assert.Equal(t, wallet.Version+1, updated.Version)
	})

	t.Run("stale version loses", func(t *testing.T) {
		_, err := walletModel.DebitRefund(ctx, dbConnectionPool, wallet.ID, 1, wallet.Version)
		require.ErrorIs(t, err, ErrWalletVersionConflict)
	})
}

func Test_WalletModel_UpdateStatus_and_LapseInactive(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	walletModel := WalletModel{dbConnectionPool: dbConnectionPool}

	t.Run("rejects an unknown status", func(t *testing.T) {
		err := walletModel.UpdateStatus(ctx, dbConnectionPool, "some-id", "ON_FIRE")
		require.ErrorContains(t, err, "invalid wallet status: ON_FIRE")
	})

	t.Run("returns not found for a missing wallet", func(t *testing.T) {
		err := walletModel.UpdateStatus(ctx, dbConnectionPool, "e2b37bbb-aa47-4e06-a4ba-a67bbf6e3d2b", FrozenWalletStatus)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("freezes and reactivates", func(t *testing.T) {
		rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		wallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{RiderID: rider.ID})

		err := walletModel.UpdateStatus(ctx, dbConnectionPool, wallet.ID, FrozenWalletStatus)
		require.NoError(t, err)

		frozen, err := walletModel.Get(ctx, dbConnectionPool, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, FrozenWalletStatus, frozen.Status)
		assert.Equal(t, wallet.Version+1, frozen.Version, "status changes bump the version")
	})

	t.Run("lapses wallets idle past the cutoff", func(t *testing.T) {
		staleTime := time.Now().Add(-10 * 24 * time.Hour)
		freshTime := time.Now().Add(-1 * time.Hour)

		staleRider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		staleWallet := CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            staleRider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount,
			DepositCompleted:   true,
			DepositCompletedAt: &staleTime,
		})

		freshRider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
		CreateWalletFixture(t, ctx, dbConnectionPool, &Wallet{
			RiderID:            freshRider.ID,
			Balance:            DefaultDepositAmount,
			TotalDeposited:     DefaultDepositAmount,
			DepositCompleted:   true,
			DepositCompletedAt: &staleTime,
			LastDailyPaymentAt: &freshTime,
			DailyPaymentsCount: 3,
		})

		lapsedIDs, err := walletModel.LapseInactive(ctx, dbConnectionPool, time.Now().Add(-7*24*time.Hour))
		require.NoError(t, err)
		require.Equal(t, []string{staleWallet.ID}, lapsedIDs)

		lapsed, err := walletModel.Get(ctx, dbConnectionPool, staleWallet.ID)
		require.NoError(t, err)
		assert.Equal(t, LapsedWalletStatus, lapsed.Status)
	})
}
