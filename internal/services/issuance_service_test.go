package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/money"
)

func Test_NewIssuanceService(t *testing.T) {
	t.Run("models is required", func(t *testing.T) {
		_, err := NewIssuanceService(nil, data.DefaultDailyAmount)
		require.ErrorContains(t, err, "models is required for NewIssuanceService")
	})

	t.Run("daily amount must be positive", func(t *testing.T) {
		_, err := NewIssuanceService(&data.Models{}, 0)
		require.ErrorContains(t, err, "daily amount must be positive, got KES 0.00")
	})
}

func Test_IssuanceService_PlanOneMonthPolicy(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	issuanceService, err := NewIssuanceService(models, data.DefaultDailyAmount)
	require.NoError(t, err)

	rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
	wallet := data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID})
	deposit := data.CreateTransactionFixture(t, ctx, dbConnectionPool, &data.Transaction{
		RiderID: rider.ID, WalletID: wallet.ID, Type: data.DepositTransactionType, Amount: data.DefaultDepositAmount,
	})

	t.Run("🎉 plans the pending one-month policy", func(t *testing.T) {
		policy, err := issuanceService.PlanOneMonthPolicy(ctx, dbConnectionPool, deposit)
		require.NoError(t, err)

		assert.Equal(t, data.OneMonthPolicyType, policy.Type)
		assert.Equal(t, data.PendingIssuancePolicyStatus, policy.Status)
		assert.Equal(t, deposit.ID, policy.TriggeringTransactionID)
		assert.Equal(t, data.DefaultDepositAmount, policy.PremiumAmount)
		assert.Empty(t, policy.PolicyNumber)
		assert.Nil(t, policy.CoverageStart)
	})

	t.Run("🎉 replanning the same settlement returns the same policy", func(t *testing.T) {
		first, err := issuanceService.PlanOneMonthPolicy(ctx, dbConnectionPool, deposit)
		require.NoError(t, err)
		second, err := issuanceService.PlanOneMonthPolicy(ctx, dbConnectionPool, deposit)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})
}

func Test_IssuanceService_PlanElevenMonthPolicy(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	issuanceService, err := NewIssuanceService(models, data.DefaultDailyAmount)
	require.NoError(t, err)

	newRiderWithCycle := func(t *testing.T) (*data.Rider, *data.Transaction) {
		t.Helper()
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		wallet := data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID, DepositCompleted: true})
		lastDaily := data.CreateTransactionFixture(t, ctx, dbConnectionPool, &data.Transaction{
			RiderID: rider.ID, WalletID: wallet.ID, Type: data.DailyPaymentTransactionType,
			Amount: data.DefaultDailyAmount, DaysCount: 1,
		})
		return rider, lastDaily
	}

	t.Run("🎉 plans the eleven-month policy chained to the live one-month policy", func(t *testing.T) {
		rider, lastDaily := newRiderWithCycle(t)
		depositTx := data.CreateTransactionFixture(t, ctx, dbConnectionPool, &data.Transaction{
			RiderID: rider.ID, WalletID: lastDaily.WalletID, Type: data.DepositTransactionType,
		})
		coverageStart := time.Now().AddDate(0, 0, -10)
		coverageEnd := coverageStart.AddDate(0, 1, 0)
		issuedAt := coverageStart
		oneMonth := data.CreatePolicyFixture(t, ctx, dbConnectionPool, &data.Policy{
			RiderID:                 rider.ID,
			Type:                    data.OneMonthPolicyType,
			Status:                  data.ActivePolicyStatus,
			PolicyNumber:            "POL-20250801-B1-000007",
			TriggeringTransactionID: depositTx.ID,
			CoverageStart:           &coverageStart,
			CoverageEnd:             &coverageEnd,
			IssuedAt:                &issuedAt,
		})

		policy, err := issuanceService.PlanElevenMonthPolicy(ctx, dbConnectionPool, lastDaily)
		require.NoError(t, err)

		assert.Equal(t, data.ElevenMonthPolicyType, policy.Type)
		assert.Equal(t, data.PendingIssuancePolicyStatus, policy.Status)
		// 30 daily payments of KES 87 = KES 2610.
		assert.Equal(t, money.Amount(261000), policy.PremiumAmount)
		require.NotNil(t, policy.PreviousPolicyID)
		assert.Equal(t, oneMonth.ID, *policy.PreviousPolicyID)

		chained, err := models.Policies.Get(ctx, dbConnectionPool, oneMonth.ID)
		require.NoError(t, err)
		require.NotNil(t, chained.NextPolicyID)
		assert.Equal(t, policy.ID, *chained.NextPolicyID)
	})

	t.Run("🎉 plans without a chain when no one-month policy is live", func(t *testing.T) {
		_, lastDaily := newRiderWithCycle(t)

		policy, err := issuanceService.PlanElevenMonthPolicy(ctx, dbConnectionPool, lastDaily)
		require.NoError(t, err)

		assert.Nil(t, policy.PreviousPolicyID)
	})

	t.Run("🎉 replanning the same cycle returns the same policy", func(t *testing.T) {
		_, lastDaily := newRiderWithCycle(t)

		first, err := issuanceService.PlanElevenMonthPolicy(ctx, dbConnectionPool, lastDaily)
		require.NoError(t, err)
		second, err := issuanceService.PlanElevenMonthPolicy(ctx, dbConnectionPool, lastDaily)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})
}
