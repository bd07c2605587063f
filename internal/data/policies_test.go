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

func Test_PolicyModel_Insert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())

	t.Run("validates the insert", func(t *testing.T) {
		_, err := policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{Type: OneMonthPolicyType, TriggeringTransactionID: transaction.ID, PremiumAmount: 1})
		require.ErrorContains(t, err, "rider_id is required")

		_, err = policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{RiderID: rider.ID, Type: "BIENNIAL", TriggeringTransactionID: transaction.ID, PremiumAmount: 1})
		require.ErrorContains(t, err, "invalid policy type: BIENNIAL")

		_, err = policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{RiderID: rider.ID, Type: OneMonthPolicyType, PremiumAmount: 1})
		require.ErrorContains(t, err, "triggering_transaction_id is required")

		_, err = policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{RiderID: rider.ID, Type: OneMonthPolicyType, TriggeringTransactionID: transaction.ID})
		require.ErrorContains(t, err, "premium_amount must be positive")
	})

	t.Run("creates the policy awaiting issuance", func(t *testing.T) {
		policy, err := policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{
			RiderID:                 rider.ID,
			Type:                    OneMonthPolicyType,
			TriggeringTransactionID: transaction.ID,
			PremiumAmount:           DefaultDepositAmount,
		})
		require.NoError(t, err)

		assert.Equal(t, PendingIssuancePolicyStatus, policy.Status)
		assert.Empty(t, policy.PolicyNumber)
		assert.Nil(t, policy.BatchID)
		assert.Nil(t, policy.CoverageStart)
	})

	t.Run("one policy per triggering transaction", func(t *testing.T) {
		_, err := policyModel.Insert(ctx, dbConnectionPool, PolicyInsert{
			RiderID:                 rider.ID,
			Type:                    OneMonthPolicyType,
			TriggeringTransactionID: transaction.ID,
			PremiumAmount:           DefaultDepositAmount,
		})
		require.ErrorIs(t, err, ErrRecordAlreadyExists)

		existing, err := policyModel.GetByTriggeringTransaction(ctx, dbConnectionPool, rider.ID, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, PendingIssuancePolicyStatus, existing.Status)
	})
}

func Test_PolicyModel_ClaimForBatch(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	windowStart := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

	// created first but settled later, to prove ordering follows settlement
	riderLate, _, txLate := CreateSettledDepositFixture(t, ctx, dbConnectionPool, windowStart.Add(2*time.Hour))
	policyLate := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{RiderID: riderLate.ID, TriggeringTransactionID: txLate.ID})

	riderEarly, _, txEarly := CreateSettledDepositFixture(t, ctx, dbConnectionPool, windowStart.Add(1*time.Hour))
	policyEarly := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{RiderID: riderEarly.ID, TriggeringTransactionID: txEarly.ID})

	// settled after the window closes
	riderOutside, _, txOutside := CreateSettledDepositFixture(t, ctx, dbConnectionPool, windowEnd.Add(1*time.Hour))
	policyOutside := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{RiderID: riderOutside.ID, TriggeringTransactionID: txOutside.ID})

	batch := CreatePolicyBatchFixture(t, ctx, dbConnectionPool, &PolicyBatch{
		BatchDate:          windowStart.Truncate(24 * time.Hour),
		PaymentWindowStart: windowStart,
		PaymentWindowEnd:   windowEnd,
		ScheduledFor:       windowEnd,
	})

	t.Run("claims window policies in settlement order", func(t *testing.T) {
		claimed, err := policyModel.ClaimForBatch(ctx, dbConnectionPool, batch.ID, windowStart, windowEnd)
		require.NoError(t, err)

		require.Len(t, claimed, 2)
		assert.Equal(t, policyEarly.ID, claimed[0].ID)
		assert.Equal(t, policyLate.ID, claimed[1].ID)
		for _, p := range claimed {
			assert.Equal(t, ProcessingPolicyStatus, p.Status)
			require.NotNil(t, p.BatchID)
			assert.Equal(t, batch.ID, *p.BatchID)
		}

		outside, err := policyModel.Get(ctx, dbConnectionPool, policyOutside.ID)
		require.NoError(t, err)
		assert.Equal(t, PendingIssuancePolicyStatus, outside.Status)
		assert.Nil(t, outside.BatchID)
	})

	t.Run("activated policies drop out of the claimed set", func(t *testing.T) {
		_, err := policyModel.Activate(ctx, dbConnectionPool, policyEarly.ID, PolicyActivation{
			PolicyNumber:  "POL-20250602-B2-000001",
			CoverageStart: windowEnd,
			CoverageEnd:   windowEnd.AddDate(0, 1, 0),
			IssuedAt:      windowEnd,
		})
		require.NoError(t, err)

		remaining, err := policyModel.GetClaimedByBatchID(ctx, dbConnectionPool, batch.ID)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.Equal(t, policyLate.ID, remaining[0].ID)
	})
}

func Test_PolicyModel_Activate(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	issuedAt := time.Date(2025, 6, 2, 14, 0, 5, 0, time.UTC)
	activation := func(number string) PolicyActivation {
		return PolicyActivation{
			PolicyNumber:  number,
			CoverageStart: issuedAt,
			CoverageEnd:   issuedAt.AddDate(0, 1, 0),
			IssuedAt:      issuedAt,
		}
	}

	t.Run("assigns number and coverage window", func(t *testing.T) {
		rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, issuedAt.Add(-time.Hour))
		policy := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
			Status:                  ProcessingPolicyStatus,
		})

		active, err := policyModel.Activate(ctx, dbConnectionPool, policy.ID, activation("POL-20250602-B2-000010"))
		require.NoError(t, err)

		assert.Equal(t, ActivePolicyStatus, active.Status)
		assert.Equal(t, "POL-20250602-B2-000010", active.PolicyNumber)
		require.NotNil(t, active.CoverageStart)
		require.NotNil(t, active.CoverageEnd)
		assert.Equal(t, active.CoverageStart.AddDate(0, 1, 0), *active.CoverageEnd)

		found, err := policyModel.GetByPolicyNumber(ctx, dbConnectionPool, "POL-20250602-B2-000010")
		require.NoError(t, err)
		assert.Equal(t, policy.ID, found.ID)

		live, err := policyModel.GetLiveByRiderAndType(ctx, dbConnectionPool, rider.ID, OneMonthPolicyType)
		require.NoError(t, err)
		assert.Equal(t, policy.ID, live.ID)
	})

	t.Run("policy numbers are unique", func(t *testing.T) {
		rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, issuedAt.Add(-time.Hour))
		policy := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
			Status:                  ProcessingPolicyStatus,
		})

		_, err := policyModel.Activate(ctx, dbConnectionPool, policy.ID, activation("POL-20250602-B2-000010"))
		require.ErrorIs(t, err, ErrRecordAlreadyExists)
	})

	t.Run("a rider cannot hold two live policies of one type", func(t *testing.T) {
		rider, wallet, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, issuedAt.Add(-time.Hour))
		first := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
			Status:                  ProcessingPolicyStatus,
		})
		_, err := policyModel.Activate(ctx, dbConnectionPool, first.ID, activation("POL-20250602-B2-000020"))
		require.NoError(t, err)

		secondTransaction := CreateTransactionFixture(t, ctx, dbConnectionPool, &Transaction{
			RiderID:  rider.ID,
			WalletID: wallet.ID,
			Amount:   DefaultDepositAmount,
		})
		second := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: secondTransaction.ID,
			Status:                  ProcessingPolicyStatus,
		})

		_, err = policyModel.Activate(ctx, dbConnectionPool, second.ID, activation("POL-20250602-B2-000021"))
		require.ErrorIs(t, err, ErrRecordAlreadyExists)
	})

	t.Run("only PROCESSING policies activate", func(t *testing.T) {
		rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, issuedAt.Add(-time.Hour))
		policy := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
		})

		_, err := policyModel.Activate(ctx, dbConnectionPool, policy.ID, activation("POL-20250602-B2-000030"))
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func Test_PolicyModel_Cancel(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	coverageStart := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	coverageEnd := coverageStart.AddDate(0, 1, 0)

	newActivePolicy := func(t *testing.T, number string) *Policy {
		t.Helper()
		rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, coverageStart.Add(-time.Hour))
		return CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
			Status:                  ActivePolicyStatus,
			PolicyNumber:            number,
			CoverageStart:           &coverageStart,
			CoverageEnd:             &coverageEnd,
			IssuedAt:                &coverageStart,
		})
	}

	t.Run("cancels a live policy once", func(t *testing.T) {
		policy := newActivePolicy(t, "POL-20250602-B2-000100")

		cancelledAt := coverageStart.AddDate(0, 0, 3)
		cancelled, err := policyModel.Cancel(ctx, dbConnectionPool, policy.ID, "free-look cancellation", cancelledAt)
		require.NoError(t, err)

		assert.Equal(t, CancelledPolicyStatus, cancelled.Status)
		assert.Equal(t, "free-look cancellation", cancelled.CancellationReason)
		require.NotNil(t, cancelled.CancelledAt)
		assert.WithinDuration(t, cancelledAt, *cancelled.CancelledAt, time.Second)

		_, err = policyModel.Cancel(ctx, dbConnectionPool, policy.ID, "again", cancelledAt)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("free-look window closes exactly at day thirty", func(t *testing.T) {
		policy := newActivePolicy(t, "POL-20250602-B2-000101")

		boundary := coverageStart.AddDate(0, 0, 30)
		assert.True(t, policy.IsInFreeLookWindow(boundary.Add(-time.Second), 30))
		assert.False(t, policy.IsInFreeLookWindow(boundary, 30))
		assert.False(t, policy.IsInFreeLookWindow(boundary.Add(time.Second), 30))
	})

	t.Run("policies without coverage are never in free-look", func(t *testing.T) {
		policy := Policy{}
		assert.False(t, policy.IsInFreeLookWindow(time.Now(), 30))
	})
}

func Test_PolicyModel_SetCertificateKey(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
	policy := CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
		RiderID:                 rider.ID,
		TriggeringTransactionID: transaction.ID,
	})

	err = policyModel.SetCertificateKey(ctx, dbConnectionPool, policy.ID, "certificates/2025/06/POL-X.html")
	require.NoError(t, err)

	stored, err := policyModel.Get(ctx, dbConnectionPool, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, "certificates/2025/06/POL-X.html", stored.CertificateKey)

	err = policyModel.SetCertificateKey(ctx, dbConnectionPool, policy.ID, "certificates/other.html")
	require.ErrorIs(t, err, ErrRecordAlreadyExists)

	err = policyModel.SetCertificateKey(ctx, dbConnectionPool, "0b25f6df-3fe6-43eb-b61c-d21652026cbd", "certificates/none.html")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func Test_PolicyModel_expiry_sweeps(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	policyModel := PolicyModel{dbConnectionPool: dbConnectionPool}

	asOf := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)

	newActiveEnding := func(t *testing.T, number string, coverageEnd time.Time) *Policy {
		t.Helper()
		coverageStart := coverageEnd.AddDate(0, -1, 0)
		rider, _, transaction := CreateSettledDepositFixture(t, ctx, dbConnectionPool, coverageStart)
		return CreatePolicyFixture(t, ctx, dbConnectionPool, &Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
			Status:                  ActivePolicyStatus,
			PolicyNumber:            number,
			CoverageStart:           &coverageStart,
			CoverageEnd:             &coverageEnd,
			IssuedAt:                &coverageStart,
		})
	}

	endingSoon := newActiveEnding(t, "POL-EXP-000001", asOf.AddDate(0, 0, 7))
	endingLater := newActiveEnding(t, "POL-EXP-000002", asOf.AddDate(0, 0, 21))
	alreadyOver := newActiveEnding(t, "POL-EXP-000003", asOf.Add(-time.Hour))

	t.Run("MarkExpiring flips only policies inside the warning window", func(t *testing.T) {
		expiring, err := policyModel.MarkExpiring(ctx, dbConnectionPool, asOf, 14*24*time.Hour)
		require.NoError(t, err)

		require.Len(t, expiring, 1)
		assert.Equal(t, endingSoon.ID, expiring[0].ID)
		assert.Equal(t, ExpiringPolicyStatus, expiring[0].Status)

		// a second sweep finds nothing new
		again, err := policyModel.MarkExpiring(ctx, dbConnectionPool, asOf, 14*24*time.Hour)
		require.NoError(t, err)
		assert.Empty(t, again)

		later, err := policyModel.Get(ctx, dbConnectionPool, endingLater.ID)
		require.NoError(t, err)
		assert.Equal(t, ActivePolicyStatus, later.Status)
	})

	t.Run("ExpirePast closes both ACTIVE and EXPIRING policies", func(t *testing.T) {
		expired, err := policyModel.ExpirePast(ctx, dbConnectionPool, asOf)
		require.NoError(t, err)

		require.Len(t, expired, 1)
		assert.Equal(t, alreadyOver.ID, expired[0].ID)
		assert.Equal(t, ExpiredPolicyStatus, expired[0].Status)

		// the EXPIRING one follows once its coverage closes
		expired, err = policyModel.ExpirePast(ctx, dbConnectionPool, asOf.AddDate(0, 0, 8))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, endingSoon.ID, expired[0].ID)
	})

	t.Run("SetNextPolicyID chains renewals", func(t *testing.T) {
		err := policyModel.SetNextPolicyID(ctx, dbConnectionPool, endingSoon.ID, endingLater.ID)
		require.NoError(t, err)

		chained, err := policyModel.Get(ctx, dbConnectionPool, endingSoon.ID)
		require.NoError(t, err)
		require.NotNil(t, chained.NextPolicyID)
		assert.Equal(t, endingLater.ID, *chained.NextPolicyID)
	})
}
