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

func Test_BatchSchedule_Tag(t *testing.T) {
	require.Equal(t, "B1", Batch1Schedule.Tag())
	require.Equal(t, "B2", Batch2Schedule.Tag())
	require.Equal(t, "B3", Batch3Schedule.Tag())
	require.Equal(t, "M", ManualSchedule.Tag())
}

func Test_PolicyBatchModel_Insert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	batchModel := PolicyBatchModel{dbConnectionPool: dbConnectionPool}

	batchDate := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	validInsert := PolicyBatchInsert{
		BatchNumber:        "BATCH-20250602-B2",
		Schedule:           Batch2Schedule,
		BatchDate:          batchDate,
		ScheduledFor:       batchDate.Add(14 * time.Hour),
		PaymentWindowStart: batchDate.Add(8 * time.Hour),
		PaymentWindowEnd:   batchDate.Add(14 * time.Hour),
	}

	t.Run("validates the insert", func(t *testing.T) {
		insert := validInsert
		insert.BatchNumber = ""
		_, err := batchModel.Insert(ctx, dbConnectionPool, insert)
		require.ErrorContains(t, err, "batch_number is required")

		insert = validInsert
		insert.Schedule = "BATCH_4"
		_, err = batchModel.Insert(ctx, dbConnectionPool, insert)
		require.ErrorContains(t, err, "invalid batch schedule: BATCH_4")

		insert = validInsert
		insert.PaymentWindowEnd = insert.PaymentWindowStart
		_, err = batchModel.Insert(ctx, dbConnectionPool, insert)
		require.ErrorContains(t, err, "payment window end must be after its start")
	})

	t.Run("claims the slot and starts the run", func(t *testing.T) {
		batch, err := batchModel.Insert(ctx, dbConnectionPool, validInsert)
		require.NoError(t, err)

		assert.Equal(t, ProcessingPolicyBatchStatus, batch.Status)
		assert.Equal(t, "BATCH-20250602-B2", batch.BatchNumber)
		require.NotNil(t, batch.StartedAt)
		assert.Nil(t, batch.CompletedAt)
		assert.Empty(t, batch.FailedPolicies)
	})

	t.Run("the slot loser gets ErrBatchAlreadyExists", func(t *testing.T) {
		insert := validInsert
		insert.BatchNumber = "BATCH-20250602-B2-DUP"
		_, err := batchModel.Insert(ctx, dbConnectionPool, insert)
		require.ErrorIs(t, err, ErrBatchAlreadyExists)

		winner, err := batchModel.GetBySlot(ctx, dbConnectionPool, batchDate, Batch2Schedule)
		require.NoError(t, err)
		assert.Equal(t, "BATCH-20250602-B2", winner.BatchNumber)
	})

	t.Run("manual batches never contend for slots", func(t *testing.T) {
		insert := validInsert
		insert.Schedule = ManualSchedule
		insert.BatchNumber = "BATCH-20250602-M-01"
		_, err := batchModel.Insert(ctx, dbConnectionPool, insert)
		require.NoError(t, err)

		insert.BatchNumber = "BATCH-20250602-M-02"
		_, err = batchModel.Insert(ctx, dbConnectionPool, insert)
		require.NoError(t, err)
	})
}

func Test_PolicyBatchModel_Finish(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	batchModel := PolicyBatchModel{dbConnectionPool: dbConnectionPool}

	t.Run("clean run closes COMPLETED", func(t *testing.T) {
		batch := CreatePolicyBatchFixture(t, ctx, dbConnectionPool, &PolicyBatch{Schedule: Batch1Schedule})

		finished, err := batchModel.Finish(ctx, dbConnectionPool, batch.ID, BatchResults{
			TotalPolicies:  12,
			ActivatedCount: 12,
			TotalPremium:   DefaultDepositAmount.MultiplyDays(12),
		})
		require.NoError(t, err)

		assert.Equal(t, CompletedPolicyBatchStatus, finished.Status)
		assert.Equal(t, 12, finished.TotalPolicies)
		assert.Equal(t, 12, finished.ActivatedCount)
		assert.Zero(t, finished.FailedCount)
		require.NotNil(t, finished.CompletedAt)
		assert.Empty(t, finished.FailedPolicies)
	})

	t.Run("failures close COMPLETED_WITH_ERRORS and keep the failure list", func(t *testing.T) {
		batch := CreatePolicyBatchFixture(t, ctx, dbConnectionPool, &PolicyBatch{Schedule: Batch2Schedule})

		finished, err := batchModel.Finish(ctx, dbConnectionPool, batch.ID, BatchResults{
			TotalPolicies:  3,
			ActivatedCount: 2,
			FailedCount:    1,
			TotalPremium:   DefaultDepositAmount.MultiplyDays(2),
			FailedPolicies: FailedPolicyList{{PolicyID: "policy-1", Reason: "rider already holds a live ONE_MONTH policy"}},
		})
		require.NoError(t, err)

		assert.Equal(t, CompletedWithErrorsPolicyBatchStatus, finished.Status)
		require.Len(t, finished.FailedPolicies, 1)
		assert.Equal(t, "policy-1", finished.FailedPolicies[0].PolicyID)

		reloaded, err := batchModel.GetByBatchNumber(ctx, dbConnectionPool, batch.BatchNumber)
		require.NoError(t, err)
		require.Len(t, reloaded.FailedPolicies, 1)
		assert.Equal(t, "rider already holds a live ONE_MONTH policy", reloaded.FailedPolicies[0].Reason)
	})

	t.Run("MarkFailed keeps per-policy progress", func(t *testing.T) {
		batch := CreatePolicyBatchFixture(t, ctx, dbConnectionPool, &PolicyBatch{Schedule: Batch3Schedule})

		failed, err := batchModel.MarkFailed(ctx, dbConnectionPool, batch.ID, BatchResults{
			TotalPolicies:  5,
			ActivatedCount: 1,
			FailedCount:    4,
			FailedPolicies: FailedPolicyList{
				{PolicyID: "policy-2", Reason: "activation query failed"},
				{PolicyID: "policy-3", Reason: "activation query failed"},
				{PolicyID: "policy-4", Reason: "activation query failed"},
				{PolicyID: "policy-5", Reason: "activation query failed"},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, FailedPolicyBatchStatus, failed.Status)
		assert.Equal(t, 1, failed.ActivatedCount)
		assert.Len(t, failed.FailedPolicies, 4)
	})

	t.Run("closing an unknown batch is not found", func(t *testing.T) {
		_, err := batchModel.Finish(ctx, dbConnectionPool, "66fb06b9-5b92-4de8-a221-ea74a2d3d31a", BatchResults{})
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func Test_PolicyBatchModel_List(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	batchModel := PolicyBatchModel{dbConnectionPool: dbConnectionPool}

	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	for i, schedule := range []BatchSchedule{Batch1Schedule, Batch2Schedule, Batch3Schedule} {
		CreatePolicyBatchFixture(t, ctx, dbConnectionPool, &PolicyBatch{
			Schedule:           schedule,
			BatchDate:          day,
			ScheduledFor:       day.Add(time.Duration(8+6*i) * time.Hour),
			PaymentWindowStart: day.Add(time.Duration(6*i) * time.Hour),
			PaymentWindowEnd:   day.Add(time.Duration(8+6*i) * time.Hour),
		})
	}

	batches, err := batchModel.List(ctx, dbConnectionPool, 2)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, Batch3Schedule, batches[0].Schedule)
	assert.Equal(t, Batch2Schedule, batches[1].Schedule)
}
