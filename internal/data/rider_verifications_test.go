package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
)

func Test_VerificationType_Validate(t *testing.T) {
	require.NoError(t, NationalIDVerificationType.Validate())
	require.NoError(t, DateOfBirthVerificationType.Validate())
	require.EqualError(t, VerificationType("MOTHERS_MAIDEN_NAME").Validate(), "invalid verification type: MOTHERS_MAIDEN_NAME")
}

func Test_HashVerificationValue(t *testing.T) {
	hashedValue, err := HashVerificationValue("12345678")
	require.NoError(t, err)

	assert.NotEqual(t, "12345678", hashedValue)
	assert.True(t, CompareVerificationValue(hashedValue, "12345678"))
	assert.False(t, CompareVerificationValue(hashedValue, "87654321"))
}

func Test_RiderVerificationModel_Upsert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	verificationModel := RiderVerificationModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})

	t.Run("validates the insert", func(t *testing.T) {
		err := verificationModel.Upsert(ctx, dbConnectionPool, RiderVerificationInsert{
			VerificationField: NationalIDVerificationType,
			VerificationValue: "12345678",
		})
		require.ErrorContains(t, err, "rider id is required")

		err = verificationModel.Upsert(ctx, dbConnectionPool, RiderVerificationInsert{
			RiderID:           rider.ID,
			VerificationField: "PASSPORT",
			VerificationValue: "12345678",
		})
		require.ErrorContains(t, err, "invalid verification type: PASSPORT")

		err = verificationModel.Upsert(ctx, dbConnectionPool, RiderVerificationInsert{
			RiderID:           rider.ID,
			VerificationField: NationalIDVerificationType,
		})
		require.ErrorContains(t, err, "verification value is required")
	})

	t.Run("stores only the hash", func(t *testing.T) {
		err := verificationModel.Upsert(ctx, dbConnectionPool, RiderVerificationInsert{
			RiderID:           rider.ID,
			VerificationField: NationalIDVerificationType,
			VerificationValue: "12345678",
		})
		require.NoError(t, err)

		verification, err := verificationModel.GetByRiderIDAndField(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)

		assert.NotEqual(t, "12345678", verification.HashedValue)
		assert.True(t, CompareVerificationValue(verification.HashedValue, "12345678"))
		assert.Zero(t, verification.Attempts)
		assert.Nil(t, verification.ConfirmedAt)
		assert.Nil(t, verification.FailedAt)
	})

	t.Run("re-import replaces the value and restores the attempt budget", func(t *testing.T) {
		// burn the whole budget
		for range [MaxVerificationAttempts]struct{}{} {
			_, err := verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
			require.NoError(t, err)
		}

		locked, err := verificationModel.GetByRiderIDAndField(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)
		require.NotNil(t, locked.FailedAt)

		err = verificationModel.Upsert(ctx, dbConnectionPool, RiderVerificationInsert{
			RiderID:           rider.ID,
			VerificationField: NationalIDVerificationType,
			VerificationValue: "87654321",
		})
		require.NoError(t, err)

		refreshed, err := verificationModel.GetByRiderIDAndField(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)
		assert.Zero(t, refreshed.Attempts)
		assert.Nil(t, refreshed.FailedAt)
		assert.True(t, CompareVerificationValue(refreshed.HashedValue, "87654321"))
		assert.False(t, CompareVerificationValue(refreshed.HashedValue, "12345678"))
	})
}

func Test_RiderVerificationModel_RecordAttempt(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	verificationModel := RiderVerificationModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
	CreateRiderVerificationFixture(t, ctx, dbConnectionPool, rider.ID, NationalIDVerificationType, "12345678")

	t.Run("mismatches count down the budget, the last one locks", func(t *testing.T) {
		first, err := verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Attempts)
		assert.Nil(t, first.FailedAt)
		assert.False(t, verificationModel.ExceededAttempts(first.Attempts))

		second, err := verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)
		assert.Equal(t, 2, second.Attempts)
		assert.Nil(t, second.FailedAt)

		third, err := verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
		require.NoError(t, err)
		assert.Equal(t, 3, third.Attempts)
		assert.NotNil(t, third.FailedAt)
		assert.True(t, verificationModel.ExceededAttempts(third.Attempts))
	})

	t.Run("unknown verification", func(t *testing.T) {
		_, err := verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType)
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func Test_RiderVerificationModel_ConfirmVerification(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	verificationModel := RiderVerificationModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
	CreateRiderVerificationFixture(t, ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType, "1995-04-17")

	// two mismatches, then the right value
	_, err = verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType)
	require.NoError(t, err)
	_, err = verificationModel.RecordAttempt(ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType)
	require.NoError(t, err)

	err = verificationModel.ConfirmVerification(ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType)
	require.NoError(t, err)

	verification, err := verificationModel.GetByRiderIDAndField(ctx, dbConnectionPool, rider.ID, DateOfBirthVerificationType)
	require.NoError(t, err)
	assert.NotNil(t, verification.ConfirmedAt)
	assert.Zero(t, verification.Attempts)

	err = verificationModel.ConfirmVerification(ctx, dbConnectionPool, rider.ID, NationalIDVerificationType)
	require.ErrorIs(t, err, ErrRecordNotFound)
}
