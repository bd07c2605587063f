package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/money"
)

func newTestCancellationService(t *testing.T, models *data.Models, jobQueue *jobqueue.Queue, gateway mobilemoney.ClientInterface) *PolicyCancellationService {
	t.Helper()

	if gateway == nil {
		gateway = &mobilemoney.ClientMock{}
	}
	ledgerService, err := NewLedgerService(models, nil, DefaultPlatformCommissionPercent)
	require.NoError(t, err)
	notificationService, err := NewNotificationService(NotificationServiceOptions{
		Models:     models,
		Dispatcher: message.NewMockMessageDispatcher(t),
	})
	require.NoError(t, err)

	cancellationService, err := NewPolicyCancellationService(PolicyCancellationServiceOptions{
		Models:              models,
		JobQueue:            jobQueue,
		Gateway:             gateway,
		LedgerService:       ledgerService,
		NotificationService: notificationService,
	})
	require.NoError(t, err)
	return cancellationService
}

// activePolicyFixture builds a rider with a verified national ID and a live
// ONE_MONTH policy whose coverage started at coverageStart.
func activePolicyFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, nationalID string, coverageStart time.Time) *data.Policy {
	t.Helper()

	rider, _, transaction := data.CreateSettledDepositFixture(t, ctx, sqlExec, coverageStart.Add(-2*time.Hour))
	data.CreateRiderVerificationFixture(t, ctx, sqlExec, rider.ID, data.NationalIDVerificationType, nationalID)

	coverageEnd := coverageStart.AddDate(0, 1, 0)
	issuedAt := coverageStart
	return data.CreatePolicyFixture(t, ctx, sqlExec, &data.Policy{
		RiderID:                 rider.ID,
		TriggeringTransactionID: transaction.ID,
		Status:                  data.ActivePolicyStatus,
		PolicyNumber:            "POL-" + coverageStart.Format("20060102") + "-B1-" + rider.ID[:6],
		CoverageStart:           &coverageStart,
		CoverageEnd:             &coverageEnd,
		IssuedAt:                &issuedAt,
	})
}

func Test_NewPolicyCancellationService(t *testing.T) {
	t.Run("models is required", func(t *testing.T) {
		_, err := NewPolicyCancellationService(PolicyCancellationServiceOptions{})
		require.ErrorContains(t, err, "models is required for NewPolicyCancellationService")
	})

	t.Run("reversal fee percent is bounded", func(t *testing.T) {
		_, err := NewPolicyCancellationService(PolicyCancellationServiceOptions{
			Models:              &data.Models{},
			JobQueue:            &jobqueue.Queue{},
			Gateway:             &mobilemoney.ClientMock{},
			LedgerService:       &LedgerService{},
			NotificationService: &NotificationService{},
			ReversalFeePercent:  101,
		})
		require.ErrorContains(t, err, "reversal fee percent must be within [0, 100], got 101")
	})
}

func Test_PolicyCancellationService_CancelPolicy(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	jobQueue, err := jobqueue.NewQueue(dbConnectionPool)
	require.NoError(t, err)
	cancellationService := newTestCancellationService(t, models, jobQueue, nil)

	data.DeleteAllNotificationTemplatesFixture(t, ctx, dbConnectionPool)
	data.CreateNotificationTemplateFixture(t, ctx, dbConnectionPool, &data.NotificationTemplate{
		Type:    data.PolicyCancelledNotificationType,
		Channel: data.SMSNotificationChannel,
		Body:    "Your cover {{.PolicyNumber}} is cancelled. Refund of {{.RefundAmount}} is on its way.",
	})

	const nationalID = "12345678"

	t.Run("🎉 cancels inside the free-look window with the 90/10 split", func(t *testing.T) {
		policy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -5))

		result, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID:   policy.ID,
			RiderID:    policy.RiderID,
			Reason:     "changed mind",
			NationalID: nationalID,
		})
		require.NoError(t, err)

		assert.Equal(t, data.CancelledPolicyStatus, result.Policy.Status)
		assert.Equal(t, "changed mind", result.Policy.CancellationReason)
		require.NotNil(t, result.Policy.CancelledAt)

		// KES 1048 premium: 90% back to the rider, 10% retained.
		assert.Equal(t, money.Amount(94320), result.Refund.Amount)
		assert.Equal(t, money.Amount(10480), result.Refund.ReversalFee)
		assert.Equal(t, policy.PremiumAmount, result.Refund.Amount+result.Refund.ReversalFee)
		assert.Equal(t, data.PendingRefundStatus, result.Refund.Status)

		// The reversal is a new COMPLETED transaction linked to the policy.
		reversal, err := models.Transactions.Get(ctx, dbConnectionPool, result.Refund.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, data.ReversalTransactionType, reversal.Type)
		assert.Equal(t, data.CompletedTransactionStatus, reversal.Status)
		assert.Equal(t, policy.PremiumAmount, reversal.Amount)
		require.NotNil(t, reversal.PolicyID)
		assert.Equal(t, policy.ID, *reversal.PolicyID)

		debitSide, creditSide := data.SumGLBalanceFixture(t, ctx, dbConnectionPool)
		assert.Equal(t, debitSide, creditSide)

		// The rider hears about it.
		notifications, err := models.Notifications.GetAllByRiderID(ctx, dbConnectionPool, policy.RiderID, 10)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, data.PolicyCancelledNotificationType, notifications[0].Type)
	})

	t.Run("free-look boundary", func(t *testing.T) {
		expired := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -DefaultFreeLookDays).Add(-time.Hour))
		_, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID: expired.ID, RiderID: expired.RiderID, Reason: "changed mind", NationalID: nationalID,
		})
		require.ErrorIs(t, err, ErrFreeLookWindowClosed)

		justInside := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -DefaultFreeLookDays).Add(time.Hour))
		result, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID: justInside.ID, RiderID: justInside.RiderID, Reason: "changed mind", NationalID: nationalID,
		})
		require.NoError(t, err)
		assert.Equal(t, data.CancelledPolicyStatus, result.Policy.Status)
	})

	t.Run("only live policies can be cancelled", func(t *testing.T) {
		rider, _, transaction := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		pending := data.CreatePolicyFixture(t, ctx, dbConnectionPool, &data.Policy{
			RiderID:                 rider.ID,
			TriggeringTransactionID: transaction.ID,
		})

		_, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID: pending.ID, RiderID: rider.ID, Reason: "changed mind", NationalID: nationalID,
		})
		require.ErrorIs(t, err, ErrPolicyNotCancellable)
	})

	t.Run("another rider's policy reads as not found", func(t *testing.T) {
		policy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -5))
		stranger := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})

		_, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID: policy.ID, RiderID: stranger.ID, Reason: "changed mind", NationalID: nationalID,
		})
		require.ErrorIs(t, err, data.ErrRecordNotFound)
	})

	t.Run("three national ID mismatches lock the verification", func(t *testing.T) {
		policy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -5))
		input := CancelPolicyInput{PolicyID: policy.ID, RiderID: policy.RiderID, Reason: "changed mind", NationalID: "87654321"}

		_, err := cancellationService.CancelPolicy(ctx, input)
		require.ErrorIs(t, err, ErrVerificationMismatch)
		require.ErrorContains(t, err, "2 attempt(s) remaining")

		_, err = cancellationService.CancelPolicy(ctx, input)
		require.ErrorIs(t, err, ErrVerificationMismatch)
		require.ErrorContains(t, err, "1 attempt(s) remaining")

		_, err = cancellationService.CancelPolicy(ctx, input)
		require.ErrorIs(t, err, ErrVerificationLocked)

		// Even the right value no longer opens the door.
		input.NationalID = nationalID
		_, err = cancellationService.CancelPolicy(ctx, input)
		require.ErrorIs(t, err, ErrVerificationLocked)

		// And nothing moved.
		unchanged, err := models.Policies.Get(ctx, dbConnectionPool, policy.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ActivePolicyStatus, unchanged.Status)
	})

	t.Run("a cancelled policy cannot be cancelled again", func(t *testing.T) {
		policy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -5))
		input := CancelPolicyInput{PolicyID: policy.ID, RiderID: policy.RiderID, Reason: "changed mind", NationalID: nationalID}

		_, err := cancellationService.CancelPolicy(ctx, input)
		require.NoError(t, err)

		_, err = cancellationService.CancelPolicy(ctx, input)
		require.ErrorIs(t, err, ErrPolicyNotCancellable)
	})
}

func Test_PolicyCancellationService_ProcessRefund(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	jobQueue, err := jobqueue.NewQueue(dbConnectionPool)
	require.NoError(t, err)
	gatewayMock := &mobilemoney.ClientMock{}
	cancellationService := newTestCancellationService(t, models, jobQueue, gatewayMock)

	data.DeleteAllNotificationTemplatesFixture(t, ctx, dbConnectionPool)
	for _, tmpl := range []*data.NotificationTemplate{
		{Type: data.PolicyCancelledNotificationType, Channel: data.SMSNotificationChannel, Body: "Cover {{.PolicyNumber}} cancelled."},
		{Type: data.RefundProcessedNotificationType, Channel: data.SMSNotificationChannel, Body: "Refund of {{.RefundAmount}} sent."},
	} {
		data.CreateNotificationTemplateFixture(t, ctx, dbConnectionPool, tmpl)
	}

	const nationalID = "12345678"
	policy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -5))
	cancelResult, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
		PolicyID: policy.ID, RiderID: policy.RiderID, Reason: "changed mind", NationalID: nationalID,
	})
	require.NoError(t, err)

	t.Run("🎉 pays out the pending refund once", func(t *testing.T) {
		gatewayMock.
			On("InitiatePayout", mock.Anything, mock.MatchedBy(func(pr mobilemoney.PayoutRequest) bool {
				return pr.Reference == cancelResult.Refund.ID && pr.Amount == cancelResult.Refund.Amount
			})).
			Return(&mobilemoney.PayoutResponse{PayoutID: "B2C-0001", ResponseDescription: "Accepted"}, nil).
			Once()

		refund, err := cancellationService.ProcessRefund(ctx, cancelResult.Refund.ID)
		require.NoError(t, err)

		assert.Equal(t, data.CompletedRefundStatus, refund.Status)
		require.NotNil(t, refund.ProcessedAt)

		debitSide, creditSide := data.SumGLBalanceFixture(t, ctx, dbConnectionPool)
		assert.Equal(t, debitSide, creditSide)

		notifications, err := models.Notifications.GetAllByRiderID(ctx, dbConnectionPool, policy.RiderID, 10)
		require.NoError(t, err)
		types := make([]data.NotificationType, 0, len(notifications))
		for _, n := range notifications {
			types = append(types, n.Type)
		}
		assert.Contains(t, types, data.RefundProcessedNotificationType)

		// A second worker grabbing the same refund finds nothing to claim.
		_, err = cancellationService.ProcessRefund(ctx, cancelResult.Refund.ID)
		require.ErrorIs(t, err, ErrRefundNotPending)
	})

	t.Run("an unknown refund is not pending", func(t *testing.T) {
		_, err := cancellationService.ProcessRefund(ctx, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		require.ErrorIs(t, err, ErrRefundNotPending)
	})

	t.Run("a payout failure parks the refund as FAILED", func(t *testing.T) {
		otherPolicy := activePolicyFixture(t, ctx, dbConnectionPool, nationalID, time.Now().AddDate(0, 0, -3))
		otherCancel, err := cancellationService.CancelPolicy(ctx, CancelPolicyInput{
			PolicyID: otherPolicy.ID, RiderID: otherPolicy.RiderID, Reason: "changed mind", NationalID: nationalID,
		})
		require.NoError(t, err)

		gatewayMock.
			On("InitiatePayout", mock.Anything, mock.AnythingOfType("mobilemoney.PayoutRequest")).
			Return(nil, errors.New("b2c rail unavailable")).
			Once()

		_, err = cancellationService.ProcessRefund(ctx, otherCancel.Refund.ID)
		require.ErrorContains(t, err, "b2c rail unavailable")

		failed, err := models.Refunds.Get(ctx, dbConnectionPool, otherCancel.Refund.ID)
		require.NoError(t, err)
		assert.Equal(t, data.FailedRefundStatus, failed.Status)
	})

	gatewayMock.AssertExpectations(t)
}
