package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

func newTestPaymentService(t *testing.T, models *data.Models, jobQueue *jobqueue.Queue, gateway mobilemoney.ClientInterface) *PaymentService {
	t.Helper()

	ledgerService, err := NewLedgerService(models, nil, DefaultPlatformCommissionPercent)
	require.NoError(t, err)
	issuanceService, err := NewIssuanceService(models, data.DefaultDailyAmount)
	require.NoError(t, err)
	notificationService, err := NewNotificationService(NotificationServiceOptions{
		Models:     models,
		Dispatcher: message.NewMockMessageDispatcher(t),
	})
	require.NoError(t, err)

	paymentService, err := NewPaymentService(PaymentServiceOptions{
		Models:              models,
		Gateway:             gateway,
		JobQueue:            jobQueue,
		EventProducer:       events.NoopProducer{},
		LedgerService:       ledgerService,
		IssuanceService:     issuanceService,
		NotificationService: notificationService,
	})
	require.NoError(t, err)
	return paymentService
}

func successCallbackPayload(checkoutID, receiptNumber string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "MR-1",
			"CheckoutRequestID": %q,
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {"Item": [
				{"Name": "Amount", "Value": 1048.00},
				{"Name": "MpesaReceiptNumber", "Value": %q},
				{"Name": "PhoneNumber", "Value": 254712345678}
			]}
		}}
	}`, checkoutID, receiptNumber))
}

func failureCallbackPayload(checkoutID string, resultCode int, resultDesc string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {"stkCallback": {
			"MerchantRequestID": "MR-1",
			"CheckoutRequestID": %q,
			"ResultCode": %d,
			"ResultDesc": %q
		}}
	}`, checkoutID, resultCode, resultDesc))
}

func Test_NewPaymentService(t *testing.T) {
	t.Run("models are required", func(t *testing.T) {
		_, err := NewPaymentService(PaymentServiceOptions{})
		require.ErrorContains(t, err, "models are required")
	})

	t.Run("gateway is required", func(t *testing.T) {
		_, err := NewPaymentService(PaymentServiceOptions{Models: &data.Models{}})
		require.ErrorContains(t, err, "mobile money gateway is required")
	})
}

func Test_InitiationCodeForError(t *testing.T) {
	assert.Equal(t, SuccessPaymentInitiationCode, InitiationCodeForError(nil))
	assert.Equal(t, TermsNotAcceptedPaymentInitiationCode, InitiationCodeForError(ErrTermsNotAccepted))
	assert.Equal(t, InvalidPhonePaymentInitiationCode, InitiationCodeForError(fmt.Errorf("normalizing phone number: %w", utils.ErrInvalidE164PhoneNumber)))
	assert.Equal(t, ErrorPaymentInitiationCode, InitiationCodeForError(ErrProviderUnavailable))
}

func Test_PaymentService_InitiateDeposit(t *testing.T) {
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
	paymentService := newTestPaymentService(t, models, jobQueue, gatewayMock)

	t.Run("terms must be accepted", func(t *testing.T) {
		_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: "any", PhoneNumber: "+254712345678", IdempotencyKey: "k",
		})
		require.ErrorIs(t, err, ErrTermsNotAccepted)
	})

	t.Run("rejects a rider without approved KYC", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{
			KYCStatus: data.PendingKYCStatus,
			Status:    data.PendingRiderStatus,
		})

		_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "kyc-gate", AcceptedTerms: true,
		})
		require.ErrorIs(t, err, ErrKYCNotApproved)
	})

	t.Run("rejects a second deposit", func(t *testing.T) {
		rider, _, _ := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())

		_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "second-deposit", AcceptedTerms: true,
		})
		require.ErrorIs(t, err, ErrDepositAlreadyMade)
	})

	t.Run("🎉 pushes the deposit and schedules the reconcile poll", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		gatewayMock.
			On("InitiatePush", mock.Anything, mock.MatchedBy(func(pr mobilemoney.PushRequest) bool {
				return pr.Amount == data.DefaultDepositAmount && pr.Phone == rider.PhoneNumber
			})).
			Return(&mobilemoney.PushResponse{CheckoutID: "ws_CO_dep_1", MerchantRequestID: "MR-1"}, nil).
			Once()

		initiation, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "dep-1", AcceptedTerms: true,
		})
		require.NoError(t, err)

		assert.Equal(t, SuccessPaymentInitiationCode, initiation.Code)
		assert.Equal(t, data.SentPaymentRequestStatus, initiation.Request.Status)
		assert.Equal(t, "ws_CO_dep_1", initiation.Request.ProviderCheckoutID)
		assert.Equal(t, data.DefaultDepositAmount, initiation.Request.Amount)

		// The wallet came to life with the first initiation.
		wallet, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.False(t, wallet.DepositCompleted)

		var reconcileJobs int
		err = dbConnectionPool.GetContext(ctx, &reconcileJobs,
			"SELECT COUNT(*) FROM jobs WHERE kind = $1 AND payload->>'payment_request_id' = $2",
			jobqueue.ReconcilePaymentJobKind, initiation.Request.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, reconcileJobs)

		t.Run("a repeated idempotency key returns the original request", func(t *testing.T) {
			duplicate, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
				RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "dep-1", AcceptedTerms: true,
			})
			require.NoError(t, err)
			assert.Equal(t, DuplicatePaymentInitiationCode, duplicate.Code)
			assert.Equal(t, initiation.Request.ID, duplicate.Request.ID)
		})

		t.Run("the same key from another rider is a conflict", func(t *testing.T) {
			other := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
			_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
				RiderID: other.ID, PhoneNumber: other.PhoneNumber, IdempotencyKey: "dep-1", AcceptedTerms: true,
			})
			require.ErrorIs(t, err, ErrIdempotencyKeyReused)
		})
	})

	t.Run("a gateway outage leaves the request INITIATED", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		gatewayMock.
			On("InitiatePush", mock.Anything, mock.AnythingOfType("mobilemoney.PushRequest")).
			Return(nil, fmt.Errorf("connection refused")).
			Once()

		_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "dep-outage", AcceptedTerms: true,
		})
		require.ErrorIs(t, err, ErrProviderUnavailable)

		request, err := models.PaymentRequests.GetByIdempotencyKey(ctx, dbConnectionPool, "dep-outage")
		require.NoError(t, err)
		assert.Equal(t, data.InitiatedPaymentRequestStatus, request.Status)
	})

	t.Run("a hard provider rejection fails the request", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		gatewayMock.
			On("InitiatePush", mock.Anything, mock.AnythingOfType("mobilemoney.PushRequest")).
			Return(nil, &mobilemoney.APIError{StatusCode: 400, ErrorCode: "500.001.1001", Message: "invalid phone number"}).
			Once()

		_, err := paymentService.InitiateDeposit(ctx, InitiateDepositInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "dep-rejected", AcceptedTerms: true,
		})
		require.ErrorContains(t, err, "provider rejected the push")

		request, err := models.PaymentRequests.GetByIdempotencyKey(ctx, dbConnectionPool, "dep-rejected")
		require.NoError(t, err)
		assert.Equal(t, data.FailedPaymentRequestStatus, request.Status)
		assert.Equal(t, "500.001.1001", request.ResultCode)
	})

	gatewayMock.AssertExpectations(t)
}

func Test_PaymentService_InitiateDailyPayment(t *testing.T) {
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
	paymentService := newTestPaymentService(t, models, jobQueue, gatewayMock)

	t.Run("days count is bounded", func(t *testing.T) {
		_, err := paymentService.InitiateDailyPayment(ctx, InitiateDailyPaymentInput{
			RiderID: "any", PhoneNumber: "+254712345678", IdempotencyKey: "k", DaysCount: 31,
		})
		require.ErrorContains(t, err, "days_count must be between 1 and 30")
	})

	t.Run("requires a completed deposit", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID})

		_, err := paymentService.InitiateDailyPayment(ctx, InitiateDailyPaymentInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "daily-nodep", DaysCount: 1,
		})
		require.ErrorIs(t, err, ErrDepositNotCompleted)
	})

	t.Run("refuses to overshoot the 30-day program", func(t *testing.T) {
		rider, _, _ := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		_, execErr := dbConnectionPool.ExecContext(ctx,
			"UPDATE wallets SET daily_payments_count = 28 WHERE rider_id = $1", rider.ID)
		require.NoError(t, execErr)

		_, err := paymentService.InitiateDailyPayment(ctx, InitiateDailyPaymentInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "daily-cap", DaysCount: 3,
		})
		require.ErrorIs(t, err, ErrDailyCapExceeded)
	})

	t.Run("🎉 pushes days_count worth of premium", func(t *testing.T) {
		rider, _, _ := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		gatewayMock.
			On("InitiatePush", mock.Anything, mock.MatchedBy(func(pr mobilemoney.PushRequest) bool {
				return pr.Amount == data.DefaultDailyAmount.MultiplyDays(3)
			})).
			Return(&mobilemoney.PushResponse{CheckoutID: "ws_CO_daily_1", MerchantRequestID: "MR-2"}, nil).
			Once()

		initiation, err := paymentService.InitiateDailyPayment(ctx, InitiateDailyPaymentInput{
			RiderID: rider.ID, PhoneNumber: rider.PhoneNumber, IdempotencyKey: "daily-1", DaysCount: 3,
		})
		require.NoError(t, err)
		assert.Equal(t, SuccessPaymentInitiationCode, initiation.Code)
		assert.Equal(t, data.DefaultDailyAmount.MultiplyDays(3), initiation.Request.Amount)
		assert.Equal(t, 3, initiation.Request.DaysCount)
	})

	gatewayMock.AssertExpectations(t)
}

func Test_PaymentService_HandleCallback(t *testing.T) {
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
	paymentService := newTestPaymentService(t, models, jobQueue, gatewayMock)

	// sentDeposit builds a KYC-approved rider with an empty wallet and a SENT
	// deposit request waiting for its callback.
	sentDeposit := func(checkoutID string) (*data.Rider, *data.PaymentRequest) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID})
		expiresAt := time.Now().Add(2 * time.Hour)
		request := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID:            rider.ID,
			Type:               data.DepositPaymentRequestType,
			Status:             data.SentPaymentRequestStatus,
			ProviderCheckoutID: checkoutID,
			ExpiresAt:          &expiresAt,
		})
		return rider, request
	}

	t.Run("🎉 a success callback settles the deposit exactly once", func(t *testing.T) {
		rider, request := sentDeposit("ws_CO_cb_1")

		settled, err := paymentService.HandleCallback(ctx, successCallbackPayload("ws_CO_cb_1", "RCPT-001"))
		require.NoError(t, err)

		assert.Equal(t, data.CompletedPaymentRequestStatus, settled.Status)
		require.NotNil(t, settled.CallbackReceivedAt)

		// One COMPLETED transaction carrying the provider receipt.
		transaction, err := models.Transactions.GetCompletedByPaymentRequestID(ctx, dbConnectionPool, request.ID)
		require.NoError(t, err)
		assert.Equal(t, data.CompletedTransactionStatus, transaction.Status)
		assert.Equal(t, "RCPT-001", transaction.ProviderReceiptNumber)
		assert.Equal(t, data.DefaultDepositAmount, transaction.Amount)

		// The wallet took the deposit credit.
		wallet, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, data.DefaultDepositAmount, wallet.Balance)
		assert.True(t, wallet.DepositCompleted)
		assert.Equal(t, 2, wallet.Version)

		// The earned one-month policy is waiting for the next batch.
		policy, err := models.Policies.GetByTriggeringTransaction(ctx, dbConnectionPool, rider.ID, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, data.OneMonthPolicyType, policy.Type)
		assert.Equal(t, data.PendingIssuancePolicyStatus, policy.Status)

		// And the books balance.
		debitSide, creditSide := data.SumGLBalanceFixture(t, ctx, dbConnectionPool)
		assert.Equal(t, debitSide, creditSide)

		t.Run("the duplicate callback is a stored no-op", func(t *testing.T) {
			walletBefore, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
			require.NoError(t, err)

			again, err := paymentService.HandleCallback(ctx, successCallbackPayload("ws_CO_cb_1", "RCPT-001"))
			require.NoError(t, err)
			assert.Equal(t, data.CompletedPaymentRequestStatus, again.Status)

			// No second credit, no version bump.
			walletAfter, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
			require.NoError(t, err)
			assert.Equal(t, walletBefore.Balance, walletAfter.Balance)
			assert.Equal(t, walletBefore.Version, walletAfter.Version)
		})
	})

	t.Run("a cancellation callback closes the request without side effects", func(t *testing.T) {
		rider, _ := sentDeposit("ws_CO_cb_2")

		settled, err := paymentService.HandleCallback(ctx, failureCallbackPayload("ws_CO_cb_2", mobilemoney.ResultCodeUserCancelled, "Request cancelled by user"))
		require.NoError(t, err)

		assert.Equal(t, data.CancelledPaymentRequestStatus, settled.Status)
		assert.Equal(t, "1032", settled.ResultCode)

		wallet, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, money.Amount(0), wallet.Balance)
		assert.False(t, wallet.DepositCompleted)
	})

	t.Run("an unknown checkout is an error", func(t *testing.T) {
		_, err := paymentService.HandleCallback(ctx, successCallbackPayload("ws_CO_unknown", "RCPT-X"))
		require.ErrorIs(t, err, data.ErrRecordNotFound)
	})

	t.Run("the 30th settled day earns the eleven-month policy", func(t *testing.T) {
		rider, _, _ := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		_, execErr := dbConnectionPool.ExecContext(ctx,
			"UPDATE wallets SET daily_payments_count = 29 WHERE rider_id = $1", rider.ID)
		require.NoError(t, execErr)

		expiresAt := time.Now().Add(2 * time.Hour)
		request := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID:            rider.ID,
			Type:               data.DailyPaymentPaymentRequestType,
			Amount:             data.DefaultDailyAmount,
			Status:             data.SentPaymentRequestStatus,
			ProviderCheckoutID: "ws_CO_cb_30",
			ExpiresAt:          &expiresAt,
		})

		settled, err := paymentService.HandleCallback(ctx, successCallbackPayload("ws_CO_cb_30", "RCPT-042"))
		require.NoError(t, err)
		assert.Equal(t, data.CompletedPaymentRequestStatus, settled.Status)

		wallet, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, data.DaysRequiredForElevenMonthPolicy, wallet.DailyPaymentsCount)
		assert.True(t, wallet.DailyPaymentsCompleted)

		transaction, err := models.Transactions.GetCompletedByPaymentRequestID(ctx, dbConnectionPool, request.ID)
		require.NoError(t, err)
		policy, err := models.Policies.GetByTriggeringTransaction(ctx, dbConnectionPool, rider.ID, transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ElevenMonthPolicyType, policy.Type)
	})
}

func Test_PaymentService_RefreshPaymentStatus(t *testing.T) {
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
	paymentService := newTestPaymentService(t, models, jobQueue, gatewayMock)

	rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
	data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID})
	expiresAt := time.Now().Add(2 * time.Hour)
	request := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
		RiderID:            rider.ID,
		Status:             data.SentPaymentRequestStatus,
		ProviderCheckoutID: "ws_CO_poll_1",
		ExpiresAt:          &expiresAt,
	})

	t.Run("scopes the lookup to the rider", func(t *testing.T) {
		_, err := paymentService.RefreshPaymentStatus(ctx, request.ID, "someone-else")
		require.ErrorIs(t, err, data.ErrRecordNotFound)
	})

	t.Run("a pending provider answer changes nothing", func(t *testing.T) {
		gatewayMock.
			On("QueryStatus", mock.Anything, "ws_CO_poll_1").
			Return(&mobilemoney.StatusResponse{CheckoutID: "ws_CO_poll_1"}, nil).
			Once()

		refreshed, err := paymentService.RefreshPaymentStatus(ctx, request.ID, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, data.SentPaymentRequestStatus, refreshed.Status)
	})

	t.Run("🎉 a settled provider answer flows through the settlement path", func(t *testing.T) {
		resultCode := mobilemoney.ResultCodeSuccess
		gatewayMock.
			On("QueryStatus", mock.Anything, "ws_CO_poll_1").
			Return(&mobilemoney.StatusResponse{
				CheckoutID:        "ws_CO_poll_1",
				ResultCode:        &resultCode,
				ResultDescription: "The service request is processed successfully.",
				ReceiptNumber:     "RCPT-POLL-1",
			}, nil).
			Once()

		refreshed, err := paymentService.RefreshPaymentStatus(ctx, request.ID, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, data.CompletedPaymentRequestStatus, refreshed.Status)
		// Poll-settled requests never saw a callback.
		assert.Nil(t, refreshed.CallbackReceivedAt)

		wallet, err := models.Wallets.GetByRiderID(ctx, dbConnectionPool, rider.ID)
		require.NoError(t, err)
		assert.True(t, wallet.DepositCompleted)
	})

	t.Run("a terminal request is returned without polling", func(t *testing.T) {
		refreshed, err := paymentService.RefreshPaymentStatus(ctx, request.ID, rider.ID)
		require.NoError(t, err)
		assert.Equal(t, data.CompletedPaymentRequestStatus, refreshed.Status)
	})

	gatewayMock.AssertExpectations(t)
}

func Test_PaymentService_TimeoutsAndExpiry(t *testing.T) {
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
	paymentService := newTestPaymentService(t, models, jobQueue, gatewayMock)

	t.Run("TimeOutPaymentRequest closes an open request", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		expiresAt := time.Now().Add(2 * time.Hour)
		request := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID:            rider.ID,
			Status:             data.SentPaymentRequestStatus,
			ProviderCheckoutID: "ws_CO_to_1",
			ExpiresAt:          &expiresAt,
		})

		timedOut, err := paymentService.TimeOutPaymentRequest(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, data.TimeoutPaymentRequestStatus, timedOut.Status)

		// Already terminal: a repeat returns the row unchanged.
		again, err := paymentService.TimeOutPaymentRequest(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, data.TimeoutPaymentRequestStatus, again.Status)
	})

	t.Run("🎉 the sweep expires unacknowledged and overdue requests", func(t *testing.T) {
		rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
		now := time.Now()

		// INITIATED half a day ago, the provider never acknowledged the push.
		staleInitiated := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID: rider.ID,
			Status:  data.InitiatedPaymentRequestStatus,
		})
		_, execErr := dbConnectionPool.ExecContext(ctx,
			"UPDATE payment_requests SET created_at = NOW() - INTERVAL '12 hours' WHERE id = $1", staleInitiated.ID)
		require.NoError(t, execErr)

		// SENT but past its absolute cutoff.
		pastCutoff := now.Add(-time.Minute)
		overdueSent := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID:            rider.ID,
			Status:             data.SentPaymentRequestStatus,
			ProviderCheckoutID: "ws_CO_sweep_1",
			ExpiresAt:          &pastCutoff,
		})

		// SENT with time to spare; the sweep must leave it alone.
		future := now.Add(time.Hour)
		healthy := data.CreatePaymentRequestFixture(t, ctx, dbConnectionPool, &data.PaymentRequest{
			RiderID:            rider.ID,
			Status:             data.SentPaymentRequestStatus,
			ProviderCheckoutID: "ws_CO_sweep_2",
			ExpiresAt:          &future,
		})

		closed, err := paymentService.ExpireOverdueRequests(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, 2, closed)

		expired, err := models.PaymentRequests.Get(ctx, dbConnectionPool, staleInitiated.ID)
		require.NoError(t, err)
		assert.Equal(t, data.ExpiredPaymentRequestStatus, expired.Status)

		timedOut, err := models.PaymentRequests.Get(ctx, dbConnectionPool, overdueSent.ID)
		require.NoError(t, err)
		assert.Equal(t, data.TimeoutPaymentRequestStatus, timedOut.Status)

		untouched, err := models.PaymentRequests.Get(ctx, dbConnectionPool, healthy.ID)
		require.NoError(t, err)
		assert.Equal(t, data.SentPaymentRequestStatus, untouched.Status)
	})
}
