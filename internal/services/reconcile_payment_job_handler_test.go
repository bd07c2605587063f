package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
)

type paymentReconcilerMock struct {
	mock.Mock
}

func (m *paymentReconcilerMock) RefreshPaymentStatus(ctx context.Context, requestID, riderID string) (*data.PaymentRequest, error) {
	args := m.Called(ctx, requestID, riderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PaymentRequest), args.Error(1)
}

func (m *paymentReconcilerMock) TimeOutPaymentRequest(ctx context.Context, requestID string) (*data.PaymentRequest, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PaymentRequest), args.Error(1)
}

func reconcileJob(t *testing.T, requestID string, attempt, maxAttempts int) *jobqueue.Job {
	t.Helper()
	payload, err := json.Marshal(jobqueue.ReconcilePaymentPayload{PaymentRequestID: requestID})
	require.NoError(t, err)
	return &jobqueue.Job{
		ID:          "job-1",
		Kind:        jobqueue.ReconcilePaymentJobKind,
		Payload:     payload,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}

func Test_ReconcilePaymentJobHandler_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("a settled request completes the job", func(t *testing.T) {
		reconcilerMock := &paymentReconcilerMock{}
		reconcilerMock.
			On("RefreshPaymentStatus", ctx, "pr-1", "").
			Return(&data.PaymentRequest{ID: "pr-1", Status: data.CompletedPaymentRequestStatus}, nil).
			Once()
		handler, err := NewReconcilePaymentJobHandler(reconcilerMock)
		require.NoError(t, err)

		err = handler.Handle(ctx, reconcileJob(t, "pr-1", 1, ReconcileMaxAttempts))
		require.NoError(t, err)
		reconcilerMock.AssertExpectations(t)
	})

	t.Run("a pending request fails the attempt so the runner backs off", func(t *testing.T) {
		reconcilerMock := &paymentReconcilerMock{}
		reconcilerMock.
			On("RefreshPaymentStatus", ctx, "pr-2", "").
			Return(&data.PaymentRequest{ID: "pr-2", Status: data.SentPaymentRequestStatus}, nil).
			Once()
		handler, err := NewReconcilePaymentJobHandler(reconcilerMock)
		require.NoError(t, err)

		err = handler.Handle(ctx, reconcileJob(t, "pr-2", 2, ReconcileMaxAttempts))
		require.ErrorContains(t, err, "still pending at the provider")
		reconcilerMock.AssertExpectations(t)
	})

	t.Run("the last attempt times the request out instead of dying", func(t *testing.T) {
		reconcilerMock := &paymentReconcilerMock{}
		reconcilerMock.
			On("RefreshPaymentStatus", ctx, "pr-3", "").
			Return(&data.PaymentRequest{ID: "pr-3", Status: data.SentPaymentRequestStatus}, nil).
			Once()
		reconcilerMock.
			On("TimeOutPaymentRequest", ctx, "pr-3").
			Return(&data.PaymentRequest{ID: "pr-3", Status: data.TimeoutPaymentRequestStatus}, nil).
			Once()
		handler, err := NewReconcilePaymentJobHandler(reconcilerMock)
		require.NoError(t, err)

		err = handler.Handle(ctx, reconcileJob(t, "pr-3", ReconcileMaxAttempts, ReconcileMaxAttempts))
		require.NoError(t, err)
		reconcilerMock.AssertExpectations(t)
	})

	t.Run("a vanished request drops the job", func(t *testing.T) {
		reconcilerMock := &paymentReconcilerMock{}
		reconcilerMock.
			On("RefreshPaymentStatus", ctx, "pr-gone", "").
			Return(nil, data.ErrRecordNotFound).
			Once()
		handler, err := NewReconcilePaymentJobHandler(reconcilerMock)
		require.NoError(t, err)

		err = handler.Handle(ctx, reconcileJob(t, "pr-gone", 1, ReconcileMaxAttempts))
		require.NoError(t, err)
		reconcilerMock.AssertExpectations(t)
	})

	t.Run("a provider error fails the attempt", func(t *testing.T) {
		reconcilerMock := &paymentReconcilerMock{}
		reconcilerMock.
			On("RefreshPaymentStatus", ctx, "pr-4", "").
			Return(nil, errors.New("gateway timeout")).
			Once()
		handler, err := NewReconcilePaymentJobHandler(reconcilerMock)
		require.NoError(t, err)

		err = handler.Handle(ctx, reconcileJob(t, "pr-4", 1, ReconcileMaxAttempts))
		require.ErrorContains(t, err, "gateway timeout")
		reconcilerMock.AssertExpectations(t)
	})

	t.Run("payment service is required", func(t *testing.T) {
		_, err := NewReconcilePaymentJobHandler(nil)
		require.ErrorContains(t, err, "payment service is required")
	})

	t.Run("kind", func(t *testing.T) {
		handler, err := NewReconcilePaymentJobHandler(&paymentReconcilerMock{})
		require.NoError(t, err)
		assert.Equal(t, jobqueue.ReconcilePaymentJobKind, handler.Kind())
	})
}
