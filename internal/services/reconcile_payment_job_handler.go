package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// PaymentReconciler is the slice of the payment service the reconcile job
// needs.
type PaymentReconciler interface {
	RefreshPaymentStatus(ctx context.Context, requestID, riderID string) (*data.PaymentRequest, error)
	TimeOutPaymentRequest(ctx context.Context, requestID string) (*data.PaymentRequest, error)
}

// ReconcilePaymentJobHandler polls the provider for payment requests whose
// callback never arrived. While the provider still reports the checkout as
// pending the handler fails the attempt on purpose, so the runner's backoff
// spaces out the polls; the last attempt times the request out instead of
// letting the job die with the request stuck SENT.
type ReconcilePaymentJobHandler struct {
	paymentService PaymentReconciler
}

var _ jobqueue.Handler = (*ReconcilePaymentJobHandler)(nil)

func NewReconcilePaymentJobHandler(paymentService PaymentReconciler) (*ReconcilePaymentJobHandler, error) {
	if paymentService == nil {
		return nil, fmt.Errorf("payment service is required for NewReconcilePaymentJobHandler")
	}
	return &ReconcilePaymentJobHandler{paymentService: paymentService}, nil
}

func (h *ReconcilePaymentJobHandler) Kind() jobqueue.JobKind {
	return jobqueue.ReconcilePaymentJobKind
}

func (h *ReconcilePaymentJobHandler) Handle(ctx context.Context, job *jobqueue.Job) error {
	var payload jobqueue.ReconcilePaymentPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return err
	}

	request, err := h.paymentService.RefreshPaymentStatus(ctx, payload.PaymentRequestID, "")
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("payment request %s no longer exists, dropping reconcile job %s", payload.PaymentRequestID, job.ID)
			return nil
		}
		return fmt.Errorf("refreshing payment request %s: %w", payload.PaymentRequestID, err)
	}

	if request.Status.IsTerminal() {
		return nil
	}

	if job.Attempt >= job.MaxAttempts {
		if _, err = h.paymentService.TimeOutPaymentRequest(ctx, payload.PaymentRequestID); err != nil {
			return fmt.Errorf("timing out payment request %s after the last poll: %w", payload.PaymentRequestID, err)
		}
		log.Ctx(ctx).Infof("payment request %s never settled at the provider, timed it out after %d polls", payload.PaymentRequestID, job.Attempt)
		return nil
	}

	return fmt.Errorf("payment request %s is still pending at the provider", payload.PaymentRequestID)
}
