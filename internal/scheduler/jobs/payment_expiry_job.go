package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	paymentExpiryJobName     = "payment_expiry_job"
	paymentExpiryJobInterval = 5 * time.Minute
)

// paymentExpiryJob is the safety net behind the per-request reconcile jobs:
// it closes payment requests the provider never resolved.
type paymentExpiryJob struct {
	paymentService services.PaymentServiceInterface
}

func NewPaymentExpiryJob(paymentService services.PaymentServiceInterface) Job {
	return &paymentExpiryJob{paymentService: paymentService}
}

func (j *paymentExpiryJob) Execute(ctx context.Context) error {
	closed, err := j.paymentService.ExpireOverdueRequests(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("expiring overdue payment requests: %w", err)
	}
	if closed > 0 {
		log.Ctx(ctx).Infof("closed %d overdue payment requests", closed)
	}
	return nil
}

func (j *paymentExpiryJob) GetInterval() time.Duration {
	return paymentExpiryJobInterval
}

func (j *paymentExpiryJob) GetName() string {
	return paymentExpiryJobName
}

var _ Job = (*paymentExpiryJob)(nil)
