package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// SendNotificationJobHandler delivers persisted notifications through the
// dispatcher. Delivery failures fail the attempt so the runner retries with
// backoff; DeliverNotification itself skips rows that were already sent, so a
// redelivered job is harmless.
type SendNotificationJobHandler struct {
	models              *data.Models
	notificationService NotificationServiceInterface
	certificateService  CertificateServiceInterface
}

var _ jobqueue.Handler = (*SendNotificationJobHandler)(nil)

// NewSendNotificationJobHandler wires the delivery handler. certificateService
// is optional: without it, policy issued notifications go out without the
// certificate link.
func NewSendNotificationJobHandler(models *data.Models, notificationService NotificationServiceInterface, certificateService CertificateServiceInterface) (*SendNotificationJobHandler, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewSendNotificationJobHandler")
	}
	if notificationService == nil {
		return nil, fmt.Errorf("notification service is required for NewSendNotificationJobHandler")
	}
	return &SendNotificationJobHandler{
		models:              models,
		notificationService: notificationService,
		certificateService:  certificateService,
	}, nil
}

func (h *SendNotificationJobHandler) Kind() jobqueue.JobKind {
	return jobqueue.SendNotificationJobKind
}

func (h *SendNotificationJobHandler) Handle(ctx context.Context, job *jobqueue.Job) error {
	var payload jobqueue.SendNotificationPayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return err
	}

	notification, err := h.models.Notifications.Get(ctx, h.models.DBConnectionPool, payload.NotificationID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("notification %s no longer exists, dropping delivery job %s", payload.NotificationID, job.ID)
			return nil
		}
		return fmt.Errorf("getting notification %s: %w", payload.NotificationID, err)
	}

	attachmentURL := h.attachmentFor(ctx, notification)
	if _, err = h.notificationService.DeliverNotification(ctx, notification, attachmentURL); err != nil {
		return err
	}
	return nil
}

// attachmentFor resolves the certificate link for policy issued notifications.
// A certificate that is not ready yet is not a delivery problem: the message
// goes out without the link.
func (h *SendNotificationJobHandler) attachmentFor(ctx context.Context, notification *data.Notification) string {
	if h.certificateService == nil || notification.Type != data.PolicyIssuedNotificationType {
		return ""
	}
	policyNumber := notification.Variables["PolicyNumber"]
	if policyNumber == "" {
		return ""
	}

	policy, err := h.models.Policies.GetByPolicyNumber(ctx, h.models.DBConnectionPool, policyNumber)
	if err != nil {
		log.Ctx(ctx).Warnf("looking up policy %s for the certificate link: %v", policyNumber, err)
		return ""
	}

	certificateURL, err := h.certificateService.CertificateURL(ctx, policy.ID, 0)
	if err != nil {
		if !errors.Is(err, ErrCertificateNotGenerated) {
			log.Ctx(ctx).Warnf("signing certificate URL for policy %s: %v", policy.ID, err)
		}
		return ""
	}
	return certificateURL
}
