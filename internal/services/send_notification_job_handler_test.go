package services

import (
	"context"
	"encoding/json"
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
	"github.com/bodasure/bodasure-backend/internal/storage"
)

func sendNotificationJob(t *testing.T, notificationID string) *jobqueue.Job {
	t.Helper()
	payload, err := json.Marshal(jobqueue.SendNotificationPayload{NotificationID: notificationID})
	require.NoError(t, err)
	return &jobqueue.Job{
		ID:          "job-1",
		Kind:        jobqueue.SendNotificationJobKind,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: 5,
	}
}

func Test_SendNotificationJobHandler_Handle(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)

	dispatcherMock := message.NewMockMessageDispatcher(t)
	notificationService, err := NewNotificationService(NotificationServiceOptions{
		Models:     models,
		Dispatcher: dispatcherMock,
	})
	require.NoError(t, err)

	storageMock := storage.NewMockStorage(t)
	certificateService, err := NewCertificateService(models, storageMock, "Acme Underwriters Ltd", time.UTC)
	require.NoError(t, err)

	handler, err := NewSendNotificationJobHandler(models, notificationService, certificateService)
	require.NoError(t, err)

	rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})

	t.Run("🎉 delivers a pending notification", func(t *testing.T) {
		notification := data.CreateNotificationFixture(t, ctx, dbConnectionPool, &data.Notification{
			RiderID: rider.ID,
			Body:    "Payment received, thank you.",
		})
		dispatcherMock.
			On("SendMessage", mock.Anything, mock.MatchedBy(func(msg message.Message) bool {
				return msg.Body == "Payment received, thank you." && msg.AttachmentURL == ""
			}), []message.MessageChannel{message.MessageChannelSMS}).
			Return(message.DispatchResult{MessengerType: message.MessengerTypeTwilioSMS, ExternalMessageID: "SM-001", Attempts: 1}, nil).
			Once()

		err := handler.Handle(ctx, sendNotificationJob(t, notification.ID))
		require.NoError(t, err)

		sent, err := models.Notifications.Get(ctx, dbConnectionPool, notification.ID)
		require.NoError(t, err)
		assert.Equal(t, data.SentNotificationStatus, sent.Status)
		assert.Equal(t, "SM-001", sent.ExternalMessageID)
	})

	t.Run("attaches the certificate link to policy issued notifications", func(t *testing.T) {
		_, wallet, transaction := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		coverageStart := time.Now()
		coverageEnd := coverageStart.AddDate(0, 1, 0)
		issuedAt := time.Now()
		policy := data.CreatePolicyFixture(t, ctx, dbConnectionPool, &data.Policy{
			RiderID:                 wallet.RiderID,
			Type:                    data.OneMonthPolicyType,
			Status:                  data.ActivePolicyStatus,
			PolicyNumber:            "POL-20250801-B1-000042",
			TriggeringTransactionID: transaction.ID,
			CoverageStart:           &coverageStart,
			CoverageEnd:             &coverageEnd,
			IssuedAt:                &issuedAt,
			CertificateKey:          CertificateKey("POL-20250801-B1-000042"),
		})

		notification := data.CreateNotificationFixture(t, ctx, dbConnectionPool, &data.Notification{
			RiderID:   policy.RiderID,
			Type:      data.PolicyIssuedNotificationType,
			Body:      "Your policy is active.",
			Variables: data.NotificationVariables{"PolicyNumber": policy.PolicyNumber},
		})

		storageMock.
			On("SignedURL", policy.CertificateKey, DefaultCertificateURLTTL).
			Return("https://cdn.example.com/certificates/POL-20250801-B1-000042.html?sig=abc", nil).
			Once()
		dispatcherMock.
			On("SendMessage", mock.Anything, mock.MatchedBy(func(msg message.Message) bool {
				return msg.AttachmentURL == "https://cdn.example.com/certificates/POL-20250801-B1-000042.html?sig=abc"
			}), []message.MessageChannel{message.MessageChannelSMS}).
			Return(message.DispatchResult{MessengerType: message.MessengerTypeTwilioSMS, ExternalMessageID: "SM-002", Attempts: 1}, nil).
			Once()

		err := handler.Handle(ctx, sendNotificationJob(t, notification.ID))
		require.NoError(t, err)
	})

	t.Run("a policy without a certificate still goes out, without the link", func(t *testing.T) {
		_, wallet, transaction := data.CreateSettledDepositFixture(t, ctx, dbConnectionPool, time.Now())
		coverageStart := time.Now()
		coverageEnd := coverageStart.AddDate(0, 1, 0)
		issuedAt := time.Now()
		policy := data.CreatePolicyFixture(t, ctx, dbConnectionPool, &data.Policy{
			RiderID:                 wallet.RiderID,
			Status:                  data.ActivePolicyStatus,
			PolicyNumber:            "POL-20250801-B1-000043",
			TriggeringTransactionID: transaction.ID,
			CoverageStart:           &coverageStart,
			CoverageEnd:             &coverageEnd,
			IssuedAt:                &issuedAt,
		})

		notification := data.CreateNotificationFixture(t, ctx, dbConnectionPool, &data.Notification{
			RiderID:   policy.RiderID,
			Type:      data.PolicyIssuedNotificationType,
			Body:      "Your policy is active.",
			Variables: data.NotificationVariables{"PolicyNumber": policy.PolicyNumber},
		})

		dispatcherMock.
			On("SendMessage", mock.Anything, mock.MatchedBy(func(msg message.Message) bool {
				return msg.AttachmentURL == ""
			}), []message.MessageChannel{message.MessageChannelSMS}).
			Return(message.DispatchResult{MessengerType: message.MessengerTypeTwilioSMS, ExternalMessageID: "SM-003", Attempts: 1}, nil).
			Once()

		err := handler.Handle(ctx, sendNotificationJob(t, notification.ID))
		require.NoError(t, err)
	})

	t.Run("a dispatch failure fails the attempt and marks the row", func(t *testing.T) {
		notification := data.CreateNotificationFixture(t, ctx, dbConnectionPool, &data.Notification{
			RiderID: rider.ID,
			Body:    "This one will not make it.",
		})
		dispatcherMock.
			On("SendMessage", mock.Anything, mock.MatchedBy(func(msg message.Message) bool {
				return msg.Body == "This one will not make it."
			}), []message.MessageChannel{message.MessageChannelSMS}).
			Return(message.DispatchResult{Attempts: 2}, errors.New("all SMS providers exhausted")).
			Once()

		err := handler.Handle(ctx, sendNotificationJob(t, notification.ID))
		require.ErrorContains(t, err, "all SMS providers exhausted")

		failed, err := models.Notifications.Get(ctx, dbConnectionPool, notification.ID)
		require.NoError(t, err)
		assert.Equal(t, data.FailedNotificationStatus, failed.Status)
	})

	t.Run("an already sent notification is a no-op", func(t *testing.T) {
		sentAt := time.Now()
		notification := data.CreateNotificationFixture(t, ctx, dbConnectionPool, &data.Notification{
			RiderID: rider.ID,
			Status:  data.SentNotificationStatus,
			SentAt:  &sentAt,
		})

		err := handler.Handle(ctx, sendNotificationJob(t, notification.ID))
		require.NoError(t, err)
	})

	t.Run("a vanished notification drops the job", func(t *testing.T) {
		err := handler.Handle(ctx, sendNotificationJob(t, "00000000-0000-0000-0000-000000000000"))
		require.NoError(t, err)
	})
}

func Test_NewSendNotificationJobHandler(t *testing.T) {
	t.Run("models is required", func(t *testing.T) {
		_, err := NewSendNotificationJobHandler(nil, nil, nil)
		require.ErrorContains(t, err, "models is required")
	})

	t.Run("notification service is required", func(t *testing.T) {
		_, err := NewSendNotificationJobHandler(&data.Models{}, nil, nil)
		require.ErrorContains(t, err, "notification service is required")
	})
}
