package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
)

func Test_DeliveryReportModel_Insert(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	reportModel := DeliveryReportModel{dbConnectionPool: dbConnectionPool}

	rider := CreateRiderFixture(t, ctx, dbConnectionPool, &Rider{})
	notification := CreateNotificationFixture(t, ctx, dbConnectionPool, &Notification{RiderID: rider.ID})

	occurredAt := time.Now().Add(-30 * time.Second)

	t.Run("validates the insert", func(t *testing.T) {
		testCases := []struct {
			name   string
			insert DeliveryReportInsert
			err    string
		}{
			{
				name:   "missing notification",
				insert: DeliveryReportInsert{ProviderName: "twilio", Event: DeliveredDeliveryEvent, OccurredAt: occurredAt},
				err:    "notification_id is required",
			},
			{
				name:   "missing provider",
				insert: DeliveryReportInsert{NotificationID: notification.ID, Event: DeliveredDeliveryEvent, OccurredAt: occurredAt},
				err:    "provider_name is required",
			},
			{
				name:   "bad event",
				insert: DeliveryReportInsert{NotificationID: notification.ID, ProviderName: "twilio", Event: "MISPLACED", OccurredAt: occurredAt},
				err:    "invalid delivery event: MISPLACED",
			},
			{
				name:   "missing occurred_at",
				insert: DeliveryReportInsert{NotificationID: notification.ID, ProviderName: "twilio", Event: DeliveredDeliveryEvent},
				err:    "occurred_at is required",
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := reportModel.Insert(ctx, dbConnectionPool, tc.insert)
				require.ErrorContains(t, err, tc.err)
			})
		}
	})

	t.Run("keeps the provider payload verbatim", func(t *testing.T) {
		rawPayload := json.RawMessage(`{"MessageStatus":"delivered","SmsSid":"SM-xyz-789"}`)

		report, err := reportModel.Insert(ctx, dbConnectionPool, DeliveryReportInsert{
			NotificationID:    notification.ID,
			ProviderName:      "twilio",
			ExternalMessageID: "SM-xyz-789",
			Event:             DeliveredDeliveryEvent,
			OccurredAt:        occurredAt,
			Raw:               rawPayload,
		})
		require.NoError(t, err)

		assert.Equal(t, notification.ID, report.NotificationID)
		assert.Equal(t, DeliveredDeliveryEvent, report.Event)
		assert.Equal(t, "SM-xyz-789", report.ExternalMessageID)
		assert.JSONEq(t, string(rawPayload), string(report.Raw))
		assert.WithinDuration(t, occurredAt, report.OccurredAt, time.Second)
	})

	t.Run("a bounce carries its classification", func(t *testing.T) {
		report, err := reportModel.Insert(ctx, dbConnectionPool, DeliveryReportInsert{
			NotificationID: notification.ID,
			ProviderName:   "sendgrid",
			Event:          BouncedDeliveryEvent,
			Reason:         "mailbox does not exist",
			BounceType:     "Permanent",
			OccurredAt:     occurredAt.Add(5 * time.Second),
		})
		require.NoError(t, err)

		assert.Equal(t, "mailbox does not exist", report.Reason)
		assert.Equal(t, "Permanent", report.BounceType)
		assert.Nil(t, report.Raw)
	})

	t.Run("GetAllByNotificationID replays events in provider order", func(t *testing.T) {
		reports, err := reportModel.GetAllByNotificationID(ctx, dbConnectionPool, notification.ID)
		require.NoError(t, err)

		require.Len(t, reports, 2)
		assert.Equal(t, DeliveredDeliveryEvent, reports[0].Event)
		assert.Equal(t, BouncedDeliveryEvent, reports[1].Event)
	})
}
