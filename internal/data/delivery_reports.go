package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
)

type DeliveryEvent string

const (
	SentDeliveryEvent       DeliveryEvent = "SENT"
	DeliveredDeliveryEvent  DeliveryEvent = "DELIVERED"
	FailedDeliveryEvent     DeliveryEvent = "FAILED"
	BouncedDeliveryEvent    DeliveryEvent = "BOUNCED"
	ComplainedDeliveryEvent DeliveryEvent = "COMPLAINED"
	OpenedDeliveryEvent     DeliveryEvent = "OPENED"
	ClickedDeliveryEvent    DeliveryEvent = "CLICKED"
)

func (e DeliveryEvent) Validate() error {
	switch DeliveryEvent(strings.ToUpper(string(e))) {
	case SentDeliveryEvent, DeliveredDeliveryEvent, FailedDeliveryEvent,
		BouncedDeliveryEvent, ComplainedDeliveryEvent, OpenedDeliveryEvent, ClickedDeliveryEvent:
		return nil
	default:
		return fmt.Errorf("invalid delivery event: %s", e)
	}
}

// DeliveryReport is one provider webhook event, kept verbatim alongside the
// interpretation the sink applied to the notification.
type DeliveryReport struct {
	ID                string          `json:"id" db:"id"`
	NotificationID    string          `json:"notification_id" db:"notification_id"`
	ProviderName      string          `json:"provider_name" db:"provider_name"`
	ExternalMessageID string          `json:"external_message_id,omitempty" db:"external_message_id"`
	Event             DeliveryEvent   `json:"event" db:"event"`
	Reason            string          `json:"reason,omitempty" db:"reason"`
	BounceType        string          `json:"bounce_type,omitempty" db:"bounce_type"`
	OccurredAt        time.Time       `json:"occurred_at" db:"occurred_at"`
	Raw               json.RawMessage `json:"-" db:"raw"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

type DeliveryReportModel struct {
	dbConnectionPool db.DBConnectionPool
}

type DeliveryReportInsert struct {
	NotificationID    string
	ProviderName      string
	ExternalMessageID string
	Event             DeliveryEvent
	Reason            string
	BounceType        string
	OccurredAt        time.Time
	Raw               json.RawMessage
}

func (dri *DeliveryReportInsert) Validate() error {
	if strings.TrimSpace(dri.NotificationID) == "" {
		return fmt.Errorf("notification_id is required")
	}
	if strings.TrimSpace(dri.ProviderName) == "" {
		return fmt.Errorf("provider_name is required")
	}
	if err := dri.Event.Validate(); err != nil {
		return err
	}
	if dri.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

const deliveryReportColumns = `
	id,
	notification_id,
	provider_name,
	COALESCE(external_message_id, '') AS external_message_id,
	event,
	COALESCE(reason, '') AS reason,
	COALESCE(bounce_type, '') AS bounce_type,
	occurred_at,
	raw,
	created_at
`

func (m *DeliveryReportModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert DeliveryReportInsert) (*DeliveryReport, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating delivery report insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO delivery_reports
			(notification_id, provider_name, external_message_id, event, reason, bounce_type, occurred_at, raw)
		VALUES
			($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8::jsonb)
		RETURNING %s
	`, deliveryReportColumns)

	var raw interface{}
	if len(insert.Raw) > 0 {
		raw = string(insert.Raw)
	}

	report := DeliveryReport{}
	err := sqlExec.GetContext(ctx, &report, query,
		insert.NotificationID, insert.ProviderName, insert.ExternalMessageID,
		insert.Event, insert.Reason, insert.BounceType, insert.OccurredAt, raw,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting delivery report: %w", err)
	}

	return &report, nil
}

func (m *DeliveryReportModel) GetAllByNotificationID(ctx context.Context, sqlExec db.SQLExecuter, notificationID string) ([]DeliveryReport, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM delivery_reports
		WHERE notification_id = $1
		ORDER BY occurred_at ASC
	`, deliveryReportColumns)

	reports := []DeliveryReport{}
	err := sqlExec.SelectContext(ctx, &reports, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery reports for notification %s: %w", notificationID, err)
	}

	return reports, nil
}
