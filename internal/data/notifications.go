package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
)

type NotificationChannel string

const (
	SMSNotificationChannel      NotificationChannel = "SMS"
	WhatsAppNotificationChannel NotificationChannel = "WHATSAPP"
	EmailNotificationChannel    NotificationChannel = "EMAIL"
	PushNotificationChannel     NotificationChannel = "PUSH"
)

func (c NotificationChannel) Validate() error {
	switch NotificationChannel(strings.ToUpper(string(c))) {
	case SMSNotificationChannel, WhatsAppNotificationChannel, EmailNotificationChannel, PushNotificationChannel:
		return nil
	default:
		return fmt.Errorf("invalid notification channel: %s", c)
	}
}

// NotificationType names the business event a notification reports. The set
// is open: new types ship as template rows, not migrations.
type NotificationType string

const (
	PaymentReceivedNotificationType       NotificationType = "PAYMENT_RECEIVED"
	DepositConfirmedNotificationType      NotificationType = "DEPOSIT_CONFIRMED"
	DailyCycleCompletedNotificationType   NotificationType = "DAILY_CYCLE_COMPLETED"
	PolicyIssuedNotificationType          NotificationType = "POLICY_ISSUED"
	PolicyExpiringNotificationType        NotificationType = "POLICY_EXPIRING"
	PolicyCancelledNotificationType       NotificationType = "POLICY_CANCELLED"
	RefundProcessedNotificationType       NotificationType = "REFUND_PROCESSED"
	PaymentFailedNotificationType         NotificationType = "PAYMENT_FAILED"
	PaymentReviewRequiredNotificationType NotificationType = "PAYMENT_REVIEW_REQUIRED"
)

func (t NotificationType) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return fmt.Errorf("notification type cannot be empty")
	}
	return nil
}

type NotificationStatus string

const (
	PendingNotificationStatus   NotificationStatus = "PENDING"
	QueuedNotificationStatus    NotificationStatus = "QUEUED"
	SentNotificationStatus      NotificationStatus = "SENT"
	DeliveredNotificationStatus NotificationStatus = "DELIVERED"
	FailedNotificationStatus    NotificationStatus = "FAILED"
	ExpiredNotificationStatus   NotificationStatus = "EXPIRED"
)

type NotificationPriority string

const (
	UrgentNotificationPriority NotificationPriority = "URGENT"
	HighNotificationPriority   NotificationPriority = "HIGH"
	NormalNotificationPriority NotificationPriority = "NORMAL"
	LowNotificationPriority    NotificationPriority = "LOW"
)

func (p NotificationPriority) Validate() error {
	switch NotificationPriority(strings.ToUpper(string(p))) {
	case UrgentNotificationPriority, HighNotificationPriority, NormalNotificationPriority, LowNotificationPriority:
		return nil
	default:
		return fmt.Errorf("invalid notification priority: %s", p)
	}
}

// NotificationVariables are the template values rendered into the body, kept
// on the row for audits and re-renders.
type NotificationVariables map[string]string

// Value implements the driver.Valuer interface.
func (nv NotificationVariables) Value() (driver.Value, error) {
	if len(nv) == 0 {
		return nil, nil
	}
	nvJSON, err := json.Marshal(nv)
	if err != nil {
		return nil, fmt.Errorf("converting notification variables to json: %w", err)
	}
	return string(nvJSON), nil
}

var _ driver.Valuer = (NotificationVariables)(nil)

// Scan implements the sql.Scanner interface.
func (nv *NotificationVariables) Scan(src interface{}) error {
	if src == nil {
		*nv = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unexpected type %T for notification variables", src)
	}
	if err := json.Unmarshal(data, nv); err != nil {
		return fmt.Errorf("unmarshaling variables column: %w", err)
	}
	return nil
}

var _ sql.Scanner = (*NotificationVariables)(nil)

type Notification struct {
	ID                string                `json:"id" db:"id"`
	RiderID           string                `json:"rider_id" db:"rider_id"`
	Channel           NotificationChannel   `json:"channel" db:"channel"`
	Type              NotificationType      `json:"type" db:"type"`
	Status            NotificationStatus    `json:"status" db:"status"`
	Priority          NotificationPriority  `json:"priority" db:"priority"`
	Recipient         string                `json:"recipient" db:"recipient"`
	Title             string                `json:"title,omitempty" db:"title"`
	Body              string                `json:"body" db:"body"`
	TemplateID        *string               `json:"template_id,omitempty" db:"template_id"`
	Variables         NotificationVariables `json:"variables,omitempty" db:"variables"`
	RetryCount        int                   `json:"retry_count" db:"retry_count"`
	ScheduledFor      *time.Time            `json:"scheduled_for" db:"scheduled_for"`
	SentAt            *time.Time            `json:"sent_at" db:"sent_at"`
	DeliveredAt       *time.Time            `json:"delivered_at" db:"delivered_at"`
	ProviderName      string                `json:"provider_name,omitempty" db:"provider_name"`
	ExternalMessageID string                `json:"external_message_id,omitempty" db:"external_message_id"`
	FailureReason     string                `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at" db:"updated_at"`
}

type NotificationModel struct {
	dbConnectionPool db.DBConnectionPool
}

type NotificationInsert struct {
	RiderID      string
	Channel      NotificationChannel
	Type         NotificationType
	Priority     NotificationPriority
	Recipient    string
	Title        string
	Body         string
	TemplateID   string
	Variables    NotificationVariables
	ScheduledFor *time.Time
}

func (ni *NotificationInsert) Validate() error {
	if strings.TrimSpace(ni.RiderID) == "" {
		return fmt.Errorf("rider_id is required")
	}
	if err := ni.Channel.Validate(); err != nil {
		return err
	}
	if err := ni.Type.Validate(); err != nil {
		return err
	}
	if err := ni.Priority.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(ni.Recipient) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(ni.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

const notificationColumns = `
	id,
	rider_id,
	channel,
	type,
	status,
	priority,
	recipient,
	COALESCE(title, '') AS title,
	body,
	template_id,
	variables,
	retry_count,
	scheduled_for,
	sent_at,
	delivered_at,
	COALESCE(provider_name, '') AS provider_name,
	COALESCE(external_message_id, '') AS external_message_id,
	COALESCE(failure_reason, '') AS failure_reason,
	created_at,
	updated_at
`

func (m *NotificationModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1`, notificationColumns)

	notification := Notification{}
	err := sqlExec.GetContext(ctx, &notification, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying notification ID %s: %w", id, err)
	}

	return &notification, nil
}

// GetByExternalMessageID correlates a provider delivery callback back to our
// notification row.
func (m *NotificationModel) GetByExternalMessageID(ctx context.Context, sqlExec db.SQLExecuter, externalMessageID string) (*Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE external_message_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, notificationColumns)

	notification := Notification{}
	err := sqlExec.GetContext(ctx, &notification, query, externalMessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying notification by external message ID %s: %w", externalMessageID, err)
	}

	return &notification, nil
}

func (m *NotificationModel) GetAllByRiderID(ctx context.Context, sqlExec db.SQLExecuter, riderID string, limit int) ([]Notification, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE rider_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, notificationColumns)

	notifications := []Notification{}
	err := sqlExec.SelectContext(ctx, &notifications, query, riderID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications for rider %s: %w", riderID, err)
	}

	return notifications, nil
}

// Insert persists the notification in the given initial status: PENDING when
// delivery is attempted immediately, QUEUED when it waits for scheduled_for.
func (m *NotificationModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert NotificationInsert, status NotificationStatus) (*Notification, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating notification insert: %w", err)
	}
	if status != PendingNotificationStatus && status != QueuedNotificationStatus {
		return nil, fmt.Errorf("notifications can only be created PENDING or QUEUED, got %s", status)
	}

	query := fmt.Sprintf(`
		INSERT INTO notifications
			(rider_id, channel, type, status, priority, recipient, title, body, template_id, variables, scheduled_for)
		VALUES
			($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11)
		RETURNING %s
	`, notificationColumns)

	notification := Notification{}
	err := sqlExec.GetContext(ctx, &notification, query,
		insert.RiderID, insert.Channel, insert.Type, status, insert.Priority,
		insert.Recipient, insert.Title, insert.Body, insert.TemplateID,
		insert.Variables, insert.ScheduledFor,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}

	return &notification, nil
}

// MarkSent records a successful provider hand-off.
func (m *NotificationModel) MarkSent(ctx context.Context, sqlExec db.SQLExecuter, id, providerName, externalMessageID string, retryCount int) (*Notification, error) {
	query := fmt.Sprintf(`
		UPDATE notifications
		SET
			status = 'SENT',
			provider_name = $2,
			external_message_id = NULLIF($3, ''),
			retry_count = $4,
			sent_at = NOW(),
			failure_reason = NULL
		WHERE id = $1
		RETURNING %s
	`, notificationColumns)

	notification := Notification{}
	err := sqlExec.GetContext(ctx, &notification, query, id, providerName, externalMessageID, retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("marking notification %s sent: %w", id, err)
	}

	return &notification, nil
}

// MarkFailed records delivery exhaustion across all providers.
func (m *NotificationModel) MarkFailed(ctx context.Context, sqlExec db.SQLExecuter, id, failureReason string, retryCount int) (*Notification, error) {
	query := fmt.Sprintf(`
		UPDATE notifications
		SET
			status = 'FAILED',
			failure_reason = $2,
			retry_count = $3
		WHERE id = $1
		RETURNING %s
	`, notificationColumns)

	notification := Notification{}
	err := sqlExec.GetContext(ctx, &notification, query, id, failureReason, retryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("marking notification %s failed: %w", id, err)
	}

	return &notification, nil
}

// MarkDelivered upgrades a SENT notification on a provider delivery receipt.
func (m *NotificationModel) MarkDelivered(ctx context.Context, sqlExec db.SQLExecuter, id string, deliveredAt time.Time) error {
	const query = `
		UPDATE notifications
		SET status = 'DELIVERED', delivered_at = $2
		WHERE id = $1 AND status = 'SENT'
	`

	res, err := sqlExec.ExecContext(ctx, query, id, deliveredAt)
	if err != nil {
		return fmt.Errorf("marking notification %s delivered: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// MarkDeliveryFailed records a provider-reported delivery failure on a SENT
// notification.
func (m *NotificationModel) MarkDeliveryFailed(ctx context.Context, sqlExec db.SQLExecuter, id, reason string) error {
	const query = `
		UPDATE notifications
		SET status = 'FAILED', failure_reason = $2
		WHERE id = $1 AND status = 'SENT'
	`

	res, err := sqlExec.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("marking notification %s delivery-failed: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// ClaimDueQueued flips due QUEUED notifications back to PENDING and returns
// them, so the scheduled sweep can push each one through the delivery path
// exactly once even with concurrent sweeps.
func (m *NotificationModel) ClaimDueQueued(ctx context.Context, sqlExec db.SQLExecuter, now time.Time, limit int) ([]Notification, error) {
	query := fmt.Sprintf(`
		UPDATE notifications
		SET status = 'PENDING'
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = 'QUEUED' AND (scheduled_for IS NULL OR scheduled_for <= $1)
			ORDER BY scheduled_for ASC NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, notificationColumns)

	notifications := []Notification{}
	err := sqlExec.SelectContext(ctx, &notifications, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due queued notifications: %w", err)
	}

	return notifications, nil
}

// ExpireStale moves QUEUED notifications past their useful life to EXPIRED.
// Late delivery of a payment confirmation is worse than none.
func (m *NotificationModel) ExpireStale(ctx context.Context, sqlExec db.SQLExecuter, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE notifications
		SET status = 'EXPIRED'
		WHERE status = 'QUEUED' AND COALESCE(scheduled_for, created_at) < $1
	`

	res, err := sqlExec.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring stale notifications: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading expired notification count: %w", err)
	}

	return rows, nil
}
