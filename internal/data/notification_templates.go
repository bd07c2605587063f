package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/bodasure/bodasure-backend/db"
)

// NotificationTemplate is one renderable message shape, unique per active
// (channel, type, language). The variables list is the render-time contract:
// every declared variable must be supplied.
type NotificationTemplate struct {
	ID        string              `json:"id" db:"id"`
	Channel   NotificationChannel `json:"channel" db:"channel"`
	Type      NotificationType    `json:"type" db:"type"`
	Language  string              `json:"language" db:"language"`
	Subject   string              `json:"subject,omitempty" db:"subject"`
	Body      string              `json:"body" db:"body"`
	Variables pq.StringArray      `json:"variables" db:"variables"`
	Active    bool                `json:"active" db:"active"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time          `json:"-" db:"deleted_at"`
}

type NotificationTemplateModel struct {
	dbConnectionPool db.DBConnectionPool
}

type NotificationTemplateInsert struct {
	Channel   NotificationChannel
	Type      NotificationType
	Language  string
	Subject   string
	Body      string
	Variables []string
}

func (nti *NotificationTemplateInsert) Validate() error {
	if err := nti.Channel.Validate(); err != nil {
		return err
	}
	if err := nti.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(nti.Language) == "" {
		return fmt.Errorf("language is required")
	}
	if strings.TrimSpace(nti.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

const notificationTemplateColumns = `
	id,
	channel,
	type,
	language,
	COALESCE(subject, '') AS subject,
	body,
	variables,
	active,
	created_at,
	updated_at,
	deleted_at
`

// GetActive resolves the template for (channel, type, language), falling back
// to English when the rider's language has no template.
func (m *NotificationTemplateModel) GetActive(ctx context.Context, sqlExec db.SQLExecuter, channel NotificationChannel, notificationType NotificationType, language string) (*NotificationTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notification_templates
		WHERE
			channel = $1 AND
			type = $2 AND
			language IN ($3, 'en') AND
			active AND
			deleted_at IS NULL
		ORDER BY (language = $3) DESC
		LIMIT 1
	`, notificationTemplateColumns)

	template := NotificationTemplate{}
	err := sqlExec.GetContext(ctx, &template, query, channel, notificationType, language)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying template for %s/%s/%s: %w", channel, notificationType, language, err)
	}

	return &template, nil
}

func (m *NotificationTemplateModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*NotificationTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM notification_templates WHERE id = $1`, notificationTemplateColumns)

	template := NotificationTemplate{}
	err := sqlExec.GetContext(ctx, &template, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying template ID %s: %w", id, err)
	}

	return &template, nil
}

func (m *NotificationTemplateModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter) ([]NotificationTemplate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM notification_templates
		WHERE deleted_at IS NULL
		ORDER BY type ASC, channel ASC, language ASC
	`, notificationTemplateColumns)

	templates := []NotificationTemplate{}
	err := sqlExec.SelectContext(ctx, &templates, query)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}

	return templates, nil
}

// Insert creates an active template. A duplicate active (channel, type,
// language) maps to ErrRecordAlreadyExists; deactivate the old one first.
func (m *NotificationTemplateModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert NotificationTemplateInsert) (*NotificationTemplate, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating template insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO notification_templates
			(channel, type, language, subject, body, variables)
		VALUES
			($1, $2, $3, NULLIF($4, ''), $5, $6)
		RETURNING %s
	`, notificationTemplateColumns)

	template := NotificationTemplate{}
	err := sqlExec.GetContext(ctx, &template, query,
		insert.Channel, insert.Type, strings.ToLower(insert.Language),
		insert.Subject, insert.Body, pq.Array(insert.Variables),
	)
	if err != nil {
		if IsUniqueConstraintViolation(err) {
			return nil, ErrRecordAlreadyExists
		}
		return nil, fmt.Errorf("inserting template: %w", err)
	}

	return &template, nil
}

// Deactivate retires a template without deleting its history.
func (m *NotificationTemplateModel) Deactivate(ctx context.Context, sqlExec db.SQLExecuter, id string) error {
	const query = `
		UPDATE notification_templates
		SET active = FALSE
		WHERE id = $1 AND deleted_at IS NULL
	`

	res, err := sqlExec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deactivating template %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

// SoftDelete removes a template from every lookup while keeping the row for
// sent-notification audits.
func (m *NotificationTemplateModel) SoftDelete(ctx context.Context, sqlExec db.SQLExecuter, id string) error {
	const query = `
		UPDATE notification_templates
		SET deleted_at = NOW(), active = FALSE
		WHERE id = $1 AND deleted_at IS NULL
	`

	res, err := sqlExec.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("soft deleting template %s: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}
