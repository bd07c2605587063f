package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/db"
)

// RiderNotificationPreference is an explicit opt-in or opt-out for one
// (channel, type). No row means enabled.
type RiderNotificationPreference struct {
	ID        string              `json:"id" db:"id"`
	RiderID   string              `json:"rider_id" db:"rider_id"`
	Channel   NotificationChannel `json:"channel" db:"channel"`
	Type      NotificationType    `json:"type" db:"type"`
	Enabled   bool                `json:"enabled" db:"enabled"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`
}

// RiderSuppression blocks a whole channel for a rider, written by delivery
// sinks on hard bounces and complaints. Unlike a preference it is not the
// rider's choice and needs an ops action to lift.
type RiderSuppression struct {
	ID        string              `json:"id" db:"id"`
	RiderID   string              `json:"rider_id" db:"rider_id"`
	Channel   NotificationChannel `json:"channel" db:"channel"`
	Reason    string              `json:"reason" db:"reason"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
}

type NotificationPreferenceModel struct {
	dbConnectionPool db.DBConnectionPool
}

// IsEnabled reports whether the rider accepts this (channel, type). Absence
// of a preference row means yes.
func (m *NotificationPreferenceModel) IsEnabled(ctx context.Context, sqlExec db.SQLExecuter, riderID string, channel NotificationChannel, notificationType NotificationType) (bool, error) {
	const query = `
		SELECT enabled FROM rider_notification_preferences
		WHERE rider_id = $1 AND channel = $2 AND type = $3
	`

	var enabled bool
	err := sqlExec.GetContext(ctx, &enabled, query, riderID, channel, notificationType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("querying notification preference for rider %s: %w", riderID, err)
	}

	return enabled, nil
}

// Set upserts the rider's preference for one (channel, type).
func (m *NotificationPreferenceModel) Set(ctx context.Context, sqlExec db.SQLExecuter, riderID string, channel NotificationChannel, notificationType NotificationType, enabled bool) error {
	if err := channel.Validate(); err != nil {
		return err
	}
	if err := notificationType.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO rider_notification_preferences
			(rider_id, channel, type, enabled)
		VALUES
			($1, $2, $3, $4)
		ON CONFLICT (rider_id, channel, type) DO UPDATE SET enabled = EXCLUDED.enabled
	`

	_, err := sqlExec.ExecContext(ctx, query, riderID, channel, notificationType, enabled)
	if err != nil {
		return fmt.Errorf("setting notification preference for rider %s: %w", riderID, err)
	}

	return nil
}

func (m *NotificationPreferenceModel) GetAllByRiderID(ctx context.Context, sqlExec db.SQLExecuter, riderID string) ([]RiderNotificationPreference, error) {
	const query = `
		SELECT id, rider_id, channel, type, enabled, created_at, updated_at
		FROM rider_notification_preferences
		WHERE rider_id = $1
		ORDER BY channel ASC, type ASC
	`

	preferences := []RiderNotificationPreference{}
	err := sqlExec.SelectContext(ctx, &preferences, query, riderID)
	if err != nil {
		return nil, fmt.Errorf("querying notification preferences for rider %s: %w", riderID, err)
	}

	return preferences, nil
}

// GetSuppression returns the active suppression for (rider, channel), or
// ErrRecordNotFound when the channel is clear.
func (m *NotificationPreferenceModel) GetSuppression(ctx context.Context, sqlExec db.SQLExecuter, riderID string, channel NotificationChannel) (*RiderSuppression, error) {
	const query = `
		SELECT id, rider_id, channel, reason, created_at
		FROM rider_suppressions
		WHERE rider_id = $1 AND channel = $2
	`

	suppression := RiderSuppression{}
	err := sqlExec.GetContext(ctx, &suppression, query, riderID, channel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying suppression for rider %s channel %s: %w", riderID, channel, err)
	}

	return &suppression, nil
}

// Suppress blocks the channel for the rider. Re-suppressing updates the
// reason and is not an error; sinks can report the same bounce twice.
func (m *NotificationPreferenceModel) Suppress(ctx context.Context, sqlExec db.SQLExecuter, riderID string, channel NotificationChannel, reason string) error {
	if err := channel.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO rider_suppressions
			(rider_id, channel, reason)
		VALUES
			($1, $2, $3)
		ON CONFLICT (rider_id, channel) DO UPDATE SET reason = EXCLUDED.reason
	`

	_, err := sqlExec.ExecContext(ctx, query, riderID, channel, reason)
	if err != nil {
		return fmt.Errorf("suppressing channel %s for rider %s: %w", channel, riderID, err)
	}

	return nil
}

// Unsuppress lifts a suppression, typically after the rider fixes their
// contact details.
func (m *NotificationPreferenceModel) Unsuppress(ctx context.Context, sqlExec db.SQLExecuter, riderID string, channel NotificationChannel) error {
	const query = `DELETE FROM rider_suppressions WHERE rider_id = $1 AND channel = $2`

	res, err := sqlExec.ExecContext(ctx, query, riderID, channel)
	if err != nil {
		return fmt.Errorf("unsuppressing channel %s for rider %s: %w", channel, riderID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}
