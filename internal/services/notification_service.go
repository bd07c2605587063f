package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	// DefaultQuietHoursStartMinutes is 22:00 as minutes since midnight.
	DefaultQuietHoursStartMinutes = 22 * 60
	// DefaultQuietHoursEndMinutes is 06:00 as minutes since midnight.
	DefaultQuietHoursEndMinutes = 6 * 60

	minutesPerDay = 24 * 60
)

// ErrNoActiveTemplate is returned when no active template exists for the
// requested (channel, type) in the rider's language or English.
var ErrNoActiveTemplate = errors.New("no active notification template")

type NotificationOutcome string

const (
	// NotificationOutcomePending means the row was persisted and is ready for
	// immediate delivery.
	NotificationOutcomePending NotificationOutcome = "PENDING"
	// NotificationOutcomeQueued means the row was persisted for a later
	// delivery window.
	NotificationOutcomeQueued NotificationOutcome = "QUEUED"
	// NotificationOutcomeSkipped means nothing was persisted: the rider opted
	// out, the channel is suppressed, or the rider cannot be addressed.
	NotificationOutcomeSkipped NotificationOutcome = "SKIPPED"
	// NotificationOutcomeSent means a provider accepted the message.
	NotificationOutcomeSent NotificationOutcome = "SENT"
	// NotificationOutcomeFailed means every provider was exhausted; the row is
	// kept FAILED with the reason.
	NotificationOutcomeFailed NotificationOutcome = "FAILED"
)

type SendNotificationInput struct {
	RiderID string
	Channel data.NotificationChannel
	Type    data.NotificationType
	// Variables must cover every variable the resolved template declares.
	Variables data.NotificationVariables
	// Priority defaults to NORMAL. URGENT bypasses quiet hours.
	Priority data.NotificationPriority
	// ScheduledFor in the future queues the notification instead of sending.
	ScheduledFor *time.Time
	// AttachmentURL optionally rides along to providers that can deliver
	// documents.
	AttachmentURL string
}

func (i *SendNotificationInput) Validate() error {
	if strings.TrimSpace(i.RiderID) == "" {
		return fmt.Errorf("rider id is required")
	}
	if err := i.Channel.Validate(); err != nil {
		return err
	}
	if err := i.Type.Validate(); err != nil {
		return err
	}
	if i.Priority != "" {
		if err := i.Priority.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type SendNotificationResult struct {
	Outcome      NotificationOutcome
	Notification *data.Notification
	// Reason explains SKIPPED and FAILED outcomes.
	Reason string
}

type NotificationServiceInterface interface {
	SendNotification(ctx context.Context, input SendNotificationInput) (*SendNotificationResult, error)
	CreateNotification(ctx context.Context, sqlExec db.SQLExecuter, input SendNotificationInput) (*SendNotificationResult, error)
	DeliverNotification(ctx context.Context, notification *data.Notification, attachmentURL string) (*data.Notification, error)
}

// NotificationService persists rider notifications and hands them to the
// message dispatcher, honoring preferences, suppressions and quiet hours.
type NotificationService struct {
	models          *data.Models
	dispatcher      message.MessageDispatcherInterface
	monitorService  monitor.MonitorServiceInterface
	location        *time.Location
	quietHoursStart int
	quietHoursEnd   int
}

var _ NotificationServiceInterface = (*NotificationService)(nil)

type NotificationServiceOptions struct {
	Models         *data.Models
	Dispatcher     message.MessageDispatcherInterface
	MonitorService monitor.MonitorServiceInterface
	// Location is the wall clock used for quiet hours. Defaults to UTC.
	Location *time.Location
	// QuietHoursStartMinutes/QuietHoursEndMinutes are the fallback quiet
	// window for riders without their own, as minutes since midnight. Both
	// zero means 22:00-06:00.
	QuietHoursStartMinutes int
	QuietHoursEndMinutes   int
}

func NewNotificationService(opts NotificationServiceOptions) (*NotificationService, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models is required for NewNotificationService")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required for NewNotificationService")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.QuietHoursStartMinutes == 0 && opts.QuietHoursEndMinutes == 0 {
		opts.QuietHoursStartMinutes = DefaultQuietHoursStartMinutes
		opts.QuietHoursEndMinutes = DefaultQuietHoursEndMinutes
	}
	for _, minutes := range []int{opts.QuietHoursStartMinutes, opts.QuietHoursEndMinutes} {
		if minutes < 0 || minutes >= minutesPerDay {
			return nil, fmt.Errorf("quiet hours must be within a day, got %d minutes", minutes)
		}
	}

	return &NotificationService{
		models:          opts.Models,
		dispatcher:      opts.Dispatcher,
		monitorService:  opts.MonitorService,
		location:        opts.Location,
		quietHoursStart: opts.QuietHoursStartMinutes,
		quietHoursEnd:   opts.QuietHoursEndMinutes,
	}, nil
}

// SendNotification runs the full send contract: preference and suppression
// checks, template resolution and render, persistence, scheduling, and, when
// the notification is deliverable right away, the provider dispatch. A
// provider failure is not an error here: the outcome is FAILED and the row
// keeps the reason.
func (s *NotificationService) SendNotification(ctx context.Context, input SendNotificationInput) (*SendNotificationResult, error) {
	result, err := s.CreateNotification(ctx, s.models.DBConnectionPool, input)
	if err != nil {
		return nil, err
	}
	if result.Outcome != NotificationOutcomePending {
		return result, nil
	}

	updatedNotification, deliverErr := s.DeliverNotification(ctx, result.Notification, input.AttachmentURL)
	if updatedNotification != nil {
		result.Notification = updatedNotification
	}
	if deliverErr != nil {
		result.Outcome = NotificationOutcomeFailed
		result.Reason = deliverErr.Error()
		return result, nil
	}

	result.Outcome = NotificationOutcomeSent
	return result, nil
}

// CreateNotification runs steps 1-6 of the send contract and persists the row
// PENDING (deliverable now) or QUEUED (future schedule or quiet hours). It
// runs on any SQLExecuter so callers can make the row atomic with their own
// writes; delivery is a separate step.
func (s *NotificationService) CreateNotification(ctx context.Context, sqlExec db.SQLExecuter, input SendNotificationInput) (*SendNotificationResult, error) {
	if input.Priority == "" {
		input.Priority = data.NormalNotificationPriority
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("validating notification input: %w", err)
	}

	// 1. rider, preferences, suppressions
	rider, err := s.models.Riders.Get(ctx, sqlExec, input.RiderID)
	if err != nil {
		return nil, fmt.Errorf("getting rider %s: %w", input.RiderID, err)
	}

	enabled, err := s.models.NotificationPreference.IsEnabled(ctx, sqlExec, rider.ID, input.Channel, input.Type)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return s.skip(ctx, input, fmt.Sprintf("rider %s has disabled %s on %s", rider.ID, input.Type, input.Channel)), nil
	}

	suppression, err := s.models.NotificationPreference.GetSuppression(ctx, sqlExec, rider.ID, input.Channel)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return nil, err
	}
	if suppression != nil {
		return s.skip(ctx, input, fmt.Sprintf("channel %s is suppressed for rider %s: %s", input.Channel, rider.ID, suppression.Reason)), nil
	}

	recipient, skipReason, err := recipientFor(rider, input.Channel)
	if err != nil {
		return nil, err
	}
	if skipReason != "" {
		return s.skip(ctx, input, skipReason), nil
	}

	// 2. template resolution
	template, err := s.models.NotificationTemplates.GetActive(ctx, sqlExec, input.Channel, input.Type, rider.Language)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w for %s/%s in language %q", ErrNoActiveTemplate, input.Channel, input.Type, rider.Language)
		}
		return nil, err
	}

	var missingVariables []string
	for _, variable := range template.Variables {
		if _, ok := input.Variables[variable]; !ok {
			missingVariables = append(missingVariables, variable)
		}
	}
	if len(missingVariables) > 0 {
		return nil, fmt.Errorf("variables missing for template %s: [%s]", template.ID, strings.Join(missingVariables, ", "))
	}

	// 3. render
	body, err := renderNotificationTemplate("body", template.Body, input.Variables)
	if err != nil {
		return nil, err
	}
	title := ""
	if template.Subject != "" {
		if title, err = renderNotificationTemplate("subject", template.Subject, input.Variables); err != nil {
			return nil, err
		}
	}

	// 4-6. persist, deferring to the schedule or the rider's quiet hours
	status := data.PendingNotificationStatus
	scheduledFor := input.ScheduledFor
	now := time.Now()

	if scheduledFor != nil && scheduledFor.After(now) {
		status = data.QueuedNotificationStatus
	} else if input.Priority != data.UrgentNotificationPriority {
		if inQuietWindow, releaseAt := s.quietHoursRelease(now, rider); inQuietWindow {
			log.Ctx(ctx).Debugf("deferring %s notification for rider %s to %s (quiet hours)", input.Type, rider.ID, releaseAt)
			status = data.QueuedNotificationStatus
			scheduledFor = &releaseAt
		}
	}

	notification, err := s.models.Notifications.Insert(ctx, sqlExec, data.NotificationInsert{
		RiderID:      rider.ID,
		Channel:      input.Channel,
		Type:         input.Type,
		Priority:     input.Priority,
		Recipient:    recipient,
		Title:        title,
		Body:         body,
		TemplateID:   template.ID,
		Variables:    input.Variables,
		ScheduledFor: scheduledFor,
	}, status)
	if err != nil {
		return nil, fmt.Errorf("persisting notification for rider %s: %w", rider.ID, err)
	}

	outcome := NotificationOutcomePending
	if status == data.QueuedNotificationStatus {
		outcome = NotificationOutcomeQueued
	}
	return &SendNotificationResult{Outcome: outcome, Notification: notification}, nil
}

// DeliverNotification hands a persisted notification to the dispatcher and
// records the outcome on the row. Rows already SENT or DELIVERED are a no-op,
// so redelivery after a crash is safe. The dispatch error is returned after
// the row is marked FAILED so callers can retry.
func (s *NotificationService) DeliverNotification(ctx context.Context, notification *data.Notification, attachmentURL string) (*data.Notification, error) {
	if notification == nil {
		return nil, fmt.Errorf("notification cannot be nil")
	}

	switch notification.Status {
	case data.SentNotificationStatus, data.DeliveredNotificationStatus:
		log.Ctx(ctx).Infof("notification %s is already %s, skipping delivery", notification.ID, notification.Status)
		return notification, nil
	case data.ExpiredNotificationStatus:
		log.Ctx(ctx).Warnf("notification %s expired before delivery, skipping", notification.ID)
		return notification, nil
	case data.QueuedNotificationStatus:
		if notification.ScheduledFor != nil && notification.ScheduledFor.After(time.Now()) {
			log.Ctx(ctx).Infof("notification %s is scheduled for %s, skipping delivery", notification.ID, notification.ScheduledFor)
			return notification, nil
		}
	}

	messageChannel, err := messageChannelFor(notification.Channel)
	if err != nil {
		return notification, err
	}

	msg := message.Message{
		Title:             notification.Title,
		Body:              notification.Body,
		Type:              string(notification.Type),
		TemplateVariables: notification.Variables,
		AttachmentURL:     attachmentURL,
	}
	if notification.Channel == data.EmailNotificationChannel {
		msg.ToEmail = notification.Recipient
	} else {
		msg.ToPhoneNumber = notification.Recipient
	}

	dispatchResult, dispatchErr := s.dispatcher.SendMessage(ctx, msg, []message.MessageChannel{messageChannel})

	// retry_count accumulates failed attempts across deliveries: on success the
	// last attempt worked, on failure all of them did not.
	retryCount := notification.RetryCount + dispatchResult.Attempts
	if dispatchErr == nil && dispatchResult.Attempts > 0 {
		retryCount--
	}

	provider := dispatchResult.MessengerType.ProviderName()
	if provider == "" {
		provider = "none"
	}
	if dispatchResult.Attempts > 1 {
		s.monitorCounter(ctx, monitor.NotificationsRetriedCounterTag, notification.Channel, provider)
	}
	if dispatchResult.FailedOver {
		s.monitorCounter(ctx, monitor.NotificationsFailedOverCounterTag, notification.Channel, provider)
	}

	if dispatchErr != nil {
		s.monitorCounter(ctx, monitor.NotificationsFailedCounterTag, notification.Channel, provider)
		failedNotification, markErr := s.models.Notifications.MarkFailed(ctx, s.models.DBConnectionPool, notification.ID, dispatchErr.Error(), retryCount)
		if markErr != nil {
			log.Ctx(ctx).Errorf("marking notification %s failed: %v", notification.ID, markErr)
			return notification, fmt.Errorf("delivering notification %s: %w", notification.ID, dispatchErr)
		}
		return failedNotification, fmt.Errorf("delivering notification %s: %w", notification.ID, dispatchErr)
	}

	sentNotification, err := s.models.Notifications.MarkSent(ctx, s.models.DBConnectionPool, notification.ID, provider, dispatchResult.ExternalMessageID, retryCount)
	if err != nil {
		return notification, fmt.Errorf("marking notification %s sent: %w", notification.ID, err)
	}

	s.monitorCounter(ctx, monitor.NotificationsSentCounterTag, notification.Channel, provider)
	log.Ctx(ctx).Infof("sent %s notification %s to rider %s via %s", notification.Type, notification.ID, notification.RiderID, provider)
	return sentNotification, nil
}

func (s *NotificationService) skip(ctx context.Context, input SendNotificationInput, reason string) *SendNotificationResult {
	log.Ctx(ctx).Infof("skipping %s notification: %s", input.Type, reason)
	return &SendNotificationResult{Outcome: NotificationOutcomeSkipped, Reason: reason}
}

// quietHoursRelease reports whether now falls inside the rider's quiet window
// and, if so, when the window ends. Riders without their own window use the
// service-wide default; a zero-length window disables quiet hours.
func (s *NotificationService) quietHoursRelease(now time.Time, rider *data.Rider) (bool, time.Time) {
	start, end := s.quietHoursStart, s.quietHoursEnd
	if rider.QuietHoursStart != nil && rider.QuietHoursEnd != nil {
		start, end = *rider.QuietHoursStart, *rider.QuietHoursEnd
	}
	if start == end {
		return false, time.Time{}
	}

	local := now.In(s.location)
	nowMinutes := local.Hour()*60 + local.Minute()

	var inWindow bool
	if start < end {
		inWindow = nowMinutes >= start && nowMinutes < end
	} else {
		// The window spans midnight, e.g. 22:00-06:00.
		inWindow = nowMinutes >= start || nowMinutes < end
	}
	if !inWindow {
		return false, time.Time{}
	}

	releaseAt := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, s.location)
	if !releaseAt.After(local) {
		releaseAt = releaseAt.AddDate(0, 0, 1)
	}
	return true, releaseAt
}

func (s *NotificationService) monitorCounter(ctx context.Context, tag monitor.MetricTag, channel data.NotificationChannel, provider string) {
	if s.monitorService == nil {
		return
	}

	labels := monitor.NotificationLabels{Channel: string(channel), Provider: provider}.ToMap()
	if err := s.monitorService.MonitorCounters(tag, labels); err != nil {
		log.Ctx(ctx).Errorf("monitoring %s: %v", tag, err)
	}
}

// recipientFor resolves the delivery address for the channel. An unaddressable
// rider is a skip, not an error: the business event already happened and a
// missing email must not fail it.
func recipientFor(rider *data.Rider, channel data.NotificationChannel) (recipient, skipReason string, err error) {
	switch channel {
	case data.SMSNotificationChannel, data.WhatsAppNotificationChannel:
		return rider.PhoneNumber, "", nil
	case data.EmailNotificationChannel:
		if strings.TrimSpace(rider.Email) == "" {
			return "", fmt.Sprintf("rider %s has no email address", rider.ID), nil
		}
		return rider.Email, "", nil
	default:
		return "", "", fmt.Errorf("channel %s has no delivery provider", channel)
	}
}

func messageChannelFor(channel data.NotificationChannel) (message.MessageChannel, error) {
	switch channel {
	case data.SMSNotificationChannel:
		return message.MessageChannelSMS, nil
	case data.WhatsAppNotificationChannel:
		return message.MessageChannelWhatsApp, nil
	case data.EmailNotificationChannel:
		return message.MessageChannelEmail, nil
	default:
		return "", fmt.Errorf("channel %s has no delivery provider", channel)
	}
}

func renderNotificationTemplate(name, templateStr string, variables data.NotificationVariables) (string, error) {
	parsedTemplate, err := texttemplate.New(name).Option("missingkey=error").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("parsing notification %s template: %w", name, err)
	}

	var rendered bytes.Buffer
	if err = parsedTemplate.Execute(&rendered, variables); err != nil {
		return "", fmt.Errorf("rendering notification %s template: %w", name, err)
	}

	return rendered.String(), nil
}
