package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// DeliveryWebhookHandler ingests provider delivery receipts for SMS and
// email. Each receipt is stored verbatim as a delivery report and, when it is
// conclusive, upgrades or fails the SENT notification it belongs to.
//
// Providers retry on non-2xx answers, so receipts we cannot match answer 200
// after logging; only malformed requests are rejected.
type DeliveryWebhookHandler struct {
	Models *data.Models
}

type deliveryWebhookResponse struct {
	Accepted int `json:"accepted"`
}

// SMSDelivery handles POST /webhooks/sms/{provider}/delivery. Twilio and
// Africa's Talking both post form-encoded receipts, with their own field
// names.
func (h DeliveryWebhookHandler) SMSDelivery(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	provider := strings.ToLower(chi.URLParam(req, "provider"))

	if err := req.ParseForm(); err != nil {
		httperror.BadRequest("Cannot parse the delivery receipt", err, nil).Render(rw)
		return
	}

	var (
		providerName      string
		externalMessageID string
		event             data.DeliveryEvent
		reason            string
	)

	switch provider {
	case "twilio":
		providerName = string(message.MessengerTypeTwilioSMS)
		externalMessageID = req.PostFormValue("MessageSid")
		event, reason = twilioDeliveryEvent(req.PostFormValue("MessageStatus"), req.PostFormValue("ErrorMessage"))
	case "africastalking":
		providerName = string(message.MessengerTypeAfricasTalkingSMS)
		externalMessageID = req.PostFormValue("id")
		event, reason = africasTalkingDeliveryEvent(req.PostFormValue("status"), req.PostFormValue("failureReason"))
	default:
		httperror.NotFound(fmt.Sprintf("Unknown SMS provider %q", provider), nil, nil).Render(rw)
		return
	}

	if externalMessageID == "" {
		httperror.BadRequest("The delivery receipt has no message ID", nil, nil).Render(rw)
		return
	}

	accepted := 0
	if event != "" {
		raw, _ := json.Marshal(req.PostForm)
		if h.applyReport(ctx, providerName, externalMessageID, event, reason, "", raw) {
			accepted++
		}
	}

	httpjson.Render(rw, deliveryWebhookResponse{Accepted: accepted}, httpjson.JSON)
}

// sendGridEvent is the subset of a SendGrid event webhook entry this API
// cares about.
type sendGridEvent struct {
	SGMessageID string `json:"sg_message_id"`
	Event       string `json:"event"`
	Reason      string `json:"reason"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
}

// SendGridEvents handles POST /webhooks/email/sendgrid/events, which posts a
// JSON array of events.
func (h DeliveryWebhookHandler) SendGridEvents(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBodySize))
	if err != nil {
		httperror.BadRequest("Cannot read the event payload", err, nil).Render(rw)
		return
	}

	var sgEvents []sendGridEvent
	if err = json.Unmarshal(body, &sgEvents); err != nil {
		httperror.BadRequest("Cannot parse the event payload", err, nil).Render(rw)
		return
	}

	accepted := 0
	for _, sgEvent := range sgEvents {
		event, reason, bounceType := sendGridDeliveryEvent(sgEvent)
		if event == "" {
			continue
		}

		// SendGrid appends a ".filterNNN..." suffix to the ID it returned at
		// send time.
		externalMessageID := strings.SplitN(sgEvent.SGMessageID, ".", 2)[0]
		if externalMessageID == "" {
			continue
		}

		raw, _ := json.Marshal(sgEvent)
		if h.applyReport(ctx, string(message.MessengerTypeSendGridEmail), externalMessageID, event, reason, bounceType, raw) {
			accepted++
		}
	}

	httpjson.Render(rw, deliveryWebhookResponse{Accepted: accepted}, httpjson.JSON)
}

// applyReport resolves the notification, stores the report, and applies the
// conclusive events to the notification's status. Receipts for unknown
// messages are logged and dropped.
func (h DeliveryWebhookHandler) applyReport(ctx context.Context, providerName, externalMessageID string, event data.DeliveryEvent, reason, bounceType string, raw json.RawMessage) bool {
	notification, err := h.Models.Notifications.GetByExternalMessageID(ctx, h.Models.DBConnectionPool, externalMessageID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("delivery receipt from %s for unknown message %s", providerName, externalMessageID)
		} else {
			log.Ctx(ctx).WithError(err).Errorf("resolving delivery receipt for message %s", externalMessageID)
		}
		return false
	}

	_, err = h.Models.DeliveryReports.Insert(ctx, h.Models.DBConnectionPool, data.DeliveryReportInsert{
		NotificationID:    notification.ID,
		ProviderName:      providerName,
		ExternalMessageID: externalMessageID,
		Event:             event,
		Reason:            reason,
		BounceType:        bounceType,
		OccurredAt:        time.Now(),
		Raw:               raw,
	})
	if err != nil {
		log.Ctx(ctx).WithError(err).Errorf("storing delivery report for notification %s", notification.ID)
		return false
	}

	switch event {
	case data.DeliveredDeliveryEvent:
		err = h.Models.Notifications.MarkDelivered(ctx, h.Models.DBConnectionPool, notification.ID, time.Now())
	case data.FailedDeliveryEvent, data.BouncedDeliveryEvent:
		if reason == "" {
			reason = string(event)
		}
		err = h.Models.Notifications.MarkDeliveryFailed(ctx, h.Models.DBConnectionPool, notification.ID, reason)
	}
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		// ErrRecordNotFound here means the notification was no longer SENT,
		// which late or duplicate receipts routinely hit.
		log.Ctx(ctx).WithError(err).Errorf("applying %s receipt to notification %s", event, notification.ID)
	}

	return true
}

func twilioDeliveryEvent(status, errorMessage string) (data.DeliveryEvent, string) {
	switch strings.ToLower(status) {
	case "delivered", "read":
		return data.DeliveredDeliveryEvent, ""
	case "failed", "undelivered":
		reason := errorMessage
		if reason == "" {
			reason = fmt.Sprintf("provider reported status %s", status)
		}
		return data.FailedDeliveryEvent, reason
	case "sent":
		return data.SentDeliveryEvent, ""
	default:
		// queued / accepted / sending are not worth a report row
		return "", ""
	}
}

func africasTalkingDeliveryEvent(status, failureReason string) (data.DeliveryEvent, string) {
	switch strings.ToLower(status) {
	case "success":
		return data.DeliveredDeliveryEvent, ""
	case "failed", "rejected":
		reason := failureReason
		if reason == "" {
			reason = fmt.Sprintf("provider reported status %s", status)
		}
		return data.FailedDeliveryEvent, reason
	case "sent", "submitted", "buffered":
		return data.SentDeliveryEvent, ""
	default:
		return "", ""
	}
}

func sendGridDeliveryEvent(sgEvent sendGridEvent) (event data.DeliveryEvent, reason, bounceType string) {
	switch strings.ToLower(sgEvent.Event) {
	case "delivered":
		return data.DeliveredDeliveryEvent, "", ""
	case "bounce":
		return data.BouncedDeliveryEvent, sgEvent.Reason, sgEvent.Type
	case "dropped":
		return data.FailedDeliveryEvent, sgEvent.Reason, ""
	case "spamreport":
		return data.ComplainedDeliveryEvent, "", ""
	case "open":
		return data.OpenedDeliveryEvent, "", ""
	case "click":
		return data.ClickedDeliveryEvent, "", ""
	default:
		return "", "", ""
	}
}
