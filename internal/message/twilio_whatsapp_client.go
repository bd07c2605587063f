package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type twilioWhatsAppClient struct {
	apiService twilioAPIInterface
	fromNumber string
	// templates maps a notification event type to the approved Content SID.
	templates map[string]string
}

func (t *twilioWhatsAppClient) MessengerType() MessengerType {
	return MessengerTypeTwilioWhatsApp
}

// SendMessage sends a WhatsApp message using a pre-approved content template.
func (t *twilioWhatsAppClient) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	err := message.ValidateFor(t.MessengerType())
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating WhatsApp message: %w", err)}
	}

	toWhatsApp := formatWhatsAppNumber(message.ToPhoneNumber)
	fromWhatsApp := formatWhatsAppNumber(t.fromNumber)

	params := &twilioApi.CreateMessageParams{
		To:   &toWhatsApp,
		From: &fromWhatsApp,
	}

	templateID, ok := t.templates[message.Type]
	if !ok || strings.TrimSpace(templateID) == "" {
		return SendResult{}, &SendError{
			Category: ErrorCategoryInvalidMessage,
			Err:      fmt.Errorf("no WhatsApp template SID configured for message type %q", message.Type),
		}
	}
	params.SetContentSid(templateID)

	contentVariables, err := formatContentVariables(message.Type, message.TemplateVariables)
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("formatting WhatsApp content variables: %w", err)}
	}
	if contentVariables != "" {
		params.SetContentVariables(contentVariables)
	}

	if message.AttachmentURL != "" {
		params.SetMediaUrl([]string{message.AttachmentURL})
	}

	log.Ctx(ctx).Debugf("Sending WhatsApp template message with SID %s to phoneNumber %q",
		utils.TruncateString(templateID, 3),
		utils.TruncateString(message.ToPhoneNumber, 3))

	resp, err := t.apiService.CreateMessage(params)
	if err != nil {
		return SendResult{}, wrapTwilioError(err, "sending Twilio WhatsApp message")
	}

	if resp.ErrorCode != nil || resp.ErrorMessage != nil {
		return SendResult{}, twilioEmbeddedError(resp)
	}

	result := SendResult{MessengerType: t.MessengerType()}
	if resp.Sid != nil {
		result.ExternalMessageID = *resp.Sid
	}

	return result, nil
}

func (t *twilioWhatsAppClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	return sendBulkSequential(ctx, t, messages), nil
}

func (t *twilioWhatsAppClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	resp, err := t.apiService.FetchBalance(&twilioApi.FetchBalanceParams{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching Twilio balance: %w", err)
	}

	if resp.Balance == nil {
		return decimal.Zero, fmt.Errorf("twilio balance response is empty")
	}

	balance, err := decimal.NewFromString(*resp.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing Twilio balance %q: %w", *resp.Balance, err)
	}

	return balance, nil
}

func (t *twilioWhatsAppClient) IsHealthy(ctx context.Context) error {
	if _, err := t.Balance(ctx); err != nil {
		return fmt.Errorf("twilio WhatsApp health check: %w", err)
	}
	return nil
}

// whatsAppContentConfig declares, per message type, the template variables the
// approved content template consumes, in positional order.
var whatsAppContentConfig = map[string][]string{
	"POLICY_ISSUED": {"PolicyNumber", "CoverageEnd", "CertificateURL"},
}

// formatContentVariables formats the template variables into the positional
// JSON object required by Twilio's content API.
func formatContentVariables(messageType string, vars map[string]string) (string, error) {
	positions, ok := whatsAppContentConfig[messageType]
	if !ok {
		return "", fmt.Errorf("unsupported message type %s for WhatsApp template variables", messageType)
	}

	if len(positions) == 0 {
		return "", nil
	}

	// All declared variables must be present; extra variables are ignored.
	contentVars := make(map[string]string, len(positions))
	for i, name := range positions {
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("missing required template variable %s for message type %s", name, messageType)
		}
		contentVars[strconv.Itoa(i+1)] = value
	}

	contentVarsJSON, err := json.Marshal(contentVars)
	if err != nil {
		return "", fmt.Errorf("marshaling WhatsApp content variables to JSON: %w", err)
	}

	return string(contentVarsJSON), nil
}

// formatWhatsAppNumber ensures the phone number has the `whatsapp:` prefix.
func formatWhatsAppNumber(phoneNumber string) string {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if !strings.HasPrefix(phoneNumber, "whatsapp:") {
		return "whatsapp:" + phoneNumber
	}
	return phoneNumber
}

// NewTwilioWhatsAppClient creates a new Twilio WhatsApp client that is used to send WhatsApp messages.
func NewTwilioWhatsAppClient(accountSid, authToken, fromNumber string, templates map[string]string) (MessengerClient, error) {
	accountSid = strings.TrimSpace(accountSid)
	if accountSid == "" {
		return nil, fmt.Errorf("twilio WhatsApp accountSid is empty")
	}

	authToken = strings.TrimSpace(authToken)
	if authToken == "" {
		return nil, fmt.Errorf("twilio WhatsApp authToken is empty")
	}

	fromNumber = strings.TrimSpace(fromNumber)
	if fromNumber == "" {
		return nil, fmt.Errorf("twilio WhatsApp fromNumber is empty")
	}

	cleanFromNumber := strings.TrimPrefix(fromNumber, "whatsapp:")
	if err := utils.ValidatePhoneNumber(cleanFromNumber); err != nil {
		return nil, fmt.Errorf("twilio WhatsApp fromNumber is invalid: %w", err)
	}

	for msgType := range whatsAppContentConfig {
		if templateID, ok := templates[msgType]; !ok || strings.TrimSpace(templateID) == "" {
			return nil, fmt.Errorf("missing template SID for message type %s", msgType)
		}
	}

	return &twilioWhatsAppClient{
		apiService: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}).Api,
		fromNumber: fromNumber,
		templates:  templates,
	}, nil
}

var _ MessengerClient = (*twilioWhatsAppClient)(nil)
