package message

import (
	"fmt"
	"slices"
	"strings"
)

type MessengerType string

// ATTENTION: when adding a new type, make sure to update the MessengerType methods!
const (
	// MessengerTypeTwilioSMS is used to send SMS messages using Twilio.
	MessengerTypeTwilioSMS MessengerType = "TWILIO_SMS"
	// MessengerTypeTwilioWhatsApp is used to send WhatsApp template messages using Twilio.
	MessengerTypeTwilioWhatsApp MessengerType = "TWILIO_WHATSAPP"
	// MessengerTypeAfricasTalkingSMS is used to send SMS messages using Africa's Talking.
	MessengerTypeAfricasTalkingSMS MessengerType = "AFRICAS_TALKING_SMS"
	// MessengerTypeAWSSMS is used to send SMS messages using AWS SNS.
	MessengerTypeAWSSMS MessengerType = "AWS_SMS"
	// MessengerTypeSendGridEmail is used to send emails using SendGrid.
	MessengerTypeSendGridEmail MessengerType = "SENDGRID_EMAIL"
	// MessengerTypeAWSEmail is used to send emails using AWS SES.
	MessengerTypeAWSEmail MessengerType = "AWS_EMAIL"
	// MessengerTypeDryRun is used for development environment
	MessengerTypeDryRun MessengerType = "DRY_RUN"
)

func (mt MessengerType) All() []MessengerType {
	return []MessengerType{
		MessengerTypeTwilioSMS,
		MessengerTypeTwilioWhatsApp,
		MessengerTypeAfricasTalkingSMS,
		MessengerTypeAWSSMS,
		MessengerTypeSendGridEmail,
		MessengerTypeAWSEmail,
		MessengerTypeDryRun,
	}
}

func ParseMessengerType(messengerTypeStr string) (MessengerType, error) {
	messageTypeStrUpper := strings.ToUpper(messengerTypeStr)
	mType := MessengerType(messageTypeStrUpper)

	if slices.Contains(MessengerType("").All(), mType) {
		return mType, nil
	}

	return "", fmt.Errorf("invalid message sender type %q", messageTypeStrUpper)
}

func (mt MessengerType) ValidSMSTypes() []MessengerType {
	return []MessengerType{MessengerTypeDryRun, MessengerTypeTwilioSMS, MessengerTypeAfricasTalkingSMS, MessengerTypeAWSSMS}
}

func (mt MessengerType) ValidWhatsAppTypes() []MessengerType {
	return []MessengerType{MessengerTypeDryRun, MessengerTypeTwilioWhatsApp}
}

func (mt MessengerType) ValidEmailTypes() []MessengerType {
	return []MessengerType{MessengerTypeDryRun, MessengerTypeSendGridEmail, MessengerTypeAWSEmail}
}

func (mt MessengerType) IsSMS() bool {
	return mt != MessengerTypeDryRun && slices.Contains(mt.ValidSMSTypes(), mt)
}

func (mt MessengerType) IsWhatsApp() bool {
	return mt != MessengerTypeDryRun && slices.Contains(mt.ValidWhatsAppTypes(), mt)
}

func (mt MessengerType) IsEmail() bool {
	return mt != MessengerTypeDryRun && slices.Contains(mt.ValidEmailTypes(), mt)
}

// ProviderName is the snake_case identifier persisted on notifications and
// delivery reports.
func (mt MessengerType) ProviderName() string {
	return strings.ToLower(string(mt))
}

type MessengerOptions struct {
	Environment string

	// Twilio
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioServiceSID string
	// Twilio WhatsApp
	TwilioWhatsAppFromNumber string
	// TwilioWhatsAppTemplates maps a notification event type to the approved
	// Twilio Content SID used for business-initiated conversations.
	TwilioWhatsAppTemplates map[string]string

	// SendGrid
	SendGridAPIKey        string
	SendGridSenderAddress string

	// Africa's Talking
	AfricasTalkingAPIKey   string
	AfricasTalkingUsername string
	AfricasTalkingSenderID string
	AfricasTalkingBasePath string

	// AWS
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSRegion          string
	// AWS SNS (SMS messages)
	AWSSNSSenderID string
	// AWS SES (EMAIL messages)
	AWSSESSenderID string
}

func GetClient(messengerType MessengerType, opts MessengerOptions) (MessengerClient, error) {
	switch messengerType {
	case MessengerTypeTwilioSMS:
		return NewTwilioClient(opts.TwilioAccountSID, opts.TwilioAuthToken, opts.TwilioServiceSID)
	case MessengerTypeTwilioWhatsApp:
		return NewTwilioWhatsAppClient(opts.TwilioAccountSID, opts.TwilioAuthToken, opts.TwilioWhatsAppFromNumber, opts.TwilioWhatsAppTemplates)
	case MessengerTypeAfricasTalkingSMS:
		return NewAfricasTalkingClient(opts.AfricasTalkingBasePath, opts.AfricasTalkingAPIKey, opts.AfricasTalkingUsername, opts.AfricasTalkingSenderID)
	case MessengerTypeSendGridEmail:
		return NewSendGridClient(opts.SendGridAPIKey, opts.SendGridSenderAddress)

	case MessengerTypeAWSSMS:
		return NewAWSSNSClient(opts.AWSAccessKeyID, opts.AWSSecretAccessKey, opts.AWSRegion, opts.AWSSNSSenderID)
	case MessengerTypeAWSEmail:
		return NewAWSSESClient(opts.AWSAccessKeyID, opts.AWSSecretAccessKey, opts.AWSRegion, opts.AWSSESSenderID)

	case MessengerTypeDryRun:
		return NewDryRunClient()

	default:
		return nil, fmt.Errorf("unknown message sender type: %q", messengerType)
	}
}
