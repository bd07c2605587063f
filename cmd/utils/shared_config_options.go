package utils

import (
	"fmt"
	"go/types"

	"github.com/bodasure/bodasure-backend/internal/crashtracker"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/pkg/config"
)

// TwilioConfigOptions returns the config options for Twilio. Relevant for loading configs needed for the messenger type(s): `TWILIO_*`.
func TwilioConfigOptions(opts *message.MessengerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:      "twilio-account-sid",
			Usage:     "The SID of the Twilio account",
			OptType:   types.String,
			ConfigKey: &opts.TwilioAccountSID,
			Required:  false,
		},
		{
			Name:      "twilio-auth-token",
			Usage:     "The Auth Token of the Twilio account",
			OptType:   types.String,
			ConfigKey: &opts.TwilioAuthToken,
			Required:  false,
		},
		{
			Name:      "twilio-service-sid",
			Usage:     "The service ID used within Twilio to send messages",
			OptType:   types.String,
			ConfigKey: &opts.TwilioServiceSID,
			Required:  false,
		},
		// Twilio WhatsApp
		{
			Name:      "twilio-whatsapp-from-number",
			Usage:     "The WhatsApp Business number used to send messages (with whatsapp: prefix)",
			OptType:   types.String,
			ConfigKey: &opts.TwilioWhatsAppFromNumber,
			Required:  false,
		},
		{
			Name:           "twilio-whatsapp-templates",
			Usage:          `Twilio Content SIDs by notification event type, as comma-separated "EVENT_TYPE=HX..." pairs`,
			OptType:        types.String,
			CustomSetValue: SetConfigOptionStringMap,
			ConfigKey:      &opts.TwilioWhatsAppTemplates,
			Required:       false,
		},
	}
}

// AfricasTalkingConfigOptions returns the config options for Africa's Talking. Relevant for the messenger type `AFRICAS_TALKING_SMS`.
func AfricasTalkingConfigOptions(opts *message.MessengerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:      "africastalking-api-key",
			Usage:     "The API key of the Africa's Talking account",
			OptType:   types.String,
			ConfigKey: &opts.AfricasTalkingAPIKey,
			Required:  false,
		},
		{
			Name:      "africastalking-username",
			Usage:     "The username of the Africa's Talking account",
			OptType:   types.String,
			ConfigKey: &opts.AfricasTalkingUsername,
			Required:  false,
		},
		{
			Name:      "africastalking-sender-id",
			Usage:     "The registered alphanumeric sender ID or short code used to send SMS messages",
			OptType:   types.String,
			ConfigKey: &opts.AfricasTalkingSenderID,
			Required:  false,
		},
		{
			Name:      "africastalking-base-path",
			Usage:     "The base path of the Africa's Talking API. Defaults to the production API; point it at the sandbox for testing.",
			OptType:   types.String,
			ConfigKey: &opts.AfricasTalkingBasePath,
			Required:  false,
		},
	}
}

// SendGridConfigOptions returns the config options for SendGrid. Relevant for the messenger type `SENDGRID_EMAIL`.
func SendGridConfigOptions(opts *message.MessengerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:      "sendgrid-api-key",
			Usage:     "The API key of the SendGrid account",
			OptType:   types.String,
			ConfigKey: &opts.SendGridAPIKey,
			Required:  false,
		},
		{
			Name:      "sendgrid-sender-address",
			Usage:     "The email address that SendGrid will use to send emails",
			OptType:   types.String,
			ConfigKey: &opts.SendGridSenderAddress,
			Required:  false,
		},
	}
}

// AWSConfigOptions returns the config options for AWS. Relevant for the messenger type(s) `AWS_*` and for S3 storage.
func AWSConfigOptions(opts *message.MessengerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		// AWS
		{
			Name:      "aws-access-key-id",
			Usage:     "The AWS access key ID",
			OptType:   types.String,
			ConfigKey: &opts.AWSAccessKeyID,
			Required:  false,
		},
		{
			Name:      "aws-secret-access-key",
			Usage:     "The AWS secret access key",
			OptType:   types.String,
			ConfigKey: &opts.AWSSecretAccessKey,
			Required:  false,
		},
		{
			Name:      "aws-region",
			Usage:     "The AWS region",
			OptType:   types.String,
			ConfigKey: &opts.AWSRegion,
			Required:  false,
		},
		// AWS SMS (SNS)
		{
			Name:      "aws-sns-sender-id",
			Usage:     "The sender ID of the AWS account sending the SMS message. Uses AWS SNS.",
			OptType:   types.String,
			ConfigKey: &opts.AWSSNSSenderID,
			Required:  false,
		},
		// AWS Email (SES)
		{
			Name:      "aws-ses-sender-id",
			Usage:     "The email address that AWS will use to send emails. Uses AWS SES.",
			OptType:   types.String,
			ConfigKey: &opts.AWSSESSenderID,
			Required:  false,
		},
	}
}

// ChannelRoutingOptions selects the primary and fallback provider per
// notification channel. A channel with no primary is not registered on the
// dispatcher and sends through it are skipped.
type ChannelRoutingOptions struct {
	SMSPrimaryType      message.MessengerType
	SMSFallbackType     message.MessengerType
	WhatsAppPrimaryType message.MessengerType
	EmailPrimaryType    message.MessengerType
	EmailFallbackType   message.MessengerType
}

// ChannelRoutingConfigOptions returns the config options for per-channel provider routing.
func ChannelRoutingConfigOptions(opts *ChannelRoutingOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "sms-primary-provider",
			Usage:          fmt.Sprintf("Primary SMS provider. Options: %+v", message.MessengerType("").ValidSMSTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionMessengerType,
			ConfigKey:      &opts.SMSPrimaryType,
			FlagDefault:    string(message.MessengerTypeDryRun),
			Required:       true,
		},
		{
			Name:           "sms-fallback-provider",
			Usage:          fmt.Sprintf("Fallback SMS provider used when the primary is unhealthy. Options: %+v", message.MessengerType("").ValidSMSTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionOptionalMessengerType,
			ConfigKey:      &opts.SMSFallbackType,
			Required:       false,
		},
		{
			Name:           "whatsapp-primary-provider",
			Usage:          fmt.Sprintf("Primary WhatsApp provider. Options: %+v", message.MessengerType("").ValidWhatsAppTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionOptionalMessengerType,
			ConfigKey:      &opts.WhatsAppPrimaryType,
			Required:       false,
		},
		{
			Name:           "email-primary-provider",
			Usage:          fmt.Sprintf("Primary email provider. Options: %+v", message.MessengerType("").ValidEmailTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionOptionalMessengerType,
			ConfigKey:      &opts.EmailPrimaryType,
			Required:       false,
		},
		{
			Name:           "email-fallback-provider",
			Usage:          fmt.Sprintf("Fallback email provider used when the primary is unhealthy. Options: %+v", message.MessengerType("").ValidEmailTypes()),
			OptType:        types.String,
			CustomSetValue: SetConfigOptionOptionalMessengerType,
			ConfigKey:      &opts.EmailFallbackType,
			Required:       false,
		},
	}
}

// MobileMoneyOptions holds the mobile-money gateway credentials.
type MobileMoneyOptions struct {
	BaseURL           string
	APIKey            string
	MerchantShortCode string
}

// MobileMoneyConfigOptions returns the config options for the mobile-money gateway.
func MobileMoneyConfigOptions(opts *MobileMoneyOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "mobile-money-base-url",
			Usage:          "The base URL of the mobile-money gateway API",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionURLString,
			ConfigKey:      &opts.BaseURL,
			Required:       true,
		},
		{
			Name:      "mobile-money-api-key",
			Usage:     "The API key used to authenticate against the mobile-money gateway",
			OptType:   types.String,
			ConfigKey: &opts.APIKey,
			Required:  true,
		},
		{
			Name:      "mobile-money-merchant-shortcode",
			Usage:     "The merchant short code that collects payments and funds payouts",
			OptType:   types.String,
			ConfigKey: &opts.MerchantShortCode,
			Required:  true,
		},
	}
}

// EventBrokerOptions holds the event broker selection and the Kafka connection
// settings used when the broker type is KAFKA.
type EventBrokerOptions struct {
	EventBrokerType  events.EventBrokerType
	BrokerURLs       []string
	SecurityProtocol events.KafkaSecurityProtocol
	SASLUsername     string
	SASLPassword     string
	ConsumerGroupID  string
}

// EventBrokerConfigOptions returns the config options for the event broker.
func EventBrokerConfigOptions(opts *EventBrokerOptions) []*config.ConfigOption {
	return []*config.ConfigOption{
		{
			Name:           "event-broker-type",
			Usage:          `Event broker type. Options: "KAFKA", "NONE"`,
			OptType:        types.String,
			CustomSetValue: SetConfigOptionEventBrokerType,
			ConfigKey:      &opts.EventBrokerType,
			FlagDefault:    string(events.NoneEventBrokerType),
			Required:       true,
		},
		{
			Name:           "broker-urls",
			Usage:          "List of Broker URLs comma separated",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionStringList,
			ConfigKey:      &opts.BrokerURLs,
			Required:       false,
		},
		{
			Name:           "kafka-security-protocol",
			Usage:          "Kafka security protocol. Options: PLAINTEXT, SASL_PLAINTEXT, SASL_SSL, SSL",
			OptType:        types.String,
			CustomSetValue: SetConfigOptionKafkaSecurityProtocol,
			ConfigKey:      &opts.SecurityProtocol,
			FlagDefault:    string(events.KafkaProtocolPlaintext),
			Required:       false,
		},
		{
			Name:      "kafka-sasl-username",
			Usage:     "Kafka SASL username, required when the security protocol is SASL_PLAINTEXT or SASL_SSL",
			OptType:   types.String,
			ConfigKey: &opts.SASLUsername,
			Required:  false,
		},
		{
			Name:      "kafka-sasl-password",
			Usage:     "Kafka SASL password, required when the security protocol is SASL_PLAINTEXT or SASL_SSL",
			OptType:   types.String,
			ConfigKey: &opts.SASLPassword,
			Required:  false,
		},
		{
			Name:        "event-consumer-group-id",
			Usage:       "The consumer group ID shared by the Kafka consumers of this deployment",
			OptType:     types.String,
			ConfigKey:   &opts.ConsumerGroupID,
			FlagDefault: "bodasure-backend",
			Required:    false,
		},
	}
}

// KafkaConfig builds the Kafka connection config from the broker options.
func KafkaConfig(opts EventBrokerOptions) events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:          opts.BrokerURLs,
		SecurityProtocol: opts.SecurityProtocol,
		SASLUsername:     opts.SASLUsername,
		SASLPassword:     opts.SASLPassword,
	}
}

func CrashTrackerTypeConfigOption(targetPointer interface{}) *config.ConfigOption {
	return &config.ConfigOption{
		Name:           "crash-tracker-type",
		Usage:          `Crash tracker type. Options: "SENTRY", "DRY_RUN"`,
		OptType:        types.String,
		CustomSetValue: SetConfigOptionCrashTrackerType,
		ConfigKey:      targetPointer,
		FlagDefault:    string(crashtracker.CrashTrackerTypeDryRun),
		Required:       true,
	}
}
