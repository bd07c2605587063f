package message

import (
	"fmt"
	"strings"

	"github.com/bodasure/bodasure-backend/internal/utils"
)

// Message is a channel-agnostic payload handed to a MessengerClient. Body is
// already rendered; TemplateVariables are kept alongside for providers that
// deliver through pre-approved templates (WhatsApp) instead of free-form text.
type Message struct {
	ToPhoneNumber string
	ToEmail       string
	Title         string
	Body          string
	// Type is the notification event type (e.g. POLICY_ISSUED) and selects
	// the provider-side template where one is required.
	Type              string
	TemplateVariables map[string]string
	// AttachmentURL optionally points at a document to deliver with the
	// message, e.g. the certificate of insurance.
	AttachmentURL string
}

// ValidateFor validates if the message object is valid for the given messengerType.
func (s *Message) ValidateFor(messengerType MessengerType) error {
	if messengerType.IsSMS() || messengerType.IsWhatsApp() {
		if err := utils.ValidatePhoneNumber(s.ToPhoneNumber); err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}
	}

	if messengerType.IsWhatsApp() {
		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("message type is required for WhatsApp template delivery")
		}
	}

	if messengerType.IsEmail() {
		if err := utils.ValidateEmail(s.ToEmail); err != nil {
			return fmt.Errorf("invalid message: %w", err)
		}

		if strings.Trim(s.Title, " ") == "" {
			return fmt.Errorf("title is empty")
		}
	}

	if strings.Trim(s.Body, " ") == "" {
		return fmt.Errorf("message is empty")
	}

	return nil
}

// SupportedChannels reports which channels this message carries enough
// addressing information for.
func (s Message) SupportedChannels() []MessageChannel {
	var channels []MessageChannel

	if utils.ValidatePhoneNumber(s.ToPhoneNumber) == nil {
		channels = append(channels, MessageChannelSMS, MessageChannelWhatsApp)
	}

	if utils.ValidateEmail(s.ToEmail) == nil {
		channels = append(channels, MessageChannelEmail)
	}

	return channels
}

// String redacts the recipient details so a Message can be logged safely.
func (s Message) String() string {
	return fmt.Sprintf("Message{type: %s, phone: %s, email: %s}",
		s.Type,
		utils.TruncateString(s.ToPhoneNumber, 3),
		utils.TruncateString(s.ToEmail, 3))
}
