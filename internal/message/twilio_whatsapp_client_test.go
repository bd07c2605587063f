package message

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

func Test_NewTwilioWhatsAppClient(t *testing.T) {
	validTemplates := map[string]string{"POLICY_ISSUED": "HXabcdef123456784"}

	testCases := []struct {
		name       string
		accountSid string
		authToken  string
		fromNumber string
		templates  map[string]string
		wantErr    string
	}{
		{
			name:    "accountSid cannot be empty",
			wantErr: "twilio WhatsApp accountSid is empty",
		},
		{
			name:       "authToken cannot be empty",
			accountSid: "AC123456789",
			wantErr:    "twilio WhatsApp authToken is empty",
		},
		{
			name:       "fromNumber cannot be empty",
			accountSid: "AC123456789",
			authToken:  "auth-token",
			wantErr:    "twilio WhatsApp fromNumber is empty",
		},
		{
			name:       "fromNumber must be a valid phone number",
			accountSid: "AC123456789",
			authToken:  "auth-token",
			fromNumber: "whatsapp:not-a-number",
			templates:  validTemplates,
			wantErr:    "twilio WhatsApp fromNumber is invalid: the provided phone number is not a valid E.164 number",
		},
		{
			name:       "every configured message type needs a template SID",
			accountSid: "AC123456789",
			authToken:  "auth-token",
			fromNumber: "+14155238886",
			templates:  map[string]string{},
			wantErr:    "missing template SID for message type POLICY_ISSUED",
		},
		{
			name:       "all fields are present 🎉",
			accountSid: "AC123456789",
			authToken:  "auth-token",
			fromNumber: "whatsapp:+14155238886",
			templates:  validTemplates,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gotClient, err := NewTwilioWhatsAppClient(tc.accountSid, tc.authToken, tc.fromNumber, tc.templates)
			if tc.wantErr != "" {
				require.Nil(t, gotClient)
				require.EqualError(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				require.IsType(t, &twilioWhatsAppClient{}, gotClient)
			}
		})
	}
}

func Test_TwilioWhatsApp_messengerType(t *testing.T) {
	tw := twilioWhatsAppClient{}
	require.Equal(t, MessengerTypeTwilioWhatsApp, tw.MessengerType())
}

func Test_TwilioWhatsApp_SendMessage_messageIsInvalid(t *testing.T) {
	var mWhatsApp MessengerClient = &twilioWhatsAppClient{}
	_, err := mWhatsApp.SendMessage(context.Background(), Message{ToPhoneNumber: "+254712345678", Body: "foo bar"})
	require.EqualError(t, err, "[INVALID_MESSAGE] validating WhatsApp message: message type is required for WhatsApp template delivery")
	assert.False(t, ShouldFailover(err))
}

func Test_TwilioWhatsApp_SendMessage_noTemplateConfigured(t *testing.T) {
	mWhatsApp := &twilioWhatsAppClient{
		fromNumber: "+14155238886",
		templates:  map[string]string{"POLICY_ISSUED": "HXabcdef123456784"},
	}

	_, err := mWhatsApp.SendMessage(context.Background(), Message{
		ToPhoneNumber: "+254712345678",
		Body:          "foo bar",
		Type:          "PAYMENT_RECEIVED",
	})
	require.EqualError(t, err, `[INVALID_MESSAGE] no WhatsApp template SID configured for message type "PAYMENT_RECEIVED"`)
}

func Test_TwilioWhatsApp_SendMessage_missingTemplateVariable(t *testing.T) {
	mWhatsApp := &twilioWhatsAppClient{
		fromNumber: "+14155238886",
		templates:  map[string]string{"POLICY_ISSUED": "HXabcdef123456784"},
	}

	_, err := mWhatsApp.SendMessage(context.Background(), Message{
		ToPhoneNumber: "+254712345678",
		Body:          "foo bar",
		Type:          "POLICY_ISSUED",
		TemplateVariables: map[string]string{
			"PolicyNumber": "POL-20250301-B2-000045",
			"CoverageEnd":  "2026-03-01",
		},
	})
	require.EqualError(t, err, "[INVALID_MESSAGE] formatting WhatsApp content variables: missing required template variable CertificateURL for message type POLICY_ISSUED")
}

func Test_TwilioWhatsApp_SendMessage_success(t *testing.T) {
	toWhatsApp := "whatsapp:+254712345678"
	fromWhatsApp := "whatsapp:+14155238886"
	testSid := "SM2222222222222222222222222222222a"

	wantParams := &twilioApi.CreateMessageParams{
		To:   &toWhatsApp,
		From: &fromWhatsApp,
	}
	wantParams.SetContentSid("HXabcdef123456784")
	wantParams.SetContentVariables(`{"1":"POL-20250301-B2-000045","2":"2026-03-01","3":"https://certs.bodasure.co.ke/c/abc123"}`)
	wantParams.SetMediaUrl([]string{"https://certs.bodasure.co.ke/c/abc123"})

	mTwilioAPI := newMockTwilioAPI(t)
	mTwilioAPI.
		On("CreateMessage", wantParams).
		Return(&twilioApi.ApiV2010Message{Sid: &testSid}, nil).
		Once()

	mWhatsApp := &twilioWhatsAppClient{
		apiService: mTwilioAPI,
		fromNumber: "+14155238886",
		templates:  map[string]string{"POLICY_ISSUED": "HXabcdef123456784"},
	}

	gotResult, err := mWhatsApp.SendMessage(context.Background(), Message{
		ToPhoneNumber: "+254712345678",
		Body:          "foo bar",
		Type:          "POLICY_ISSUED",
		TemplateVariables: map[string]string{
			"PolicyNumber":   "POL-20250301-B2-000045",
			"CoverageEnd":    "2026-03-01",
			"CertificateURL": "https://certs.bodasure.co.ke/c/abc123",
		},
		AttachmentURL: "https://certs.bodasure.co.ke/c/abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, SendResult{MessengerType: MessengerTypeTwilioWhatsApp, ExternalMessageID: testSid}, gotResult)
}

func Test_formatContentVariables(t *testing.T) {
	t.Run("positions follow the declared template order", func(t *testing.T) {
		got, err := formatContentVariables("POLICY_ISSUED", map[string]string{
			"CertificateURL": "https://example.com/cert",
			"PolicyNumber":   "POL-20250301-B2-000045",
			"CoverageEnd":    "2026-03-01",
			"Extra":          "ignored",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"1":"POL-20250301-B2-000045","2":"2026-03-01","3":"https://example.com/cert"}`, got)
	})

	t.Run("unsupported message type", func(t *testing.T) {
		_, err := formatContentVariables("PAYMENT_RECEIVED", nil)
		require.EqualError(t, err, "unsupported message type PAYMENT_RECEIVED for WhatsApp template variables")
	})

	t.Run("missing variable", func(t *testing.T) {
		_, err := formatContentVariables("POLICY_ISSUED", map[string]string{"PolicyNumber": "POL-1"})
		require.EqualError(t, err, "missing required template variable CoverageEnd for message type POLICY_ISSUED")
	})
}

func Test_formatWhatsAppNumber(t *testing.T) {
	assert.Equal(t, "whatsapp:+254712345678", formatWhatsAppNumber("+254712345678"))
	assert.Equal(t, "whatsapp:+254712345678", formatWhatsAppNumber("whatsapp:+254712345678"))
	assert.Equal(t, "whatsapp:+254712345678", formatWhatsAppNumber("  +254712345678  "))
}
