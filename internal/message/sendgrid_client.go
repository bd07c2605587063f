package message

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"github.com/bodasure/bodasure-backend/internal/htmltemplate"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type sendGridInterface interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

var _ sendGridInterface = (*sendgrid.Client)(nil)

type sendGridClient struct {
	client        sendGridInterface
	senderAddress string
}

func (t *sendGridClient) MessengerType() MessengerType {
	return MessengerTypeSendGridEmail
}

func (t *sendGridClient) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	err := message.ValidateFor(t.MessengerType())
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating message to send an email through SendGrid: %w", err)}
	}

	from := mail.NewEmail("", t.senderAddress)
	to := mail.NewEmail("", message.ToEmail)

	emailBody := message.Body
	if !strings.Contains(emailBody, "<html") {
		var htmlErr error
		emailBody, htmlErr = htmltemplate.ExecuteHTMLTemplateForEmailEmptyBody(htmltemplate.EmptyBodyEmailTemplate{Body: template.HTML(emailBody)})
		if htmlErr != nil {
			return SendResult{}, fmt.Errorf("generating html template: %w", htmlErr)
		}
	}

	email := mail.NewSingleEmail(from, message.Title, to, "", emailBody)

	response, err := t.client.Send(email)
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("sending SendGrid email: %w", err)}
	}

	if response.StatusCode >= 400 {
		return SendResult{}, &SendError{
			Category: categorizeSendGridStatus(response.StatusCode),
			Code:     fmt.Sprintf("%d", response.StatusCode),
			Err:      fmt.Errorf("sendGrid API returned error status code= %d, body= %s", response.StatusCode, response.Body),
		}
	}

	result := SendResult{MessengerType: t.MessengerType()}
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		result.ExternalMessageID = ids[0]
	}

	log.Ctx(ctx).Debugf("SendGrid sent an email to the address %q", utils.TruncateString(message.ToEmail, 3))
	return result, nil
}

func (t *sendGridClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	return sendBulkSequential(ctx, t, messages), nil
}

func (t *sendGridClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, ErrBalanceNotSupported
}

func (t *sendGridClient) IsHealthy(ctx context.Context) error {
	return nil
}

func categorizeSendGridStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorCategoryAuthFailed
	case http.StatusTooManyRequests:
		return ErrorCategoryRateLimited
	default:
		return ErrorCategoryProviderError
	}
}

// NewSendGridClient creates a new SendGrid client that is used to send emails
func NewSendGridClient(apiKey string, senderAddress string) (MessengerClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("sendGrid API key is empty")
	}

	senderAddress = strings.TrimSpace(senderAddress)
	if err := utils.ValidateEmail(senderAddress); err != nil {
		return nil, fmt.Errorf("sendGrid senderAddress is invalid: %w", err)
	}

	return &sendGridClient{
		client:        sendgrid.NewSendClient(apiKey),
		senderAddress: senderAddress,
	}, nil
}

var _ MessengerClient = (*sendGridClient)(nil)
