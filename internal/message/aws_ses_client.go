package message

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/shopspring/decimal"

	"github.com/bodasure/bodasure-backend/internal/htmltemplate"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// awsSESInterface is used to send emails.
type awsSESInterface interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	GetSendQuota(ctx context.Context, params *ses.GetSendQuotaInput, optFns ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error)
}

// awsSESClient is used to send emails.
type awsSESClient struct {
	emailService awsSESInterface
	senderID     string
}

func (a *awsSESClient) MessengerType() MessengerType {
	return MessengerTypeAWSEmail
}

func (a *awsSESClient) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	err := message.ValidateFor(a.MessengerType())
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating message to send an email through AWS: %w", err)}
	}

	emailInput, err := generateAWSEmail(message, a.senderID)
	if err != nil {
		return SendResult{}, fmt.Errorf("generating AWS SES email: %w", err)
	}

	resp, err := a.emailService.SendEmail(ctx, emailInput)
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("sending AWS SES email: %w", err)}
	}

	result := SendResult{MessengerType: a.MessengerType()}
	if resp.MessageId != nil {
		result.ExternalMessageID = *resp.MessageId
	}

	log.Ctx(ctx).Debugf("AWS SES sent an email to the address %q", utils.TruncateString(message.ToEmail, 3))
	return result, nil
}

func (a *awsSESClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	return sendBulkSequential(ctx, a, messages), nil
}

func (a *awsSESClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, ErrBalanceNotSupported
}

func (a *awsSESClient) IsHealthy(ctx context.Context) error {
	_, err := a.emailService.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	if err != nil {
		return fmt.Errorf("aws SES health check: %w", err)
	}
	return nil
}

// generateAWSEmail generates the email object to send an email through AWS SES.
func generateAWSEmail(message Message, sender string) (*ses.SendEmailInput, error) {
	html, err := htmltemplate.ExecuteHTMLTemplateForEmailEmptyBody(htmltemplate.EmptyBodyEmailTemplate{Body: template.HTML(message.Body)})
	if err != nil {
		return nil, fmt.Errorf("generating html template: %w", err)
	}

	return &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{message.ToEmail},
		},
		Message: &types.Message{
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String("utf-8"),
					Data:    aws.String(html),
				},
			},
			Subject: &types.Content{
				Charset: aws.String("utf-8"),
				Data:    aws.String(message.Title),
			},
		},
		Source: aws.String(sender),
	}, nil
}

// NewAWSSESClient creates a new AWS SES client, that is used to send emails.
func NewAWSSESClient(accessKeyID, secretAccessKey, region, senderID string) (*awsSESClient, error) {
	senderID = strings.TrimSpace(senderID)
	if err := utils.ValidateEmail(senderID); err != nil {
		return nil, fmt.Errorf("aws SES (email) senderID is invalid: %w", err)
	}

	cfg, err := loadAWSConfig(accessKeyID, secretAccessKey, region)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for SES: %w", err)
	}

	return &awsSESClient{
		senderID:     senderID,
		emailService: ses.NewFromConfig(cfg),
	}, nil
}

var _ MessengerClient = (*awsSESClient)(nil)
