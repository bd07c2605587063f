package message

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type twilioAPIInterface interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	FetchBalance(params *twilioApi.FetchBalanceParams) (*twilioApi.ApiV2010Balance, error)
}

type twilioClient struct {
	apiService twilioAPIInterface
	senderID   string
}

func (t *twilioClient) MessengerType() MessengerType {
	return MessengerTypeTwilioSMS
}

func (t *twilioClient) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	err := message.ValidateFor(t.MessengerType())
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating SMS message: %w", err)}
	}

	resp, err := t.apiService.CreateMessage(&twilioApi.CreateMessageParams{
		To:                  &message.ToPhoneNumber,
		Body:                &message.Body,
		MessagingServiceSid: &t.senderID,
	})
	if err != nil {
		return SendResult{}, wrapTwilioError(err, "sending Twilio SMS")
	}

	if resp.ErrorCode != nil || resp.ErrorMessage != nil {
		return SendResult{}, twilioEmbeddedError(resp)
	}

	result := SendResult{MessengerType: t.MessengerType()}
	if resp.Sid != nil {
		result.ExternalMessageID = *resp.Sid
	}

	log.Ctx(ctx).Debugf("Twilio sent an SMS to the phoneNumber %q", utils.TruncateString(message.ToPhoneNumber, 3))
	return result, nil
}

func (t *twilioClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	return sendBulkSequential(ctx, t, messages), nil
}

func (t *twilioClient) Balance(ctx context.Context) (decimal.Decimal, error) {
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

func (t *twilioClient) IsHealthy(ctx context.Context) error {
	if _, err := t.Balance(ctx); err != nil {
		return fmt.Errorf("twilio health check: %w", err)
	}
	return nil
}

// categorizeTwilioCode maps Twilio error codes to retry categories. Reference:
// https://www.twilio.com/docs/api/errors
func categorizeTwilioCode(code int) ErrorCategory {
	switch code {
	case 21211, 21217, 21614:
		return ErrorCategoryInvalidRecipient
	case 21610:
		return ErrorCategoryRecipientBlacklisted
	case 21606, 21612, 21659:
		return ErrorCategoryInvalidSender
	case 20003:
		return ErrorCategoryAuthFailed
	case 20429:
		return ErrorCategoryRateLimited
	default:
		return ErrorCategoryProviderError
	}
}

func wrapTwilioError(err error, msg string) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)

	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		return &SendError{
			Category: categorizeTwilioCode(restErr.Code),
			Code:     strconv.Itoa(restErr.Code),
			Err:      wrapped,
		}
	}

	return &SendError{Category: ErrorCategoryProviderError, Err: wrapped}
}

func twilioEmbeddedError(resp *twilioApi.ApiV2010Message) error {
	var errorCode string
	category := ErrorCategoryProviderError
	if resp.ErrorCode != nil {
		errorCode = strconv.Itoa(*resp.ErrorCode)
		category = categorizeTwilioCode(*resp.ErrorCode)
	}

	var errorMessage string
	if resp.ErrorMessage != nil {
		errorMessage = *resp.ErrorMessage
	}

	return &SendError{
		Category: category,
		Code:     errorCode,
		Err:      fmt.Errorf("sending Twilio message returned an error {code= %q, message= %q}", errorCode, errorMessage),
	}
}

func NewTwilioClient(accountSid, authToken, senderID string) (*twilioClient, error) {
	accountSid = strings.TrimSpace(accountSid)
	if accountSid == "" {
		return nil, fmt.Errorf("twilio accountSid is empty")
	}

	authToken = strings.TrimSpace(authToken)
	if authToken == "" {
		return nil, fmt.Errorf("twilio authToken is empty")
	}

	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, fmt.Errorf("twilio senderID is empty")
	}

	return &twilioClient{
		apiService: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSid,
			Password: authToken,
		}).Api,
		senderID: senderID,
	}, nil
}

var _ MessengerClient = (*twilioClient)(nil)
