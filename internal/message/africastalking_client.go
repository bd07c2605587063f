package message

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bodasure/bodasure-backend/internal/serve/httpclient"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	africasTalkingDefaultBasePath = "https://api.africastalking.com"
	africasTalkingMessagingPath   = "/version1/messaging"
	africasTalkingUserPath        = "/version1/user"
)

// africasTalkingClient talks to the Africa's Talking bulk SMS REST API.
// https://developers.africastalking.com/docs/sms/overview
type africasTalkingClient struct {
	basePath   string
	apiKey     string
	username   string
	senderID   string
	httpClient httpclient.HTTPClientInterface
}

type atRecipient struct {
	Number     string `json:"number"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Cost       string `json:"cost"`
	MessageID  string `json:"messageId"`
}

type atSendResponse struct {
	SMSMessageData struct {
		Message    string        `json:"Message"`
		Recipients []atRecipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (c *africasTalkingClient) MessengerType() MessengerType {
	return MessengerTypeAfricasTalkingSMS
}

func (c *africasTalkingClient) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	err := message.ValidateFor(c.MessengerType())
	if err != nil {
		return SendResult{}, &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating SMS message: %w", err)}
	}

	recipients, err := c.submit(ctx, []string{message.ToPhoneNumber}, message.Body)
	if err != nil {
		return SendResult{}, err
	}

	if len(recipients) == 0 {
		return SendResult{}, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("africa's talking accepted no recipients")}
	}

	recipient := recipients[0]
	if !atStatusAccepted(recipient.StatusCode) {
		return SendResult{}, atRecipientError(recipient)
	}

	log.Ctx(ctx).Debugf("Africa's Talking sent an SMS to the phoneNumber %q", utils.TruncateString(message.ToPhoneNumber, 3))
	return SendResult{MessengerType: c.MessengerType(), ExternalMessageID: recipient.MessageID}, nil
}

// SendBulk submits the whole batch in one gateway call when every recipient
// gets the same text, which is how campaign-style notifications arrive here.
// Mixed bodies fall back to sequential sends.
func (c *africasTalkingClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	for i := 1; i < len(messages); i++ {
		if messages[i].Body != messages[0].Body {
			return sendBulkSequential(ctx, c, messages), nil
		}
	}

	results := make([]BulkSendResult, len(messages))
	byNumber := make(map[string][]int, len(messages))
	to := make([]string, 0, len(messages))
	for i, msg := range messages {
		results[i].Index = i
		if err := msg.ValidateFor(c.MessengerType()); err != nil {
			results[i].Err = &SendError{Category: ErrorCategoryInvalidMessage, Err: fmt.Errorf("validating SMS message: %w", err)}
			continue
		}
		byNumber[msg.ToPhoneNumber] = append(byNumber[msg.ToPhoneNumber], i)
		to = append(to, msg.ToPhoneNumber)
	}

	if len(to) == 0 {
		return results, nil
	}

	recipients, err := c.submit(ctx, to, messages[0].Body)
	if err != nil {
		return nil, err
	}

	for _, recipient := range recipients {
		idxs := byNumber[recipient.Number]
		if len(idxs) == 0 {
			continue
		}
		i := idxs[0]
		byNumber[recipient.Number] = idxs[1:]

		if atStatusAccepted(recipient.StatusCode) {
			results[i].Result = SendResult{MessengerType: c.MessengerType(), ExternalMessageID: recipient.MessageID}
		} else {
			results[i].Err = atRecipientError(recipient)
		}
	}

	// Recipients the gateway never reported back are failures too.
	for _, idxs := range byNumber {
		for _, i := range idxs {
			results[i].Err = &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("africa's talking returned no status for recipient")}
		}
	}

	return results, nil
}

func (c *africasTalkingClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s%s?username=%s", c.basePath, africasTalkingUserPath, url.QueryEscape(c.username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("creating Africa's Talking user request: %w", err)
	}
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching Africa's Talking balance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("africa's talking user endpoint returned status code= %d, body= %s", resp.StatusCode, string(body))
	}

	var payload struct {
		UserData struct {
			Balance string `json:"balance"`
		} `json:"UserData"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decoding Africa's Talking user response: %w", err)
	}

	// The balance comes back as "KES 1234.56".
	fields := strings.Fields(payload.UserData.Balance)
	if len(fields) == 0 {
		return decimal.Zero, fmt.Errorf("africa's talking balance is empty")
	}

	balance, err := decimal.NewFromString(fields[len(fields)-1])
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing Africa's Talking balance %q: %w", payload.UserData.Balance, err)
	}

	return balance, nil
}

func (c *africasTalkingClient) IsHealthy(ctx context.Context) error {
	if _, err := c.Balance(ctx); err != nil {
		return fmt.Errorf("africa's talking health check: %w", err)
	}
	return nil
}

func (c *africasTalkingClient) submit(ctx context.Context, to []string, body string) ([]atRecipient, error) {
	form := url.Values{
		"username": {c.username},
		"to":       {strings.Join(to, ",")},
		"message":  {body},
	}
	if c.senderID != "" {
		form.Set("from", c.senderID)
	}

	u := c.basePath + africasTalkingMessagingPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("creating Africa's Talking request: %w", err)}
	}
	req.Header.Set("apiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("making Africa's Talking request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &SendError{
			Category: ErrorCategoryAuthFailed,
			Code:     strconv.Itoa(resp.StatusCode),
			Err:      fmt.Errorf("africa's talking rejected the API key"),
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &SendError{
			Category: ErrorCategoryProviderError,
			Code:     strconv.Itoa(resp.StatusCode),
			Err:      fmt.Errorf("africa's talking returned status code= %d, body= %s", resp.StatusCode, string(respBody)),
		}
	}

	var payload atSendResponse
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &SendError{Category: ErrorCategoryProviderError, Err: fmt.Errorf("decoding Africa's Talking response: %w", err)}
	}

	return payload.SMSMessageData.Recipients, nil
}

// atStatusAccepted reports whether a per-recipient status code means the
// message was accepted by the gateway (1xx).
func atStatusAccepted(statusCode int) bool {
	return statusCode >= 100 && statusCode < 200
}

// atRecipientError maps Africa's Talking per-recipient status codes to retry
// categories. Reference: https://developers.africastalking.com/docs/sms/technical
func atRecipientError(recipient atRecipient) error {
	category := ErrorCategoryProviderError
	switch recipient.StatusCode {
	case 402:
		category = ErrorCategoryInvalidSender
	case 403, 404:
		category = ErrorCategoryInvalidRecipient
	case 406:
		category = ErrorCategoryRecipientBlacklisted
	}

	return &SendError{
		Category: category,
		Code:     strconv.Itoa(recipient.StatusCode),
		Err:      fmt.Errorf("africa's talking rejected the message: %s", recipient.Status),
	}
}

// NewAfricasTalkingClient creates a new Africa's Talking client that is used
// to send SMS messages.
func NewAfricasTalkingClient(basePath, apiKey, username, senderID string) (MessengerClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("africa's talking apiKey is empty")
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("africa's talking username is empty")
	}

	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		basePath = africasTalkingDefaultBasePath
	}

	return &africasTalkingClient{
		basePath:   strings.TrimSuffix(basePath, "/"),
		apiKey:     apiKey,
		username:   username,
		senderID:   strings.TrimSpace(senderID),
		httpClient: httpclient.DefaultClient(),
	}, nil
}

var _ MessengerClient = (*africasTalkingClient)(nil)
