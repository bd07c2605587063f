package mobilemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/serve/httpclient"
	"github.com/bodasure/bodasure-backend/internal/utils"
)

const (
	pingPath   = "/ping"
	pushPath   = "/v1/stkpush"
	statusPath = "/v1/payments"
	payoutPath = "/v1/payouts"
)

// ClientInterface defines the interface for interacting with the mobile-money
// gateway.
type ClientInterface interface {
	Ping(ctx context.Context) (bool, error)
	InitiatePush(ctx context.Context, pushRequest PushRequest) (*PushResponse, error)
	QueryStatus(ctx context.Context, checkoutID string) (*StatusResponse, error)
	InitiatePayout(ctx context.Context, payoutRequest PayoutRequest) (*PayoutResponse, error)
}

// Client provides methods to interact with the mobile-money gateway.
type Client struct {
	BasePath   string
	APIKey     string
	ShortCode  string
	httpClient httpclient.HTTPClientInterface
}

// NewClient creates a new instance of the gateway Client.
func NewClient(basePath, apiKey, shortCode string) *Client {
	return &Client{
		BasePath:   strings.TrimSuffix(basePath, "/"),
		APIKey:     apiKey,
		ShortCode:  shortCode,
		httpClient: httpclient.DefaultClient(),
	}
}

// PushRequest asks the gateway to raise a payment prompt on the rider's phone.
type PushRequest struct {
	Phone            string       `json:"phone_number"`
	Amount           money.Amount `json:"-"`
	AccountReference string       `json:"account_reference"`
	Description      string       `json:"description"`
}

func (pr PushRequest) validate() error {
	if err := utils.ValidatePhoneNumber(pr.Phone); err != nil {
		return fmt.Errorf("validating phone number: %w", err)
	}
	if !pr.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if strings.TrimSpace(pr.AccountReference) == "" {
		return fmt.Errorf("account reference must be provided")
	}
	return nil
}

// PushResponse is the gateway's synchronous acknowledgment. The outcome of the
// prompt arrives later on the callback URL.
type PushResponse struct {
	CheckoutID          string `json:"checkout_request_id"`
	MerchantRequestID   string `json:"merchant_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

// StatusResponse is the provider's view of one checkout. ResultCode stays nil
// while the prompt is still open on the handset.
type StatusResponse struct {
	CheckoutID        string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	ResultCode        *int   `json:"result_code"`
	ResultDescription string `json:"result_description"`
	ReceiptNumber     string `json:"receipt_number"`
}

// IsPending reports whether the provider has not settled the checkout yet.
func (sr StatusResponse) IsPending() bool {
	return sr.ResultCode == nil
}

// ToCallbackResult synthesizes a callback-shaped result from a status poll so
// both paths feed the same settlement code.
func (sr StatusResponse) ToCallbackResult() (*CallbackResult, error) {
	if sr.IsPending() {
		return nil, fmt.Errorf("checkout %s is still pending", sr.CheckoutID)
	}

	raw, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("marshalling status response: %w", err)
	}

	return &CallbackResult{
		CheckoutID:        sr.CheckoutID,
		MerchantRequestID: sr.MerchantRequestID,
		ResultCode:        *sr.ResultCode,
		ResultDescription: sr.ResultDescription,
		ReceiptNumber:     sr.ReceiptNumber,
		Raw:               raw,
	}, nil
}

// PayoutRequest sends money out to a rider's phone (refunds).
type PayoutRequest struct {
	Phone       string       `json:"phone_number"`
	Amount      money.Amount `json:"-"`
	Reference   string       `json:"reference"`
	Description string       `json:"description"`
}

func (pr PayoutRequest) validate() error {
	if err := utils.ValidatePhoneNumber(pr.Phone); err != nil {
		return fmt.Errorf("validating phone number: %w", err)
	}
	if !pr.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if strings.TrimSpace(pr.Reference) == "" {
		return fmt.Errorf("reference must be provided")
	}
	return nil
}

// PayoutResponse acknowledges an accepted payout.
type PayoutResponse struct {
	PayoutID            string `json:"payout_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
}

// Ping checks that the gateway is reachable.
func (client *Client) Ping(ctx context.Context) (bool, error) {
	u, err := url.JoinPath(client.BasePath, pingPath)
	if err != nil {
		return false, fmt.Errorf("building path: %w", err)
	}

	resp, err := client.request(ctx, u, http.MethodGet, false, nil)
	if err != nil {
		return false, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var pingResp struct {
		Message string `json:"message"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&pingResp); err != nil {
		return false, err
	}

	if pingResp.Message == "pong" {
		return true, nil
	}

	return false, fmt.Errorf("unexpected response message: %s", pingResp.Message)
}

// InitiatePush asks the gateway to raise the payment prompt. A nil error means
// the gateway accepted the request, not that the rider paid.
func (client *Client) InitiatePush(ctx context.Context, pushRequest PushRequest) (*PushResponse, error) {
	if err := pushRequest.validate(); err != nil {
		return nil, fmt.Errorf("validating push request: %w", err)
	}

	u, err := url.JoinPath(client.BasePath, pushPath)
	if err != nil {
		return nil, fmt.Errorf("building path: %w", err)
	}

	wireRequest := struct {
		PushRequest
		ShortCode string `json:"short_code"`
		Amount    string `json:"amount"`
	}{
		PushRequest: pushRequest,
		ShortCode:   client.ShortCode,
		Amount:      pushRequest.Amount.Decimal().StringFixed(2),
	}

	pushData, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, err
	}

	resp, err := client.request(ctx, u, http.MethodPost, true, bytes.NewBuffer(pushData))
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing API error: %w", parseErr)
		}
		return nil, fmt.Errorf("API error: %w", apiError)
	}

	return parseResponse[PushResponse](resp)
}

// QueryStatus polls the provider for the outcome of one checkout.
func (client *Client) QueryStatus(ctx context.Context, checkoutID string) (*StatusResponse, error) {
	if strings.TrimSpace(checkoutID) == "" {
		return nil, fmt.Errorf("checkout ID must be provided")
	}

	u, err := url.JoinPath(client.BasePath, statusPath, checkoutID, "status")
	if err != nil {
		return nil, fmt.Errorf("building path: %w", err)
	}

	resp, err := client.request(ctx, u, http.MethodGet, true, nil)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing API error: %w", parseErr)
		}
		return nil, fmt.Errorf("API error: %w", apiError)
	}

	return parseResponse[StatusResponse](resp)
}

// InitiatePayout sends a refund to the rider's phone.
func (client *Client) InitiatePayout(ctx context.Context, payoutRequest PayoutRequest) (*PayoutResponse, error) {
	if err := payoutRequest.validate(); err != nil {
		return nil, fmt.Errorf("validating payout request: %w", err)
	}

	u, err := url.JoinPath(client.BasePath, payoutPath)
	if err != nil {
		return nil, fmt.Errorf("building path: %w", err)
	}

	wireRequest := struct {
		PayoutRequest
		ShortCode string `json:"short_code"`
		Amount    string `json:"amount"`
	}{
		PayoutRequest: payoutRequest,
		ShortCode:     client.ShortCode,
		Amount:        payoutRequest.Amount.Decimal().StringFixed(2),
	}

	payoutData, err := json.Marshal(wireRequest)
	if err != nil {
		return nil, err
	}

	resp, err := client.request(ctx, u, http.MethodPost, true, bytes.NewBuffer(payoutData))
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiError, parseErr := parseAPIError(resp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing API error: %w", parseErr)
		}
		return nil, fmt.Errorf("API error: %w", apiError)
	}

	return parseResponse[PayoutResponse](resp)
}

// request makes an HTTP request to the gateway.
func (client *Client) request(ctx context.Context, u string, method string, isAuthed bool, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	if isAuthed {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", client.APIKey))
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return client.httpClient.Do(req)
}

func parseResponse[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()

	var parsed T
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}

	return &parsed, nil
}

var _ ClientInterface = (*Client)(nil)
