package mobilemoney

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError represents the error response from the mobile-money gateway.
type APIError struct {
	RequestID string `json:"request_id,omitempty"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"error_message"`
	// StatusCode is the HTTP status code.
	StatusCode int `json:"status_code,omitempty"`
}

// Error implements the error interface for APIError.
func (e APIError) Error() string {
	return fmt.Sprintf("APIError: ErrorCode=%s, Message=%s, StatusCode=%d", e.ErrorCode, e.Message, e.StatusCode)
}

// IsRetryable reports whether the failure is transient on the gateway side,
// so the payment request can stay INITIATED and be retried.
func (e APIError) IsRetryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// parseAPIError parses the error response from the gateway.
func parseAPIError(resp *http.Response) (*APIError, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading error response body: %w", err)
	}
	defer resp.Body.Close()

	var apiErr APIError
	if err = json.Unmarshal(body, &apiErr); err != nil {
		return nil, fmt.Errorf("unmarshalling error response body: %w", err)
	}
	apiErr.StatusCode = resp.StatusCode

	return &apiErr, nil
}
