package message

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies a provider failure so the dispatcher can decide
// whether retrying the same provider, or failing over to another one, can
// possibly succeed.
type ErrorCategory string

const (
	// ErrorCategoryInvalidMessage means the message failed local validation.
	ErrorCategoryInvalidMessage ErrorCategory = "INVALID_MESSAGE"
	// ErrorCategoryInvalidRecipient means the destination address itself is bad.
	ErrorCategoryInvalidRecipient ErrorCategory = "INVALID_RECIPIENT"
	// ErrorCategoryRecipientBlacklisted means the recipient opted out or was blocked upstream.
	ErrorCategoryRecipientBlacklisted ErrorCategory = "RECIPIENT_BLACKLISTED"
	// ErrorCategoryInvalidSender means the configured sender/short code was rejected.
	ErrorCategoryInvalidSender ErrorCategory = "INVALID_SENDER"
	// ErrorCategoryAuthFailed means the provider rejected our credentials.
	ErrorCategoryAuthFailed ErrorCategory = "AUTH_FAILED"
	// ErrorCategoryRateLimited means the provider asked us to slow down.
	ErrorCategoryRateLimited ErrorCategory = "RATE_LIMITED"
	// ErrorCategoryProviderError covers transient provider-side failures.
	ErrorCategoryProviderError ErrorCategory = "PROVIDER_ERROR"
)

// SendError is a categorized provider failure. Code carries the provider's own
// error code verbatim.
type SendError struct {
	Category ErrorCategory
	Code     string
	Err      error
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] (code=%s) %v", e.Category, e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same provider could succeed.
func (e *SendError) Retryable() bool {
	switch e.Category {
	case ErrorCategoryInvalidMessage, ErrorCategoryInvalidRecipient, ErrorCategoryRecipientBlacklisted, ErrorCategoryInvalidSender, ErrorCategoryAuthFailed:
		return false
	default:
		return true
	}
}

// IsRetryable reports whether err is worth retrying against the same provider.
// Errors that are not SendErrors are treated as retryable.
func IsRetryable(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable()
	}
	return true
}

// ShouldFailover reports whether switching to another provider could succeed.
// Recipient-level failures follow the recipient to every provider, so failing
// over on them only burns quota.
func ShouldFailover(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		switch sendErr.Category {
		case ErrorCategoryInvalidMessage, ErrorCategoryInvalidRecipient, ErrorCategoryRecipientBlacklisted:
			return false
		}
	}
	return true
}
