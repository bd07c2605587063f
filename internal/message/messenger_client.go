package message

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrBalanceNotSupported is returned by messengers whose provider has no
// account-balance endpoint.
var ErrBalanceNotSupported = errors.New("balance is not supported by this messenger")

// SendResult carries the provider-assigned identifiers of an accepted message.
type SendResult struct {
	MessengerType     MessengerType
	ExternalMessageID string
}

// BulkSendResult reports the outcome of one message inside a SendBulk call.
// Index refers to the position in the submitted slice.
type BulkSendResult struct {
	Index  int
	Result SendResult
	Err    error
}

type MessengerClient interface {
	SendMessage(ctx context.Context, message Message) (SendResult, error)
	SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error)
	Balance(ctx context.Context) (decimal.Decimal, error)
	IsHealthy(ctx context.Context) error
	MessengerType() MessengerType
}

// sendBulkSequential is the SendBulk fallback for providers without a native
// bulk endpoint.
func sendBulkSequential(ctx context.Context, client MessengerClient, messages []Message) []BulkSendResult {
	results := make([]BulkSendResult, 0, len(messages))
	for i, msg := range messages {
		res, err := client.SendMessage(ctx, msg)
		results = append(results, BulkSendResult{Index: i, Result: res, Err: err})
	}
	return results
}
