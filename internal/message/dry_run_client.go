package message

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type dryRunClient struct{}

func (c *dryRunClient) SendMessage(_ context.Context, message Message) (SendResult, error) {
	recipient := message.ToEmail
	if message.ToEmail == "" {
		recipient = message.ToPhoneNumber
	}

	fmt.Println(strings.Repeat("-", 79))
	fmt.Println("Recipient:", recipient)
	fmt.Println("Subject:", message.Title)
	fmt.Println("Content:", message.Body)
	fmt.Println(strings.Repeat("-", 79))

	return SendResult{
		MessengerType:     c.MessengerType(),
		ExternalMessageID: "dry-run-" + uuid.NewString(),
	}, nil
}

func (c *dryRunClient) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	return sendBulkSequential(ctx, c, messages), nil
}

func (c *dryRunClient) Balance(_ context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (c *dryRunClient) IsHealthy(_ context.Context) error {
	return nil
}

func (c *dryRunClient) MessengerType() MessengerType {
	return MessengerTypeDryRun
}

func NewDryRunClient() (MessengerClient, error) {
	return &dryRunClient{}, nil
}

var _ MessengerClient = (*dryRunClient)(nil)
