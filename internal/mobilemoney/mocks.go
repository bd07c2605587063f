package mobilemoney

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type ClientMock struct {
	mock.Mock
}

func (c *ClientMock) Ping(ctx context.Context) (bool, error) {
	args := c.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (c *ClientMock) InitiatePush(ctx context.Context, pushRequest PushRequest) (*PushResponse, error) {
	args := c.Called(ctx, pushRequest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PushResponse), args.Error(1)
}

func (c *ClientMock) QueryStatus(ctx context.Context, checkoutID string) (*StatusResponse, error) {
	args := c.Called(ctx, checkoutID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StatusResponse), args.Error(1)
}

func (c *ClientMock) InitiatePayout(ctx context.Context, payoutRequest PayoutRequest) (*PayoutResponse, error) {
	args := c.Called(ctx, payoutRequest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PayoutResponse), args.Error(1)
}

var _ ClientInterface = (*ClientMock)(nil)
