package message

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type MessengerClientMock struct {
	mock.Mock
}

func (mc *MessengerClientMock) SendMessage(ctx context.Context, message Message) (SendResult, error) {
	args := mc.Called(ctx, message)
	return args.Get(0).(SendResult), args.Error(1)
}

func (mc *MessengerClientMock) SendBulk(ctx context.Context, messages []Message) ([]BulkSendResult, error) {
	args := mc.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]BulkSendResult), args.Error(1)
}

func (mc *MessengerClientMock) Balance(ctx context.Context) (decimal.Decimal, error) {
	args := mc.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (mc *MessengerClientMock) IsHealthy(ctx context.Context) error {
	args := mc.Called(ctx)
	return args.Error(0)
}

func (mc *MessengerClientMock) MessengerType() MessengerType {
	args := mc.Called()
	return args.Get(0).(MessengerType)
}

type testInterface interface {
	mock.TestingT
	Cleanup(func())
}

// NewMessengerClientMock creates a new instance of MessengerClientMock. It
// also registers a testing interface on the mock and a cleanup function to
// assert the mocks expectations.
func NewMessengerClientMock(t testInterface) *MessengerClientMock {
	m := &MessengerClientMock{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ MessengerClient = (*MessengerClientMock)(nil)

type MockMessageDispatcher struct {
	mock.Mock
}

func (m *MockMessageDispatcher) RegisterChannel(ctx context.Context, channel MessageChannel, primary, secondary MessengerClient) {
	m.Called(ctx, channel, primary, secondary)
}

func (m *MockMessageDispatcher) SendMessage(ctx context.Context, message Message, channelPriority []MessageChannel) (DispatchResult, error) {
	args := m.Called(ctx, message, channelPriority)
	return args.Get(0).(DispatchResult), args.Error(1)
}

func (m *MockMessageDispatcher) SendBulk(ctx context.Context, channel MessageChannel, messages []Message) ([]BulkSendResult, error) {
	args := m.Called(ctx, channel, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]BulkSendResult), args.Error(1)
}

func (m *MockMessageDispatcher) GetClient(channel MessageChannel) (MessengerClient, error) {
	args := m.Called(channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(MessengerClient), args.Error(1)
}

// NewMockMessageDispatcher creates a new instance of MockMessageDispatcher.
// It also registers a testing interface on the mock and a cleanup function to
// assert the mocks expectations.
func NewMockMessageDispatcher(t testInterface) *MockMessageDispatcher {
	m := &MockMessageDispatcher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ MessageDispatcherInterface = (*MockMessageDispatcher)(nil)

type mockTwilioAPI struct {
	mock.Mock
}

func (m *mockTwilioAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*twilioApi.ApiV2010Message), args.Error(1)
}

func (m *mockTwilioAPI) FetchBalance(params *twilioApi.FetchBalanceParams) (*twilioApi.ApiV2010Balance, error) {
	args := m.Called(params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*twilioApi.ApiV2010Balance), args.Error(1)
}

func newMockTwilioAPI(t testInterface) *mockTwilioAPI {
	m := &mockTwilioAPI{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ twilioAPIInterface = (*mockTwilioAPI)(nil)
