package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/services"
)

// MockNotificationService mocks services.NotificationServiceInterface.
type MockNotificationService struct {
	mock.Mock
}

var _ services.NotificationServiceInterface = (*MockNotificationService)(nil)

func (m *MockNotificationService) SendNotification(ctx context.Context, input services.SendNotificationInput) (*services.SendNotificationResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SendNotificationResult), args.Error(1)
}

func (m *MockNotificationService) CreateNotification(ctx context.Context, sqlExec db.SQLExecuter, input services.SendNotificationInput) (*services.SendNotificationResult, error) {
	args := m.Called(ctx, sqlExec, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SendNotificationResult), args.Error(1)
}

func (m *MockNotificationService) DeliverNotification(ctx context.Context, notification *data.Notification, attachmentURL string) (*data.Notification, error) {
	args := m.Called(ctx, notification, attachmentURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.Notification), args.Error(1)
}

// MockCertificateService mocks services.CertificateServiceInterface.
type MockCertificateService struct {
	mock.Mock
}

var _ services.CertificateServiceInterface = (*MockCertificateService)(nil)

func (m *MockCertificateService) GenerateCertificate(ctx context.Context, policyID string) error {
	args := m.Called(ctx, policyID)
	return args.Error(0)
}

func (m *MockCertificateService) CertificateURL(ctx context.Context, policyID string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, policyID, ttl)
	return args.String(0), args.Error(1)
}

// MockPaymentService mocks services.PaymentServiceInterface.
type MockPaymentService struct {
	mock.Mock
}

var _ services.PaymentServiceInterface = (*MockPaymentService)(nil)

func (m *MockPaymentService) InitiateDeposit(ctx context.Context, input services.InitiateDepositInput) (*services.PaymentInitiation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentInitiation), args.Error(1)
}

func (m *MockPaymentService) InitiateDailyPayment(ctx context.Context, input services.InitiateDailyPaymentInput) (*services.PaymentInitiation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentInitiation), args.Error(1)
}

func (m *MockPaymentService) HandleCallback(ctx context.Context, rawPayload []byte) (*data.PaymentRequest, error) {
	args := m.Called(ctx, rawPayload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PaymentRequest), args.Error(1)
}

func (m *MockPaymentService) RefreshPaymentStatus(ctx context.Context, requestID, riderID string) (*data.PaymentRequest, error) {
	args := m.Called(ctx, requestID, riderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PaymentRequest), args.Error(1)
}

func (m *MockPaymentService) TimeOutPaymentRequest(ctx context.Context, requestID string) (*data.PaymentRequest, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PaymentRequest), args.Error(1)
}

func (m *MockPaymentService) ExpireOverdueRequests(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// MockBatchService mocks services.BatchServiceInterface.
type MockBatchService struct {
	mock.Mock
}

var _ services.BatchServiceInterface = (*MockBatchService)(nil)

func (m *MockBatchService) ProcessBatch(ctx context.Context, schedule data.BatchSchedule, triggerTime time.Time) (*data.PolicyBatch, error) {
	args := m.Called(ctx, schedule, triggerTime)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PolicyBatch), args.Error(1)
}

func (m *MockBatchService) RetryFailed(ctx context.Context, batchID string) (*data.PolicyBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.PolicyBatch), args.Error(1)
}

// MockPolicyLifecycleService mocks services.PolicyLifecycleServiceInterface.
type MockPolicyLifecycleService struct {
	mock.Mock
}

var _ services.PolicyLifecycleServiceInterface = (*MockPolicyLifecycleService)(nil)

func (m *MockPolicyLifecycleService) SweepExpiring(ctx context.Context, asOf time.Time) (int, error) {
	args := m.Called(ctx, asOf)
	return args.Int(0), args.Error(1)
}

func (m *MockPolicyLifecycleService) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	args := m.Called(ctx, asOf)
	return args.Int(0), args.Error(1)
}

func (m *MockPolicyLifecycleService) LapseIdleWallets(ctx context.Context, asOf time.Time) (int, error) {
	args := m.Called(ctx, asOf)
	return args.Int(0), args.Error(1)
}

// MockPolicyCancellationService mocks services.PolicyCancellationServiceInterface.
type MockPolicyCancellationService struct {
	mock.Mock
}

var _ services.PolicyCancellationServiceInterface = (*MockPolicyCancellationService)(nil)

func (m *MockPolicyCancellationService) CancelPolicy(ctx context.Context, input services.CancelPolicyInput) (*services.CancelPolicyResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CancelPolicyResult), args.Error(1)
}

func (m *MockPolicyCancellationService) ProcessRefund(ctx context.Context, refundID string) (*data.Refund, error) {
	args := m.Called(ctx, refundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*data.Refund), args.Error(1)
}

// MockRiderImportService mocks services.RiderImportServiceInterface.
type MockRiderImportService struct {
	mock.Mock
}

var _ services.RiderImportServiceInterface = (*MockRiderImportService)(nil)

func (m *MockRiderImportService) ImportFromCSV(ctx context.Context, reader io.Reader) (*services.RiderImportSummary, error) {
	args := m.Called(ctx, reader)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RiderImportSummary), args.Error(1)
}

func (m *MockRiderImportService) CreateRider(ctx context.Context, row services.RiderImportRow) (*data.Rider, services.RiderImportOutcome, error) {
	args := m.Called(ctx, row)
	if args.Get(0) == nil {
		return nil, args.Get(1).(services.RiderImportOutcome), args.Error(2)
	}
	return args.Get(0).(*data.Rider), args.Get(1).(services.RiderImportOutcome), args.Error(2)
}

type testInterface interface {
	mock.TestingT
	Cleanup(func())
}

// NewMockNotificationService returns a MockNotificationService that asserts
// its expectations on test cleanup.
func NewMockNotificationService(t testInterface) *MockNotificationService {
	m := &MockNotificationService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockCertificateService returns a MockCertificateService that asserts its
// expectations on test cleanup.
func NewMockCertificateService(t testInterface) *MockCertificateService {
	m := &MockCertificateService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockPaymentService returns a MockPaymentService that asserts its
// expectations on test cleanup.
func NewMockPaymentService(t testInterface) *MockPaymentService {
	m := &MockPaymentService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockBatchService returns a MockBatchService that asserts its
// expectations on test cleanup.
func NewMockBatchService(t testInterface) *MockBatchService {
	m := &MockBatchService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockPolicyLifecycleService returns a MockPolicyLifecycleService that
// asserts its expectations on test cleanup.
func NewMockPolicyLifecycleService(t testInterface) *MockPolicyLifecycleService {
	m := &MockPolicyLifecycleService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockPolicyCancellationService returns a MockPolicyCancellationService
// that asserts its expectations on test cleanup.
func NewMockPolicyCancellationService(t testInterface) *MockPolicyCancellationService {
	m := &MockPolicyCancellationService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// NewMockRiderImportService returns a MockRiderImportService that asserts its
// expectations on test cleanup.
func NewMockRiderImportService(t testInterface) *MockRiderImportService {
	m := &MockRiderImportService{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
