package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/events/schemas"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	// DefaultReconcileDelay is how long after a push goes out before the
	// first reconciliation poll runs. Most callbacks arrive within seconds;
	// the poll only matters when they do not.
	DefaultReconcileDelay = 60 * time.Second
	// DefaultAcceptWindow bounds how long an INITIATED request may wait for
	// provider acknowledgement before the sweep expires it.
	DefaultAcceptWindow = 15 * time.Minute
	// DefaultRequestExpiry is the absolute settlement cutoff written to
	// expires_at. It outlasts the full reconciliation budget, so a SENT
	// request past it has been abandoned by its reconcile job.
	DefaultRequestExpiry = 2 * time.Hour

	// ReconcileMaxAttempts is the reconciliation poll budget per request.
	ReconcileMaxAttempts = 6

	maxWalletCreditAttempts = 3
	maxSettleAttempts       = 3

	// paymentChannelSTKPush labels metrics with the collection rail.
	paymentChannelSTKPush = "STK_PUSH"
)

var (
	ErrKYCNotApproved       = errors.New("rider KYC is not approved")
	ErrRiderNotActive       = errors.New("rider is not active")
	ErrDepositAlreadyMade   = errors.New("deposit has already been made")
	ErrDepositNotCompleted  = errors.New("deposit has not been completed yet")
	ErrDailyCapExceeded     = errors.New("daily payments would exceed the 30-day program")
	ErrTermsNotAccepted     = errors.New("terms and conditions were not accepted")
	ErrWalletNotActive      = errors.New("wallet cannot accept payments")
	ErrProviderUnavailable  = errors.New("mobile money provider is unavailable")
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different payment")
)

// PaymentInitiationCode is the structured outcome carried on initiation
// responses so clients can show a precise reason without parsing messages.
type PaymentInitiationCode string

const (
	SuccessPaymentInitiationCode          PaymentInitiationCode = "SUCCESS"
	DuplicatePaymentInitiationCode        PaymentInitiationCode = "DUPLICATE"
	InvalidPhonePaymentInitiationCode     PaymentInitiationCode = "INVALID_PHONE"
	TermsNotAcceptedPaymentInitiationCode PaymentInitiationCode = "TERMS_NOT_ACCEPTED"
	RateLimitedPaymentInitiationCode      PaymentInitiationCode = "RATE_LIMITED"
	ErrorPaymentInitiationCode            PaymentInitiationCode = "ERROR"
)

// InitiationCodeForError classifies an initiation error into the structured
// code. Nil maps to SUCCESS; the duplicate case never reaches here because it
// is not an error.
func InitiationCodeForError(err error) PaymentInitiationCode {
	var apiErr *mobilemoney.APIError
	switch {
	case err == nil:
		return SuccessPaymentInitiationCode
	case errors.Is(err, ErrTermsNotAccepted):
		return TermsNotAcceptedPaymentInitiationCode
	case errors.Is(err, utils.ErrInvalidE164PhoneNumber):
		return InvalidPhonePaymentInitiationCode
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		return RateLimitedPaymentInitiationCode
	default:
		return ErrorPaymentInitiationCode
	}
}

// PaymentInitiation is the successful outcome of an initiate call: either a
// fresh request pushed to the provider (SUCCESS) or the prior request for a
// repeated idempotency key, returned unchanged (DUPLICATE).
type PaymentInitiation struct {
	Code    PaymentInitiationCode
	Request *data.PaymentRequest
}

type InitiateDepositInput struct {
	RiderID        string `json:"rider_id"`
	PhoneNumber    string `json:"phone_number"`
	IdempotencyKey string `json:"idempotency_key"`
	AcceptedTerms  bool   `json:"accepted_terms"`
}

func (i InitiateDepositInput) Validate() error {
	if i.RiderID == "" {
		return fmt.Errorf("rider_id is required")
	}
	if i.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if !i.AcceptedTerms {
		return ErrTermsNotAccepted
	}
	return nil
}

type InitiateDailyPaymentInput struct {
	RiderID        string `json:"rider_id"`
	PhoneNumber    string `json:"phone_number"`
	IdempotencyKey string `json:"idempotency_key"`
	DaysCount      int    `json:"days_count"`
}

func (i InitiateDailyPaymentInput) Validate() error {
	if i.RiderID == "" {
		return fmt.Errorf("rider_id is required")
	}
	if i.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key is required")
	}
	if i.DaysCount < 1 || i.DaysCount > data.DaysRequiredForElevenMonthPolicy {
		return fmt.Errorf("days_count must be between 1 and %d", data.DaysRequiredForElevenMonthPolicy)
	}
	return nil
}

type PaymentServiceInterface interface {
	InitiateDeposit(ctx context.Context, input InitiateDepositInput) (*PaymentInitiation, error)
	InitiateDailyPayment(ctx context.Context, input InitiateDailyPaymentInput) (*PaymentInitiation, error)
	HandleCallback(ctx context.Context, rawPayload []byte) (*data.PaymentRequest, error)
	RefreshPaymentStatus(ctx context.Context, requestID, riderID string) (*data.PaymentRequest, error)
	TimeOutPaymentRequest(ctx context.Context, requestID string) (*data.PaymentRequest, error)
	ExpireOverdueRequests(ctx context.Context, now time.Time) (int, error)
}

// PaymentService owns the payment-request state machine end to end:
// initiation against the mobile-money gateway, the single terminal transition
// fed by callbacks and status polls, and the settlement side effects (wallet
// credit, journal entry, policy planning, notifications, events) committed in
// one transaction.
type PaymentService struct {
	models              *data.Models
	gateway             mobilemoney.ClientInterface
	jobQueue            *jobqueue.Queue
	eventProducer       events.Producer
	ledgerService       LedgerServiceInterface
	issuanceService     IssuanceServiceInterface
	notificationService NotificationServiceInterface
	monitorService      monitor.MonitorServiceInterface
	depositAmount       money.Amount
	dailyAmount         money.Amount
	reconcileDelay      time.Duration
	acceptWindow        time.Duration
	requestExpiry       time.Duration
}

var _ PaymentServiceInterface = (*PaymentService)(nil)

type PaymentServiceOptions struct {
	Models              *data.Models
	Gateway             mobilemoney.ClientInterface
	JobQueue            *jobqueue.Queue
	EventProducer       events.Producer
	LedgerService       LedgerServiceInterface
	IssuanceService     IssuanceServiceInterface
	NotificationService NotificationServiceInterface
	MonitorService      monitor.MonitorServiceInterface

	// DepositAmount and DailyAmount override the program amounts; zero keeps
	// the production values.
	DepositAmount money.Amount
	DailyAmount   money.Amount

	ReconcileDelay time.Duration
	AcceptWindow   time.Duration
	RequestExpiry  time.Duration
}

func NewPaymentService(opts PaymentServiceOptions) (*PaymentService, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models are required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("mobile money gateway is required")
	}
	if opts.JobQueue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if opts.LedgerService == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if opts.IssuanceService == nil {
		return nil, fmt.Errorf("issuance service is required")
	}
	if opts.NotificationService == nil {
		return nil, fmt.Errorf("notification service is required")
	}

	if opts.DepositAmount == 0 {
		opts.DepositAmount = data.DefaultDepositAmount
	}
	if opts.DailyAmount == 0 {
		opts.DailyAmount = data.DefaultDailyAmount
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = DefaultReconcileDelay
	}
	if opts.AcceptWindow <= 0 {
		opts.AcceptWindow = DefaultAcceptWindow
	}
	if opts.RequestExpiry <= 0 {
		opts.RequestExpiry = DefaultRequestExpiry
	}

	return &PaymentService{
		models:              opts.Models,
		gateway:             opts.Gateway,
		jobQueue:            opts.JobQueue,
		eventProducer:       opts.EventProducer,
		ledgerService:       opts.LedgerService,
		issuanceService:     opts.IssuanceService,
		notificationService: opts.NotificationService,
		monitorService:      opts.MonitorService,
		depositAmount:       opts.DepositAmount,
		dailyAmount:         opts.DailyAmount,
		reconcileDelay:      opts.ReconcileDelay,
		acceptWindow:        opts.AcceptWindow,
		requestExpiry:       opts.RequestExpiry,
	}, nil
}

// InitiateDeposit pushes the one-time deposit to the rider's phone. The rider
// must be KYC-approved and must not have completed a deposit yet.
func (s *PaymentService) InitiateDeposit(ctx context.Context, input InitiateDepositInput) (*PaymentInitiation, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	phoneNumber, err := utils.NormalizePhoneNumber(input.PhoneNumber, utils.DefaultPhoneRegion)
	if err != nil {
		return nil, fmt.Errorf("normalizing phone number: %w", err)
	}

	rider, err := s.models.Riders.Get(ctx, s.models.DBConnectionPool, input.RiderID)
	if err != nil {
		return nil, fmt.Errorf("getting rider %s: %w", input.RiderID, err)
	}
	if rider.KYCStatus != data.ApprovedKYCStatus {
		return nil, fmt.Errorf("%w: rider %s is %s", ErrKYCNotApproved, rider.ID, rider.KYCStatus)
	}
	if rider.Status != data.ActiveRiderStatus {
		return nil, fmt.Errorf("%w: rider %s is %s", ErrRiderNotActive, rider.ID, rider.Status)
	}

	wallet, err := s.models.Wallets.GetOrInsert(ctx, s.models.DBConnectionPool, rider.ID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet for rider %s: %w", rider.ID, err)
	}
	if wallet.DepositCompleted {
		return nil, ErrDepositAlreadyMade
	}
	if wallet.Status != data.ActiveWalletStatus {
		return nil, fmt.Errorf("%w: wallet %s is %s", ErrWalletNotActive, wallet.ID, wallet.Status)
	}

	return s.initiate(ctx, data.PaymentRequestInsert{
		RiderID:        rider.ID,
		Type:           data.DepositPaymentRequestType,
		Amount:         s.depositAmount,
		PhoneNumber:    phoneNumber,
		IdempotencyKey: input.IdempotencyKey,
		DaysCount:      1,
		ExpiresAt:      time.Now().Add(s.requestExpiry),
	}, "BodaSure deposit")
}

// InitiateDailyPayment pushes days_count worth of daily premium. The deposit
// must be complete and the credited days may not overshoot the program.
func (s *PaymentService) InitiateDailyPayment(ctx context.Context, input InitiateDailyPaymentInput) (*PaymentInitiation, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	phoneNumber, err := utils.NormalizePhoneNumber(input.PhoneNumber, utils.DefaultPhoneRegion)
	if err != nil {
		return nil, fmt.Errorf("normalizing phone number: %w", err)
	}

	rider, err := s.models.Riders.Get(ctx, s.models.DBConnectionPool, input.RiderID)
	if err != nil {
		return nil, fmt.Errorf("getting rider %s: %w", input.RiderID, err)
	}
	if rider.Status != data.ActiveRiderStatus {
		return nil, fmt.Errorf("%w: rider %s is %s", ErrRiderNotActive, rider.ID, rider.Status)
	}

	wallet, err := s.models.Wallets.GetByRiderID(ctx, s.models.DBConnectionPool, rider.ID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet for rider %s: %w", rider.ID, err)
	}
	if !wallet.DepositCompleted {
		return nil, ErrDepositNotCompleted
	}
	if wallet.Status != data.ActiveWalletStatus {
		return nil, fmt.Errorf("%w: wallet %s is %s", ErrWalletNotActive, wallet.ID, wallet.Status)
	}
	if wallet.DailyPaymentsCount+input.DaysCount > data.DaysRequiredForElevenMonthPolicy {
		return nil, fmt.Errorf("%w: %d days paid, %d requested", ErrDailyCapExceeded, wallet.DailyPaymentsCount, input.DaysCount)
	}

	return s.initiate(ctx, data.PaymentRequestInsert{
		RiderID:        rider.ID,
		Type:           data.DailyPaymentPaymentRequestType,
		Amount:         s.dailyAmount.MultiplyDays(input.DaysCount),
		PhoneNumber:    phoneNumber,
		IdempotencyKey: input.IdempotencyKey,
		DaysCount:      input.DaysCount,
		ExpiresAt:      time.Now().Add(s.requestExpiry),
	}, fmt.Sprintf("BodaSure daily premium x%d", input.DaysCount))
}

// initiate persists the request, pushes it to the gateway and schedules the
// first reconciliation poll. The INITIATED row is committed before the push
// goes out, so a crash mid-push leaves a row the expiry sweep can close.
func (s *PaymentService) initiate(ctx context.Context, insert data.PaymentRequestInsert, description string) (*PaymentInitiation, error) {
	request, err := s.models.PaymentRequests.Insert(ctx, s.models.DBConnectionPool, insert)
	if err != nil {
		if errors.Is(err, data.ErrRecordAlreadyExists) {
			return s.resolveDuplicate(ctx, insert)
		}
		return nil, fmt.Errorf("inserting %s payment request: %w", insert.Type, err)
	}

	push, err := s.gateway.InitiatePush(ctx, mobilemoney.PushRequest{
		Phone:            insert.PhoneNumber,
		Amount:           insert.Amount,
		AccountReference: request.ID,
		Description:      description,
	})
	if err != nil {
		return nil, s.handlePushFailure(ctx, request, err)
	}

	sent, err := s.models.PaymentRequests.MarkSent(ctx, s.models.DBConnectionPool, request.ID, request.Version, push.CheckoutID, push.MerchantRequestID)
	if err != nil {
		return nil, fmt.Errorf("marking payment request %s as sent: %w", request.ID, err)
	}

	runAt := time.Now().Add(s.reconcileDelay)
	_, err = s.jobQueue.Enqueue(ctx, s.models.DBConnectionPool, jobqueue.JobInsert{
		Kind:        jobqueue.ReconcilePaymentJobKind,
		Payload:     jobqueue.ReconcilePaymentPayload{PaymentRequestID: request.ID},
		RunAt:       &runAt,
		MaxAttempts: ReconcileMaxAttempts,
	})
	if err != nil {
		// the overdue sweep still closes the request if no poll ever runs
		log.Ctx(ctx).Errorf("enqueueing reconcile job for payment request %s: %v", request.ID, err)
	}

	s.monitorPayment(ctx, monitor.PaymentsInitiatedCounterTag, sent.Type, string(sent.Status))
	log.Ctx(ctx).Infof("initiated %s payment request %s for rider %s, checkout %s", sent.Type, sent.ID, sent.RiderID, sent.ProviderCheckoutID)
	return &PaymentInitiation{Code: SuccessPaymentInitiationCode, Request: sent}, nil
}

// resolveDuplicate returns the winner of an idempotency-key collision
// unchanged, as long as it belongs to the same rider and payment type.
func (s *PaymentService) resolveDuplicate(ctx context.Context, insert data.PaymentRequestInsert) (*PaymentInitiation, error) {
	prior, err := s.models.PaymentRequests.GetByIdempotencyKey(ctx, s.models.DBConnectionPool, insert.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("re-reading payment request for idempotency key: %w", err)
	}
	if prior.RiderID != insert.RiderID || prior.Type != insert.Type {
		return nil, ErrIdempotencyKeyReused
	}

	s.monitorPayment(ctx, monitor.PaymentsInitiatedCounterTag, prior.Type, string(DuplicatePaymentInitiationCode))
	log.Ctx(ctx).Infof("payment request %s already exists for this idempotency key, returning it unchanged", prior.ID)
	return &PaymentInitiation{Code: DuplicatePaymentInitiationCode, Request: prior}, nil
}

// handlePushFailure decides what a failed InitiatePush means for the request:
// a hard provider rejection fails it terminally, anything transient leaves it
// INITIATED for the caller to retry.
func (s *PaymentService) handlePushFailure(ctx context.Context, request *data.PaymentRequest, pushErr error) error {
	var apiErr *mobilemoney.APIError
	if errors.As(pushErr, &apiErr) && !apiErr.IsRetryable() {
		_, trErr := s.models.PaymentRequests.TransitionToTerminal(ctx, s.models.DBConnectionPool, request.ID, request.Version, data.TerminalTransition{
			Status:            data.FailedPaymentRequestStatus,
			ResultCode:        apiErr.ErrorCode,
			ResultDescription: apiErr.Message,
		})
		if trErr != nil {
			log.Ctx(ctx).Errorf("failing payment request %s after push rejection: %v", request.ID, trErr)
		}
		s.monitorPayment(ctx, monitor.PaymentsInitiatedCounterTag, request.Type, string(data.FailedPaymentRequestStatus))
		return fmt.Errorf("provider rejected the push for payment request %s: %w", request.ID, pushErr)
	}

	log.Ctx(ctx).Warnf("gateway unavailable for payment request %s, leaving it INITIATED: %v", request.ID, pushErr)
	s.monitorPayment(ctx, monitor.PaymentsInitiatedCounterTag, request.Type, string(ErrorPaymentInitiationCode))
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, pushErr)
}

// HandleCallback is the idempotent sink for provider-originated status
// updates. The first terminal result settles the request; repeats only store
// the raw payload.
func (s *PaymentService) HandleCallback(ctx context.Context, rawPayload []byte) (*data.PaymentRequest, error) {
	result, err := mobilemoney.ParseCallback(rawPayload)
	if err != nil {
		return nil, fmt.Errorf("parsing provider callback: %w", err)
	}

	request, err := s.models.PaymentRequests.GetByProviderCheckoutID(ctx, s.models.DBConnectionPool, result.CheckoutID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("callback for unknown checkout %s", result.CheckoutID)
		}
		return nil, fmt.Errorf("looking up payment request for checkout %s: %w", result.CheckoutID, err)
	}

	if request.Status.IsTerminal() {
		if err = s.models.PaymentRequests.RecordLateCallback(ctx, s.models.DBConnectionPool, request.ID, result.Raw); err != nil {
			return nil, fmt.Errorf("recording late callback for payment request %s: %w", request.ID, err)
		}
		log.Ctx(ctx).Infof("payment request %s is already %s, stored the late callback payload", request.ID, request.Status)
		return request, nil
	}

	return s.settle(ctx, request, result, true)
}

// RefreshPaymentStatus polls the provider for a request and feeds the answer
// through the same settlement path as a callback. riderID scopes the lookup
// for user-facing calls; internal callers pass it empty.
func (s *PaymentService) RefreshPaymentStatus(ctx context.Context, requestID, riderID string) (*data.PaymentRequest, error) {
	request, err := s.models.PaymentRequests.Get(ctx, s.models.DBConnectionPool, requestID)
	if err != nil {
		return nil, fmt.Errorf("getting payment request %s: %w", requestID, err)
	}
	if riderID != "" && request.RiderID != riderID {
		return nil, fmt.Errorf("payment request %s does not belong to rider %s: %w", requestID, riderID, data.ErrRecordNotFound)
	}

	if request.Status.IsTerminal() {
		return request, nil
	}
	if request.ProviderCheckoutID == "" {
		// the provider never acknowledged the push, there is nothing to poll
		return request, nil
	}

	status, err := s.gateway.QueryStatus(ctx, request.ProviderCheckoutID)
	if err != nil {
		return nil, fmt.Errorf("querying provider status for payment request %s: %w", requestID, err)
	}
	if status.IsPending() {
		log.Ctx(ctx).Debugf("payment request %s is still pending at the provider", requestID)
		return request, nil
	}

	result, err := status.ToCallbackResult()
	if err != nil {
		return nil, fmt.Errorf("converting status poll for payment request %s: %w", requestID, err)
	}

	return s.settle(ctx, request, result, false)
}

// TimeOutPaymentRequest force-closes a request whose reconciliation budget is
// spent without a provider answer, and queues the manual-review notification.
func (s *PaymentService) TimeOutPaymentRequest(ctx context.Context, requestID string) (*data.PaymentRequest, error) {
	request, err := s.models.PaymentRequests.Get(ctx, s.models.DBConnectionPool, requestID)
	if err != nil {
		return nil, fmt.Errorf("getting payment request %s: %w", requestID, err)
	}
	if request.Status.IsTerminal() {
		return request, nil
	}

	return s.timeOutRequest(ctx, request, "reconciliation attempts exhausted without a provider result")
}

// ExpireOverdueRequests is the safety-net sweep: INITIATED requests the
// provider never acknowledged become EXPIRED, and SENT requests past their
// absolute cutoff become TIMEOUT. Returns how many requests it closed.
func (s *PaymentService) ExpireOverdueRequests(ctx context.Context, now time.Time) (int, error) {
	dbConnectionPool := s.models.DBConnectionPool
	closed := 0

	initiated, err := s.models.PaymentRequests.GetExpiredInitiated(ctx, dbConnectionPool, now.Add(-s.acceptWindow))
	if err != nil {
		return 0, fmt.Errorf("listing expired initiated payment requests: %w", err)
	}
	for i := range initiated {
		request := &initiated[i]
		_, trErr := s.models.PaymentRequests.TransitionToTerminal(ctx, dbConnectionPool, request.ID, request.Version, data.TerminalTransition{
			Status:            data.ExpiredPaymentRequestStatus,
			ResultDescription: "no provider acknowledgement inside the accept window",
		})
		if trErr != nil {
			if errors.Is(trErr, data.ErrTerminalStatusRace) {
				continue
			}
			log.Ctx(ctx).Errorf("expiring payment request %s: %v", request.ID, trErr)
			continue
		}
		closed++
		s.monitorPayment(ctx, monitor.PaymentsSettledCounterTag, request.Type, string(data.ExpiredPaymentRequestStatus))
		log.Ctx(ctx).Infof("expired payment request %s, initiated at %s was never acknowledged", request.ID, request.CreatedAt.Format(time.RFC3339))
	}

	overdue, err := s.models.PaymentRequests.GetOverdueSent(ctx, dbConnectionPool, now)
	if err != nil {
		return closed, fmt.Errorf("listing overdue sent payment requests: %w", err)
	}
	for i := range overdue {
		request := &overdue[i]
		if _, trErr := s.timeOutRequest(ctx, request, "no provider result before the request expired"); trErr != nil {
			if errors.Is(trErr, data.ErrTerminalStatusRace) {
				continue
			}
			log.Ctx(ctx).Errorf("overdue sweep: %v", trErr)
			continue
		}
		closed++
	}

	return closed, nil
}

func (s *PaymentService) timeOutRequest(ctx context.Context, request *data.PaymentRequest, description string) (*data.PaymentRequest, error) {
	timedOut, err := s.models.PaymentRequests.TransitionToTerminal(ctx, s.models.DBConnectionPool, request.ID, request.Version, data.TerminalTransition{
		Status:            data.TimeoutPaymentRequestStatus,
		ResultDescription: description,
	})
	if err != nil {
		return nil, fmt.Errorf("timing out payment request %s: %w", request.ID, err)
	}

	s.enqueueNotification(ctx, s.models.DBConnectionPool, SendNotificationInput{
		RiderID: timedOut.RiderID,
		Channel: data.SMSNotificationChannel,
		Type:    data.PaymentReviewRequiredNotificationType,
		Variables: data.NotificationVariables{
			"Amount": timedOut.Amount.Decimal().StringFixed(2),
		},
		Priority: data.HighNotificationPriority,
	})

	s.monitorPayment(ctx, monitor.PaymentsSettledCounterTag, timedOut.Type, string(timedOut.Status))
	log.Ctx(ctx).Warnf("payment request %s timed out: %s", timedOut.ID, description)
	return timedOut, nil
}

// settle drives the terminal transition and its side effects, retrying when
// the version moved under us but the request is still open. A loser whose
// winner already closed the request gets the winner's row back, side-effect
// free.
func (s *PaymentService) settle(ctx context.Context, request *data.PaymentRequest, result *mobilemoney.CallbackResult, callbackReceived bool) (*data.PaymentRequest, error) {
	for attempt := 1; ; attempt++ {
		settled, err := s.settleOnce(ctx, request, result, callbackReceived)
		if err == nil {
			return settled, nil
		}
		if !errors.Is(err, data.ErrTerminalStatusRace) {
			return nil, err
		}

		fresh, getErr := s.models.PaymentRequests.Get(ctx, s.models.DBConnectionPool, request.ID)
		if getErr != nil {
			return nil, fmt.Errorf("re-reading payment request %s after a settlement race: %w", request.ID, getErr)
		}
		if fresh.Status.IsTerminal() {
			if callbackReceived {
				if lcErr := s.models.PaymentRequests.RecordLateCallback(ctx, s.models.DBConnectionPool, fresh.ID, result.Raw); lcErr != nil {
					log.Ctx(ctx).Errorf("recording late callback for payment request %s: %v", fresh.ID, lcErr)
				}
			}
			log.Ctx(ctx).Infof("payment request %s was settled as %s by a concurrent writer", fresh.ID, fresh.Status)
			return fresh, nil
		}
		if attempt >= maxSettleAttempts {
			return nil, fmt.Errorf("settling payment request %s: version moved %d times: %w", request.ID, attempt, err)
		}
		request = fresh
	}
}

// settleOnce runs the settlement transaction against the version the caller
// read: the terminal CAS, then for COMPLETED the transaction row, the wallet
// credit, the journal entry, same-transaction policy planning and the
// notification, with broker events deferred to after commit.
func (s *PaymentService) settleOnce(ctx context.Context, request *data.PaymentRequest, result *mobilemoney.CallbackResult, callbackReceived bool) (*data.PaymentRequest, error) {
	status, err := terminalStatusForOutcome(result.Outcome())
	if err != nil {
		return nil, err
	}

	var settled *data.PaymentRequest
	txErr := db.RunInTransactionWithPostCommit(ctx, &db.TransactionOptions{
		DBConnectionPool: s.models.DBConnectionPool,
		AtomicFunctionWithPostCommit: func(dbTx db.DBTransaction) (db.PostCommitFunction, error) {
			var innerErr error
			settled, innerErr = s.models.PaymentRequests.TransitionToTerminal(ctx, dbTx, request.ID, request.Version, data.TerminalTransition{
				Status:            status,
				ResultCode:        strconv.Itoa(result.ResultCode),
				ResultDescription: result.ResultDescription,
				RawPayload:        result.Raw,
				CallbackReceived:  callbackReceived,
			})
			if innerErr != nil {
				return nil, innerErr
			}

			if status != data.CompletedPaymentRequestStatus {
				s.notifyPaymentFailed(ctx, dbTx, settled)
				return nil, nil
			}

			return s.settleCompleted(ctx, dbTx, settled, result)
		},
	})
	if txErr != nil {
		return nil, txErr
	}

	s.monitorPayment(ctx, monitor.PaymentsSettledCounterTag, settled.Type, string(settled.Status))
	log.Ctx(ctx).Infof("payment request %s settled as %s", settled.ID, settled.Status)
	return settled, nil
}

// settleCompleted applies the money movement for a COMPLETED request inside
// the settlement transaction and returns the post-commit event publisher.
func (s *PaymentService) settleCompleted(ctx context.Context, dbTx db.DBTransaction, request *data.PaymentRequest, result *mobilemoney.CallbackResult) (db.PostCommitFunction, error) {
	wallet, err := s.models.Wallets.GetByRiderID(ctx, dbTx, request.RiderID)
	if err != nil {
		return nil, fmt.Errorf("getting wallet for rider %s: %w", request.RiderID, err)
	}

	transaction, err := s.models.Transactions.Insert(ctx, dbTx, data.TransactionInsert{
		RiderID:          request.RiderID,
		WalletID:         wallet.ID,
		Type:             transactionTypeForRequest(request.Type),
		Amount:           request.Amount,
		PaymentRequestID: request.ID,
		DaysCount:        request.DaysCount,
		Metadata:         map[string]interface{}{"provider_checkout_id": result.CheckoutID},
	})
	if err != nil {
		return nil, fmt.Errorf("inserting transaction for payment request %s: %w", request.ID, err)
	}

	transaction, err = s.models.Transactions.Complete(ctx, dbTx, transaction.ID, result.ReceiptNumber, time.Now())
	if err != nil {
		return nil, fmt.Errorf("completing transaction %s with receipt %s: %w", transaction.ID, result.ReceiptNumber, err)
	}

	wallet, cycleCompleted, err := s.creditWallet(ctx, dbTx, wallet, request)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("%s settled, receipt %s", request.Type, result.ReceiptNumber)
	if _, err = s.ledgerService.PostPremiumCollection(ctx, dbTx, transaction.ID, description, transaction.Amount); err != nil {
		return nil, fmt.Errorf("posting premium collection for transaction %s: %w", transaction.ID, err)
	}

	// plan the earned policy in the same transaction so the pending policy is
	// atomic with the credit that earned it
	switch {
	case request.Type == data.DepositPaymentRequestType:
		if _, err = s.issuanceService.PlanOneMonthPolicy(ctx, dbTx, transaction); err != nil {
			return nil, fmt.Errorf("planning one-month policy for transaction %s: %w", transaction.ID, err)
		}
	case cycleCompleted:
		if _, err = s.issuanceService.PlanElevenMonthPolicy(ctx, dbTx, transaction); err != nil {
			return nil, fmt.Errorf("planning eleven-month policy for transaction %s: %w", transaction.ID, err)
		}
	}

	s.notifySettlement(ctx, dbTx, request, transaction, cycleCompleted)

	messages := s.settlementEvents(ctx, request, transaction, wallet, cycleCompleted)
	return func() error {
		if produceErr := events.ProduceEvents(ctx, s.eventProducer, messages...); produceErr != nil {
			// the jobs written in-transaction are the durable channel, broker
			// fan-out is best effort
			log.Ctx(ctx).Errorf("producing settlement events for payment request %s: %v", request.ID, produceErr)
		}
		return nil
	}, nil
}

// creditWallet applies the settled amount to the wallet, absorbing up to
// maxWalletCreditAttempts version conflicts by re-reading the row. The bool
// result reports whether this credit completed the 30-day cycle.
func (s *PaymentService) creditWallet(ctx context.Context, dbTx db.DBTransaction, wallet *data.Wallet, request *data.PaymentRequest) (*data.Wallet, bool, error) {
	for attempt := 1; ; attempt++ {
		var updated *data.Wallet
		var err error
		switch request.Type {
		case data.DepositPaymentRequestType:
			if wallet.DepositCompleted {
				return nil, false, fmt.Errorf("wallet %s already has its deposit, refusing a second credit", wallet.ID)
			}
			updated, err = s.models.Wallets.CreditDeposit(ctx, dbTx, wallet.ID, request.Amount, wallet.Version)
		case data.DailyPaymentPaymentRequestType:
			if !wallet.DepositCompleted {
				return nil, false, fmt.Errorf("wallet %s has no deposit yet, cannot credit daily payments", wallet.ID)
			}
			if wallet.DailyPaymentsCount+request.DaysCount > data.DaysRequiredForElevenMonthPolicy {
				return nil, false, fmt.Errorf("crediting %d days would push wallet %s past the %d-day program", request.DaysCount, wallet.ID, data.DaysRequiredForElevenMonthPolicy)
			}
			updated, err = s.models.Wallets.CreditDailyPayment(ctx, dbTx, wallet.ID, request.Amount, request.DaysCount, wallet.Version)
		default:
			return nil, false, fmt.Errorf("unsupported payment request type %s", request.Type)
		}

		if err == nil {
			cycleCompleted := request.Type == data.DailyPaymentPaymentRequestType &&
				updated.DailyPaymentsCompleted && !wallet.DailyPaymentsCompleted
			return updated, cycleCompleted, nil
		}
		if !errors.Is(err, data.ErrWalletVersionConflict) {
			return nil, false, fmt.Errorf("crediting wallet %s: %w", wallet.ID, err)
		}

		s.monitorCounter(ctx, monitor.WalletCreditConflictsCounterTag)
		if attempt >= maxWalletCreditAttempts {
			return nil, false, fmt.Errorf("crediting wallet %s: version conflict persisted after %d attempts: %w", wallet.ID, attempt, err)
		}

		wallet, err = s.models.Wallets.Get(ctx, dbTx, wallet.ID)
		if err != nil {
			return nil, false, fmt.Errorf("re-reading wallet after a version conflict: %w", err)
		}
	}
}

// notifySettlement queues the rider-facing confirmation for a COMPLETED
// settlement. Notification problems never fail the money movement, they are
// logged and the settlement proceeds.
func (s *PaymentService) notifySettlement(ctx context.Context, sqlExec db.SQLExecuter, request *data.PaymentRequest, transaction *data.Transaction, cycleCompleted bool) {
	rider, err := s.models.Riders.Get(ctx, sqlExec, request.RiderID)
	if err != nil {
		log.Ctx(ctx).Errorf("getting rider %s for the settlement notification: %v", request.RiderID, err)
		return
	}

	variables := data.NotificationVariables{
		"FirstName": rider.FirstName,
		"Amount":    request.Amount.Decimal().StringFixed(2),
	}
	var notificationType data.NotificationType
	switch {
	case request.Type == data.DepositPaymentRequestType:
		notificationType = data.DepositConfirmedNotificationType
	case cycleCompleted:
		notificationType = data.DailyCycleCompletedNotificationType
	default:
		notificationType = data.PaymentReceivedNotificationType
		variables["ReceiptNumber"] = transaction.ProviderReceiptNumber
	}

	s.enqueueNotification(ctx, sqlExec, SendNotificationInput{
		RiderID:   request.RiderID,
		Channel:   data.SMSNotificationChannel,
		Type:      notificationType,
		Variables: variables,
		Priority:  data.UrgentNotificationPriority,
	})
}

// notifyPaymentFailed queues the failure notice for a FAILED, CANCELLED or
// TIMEOUT callback so the rider knows to retry.
func (s *PaymentService) notifyPaymentFailed(ctx context.Context, sqlExec db.SQLExecuter, request *data.PaymentRequest) {
	reason := request.ResultDescription
	if reason == "" {
		reason = fmt.Sprintf("the payment was not completed (%s)", request.Status)
	}

	s.enqueueNotification(ctx, sqlExec, SendNotificationInput{
		RiderID: request.RiderID,
		Channel: data.SMSNotificationChannel,
		Type:    data.PaymentFailedNotificationType,
		Variables: data.NotificationVariables{
			"Amount": request.Amount.Decimal().StringFixed(2),
			"Reason": reason,
		},
		Priority: data.UrgentNotificationPriority,
	})
}

// enqueueNotification persists the notification and, when it is immediately
// deliverable, the job that sends it. QUEUED rows are left for the scheduled
// sweep. Errors are logged, never returned: a rider message must not undo a
// settlement.
func (s *PaymentService) enqueueNotification(ctx context.Context, sqlExec db.SQLExecuter, input SendNotificationInput) {
	result, err := s.notificationService.CreateNotification(ctx, sqlExec, input)
	if err != nil {
		log.Ctx(ctx).Errorf("creating %s notification for rider %s: %v", input.Type, input.RiderID, err)
		return
	}
	if result.Outcome != NotificationOutcomePending {
		return
	}

	_, err = s.jobQueue.Enqueue(ctx, sqlExec, jobqueue.JobInsert{
		Kind:    jobqueue.SendNotificationJobKind,
		Payload: jobqueue.SendNotificationPayload{NotificationID: result.Notification.ID},
	})
	if err != nil {
		log.Ctx(ctx).Errorf("enqueueing delivery job for notification %s: %v", result.Notification.ID, err)
	}
}

// settlementEvents builds the post-commit broker messages for a COMPLETED
// settlement. Messages that fail to build are logged and dropped; consumers
// re-read authoritative rows anyway.
func (s *PaymentService) settlementEvents(ctx context.Context, request *data.PaymentRequest, transaction *data.Transaction, wallet *data.Wallet, cycleCompleted bool) []*events.Message {
	settledAt := time.Now()
	if transaction.SettledAt != nil {
		settledAt = *transaction.SettledAt
	}

	messages := make([]*events.Message, 0, 2)
	msg, err := events.NewMessage(events.PaymentSettledTopic, request.RiderID, events.PaymentSettledType, schemas.EventPaymentSettledData{
		TransactionID:    transaction.ID,
		PaymentRequestID: request.ID,
		RiderID:          request.RiderID,
		WalletID:         wallet.ID,
		TransactionType:  string(transaction.Type),
		Amount:           transaction.Amount,
		SettledAt:        settledAt,
	})
	if err != nil {
		log.Ctx(ctx).Errorf("building payment settled event for %s: %v", request.ID, err)
	} else {
		messages = append(messages, msg)
	}

	switch {
	case request.Type == data.DepositPaymentRequestType:
		msg, err = events.NewMessage(events.DepositCompletedTopic, wallet.ID, events.DepositCompletedType, schemas.EventDepositCompletedData{
			WalletID:      wallet.ID,
			RiderID:       request.RiderID,
			TransactionID: transaction.ID,
			Amount:        transaction.Amount,
			CompletedAt:   settledAt,
		})
	case cycleCompleted:
		msg, err = events.NewMessage(events.DailyCycleCompletedTopic, wallet.ID, events.DailyCycleCompletedType, schemas.EventDailyCycleCompletedData{
			WalletID:      wallet.ID,
			RiderID:       request.RiderID,
			TransactionID: transaction.ID,
			DaysCount:     wallet.DailyPaymentsCount,
			CompletedAt:   settledAt,
		})
	default:
		return messages
	}
	if err != nil {
		log.Ctx(ctx).Errorf("building wallet milestone event for %s: %v", request.ID, err)
		return messages
	}

	return append(messages, msg)
}

func (s *PaymentService) monitorPayment(ctx context.Context, tag monitor.MetricTag, purpose data.PaymentRequestType, status string) {
	if s.monitorService == nil {
		return
	}
	labels := monitor.PaymentLabels{
		Purpose: string(purpose),
		Channel: paymentChannelSTKPush,
		Status:  status,
	}.ToMap()
	if err := s.monitorService.MonitorCounters(tag, labels); err != nil {
		log.Ctx(ctx).Errorf("monitoring %s: %v", tag, err)
	}
}

func (s *PaymentService) monitorCounter(ctx context.Context, tag monitor.MetricTag) {
	if s.monitorService == nil {
		return
	}
	if err := s.monitorService.MonitorCounters(tag, nil); err != nil {
		log.Ctx(ctx).Errorf("monitoring %s: %v", tag, err)
	}
}

func terminalStatusForOutcome(outcome mobilemoney.Outcome) (data.PaymentRequestStatus, error) {
	switch outcome {
	case mobilemoney.OutcomeCompleted:
		return data.CompletedPaymentRequestStatus, nil
	case mobilemoney.OutcomeCancelled:
		return data.CancelledPaymentRequestStatus, nil
	case mobilemoney.OutcomeTimeout:
		return data.TimeoutPaymentRequestStatus, nil
	case mobilemoney.OutcomeFailed:
		return data.FailedPaymentRequestStatus, nil
	default:
		return "", fmt.Errorf("no terminal status for outcome %s", outcome)
	}
}

func transactionTypeForRequest(requestType data.PaymentRequestType) data.TransactionType {
	if requestType == data.DailyPaymentPaymentRequestType {
		return data.DailyPaymentTransactionType
	}
	return data.DepositTransactionType
}
