package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/mobilemoney"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	// DefaultFreeLookDays is the cancellation window counted from
	// coverage_start.
	DefaultFreeLookDays = 30
	// DefaultReversalFeePercent is the slice of the premium retained as income
	// when a policy is cancelled inside the free-look window.
	DefaultReversalFeePercent = 10
)

var (
	// ErrPolicyNotCancellable is returned when the policy's status does not
	// admit cancellation.
	ErrPolicyNotCancellable = errors.New("policy is not in a cancellable status")
	// ErrFreeLookWindowClosed is returned when the free-look window has passed.
	ErrFreeLookWindowClosed = errors.New("the free-look cancellation window has closed")
	// ErrVerificationMismatch is returned when the supplied national ID does
	// not match the rider's verification value.
	ErrVerificationMismatch = errors.New("national ID does not match our records")
	// ErrVerificationLocked is returned once the rider has spent the
	// verification attempts budget.
	ErrVerificationLocked = errors.New("national ID verification is locked after too many attempts")
	// ErrPolicyAlreadyRefunded is returned when a refund already exists for
	// the policy.
	ErrPolicyAlreadyRefunded = errors.New("a refund already exists for this policy")
	// ErrRefundNotPending is returned when ProcessRefund is called on a refund
	// that is no longer waiting for payout.
	ErrRefundNotPending = errors.New("refund is not pending payout")
)

type CancelPolicyInput struct {
	PolicyID   string
	RiderID    string
	Reason     string
	NationalID string
}

func (i *CancelPolicyInput) Validate() error {
	if strings.TrimSpace(i.PolicyID) == "" {
		return fmt.Errorf("policy id is required")
	}
	if strings.TrimSpace(i.RiderID) == "" {
		return fmt.Errorf("rider id is required")
	}
	if strings.TrimSpace(i.Reason) == "" {
		return fmt.Errorf("a cancellation reason is required")
	}
	if strings.TrimSpace(i.NationalID) == "" {
		return fmt.Errorf("the rider's national ID is required to confirm the cancellation")
	}
	return nil
}

type CancelPolicyResult struct {
	Policy *data.Policy
	Refund *data.Refund
}

type PolicyCancellationServiceInterface interface {
	CancelPolicy(ctx context.Context, input CancelPolicyInput) (*CancelPolicyResult, error)
	ProcessRefund(ctx context.Context, refundID string) (*data.Refund, error)
}

// PolicyCancellationService handles free-look cancellations: national ID
// confirmation, the CANCELLED transition, the REVERSAL transaction, the
// 90/10 refund split and its eventual payout.
type PolicyCancellationService struct {
	models              *data.Models
	jobQueue            *jobqueue.Queue
	gateway             mobilemoney.ClientInterface
	ledgerService       LedgerServiceInterface
	notificationService NotificationServiceInterface
	freeLookDays        int
	reversalFeePercent  int
}

var _ PolicyCancellationServiceInterface = (*PolicyCancellationService)(nil)

type PolicyCancellationServiceOptions struct {
	Models              *data.Models
	JobQueue            *jobqueue.Queue
	Gateway             mobilemoney.ClientInterface
	LedgerService       LedgerServiceInterface
	NotificationService NotificationServiceInterface
	// FreeLookDays defaults to DefaultFreeLookDays.
	FreeLookDays int
	// ReversalFeePercent defaults to DefaultReversalFeePercent.
	ReversalFeePercent int
}

func NewPolicyCancellationService(opts PolicyCancellationServiceOptions) (*PolicyCancellationService, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models is required for NewPolicyCancellationService")
	}
	if opts.JobQueue == nil {
		return nil, fmt.Errorf("job queue is required for NewPolicyCancellationService")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("mobile money gateway is required for NewPolicyCancellationService")
	}
	if opts.LedgerService == nil {
		return nil, fmt.Errorf("ledger service is required for NewPolicyCancellationService")
	}
	if opts.NotificationService == nil {
		return nil, fmt.Errorf("notification service is required for NewPolicyCancellationService")
	}
	if opts.FreeLookDays == 0 {
		opts.FreeLookDays = DefaultFreeLookDays
	}
	if opts.FreeLookDays < 0 {
		return nil, fmt.Errorf("free-look days cannot be negative, got %d", opts.FreeLookDays)
	}
	if opts.ReversalFeePercent == 0 {
		opts.ReversalFeePercent = DefaultReversalFeePercent
	}
	if opts.ReversalFeePercent < 0 || opts.ReversalFeePercent > 100 {
		return nil, fmt.Errorf("reversal fee percent must be within [0, 100], got %d", opts.ReversalFeePercent)
	}

	return &PolicyCancellationService{
		models:              opts.Models,
		jobQueue:            opts.JobQueue,
		gateway:             opts.Gateway,
		ledgerService:       opts.LedgerService,
		notificationService: opts.NotificationService,
		freeLookDays:        opts.FreeLookDays,
		reversalFeePercent:  opts.ReversalFeePercent,
	}, nil
}

// CancelPolicy cancels a live policy inside its free-look window. The rider
// confirms with their national ID; three mismatches lock the field. The
// cancellation, the REVERSAL transaction, the refund row and the journal
// entry commit atomically, so a refund can never exist without its books.
func (s *PolicyCancellationService) CancelPolicy(ctx context.Context, input CancelPolicyInput) (*CancelPolicyResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	policy, err := s.models.Policies.Get(ctx, s.models.DBConnectionPool, input.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("getting policy %s: %w", input.PolicyID, err)
	}
	if policy.RiderID != input.RiderID {
		// Same response as an unknown policy, so the endpoint does not leak
		// which policy ids exist.
		return nil, data.ErrRecordNotFound
	}

	switch policy.Status {
	case data.ActivePolicyStatus, data.ExpiringPolicyStatus:
	default:
		return nil, fmt.Errorf("%w: policy %s is %s", ErrPolicyNotCancellable, policy.ID, policy.Status)
	}

	now := time.Now()
	if !policy.IsInFreeLookWindow(now, s.freeLookDays) {
		return nil, fmt.Errorf("%w: coverage started %s", ErrFreeLookWindowClosed, policy.CoverageStart.Format("2006-01-02"))
	}

	if err = s.confirmNationalID(ctx, input.RiderID, input.NationalID); err != nil {
		return nil, err
	}

	refundAmount, reversalFee := s.refundSplit(policy.PremiumAmount)

	result, err := db.RunInTransactionWithResult(ctx, s.models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*CancelPolicyResult, error) {
		cancelled, innerErr := s.models.Policies.Cancel(ctx, dbTx, policy.ID, input.Reason, now)
		if innerErr != nil {
			return nil, fmt.Errorf("cancelling policy %s: %w", policy.ID, innerErr)
		}

		reversal, innerErr := s.reversalTransaction(ctx, dbTx, cancelled, now)
		if innerErr != nil {
			return nil, innerErr
		}

		refund, innerErr := s.models.Refunds.Insert(ctx, dbTx, data.RefundInsert{
			RiderID:       cancelled.RiderID,
			PolicyID:      cancelled.ID,
			TransactionID: reversal.ID,
			Amount:        refundAmount,
			ReversalFee:   reversalFee,
			Reason:        input.Reason,
		})
		if innerErr != nil {
			if errors.Is(innerErr, data.ErrRecordAlreadyExists) {
				return nil, fmt.Errorf("%w: policy %s", ErrPolicyAlreadyRefunded, cancelled.ID)
			}
			return nil, fmt.Errorf("inserting refund for policy %s: %w", cancelled.ID, innerErr)
		}

		_, innerErr = s.ledgerService.PostFreeLookCancellation(ctx, dbTx, cancelled.ID, cancelled.PolicyNumber, cancelled.PremiumAmount, refundAmount, reversalFee)
		if innerErr != nil {
			return nil, fmt.Errorf("posting the cancellation entry for policy %s: %w", cancelled.ID, innerErr)
		}

		s.notifyCancellation(ctx, dbTx, cancelled, refund)

		return &CancelPolicyResult{Policy: cancelled, Refund: refund}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Infof("cancelled policy %s (%s) in free-look: refund %s, fee %s",
		result.Policy.ID, result.Policy.PolicyNumber, result.Refund.Amount, result.Refund.ReversalFee)
	return result, nil
}

// ProcessRefund pays out a PENDING refund: claims it, sends the money through
// the mobile-money payout rail, posts the payout entry and notifies the rider.
// The claim is a status CAS, so two workers cannot pay the same refund twice.
func (s *PolicyCancellationService) ProcessRefund(ctx context.Context, refundID string) (*data.Refund, error) {
	claimed, err := s.models.Refunds.ClaimPending(ctx, s.models.DBConnectionPool, refundID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRefundNotPending, refundID)
		}
		return nil, fmt.Errorf("claiming refund %s: %w", refundID, err)
	}

	if err = s.payOut(ctx, claimed); err != nil {
		if _, failErr := s.models.Refunds.MarkFailed(ctx, s.models.DBConnectionPool, claimed.ID, time.Now()); failErr != nil {
			log.Ctx(ctx).Errorf("marking refund %s failed after a payout error: %v", claimed.ID, failErr)
		}
		return nil, err
	}

	now := time.Now()
	completed, err := db.RunInTransactionWithResult(ctx, s.models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*data.Refund, error) {
		refund, innerErr := s.models.Refunds.Complete(ctx, dbTx, claimed.ID, now)
		if innerErr != nil {
			return nil, fmt.Errorf("completing refund %s: %w", claimed.ID, innerErr)
		}

		if _, innerErr = s.ledgerService.PostRefundPayout(ctx, dbTx, refund.PolicyID, refund.ID, refund.Amount); innerErr != nil {
			return nil, fmt.Errorf("posting the payout entry for refund %s: %w", refund.ID, innerErr)
		}

		s.notifyRefundProcessed(ctx, dbTx, refund)

		return refund, nil
	})
	if err != nil {
		// The claim flipped the row to PROCESSING; park it as FAILED so ops
		// can re-issue instead of leaving it half-claimed.
		if _, failErr := s.models.Refunds.MarkFailed(ctx, s.models.DBConnectionPool, claimed.ID, time.Now()); failErr != nil {
			log.Ctx(ctx).Errorf("marking refund %s failed after a payout error: %v", claimed.ID, failErr)
		}
		return nil, err
	}

	log.Ctx(ctx).Infof("refund %s for policy %s paid out: %s", completed.ID, completed.PolicyID, completed.Amount)
	return completed, nil
}

// payOut pushes the refund to the rider's phone through the B2C rail.
func (s *PolicyCancellationService) payOut(ctx context.Context, refund *data.Refund) error {
	rider, err := s.models.Riders.Get(ctx, s.models.DBConnectionPool, refund.RiderID)
	if err != nil {
		return fmt.Errorf("getting rider %s for refund %s: %w", refund.RiderID, refund.ID, err)
	}

	payout, err := s.gateway.InitiatePayout(ctx, mobilemoney.PayoutRequest{
		Phone:       rider.PhoneNumber,
		Amount:      refund.Amount,
		Reference:   refund.ID,
		Description: "BodaSure free-look refund",
	})
	if err != nil {
		return fmt.Errorf("initiating the payout for refund %s: %w", refund.ID, err)
	}

	log.Ctx(ctx).Infof("payout %s accepted for refund %s (%s)", payout.PayoutID, refund.ID, payout.ResponseDescription)
	return nil
}

// confirmNationalID compares the supplied value against the rider's bcrypt
// hash, burning one attempt on a mismatch.
func (s *PolicyCancellationService) confirmNationalID(ctx context.Context, riderID, nationalID string) error {
	verification, err := s.models.RiderVerifications.GetByRiderIDAndField(ctx, s.models.DBConnectionPool, riderID, data.NationalIDVerificationType)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return fmt.Errorf("%w: no national ID on file for rider %s", ErrVerificationMismatch, riderID)
		}
		return fmt.Errorf("getting the national ID verification for rider %s: %w", riderID, err)
	}
	if s.models.RiderVerifications.ExceededAttempts(verification.Attempts) {
		return ErrVerificationLocked
	}

	if !data.CompareVerificationValue(verification.HashedValue, strings.TrimSpace(nationalID)) {
		updated, attemptErr := s.models.RiderVerifications.RecordAttempt(ctx, s.models.DBConnectionPool, riderID, data.NationalIDVerificationType)
		if attemptErr != nil {
			return fmt.Errorf("recording the failed verification attempt for rider %s: %w", riderID, attemptErr)
		}
		if s.models.RiderVerifications.ExceededAttempts(updated.Attempts) {
			return ErrVerificationLocked
		}
		remaining := data.MaxVerificationAttempts - updated.Attempts
		return fmt.Errorf("%w: %d attempt(s) remaining", ErrVerificationMismatch, remaining)
	}

	if err = s.models.RiderVerifications.ConfirmVerification(ctx, s.models.DBConnectionPool, riderID, data.NationalIDVerificationType); err != nil {
		return fmt.Errorf("confirming the national ID for rider %s: %w", riderID, err)
	}
	return nil
}

// refundSplit divides the premium into the rider's refund and the retained
// reversal fee. Rounding favors the rider: the fee takes the rounded slice and
// the refund keeps the remainder, so refund + fee always equals the premium.
func (s *PolicyCancellationService) refundSplit(premium money.Amount) (refundAmount, reversalFee money.Amount) {
	reversalFee, refundAmount = premium.SplitPercent(decimal.NewFromInt(int64(s.reversalFeePercent)))
	return refundAmount, reversalFee
}

// reversalTransaction records the premium flowing back out as a new
// transaction; the original settlement row stays immutable.
func (s *PolicyCancellationService) reversalTransaction(ctx context.Context, dbTx db.DBTransaction, policy *data.Policy, now time.Time) (*data.Transaction, error) {
	wallet, err := s.models.Wallets.GetByRiderID(ctx, dbTx, policy.RiderID)
	if err != nil {
		return nil, fmt.Errorf("getting the wallet of rider %s: %w", policy.RiderID, err)
	}

	reversal, err := s.models.Transactions.Insert(ctx, dbTx, data.TransactionInsert{
		RiderID:  policy.RiderID,
		WalletID: wallet.ID,
		Type:     data.ReversalTransactionType,
		Amount:   policy.PremiumAmount,
		Metadata: map[string]interface{}{
			"policy_id":     policy.ID,
			"policy_number": policy.PolicyNumber,
			"reason":        policy.CancellationReason,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("inserting the reversal transaction for policy %s: %w", policy.ID, err)
	}

	// Internal movement, no provider receipt.
	completed, err := s.models.Transactions.Complete(ctx, dbTx, reversal.ID, "", now)
	if err != nil {
		return nil, fmt.Errorf("completing the reversal transaction %s: %w", reversal.ID, err)
	}
	if err = s.models.Transactions.LinkPolicy(ctx, dbTx, completed.ID, policy.ID); err != nil {
		return nil, fmt.Errorf("linking the reversal transaction %s to policy %s: %w", completed.ID, policy.ID, err)
	}
	return completed, nil
}

func (s *PolicyCancellationService) notifyCancellation(ctx context.Context, dbTx db.DBTransaction, policy *data.Policy, refund *data.Refund) {
	s.enqueueRiderNotification(ctx, dbTx, policy.RiderID, data.PolicyCancelledNotificationType, data.NotificationVariables{
		"PolicyNumber": policy.PolicyNumber,
		"RefundAmount": refund.Amount.String(),
	})
}

func (s *PolicyCancellationService) notifyRefundProcessed(ctx context.Context, dbTx db.DBTransaction, refund *data.Refund) {
	s.enqueueRiderNotification(ctx, dbTx, refund.RiderID, data.RefundProcessedNotificationType, data.NotificationVariables{
		"RefundAmount": refund.Amount.String(),
	})
}

// enqueueRiderNotification persists the notification and its delivery job in
// the surrounding transaction. A notification problem never rolls back the
// money movement it describes.
func (s *PolicyCancellationService) enqueueRiderNotification(ctx context.Context, dbTx db.DBTransaction, riderID string, notificationType data.NotificationType, variables data.NotificationVariables) {
	result, err := s.notificationService.CreateNotification(ctx, dbTx, SendNotificationInput{
		RiderID:   riderID,
		Channel:   data.SMSNotificationChannel,
		Type:      notificationType,
		Variables: variables,
		Priority:  data.HighNotificationPriority,
	})
	if err != nil {
		log.Ctx(ctx).Errorf("creating the %s notification for rider %s: %v", notificationType, riderID, err)
		return
	}
	if result.Outcome != NotificationOutcomePending {
		return
	}

	if _, err = s.jobQueue.Enqueue(ctx, dbTx, jobqueue.JobInsert{
		Kind:    jobqueue.SendNotificationJobKind,
		Payload: jobqueue.SendNotificationPayload{NotificationID: result.Notification.ID},
	}); err != nil {
		log.Ctx(ctx).Errorf("enqueueing the delivery job for notification %s: %v", result.Notification.ID, err)
	}
}
