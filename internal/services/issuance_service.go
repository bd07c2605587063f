package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type IssuanceServiceInterface interface {
	PlanOneMonthPolicy(ctx context.Context, sqlExec db.SQLExecuter, transaction *data.Transaction) (*data.Policy, error)
	PlanElevenMonthPolicy(ctx context.Context, sqlExec db.SQLExecuter, transaction *data.Transaction) (*data.Policy, error)
}

// IssuanceService plans policies off settled payments. Planning only creates
// PENDING_ISSUANCE rows; the batch scheduler turns them into live cover.
//
// Planning is idempotent on (rider_id, triggering_transaction_id): the unique
// key makes the settlement path and the Kafka fan-out path converge on the
// same policy no matter which runs first, or how often.
type IssuanceService struct {
	models      *data.Models
	dailyAmount money.Amount
}

var _ IssuanceServiceInterface = (*IssuanceService)(nil)

func NewIssuanceService(models *data.Models, dailyAmount money.Amount) (*IssuanceService, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewIssuanceService")
	}
	if !dailyAmount.IsPositive() {
		return nil, fmt.Errorf("daily amount must be positive, got %s", dailyAmount)
	}

	return &IssuanceService{
		models:      models,
		dailyAmount: dailyAmount,
	}, nil
}

// PlanOneMonthPolicy creates the ONE_MONTH policy a completed deposit earns.
// The premium is the deposit actually settled.
func (s *IssuanceService) PlanOneMonthPolicy(ctx context.Context, sqlExec db.SQLExecuter, transaction *data.Transaction) (*data.Policy, error) {
	if transaction == nil {
		return nil, fmt.Errorf("transaction is required to plan a policy")
	}

	policy, err := s.models.Policies.Insert(ctx, sqlExec, data.PolicyInsert{
		RiderID:                 transaction.RiderID,
		Type:                    data.OneMonthPolicyType,
		TriggeringTransactionID: transaction.ID,
		PremiumAmount:           transaction.Amount,
	})
	if err != nil {
		if errors.Is(err, data.ErrRecordAlreadyExists) {
			return s.getPlanned(ctx, sqlExec, transaction)
		}
		return nil, fmt.Errorf("planning one-month policy for rider %s: %w", transaction.RiderID, err)
	}

	log.Ctx(ctx).Infof("planned ONE_MONTH policy %s for rider %s off transaction %s", policy.ID, policy.RiderID, transaction.ID)
	return policy, nil
}

// PlanElevenMonthPolicy creates the ELEVEN_MONTH policy earned by completing
// the 30-day payment cycle, chained to the rider's live ONE_MONTH policy when
// one exists. The premium is the full program value of the cycle.
func (s *IssuanceService) PlanElevenMonthPolicy(ctx context.Context, sqlExec db.SQLExecuter, transaction *data.Transaction) (*data.Policy, error) {
	if transaction == nil {
		return nil, fmt.Errorf("transaction is required to plan a policy")
	}

	var previousPolicyID string
	previous, err := s.models.Policies.GetLiveByRiderAndType(ctx, sqlExec, transaction.RiderID, data.OneMonthPolicyType)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up the one-month policy to chain for rider %s: %w", transaction.RiderID, err)
	}
	if previous != nil {
		previousPolicyID = previous.ID
	}

	policy, err := s.models.Policies.Insert(ctx, sqlExec, data.PolicyInsert{
		RiderID:                 transaction.RiderID,
		Type:                    data.ElevenMonthPolicyType,
		TriggeringTransactionID: transaction.ID,
		PremiumAmount:           s.dailyAmount.MultiplyDays(data.DaysRequiredForElevenMonthPolicy),
		PreviousPolicyID:        previousPolicyID,
	})
	if err != nil {
		if errors.Is(err, data.ErrRecordAlreadyExists) {
			return s.getPlanned(ctx, sqlExec, transaction)
		}
		return nil, fmt.Errorf("planning eleven-month policy for rider %s: %w", transaction.RiderID, err)
	}

	if previous != nil {
		if err = s.models.Policies.SetNextPolicyID(ctx, sqlExec, previous.ID, policy.ID); err != nil {
			return nil, fmt.Errorf("chaining policy %s to its predecessor %s: %w", policy.ID, previous.ID, err)
		}
	}

	log.Ctx(ctx).Infof("planned ELEVEN_MONTH policy %s for rider %s off transaction %s", policy.ID, policy.RiderID, transaction.ID)
	return policy, nil
}

// getPlanned resolves the idempotency race: the policy for this settlement
// already exists, so return it unchanged.
func (s *IssuanceService) getPlanned(ctx context.Context, sqlExec db.SQLExecuter, transaction *data.Transaction) (*data.Policy, error) {
	policy, err := s.models.Policies.GetByTriggeringTransaction(ctx, sqlExec, transaction.RiderID, transaction.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching already-planned policy for transaction %s: %w", transaction.ID, err)
	}

	log.Ctx(ctx).Infof("policy %s was already planned for transaction %s, skipping", policy.ID, transaction.ID)
	return policy, nil
}
