package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	policyExpiryJobName     = "policy_expiry_job"
	policyExpiryJobInterval = time.Hour
)

// policyExpiryJob runs the time-driven lifecycle sweeps: warn riders whose
// cover is about to end, expire cover past its end, and lapse wallets that
// stopped paying.
type policyExpiryJob struct {
	lifecycleService services.PolicyLifecycleServiceInterface
}

func NewPolicyExpiryJob(lifecycleService services.PolicyLifecycleServiceInterface) Job {
	return &policyExpiryJob{lifecycleService: lifecycleService}
}

func (j *policyExpiryJob) Execute(ctx context.Context) error {
	now := time.Now()

	expiring, err := j.lifecycleService.SweepExpiring(ctx, now)
	if err != nil {
		return fmt.Errorf("sweeping expiring policies: %w", err)
	}

	expired, err := j.lifecycleService.SweepExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweeping expired policies: %w", err)
	}

	lapsed, err := j.lifecycleService.LapseIdleWallets(ctx, now)
	if err != nil {
		return fmt.Errorf("lapsing idle wallets: %w", err)
	}

	if expiring+expired+lapsed > 0 {
		log.Ctx(ctx).Infof("lifecycle sweep: %d expiring, %d expired, %d wallets lapsed", expiring, expired, lapsed)
	}

	return nil
}

func (j *policyExpiryJob) GetInterval() time.Duration {
	return policyExpiryJobInterval
}

func (j *policyExpiryJob) GetName() string {
	return policyExpiryJobName
}

var _ Job = (*policyExpiryJob)(nil)
