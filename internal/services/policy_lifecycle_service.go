package services

import (
	"context"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	// DefaultExpiryWarningWindow is how far ahead of coverage_end a policy is
	// flipped to EXPIRING and its rider warned.
	DefaultExpiryWarningWindow = 14 * 24 * time.Hour

	// DefaultWalletLapseAfter is how long a deposit-complete wallet can sit
	// without a daily payment before it is lapsed.
	DefaultWalletLapseAfter = 30 * 24 * time.Hour
)

type PolicyLifecycleServiceInterface interface {
	SweepExpiring(ctx context.Context, asOf time.Time) (int, error)
	SweepExpired(ctx context.Context, asOf time.Time) (int, error)
	LapseIdleWallets(ctx context.Context, asOf time.Time) (int, error)
}

// PolicyLifecycleService runs the time-driven status sweeps: warning riders
// ahead of coverage end, expiring policies whose coverage has closed, and
// lapsing wallets that stopped paying. Every sweep is a single guarded UPDATE,
// so concurrent instances never double-process a row.
type PolicyLifecycleService struct {
	models              *data.Models
	jobQueue            *jobqueue.Queue
	notificationService NotificationServiceInterface
	warningWindow       time.Duration
	lapseAfter          time.Duration
	location            *time.Location
}

var _ PolicyLifecycleServiceInterface = (*PolicyLifecycleService)(nil)

type PolicyLifecycleServiceOptions struct {
	Models              *data.Models
	JobQueue            *jobqueue.Queue
	NotificationService NotificationServiceInterface
	// WarningWindow defaults to DefaultExpiryWarningWindow.
	WarningWindow time.Duration
	// LapseAfter defaults to DefaultWalletLapseAfter.
	LapseAfter time.Duration
	// Location is the wall clock used for rider-facing dates. Defaults to UTC.
	Location *time.Location
}

func NewPolicyLifecycleService(opts PolicyLifecycleServiceOptions) (*PolicyLifecycleService, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models is required for NewPolicyLifecycleService")
	}
	if opts.JobQueue == nil {
		return nil, fmt.Errorf("job queue is required for NewPolicyLifecycleService")
	}
	if opts.NotificationService == nil {
		return nil, fmt.Errorf("notification service is required for NewPolicyLifecycleService")
	}
	if opts.WarningWindow <= 0 {
		opts.WarningWindow = DefaultExpiryWarningWindow
	}
	if opts.LapseAfter <= 0 {
		opts.LapseAfter = DefaultWalletLapseAfter
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &PolicyLifecycleService{
		models:              opts.Models,
		jobQueue:            opts.JobQueue,
		notificationService: opts.NotificationService,
		warningWindow:       opts.WarningWindow,
		lapseAfter:          opts.LapseAfter,
		location:            opts.Location,
	}, nil
}

// SweepExpiring flips ACTIVE policies ending within the warning window to
// EXPIRING and queues one POLICY_EXPIRING notification per policy. The status
// flip is what makes the warning one-time: a policy already EXPIRING is not
// returned again.
func (s *PolicyLifecycleService) SweepExpiring(ctx context.Context, asOf time.Time) (int, error) {
	policies, err := s.models.Policies.MarkExpiring(ctx, s.models.DBConnectionPool, asOf, s.warningWindow)
	if err != nil {
		return 0, fmt.Errorf("marking expiring policies: %w", err)
	}

	for i := range policies {
		policy := &policies[i]
		if notifyErr := s.notifyExpiring(ctx, policy); notifyErr != nil {
			log.Ctx(ctx).Errorf("queueing the expiry warning for policy %s: %v", policy.ID, notifyErr)
		}
	}

	return len(policies), nil
}

func (s *PolicyLifecycleService) notifyExpiring(ctx context.Context, policy *data.Policy) error {
	coverageEnd := ""
	if policy.CoverageEnd != nil {
		coverageEnd = policy.CoverageEnd.In(s.location).Format("02 Jan 2006")
	}

	return db.RunInTransaction(ctx, s.models.DBConnectionPool, nil, func(dbTx db.DBTransaction) error {
		result, err := s.notificationService.CreateNotification(ctx, dbTx, SendNotificationInput{
			RiderID: policy.RiderID,
			Channel: data.SMSNotificationChannel,
			Type:    data.PolicyExpiringNotificationType,
			Variables: data.NotificationVariables{
				"PolicyNumber": policy.PolicyNumber,
				"CoverageEnd":  coverageEnd,
			},
		})
		if err != nil {
			return fmt.Errorf("creating the notification: %w", err)
		}
		if result.Outcome != NotificationOutcomePending {
			return nil
		}

		if _, err = s.jobQueue.Enqueue(ctx, dbTx, jobqueue.JobInsert{
			Kind:    jobqueue.SendNotificationJobKind,
			Payload: jobqueue.SendNotificationPayload{NotificationID: result.Notification.ID},
		}); err != nil {
			return fmt.Errorf("enqueueing the delivery job: %w", err)
		}
		return nil
	})
}

// SweepExpired moves policies whose coverage window has closed to EXPIRED.
func (s *PolicyLifecycleService) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	policies, err := s.models.Policies.ExpirePast(ctx, s.models.DBConnectionPool, asOf)
	if err != nil {
		return 0, fmt.Errorf("expiring policies: %w", err)
	}

	if len(policies) > 0 {
		log.Ctx(ctx).Infof("expired %d policies with coverage ending before %s", len(policies), asOf.Format(time.RFC3339))
	}

	return len(policies), nil
}

// LapseIdleWallets lapses wallets that completed their deposit but have not
// made a daily payment within the lapse window. Issued cover is untouched: a
// lapsed wallet only stops the progression toward the eleven-month policy.
func (s *PolicyLifecycleService) LapseIdleWallets(ctx context.Context, asOf time.Time) (int, error) {
	walletIDs, err := s.models.Wallets.LapseInactive(ctx, s.models.DBConnectionPool, asOf.Add(-s.lapseAfter))
	if err != nil {
		return 0, fmt.Errorf("lapsing idle wallets: %w", err)
	}

	for _, walletID := range walletIDs {
		log.Ctx(ctx).Infof("wallet %s lapsed after %s without a daily payment", walletID, s.lapseAfter)
	}

	return len(walletIDs), nil
}
