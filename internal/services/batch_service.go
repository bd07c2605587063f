package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/events/schemas"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// Batch wall-clock times, deployment time zone.
const (
	Batch1Hour = 8
	Batch2Hour = 14
	Batch3Hour = 20
)

// ErrBatchAlreadyRun is returned when the (batch_date, schedule) slot has
// already been claimed: another instance owns the run, or it already happened.
var ErrBatchAlreadyRun = errors.New("policy batch has already run for this date and schedule")

// ErrBatchNotRetryable is returned when RetryFailed is called on a batch whose
// status does not admit a retry.
var ErrBatchNotRetryable = errors.New("policy batch is not in a retryable status")

type BatchServiceInterface interface {
	ProcessBatch(ctx context.Context, schedule data.BatchSchedule, triggerTime time.Time) (*data.PolicyBatch, error)
	RetryFailed(ctx context.Context, batchID string) (*data.PolicyBatch, error)
}

// BatchService turns PENDING_ISSUANCE policies into live cover. Each run
// claims the (batch_date, schedule) slot through the unique index, activates
// the policies whose triggering payment settled inside the slot's window, and
// records the tallies on the batch row. The unique slot is the only
// cluster-wide lock; everything per policy is its own transaction so one bad
// policy cannot take its siblings down.
type BatchService struct {
	models              *data.Models
	jobQueue            *jobqueue.Queue
	eventProducer       events.Producer
	ledgerService       LedgerServiceInterface
	notificationService NotificationServiceInterface
	monitorService      monitor.MonitorServiceInterface
	location            *time.Location
}

var _ BatchServiceInterface = (*BatchService)(nil)

type BatchServiceOptions struct {
	Models              *data.Models
	JobQueue            *jobqueue.Queue
	EventProducer       events.Producer
	LedgerService       LedgerServiceInterface
	NotificationService NotificationServiceInterface
	MonitorService      monitor.MonitorServiceInterface
	// Location is the wall clock the batch windows are defined in. Defaults
	// to UTC.
	Location *time.Location
}

func NewBatchService(opts BatchServiceOptions) (*BatchService, error) {
	if opts.Models == nil {
		return nil, fmt.Errorf("models is required for NewBatchService")
	}
	if opts.JobQueue == nil {
		return nil, fmt.Errorf("job queue is required for NewBatchService")
	}
	if opts.LedgerService == nil {
		return nil, fmt.Errorf("ledger service is required for NewBatchService")
	}
	if opts.NotificationService == nil {
		return nil, fmt.Errorf("notification service is required for NewBatchService")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	return &BatchService{
		models:              opts.Models,
		jobQueue:            opts.JobQueue,
		eventProducer:       opts.EventProducer,
		ledgerService:       opts.LedgerService,
		notificationService: opts.NotificationService,
		monitorService:      opts.MonitorService,
		location:            opts.Location,
	}, nil
}

// BatchWindow is the settlement interval a scheduled run covers:
// (Start, End], with End also being the run's scheduled_for instant.
type BatchWindow struct {
	Start        time.Time
	End          time.Time
	ScheduledFor time.Time
	BatchDate    time.Time
}

// WindowFor computes the settlement window a schedule covers on the trigger
// day. BATCH_1 reaches back to the previous day's BATCH_3 boundary so the
// overnight settlements are never orphaned; MANUAL covers everything pending
// as of the trigger.
func WindowFor(schedule data.BatchSchedule, triggerTime time.Time, loc *time.Location) (BatchWindow, error) {
	local := triggerTime.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	at := func(hour int) time.Time { return midnight.Add(time.Duration(hour) * time.Hour) }

	switch schedule {
	case data.Batch1Schedule:
		return BatchWindow{
			Start:        at(Batch3Hour).AddDate(0, 0, -1),
			End:          at(Batch1Hour),
			ScheduledFor: at(Batch1Hour),
			BatchDate:    midnight,
		}, nil
	case data.Batch2Schedule:
		return BatchWindow{
			Start:        at(Batch1Hour),
			End:          at(Batch2Hour),
			ScheduledFor: at(Batch2Hour),
			BatchDate:    midnight,
		}, nil
	case data.Batch3Schedule:
		return BatchWindow{
			Start:        at(Batch2Hour),
			End:          at(Batch3Hour),
			ScheduledFor: at(Batch3Hour),
			BatchDate:    midnight,
		}, nil
	case data.ManualSchedule:
		return BatchWindow{
			Start:        time.Unix(0, 0).In(loc),
			End:          local,
			ScheduledFor: local,
			BatchDate:    midnight,
		}, nil
	default:
		return BatchWindow{}, fmt.Errorf("invalid batch schedule %q", schedule)
	}
}

// BatchNumberFor builds the human-facing batch identifier, deterministic for
// a (date, schedule) slot. Manual runs carry the trigger time so they stay
// unique within a day.
func BatchNumberFor(schedule data.BatchSchedule, window BatchWindow) string {
	if schedule == data.ManualSchedule {
		return fmt.Sprintf("BATCH-%s-M%s", window.BatchDate.Format("20060102"), window.ScheduledFor.Format("150405"))
	}
	return fmt.Sprintf("BATCH-%s-%s", window.BatchDate.Format("20060102"), schedule.Tag())
}

// ProcessBatch opens the (batch_date, schedule) slot and activates every
// pending policy whose triggering payment settled inside its window. A slot
// already claimed returns ErrBatchAlreadyRun without side effects.
func (s *BatchService) ProcessBatch(ctx context.Context, schedule data.BatchSchedule, triggerTime time.Time) (*data.PolicyBatch, error) {
	window, err := WindowFor(schedule, triggerTime, s.location)
	if err != nil {
		return nil, err
	}

	batch, err := s.models.PolicyBatches.Insert(ctx, s.models.DBConnectionPool, data.PolicyBatchInsert{
		BatchNumber:        BatchNumberFor(schedule, window),
		Schedule:           schedule,
		BatchDate:          window.BatchDate,
		ScheduledFor:       window.ScheduledFor,
		PaymentWindowStart: window.Start,
		PaymentWindowEnd:   window.End,
	})
	if err != nil {
		if errors.Is(err, data.ErrBatchAlreadyExists) {
			return nil, fmt.Errorf("%w: %s %s", ErrBatchAlreadyRun, window.BatchDate.Format("2006-01-02"), schedule)
		}
		return nil, fmt.Errorf("opening policy batch for %s: %w", schedule, err)
	}

	claimed, err := s.models.Policies.ClaimForBatch(ctx, s.models.DBConnectionPool, batch.ID, window.Start, window.End)
	if err != nil {
		closed, closeErr := s.models.PolicyBatches.MarkFailed(ctx, s.models.DBConnectionPool, batch.ID, data.BatchResults{})
		if closeErr != nil {
			log.Ctx(ctx).Errorf("marking batch %s failed after a claim error: %v", batch.ID, closeErr)
			closed = batch
		}
		s.monitorBatch(ctx, monitor.PolicyBatchFailuresCounterTag, schedule)
		return closed, fmt.Errorf("claiming pending policies for batch %s: %w", batch.BatchNumber, err)
	}

	log.Ctx(ctx).Infof("batch %s claimed %d pending policies for window (%s, %s]",
		batch.BatchNumber, len(claimed), window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))

	results := s.activateClaimed(ctx, batch, claimed, data.BatchResults{})

	finished, err := s.models.PolicyBatches.Finish(ctx, s.models.DBConnectionPool, batch.ID, results)
	if err != nil {
		return batch, fmt.Errorf("closing batch %s: %w", batch.BatchNumber, err)
	}

	s.monitorBatch(ctx, monitor.PolicyBatchesRunCounterTag, schedule)
	log.Ctx(ctx).Infof("batch %s finished %s: %d activated, %d failed, premium %s",
		finished.BatchNumber, finished.Status, finished.ActivatedCount, finished.FailedCount, finished.TotalPremium)
	return finished, nil
}

// RetryFailed re-attempts activation for the batch's policies still stuck in
// PROCESSING. Already-activated policies are untouched; the merged tallies
// replace the batch's previous ones.
func (s *BatchService) RetryFailed(ctx context.Context, batchID string) (*data.PolicyBatch, error) {
	batch, err := s.models.PolicyBatches.Get(ctx, s.models.DBConnectionPool, batchID)
	if err != nil {
		return nil, fmt.Errorf("getting batch %s: %w", batchID, err)
	}
	switch batch.Status {
	case data.CompletedWithErrorsPolicyBatchStatus, data.FailedPolicyBatchStatus:
	default:
		return nil, fmt.Errorf("%w: batch %s is %s", ErrBatchNotRetryable, batch.BatchNumber, batch.Status)
	}

	remaining, err := s.models.Policies.GetClaimedByBatchID(ctx, s.models.DBConnectionPool, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("listing remaining policies of batch %s: %w", batch.BatchNumber, err)
	}

	carried := data.BatchResults{
		TotalPolicies:  batch.TotalPolicies,
		ActivatedCount: batch.ActivatedCount,
		TotalPremium:   batch.TotalPremium,
	}
	results := s.activateClaimed(ctx, batch, remaining, carried)

	finished, err := s.models.PolicyBatches.Finish(ctx, s.models.DBConnectionPool, batch.ID, results)
	if err != nil {
		return batch, fmt.Errorf("closing batch %s after retry: %w", batch.BatchNumber, err)
	}

	log.Ctx(ctx).Infof("batch %s retry finished %s: %d activated, %d still failing",
		finished.BatchNumber, finished.Status, finished.ActivatedCount, finished.FailedCount)
	return finished, nil
}

// activateClaimed walks the claimed policies in settlement order, one
// transaction each, accumulating tallies over the carried-in ones. The
// sequence for policy numbers continues from the activations already counted
// so a retry never reuses a number.
func (s *BatchService) activateClaimed(ctx context.Context, batch *data.PolicyBatch, claimed []data.Policy, carried data.BatchResults) data.BatchResults {
	results := carried
	results.TotalPolicies = carried.ActivatedCount + len(claimed)

	sequence := carried.ActivatedCount
	for i := range claimed {
		policy := &claimed[i]
		sequence++

		activated, err := s.activateOne(ctx, batch, policy, sequence)
		if err != nil {
			sequence--
			results.FailedCount++
			results.FailedPolicies = append(results.FailedPolicies, data.FailedPolicy{PolicyID: policy.ID, Reason: err.Error()})
			s.monitorBatch(ctx, monitor.PolicyBatchFailuresCounterTag, batch.Schedule)
			log.Ctx(ctx).Errorf("batch %s could not activate policy %s: %v", batch.BatchNumber, policy.ID, err)
			continue
		}

		results.ActivatedCount++
		results.TotalPremium += activated.PremiumAmount
		s.monitorPolicyActivated(ctx, activated.Type)
	}

	return results
}

// activateOne issues a single policy: number, coverage window, premium
// recognition, certificate and notification jobs, all in one transaction,
// with the broker event deferred to after commit.
func (s *BatchService) activateOne(ctx context.Context, batch *data.PolicyBatch, policy *data.Policy, sequence int) (*data.Policy, error) {
	coverageStart := batch.ScheduledFor
	coverageEnd := coverageStart.AddDate(0, policy.Type.CoverageMonths(), 0)
	policyNumber := fmt.Sprintf("POL-%s-%s-%06d", batch.BatchDate.Format("20060102"), batch.Schedule.Tag(), sequence)

	var activated *data.Policy
	err := db.RunInTransactionWithPostCommit(ctx, &db.TransactionOptions{
		DBConnectionPool: s.models.DBConnectionPool,
		AtomicFunctionWithPostCommit: func(dbTx db.DBTransaction) (db.PostCommitFunction, error) {
			var innerErr error
			activated, innerErr = s.models.Policies.Activate(ctx, dbTx, policy.ID, data.PolicyActivation{
				PolicyNumber:  policyNumber,
				CoverageStart: coverageStart,
				CoverageEnd:   coverageEnd,
				IssuedAt:      time.Now(),
			})
			if innerErr != nil {
				return nil, fmt.Errorf("activating policy %s as %s: %w", policy.ID, policyNumber, innerErr)
			}

			if innerErr = s.models.Transactions.LinkPolicy(ctx, dbTx, activated.TriggeringTransactionID, activated.ID); innerErr != nil {
				return nil, fmt.Errorf("linking transaction %s to policy %s: %w", activated.TriggeringTransactionID, activated.ID, innerErr)
			}

			description := fmt.Sprintf("premium earned on policy %s (%s)", policyNumber, activated.Type)
			if _, innerErr = s.ledgerService.PostPolicyActivation(ctx, dbTx, activated.ID, policyNumber, activated.PremiumAmount); innerErr != nil {
				return nil, fmt.Errorf("posting %s: %w", description, innerErr)
			}

			if _, innerErr = s.jobQueue.Enqueue(ctx, dbTx, jobqueue.JobInsert{
				Kind:    jobqueue.GenerateCertificateJobKind,
				Payload: jobqueue.GenerateCertificatePayload{PolicyID: activated.ID},
			}); innerErr != nil {
				return nil, fmt.Errorf("enqueueing certificate job for policy %s: %w", activated.ID, innerErr)
			}

			s.notifyPolicyIssued(ctx, dbTx, activated)

			message := s.policyActivatedEvent(ctx, activated)
			return func() error {
				if produceErr := events.ProduceEvents(ctx, s.eventProducer, message); produceErr != nil {
					log.Ctx(ctx).Errorf("producing policy activated event for %s: %v", activated.ID, produceErr)
				}
				return nil
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Infof("activated policy %s as %s, coverage [%s, %s)",
		activated.ID, activated.PolicyNumber, coverageStart.Format(time.RFC3339), coverageEnd.Format(time.RFC3339))
	return activated, nil
}

// notifyPolicyIssued queues the POLICY_ISSUED message. A notification problem
// never fails the activation.
func (s *BatchService) notifyPolicyIssued(ctx context.Context, sqlExec db.SQLExecuter, policy *data.Policy) {
	rider, err := s.models.Riders.Get(ctx, sqlExec, policy.RiderID)
	if err != nil {
		log.Ctx(ctx).Errorf("getting rider %s for the policy issued notification: %v", policy.RiderID, err)
		return
	}

	result, err := s.notificationService.CreateNotification(ctx, sqlExec, SendNotificationInput{
		RiderID: policy.RiderID,
		Channel: data.SMSNotificationChannel,
		Type:    data.PolicyIssuedNotificationType,
		Variables: data.NotificationVariables{
			"FirstName":    rider.FirstName,
			"PolicyNumber": policy.PolicyNumber,
			"CoverageEnd":  policy.CoverageEnd.In(s.location).Format("02 Jan 2006"),
		},
		Priority: data.HighNotificationPriority,
	})
	if err != nil {
		log.Ctx(ctx).Errorf("creating policy issued notification for rider %s: %v", policy.RiderID, err)
		return
	}
	if result.Outcome != NotificationOutcomePending {
		return
	}

	if _, err = s.jobQueue.Enqueue(ctx, sqlExec, jobqueue.JobInsert{
		Kind:    jobqueue.SendNotificationJobKind,
		Payload: jobqueue.SendNotificationPayload{NotificationID: result.Notification.ID},
	}); err != nil {
		log.Ctx(ctx).Errorf("enqueueing delivery job for notification %s: %v", result.Notification.ID, err)
	}
}

func (s *BatchService) policyActivatedEvent(ctx context.Context, policy *data.Policy) *events.Message {
	msg, err := events.NewMessage(events.PolicyActivatedTopic, policy.RiderID, events.PolicyActivatedType, schemas.EventPolicyActivatedData{
		PolicyID:      policy.ID,
		PolicyNumber:  policy.PolicyNumber,
		RiderID:       policy.RiderID,
		CoverageStart: *policy.CoverageStart,
		CoverageEnd:   *policy.CoverageEnd,
	})
	if err != nil {
		log.Ctx(ctx).Errorf("building policy activated event for %s: %v", policy.ID, err)
		return nil
	}
	return msg
}

func (s *BatchService) monitorBatch(ctx context.Context, tag monitor.MetricTag, schedule data.BatchSchedule) {
	if s.monitorService == nil {
		return
	}
	if err := s.monitorService.MonitorCounters(tag, map[string]string{"schedule": string(schedule)}); err != nil {
		log.Ctx(ctx).Errorf("monitoring %s: %v", tag, err)
	}
}

func (s *BatchService) monitorPolicyActivated(ctx context.Context, policyType data.PolicyType) {
	if s.monitorService == nil {
		return
	}
	if err := s.monitorService.MonitorCounters(monitor.PoliciesActivatedCounterTag, map[string]string{"type": string(policyType)}); err != nil {
		log.Ctx(ctx).Errorf("monitoring %s: %v", monitor.PoliciesActivatedCounterTag, err)
	}
}
