package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	scheduledNotificationsJobName     = "scheduled_notifications_job"
	scheduledNotificationsJobInterval = time.Minute

	// scheduledNotificationsClaimLimit bounds one sweep so a backlog cannot
	// starve the other jobs sharing the worker pool.
	scheduledNotificationsClaimLimit = 100
)

// scheduledNotificationsJob moves due QUEUED notifications into the delivery
// queue. The claim flips them to PENDING with SKIP LOCKED, so concurrent
// sweeps hand each notification to exactly one delivery job.
type scheduledNotificationsJob struct {
	models   *data.Models
	jobQueue *jobqueue.Queue
}

func NewScheduledNotificationsJob(models *data.Models, jobQueue *jobqueue.Queue) Job {
	return &scheduledNotificationsJob{
		models:   models,
		jobQueue: jobQueue,
	}
}

func (j *scheduledNotificationsJob) Execute(ctx context.Context) error {
	notifications, err := j.models.Notifications.ClaimDueQueued(ctx, j.models.DBConnectionPool, time.Now(), scheduledNotificationsClaimLimit)
	if err != nil {
		return fmt.Errorf("claiming due notifications: %w", err)
	}
	if len(notifications) == 0 {
		return nil
	}

	failed := 0
	for i := range notifications {
		notification := &notifications[i]
		if _, enqueueErr := j.jobQueue.Enqueue(ctx, j.models.DBConnectionPool, jobqueue.JobInsert{
			Kind:    jobqueue.SendNotificationJobKind,
			Payload: jobqueue.SendNotificationPayload{NotificationID: notification.ID},
		}); enqueueErr != nil {
			log.Ctx(ctx).Errorf("enqueueing the delivery job for notification %s: %v", notification.ID, enqueueErr)
			failed++
		}
	}

	log.Ctx(ctx).Infof("queued delivery for %d due notifications", len(notifications)-failed)
	if failed > 0 {
		return fmt.Errorf("enqueueing delivery for %d of %d due notifications failed", failed, len(notifications))
	}

	return nil
}

func (j *scheduledNotificationsJob) GetInterval() time.Duration {
	return scheduledNotificationsJobInterval
}

func (j *scheduledNotificationsJob) GetName() string {
	return scheduledNotificationsJobName
}

var _ Job = (*scheduledNotificationsJob)(nil)
