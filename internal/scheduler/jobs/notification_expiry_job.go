package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	notificationExpiryJobName     = "notification_expiry_job"
	notificationExpiryJobInterval = 10 * time.Minute

	// DefaultNotificationTTL is how long a QUEUED notification stays worth
	// delivering. A stale payment confirmation is worse than none.
	DefaultNotificationTTL = 48 * time.Hour
)

type notificationExpiryJob struct {
	models *data.Models
	ttl    time.Duration
}

func NewNotificationExpiryJob(models *data.Models, ttl time.Duration) Job {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &notificationExpiryJob{
		models: models,
		ttl:    ttl,
	}
}

func (j *notificationExpiryJob) Execute(ctx context.Context) error {
	expired, err := j.models.Notifications.ExpireStale(ctx, j.models.DBConnectionPool, time.Now().Add(-j.ttl))
	if err != nil {
		return fmt.Errorf("expiring stale notifications: %w", err)
	}
	if expired > 0 {
		log.Ctx(ctx).Infof("expired %d notifications older than %s", expired, j.ttl)
	}
	return nil
}

func (j *notificationExpiryJob) GetInterval() time.Duration {
	return notificationExpiryJobInterval
}

func (j *notificationExpiryJob) GetName() string {
	return notificationExpiryJobName
}

var _ Job = (*notificationExpiryJob)(nil)
