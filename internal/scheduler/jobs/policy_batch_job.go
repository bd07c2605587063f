package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	policyBatchJobName     = "policy_batch_job"
	policyBatchJobInterval = time.Minute
)

// policyBatchJob ticks minutely and fires every batch slot the wall clock has
// crossed today. The (batch_date, schedule) unique row makes the firing safe
// across instances and across repeated ticks: all but the first attempt get
// ErrBatchAlreadyRun.
type policyBatchJob struct {
	batchService services.BatchServiceInterface
	location     *time.Location
	now          func() time.Time
}

func NewPolicyBatchJob(batchService services.BatchServiceInterface, location *time.Location) Job {
	if location == nil {
		location = time.UTC
	}
	return &policyBatchJob{
		batchService: batchService,
		location:     location,
		now:          time.Now,
	}
}

func (j *policyBatchJob) Execute(ctx context.Context) error {
	local := j.now().In(j.location)

	slots := []struct {
		hour     int
		schedule data.BatchSchedule
	}{
		{services.Batch1Hour, data.Batch1Schedule},
		{services.Batch2Hour, data.Batch2Schedule},
		{services.Batch3Hour, data.Batch3Schedule},
	}

	for _, slot := range slots {
		if local.Hour() < slot.hour {
			continue
		}

		batch, err := j.batchService.ProcessBatch(ctx, slot.schedule, local)
		if errors.Is(err, services.ErrBatchAlreadyRun) {
			continue
		}
		if err != nil {
			return fmt.Errorf("processing %s batch: %w", slot.schedule, err)
		}

		log.Ctx(ctx).Infof("batch %s activated %d of %d policies", batch.BatchNumber, batch.ActivatedCount, batch.TotalPolicies)
	}

	return nil
}

func (j *policyBatchJob) GetInterval() time.Duration {
	return policyBatchJobInterval
}

func (j *policyBatchJob) GetName() string {
	return policyBatchJobName
}

var _ Job = (*policyBatchJob)(nil)
