package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bodasure/bodasure-backend/internal/crashtracker"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultWorkerCount  = 5
	DefaultBatchSize    = 20
	// DefaultLockTimeout is how long a RUNNING job keeps its lock before
	// another instance may assume the worker died and requeue it. It must
	// exceed the slowest handler by a wide margin.
	DefaultLockTimeout = 5 * time.Minute

	// maxRetryBackoffExponent caps the retry delay at 2^6 = 64 seconds.
	maxRetryBackoffExponent = 6
)

// Handler executes one kind of job. Handlers must be idempotent: a job whose
// worker crashes after the work but before MarkCompleted will run again.
type Handler interface {
	Kind() JobKind
	Handle(ctx context.Context, job *Job) error
}

type RunnerOptions struct {
	Queue              *Queue
	CrashTrackerClient crashtracker.CrashTrackerClient
	MonitorService     monitor.MonitorServiceInterface
	InstanceID         string
	PollInterval       time.Duration
	BatchSize          int
	WorkerCount        int
	LockTimeout        time.Duration
}

// Runner polls the jobs table and dispatches claimed jobs to a worker pool.
// Multiple instances can run the same kinds concurrently; the claim query
// keeps them from stepping on each other.
type Runner struct {
	queue              *Queue
	crashTrackerClient crashtracker.CrashTrackerClient
	monitorService     monitor.MonitorServiceInterface
	handlers           map[JobKind]Handler
	instanceID         string
	pollInterval       time.Duration
	batchSize          int
	workerCount        int
	lockTimeout        time.Duration
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required for NewRunner")
	}
	if opts.CrashTrackerClient == nil {
		return nil, fmt.Errorf("crash tracker client is required for NewRunner")
	}
	if opts.InstanceID == "" {
		opts.InstanceID = fmt.Sprintf("runner-%s", uuid.NewString())
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultWorkerCount
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	return &Runner{
		queue:              opts.Queue,
		crashTrackerClient: opts.CrashTrackerClient,
		monitorService:     opts.MonitorService,
		handlers:           map[JobKind]Handler{},
		instanceID:         opts.InstanceID,
		pollInterval:       opts.PollInterval,
		batchSize:          opts.BatchSize,
		workerCount:        opts.WorkerCount,
		lockTimeout:        opts.LockTimeout,
	}, nil
}

// RegisterHandler wires a handler to its job kind. All handlers must be
// registered before Run is called.
func (r *Runner) RegisterHandler(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	kind := handler.Kind()
	if err := kind.Validate(); err != nil {
		return err
	}
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("a handler is already registered for job kind %s", kind)
	}

	log.Infof("registering job handler for kind %s", kind)
	r.handlers[kind] = handler
	return nil
}

// Run blocks polling for due jobs until ctx is cancelled, then drains the
// in-flight workers before returning.
func (r *Runner) Run(ctx context.Context) {
	if len(r.handlers) == 0 {
		log.Ctx(ctx).Warnf("job runner %s has no registered handlers, nothing to do", r.instanceID)
		return
	}

	r.registerPendingJobsGauge(ctx)
	kinds := r.registeredKinds()

	jobsCh := make(chan Job, r.batchSize)
	var wg sync.WaitGroup
	for i := 1; i <= r.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, r.crashTrackerClient.Clone(), jobsCh)
		}(i)
	}

	log.Ctx(ctx).Infof("starting job runner %s: %d workers polling every %s for kinds %v", r.instanceID, r.workerCount, r.pollInterval, kinds)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Infof("stopping job runner %s...", r.instanceID)
			close(jobsCh)
			wg.Wait()
			return
		case <-ticker.C:
			r.pollOnce(ctx, kinds, jobsCh)
		}
	}
}

func (r *Runner) registeredKinds() []JobKind {
	kinds := make([]JobKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (r *Runner) pollOnce(ctx context.Context, kinds []JobKind, jobsCh chan<- Job) {
	requeued, err := r.queue.RequeueStale(ctx, time.Now().Add(-r.lockTimeout))
	if err != nil {
		r.crashTrackerClient.LogAndReportErrors(ctx, err, "requeueing stale jobs")
	} else if requeued > 0 {
		log.Ctx(ctx).Warnf("requeued %d jobs whose locks expired, their workers likely died", requeued)
	}

	capacity := cap(jobsCh) - len(jobsCh)
	if capacity == 0 {
		return
	}

	jobs, err := r.queue.ClaimDue(ctx, r.instanceID, time.Now(), capacity, kinds)
	if err != nil {
		r.crashTrackerClient.LogAndReportErrors(ctx, err, "claiming due jobs")
		return
	}
	for _, job := range jobs {
		jobsCh <- job
	}
}

func (r *Runner) worker(ctx context.Context, workerID int, crashTrackerClient crashtracker.CrashTrackerClient, jobsCh <-chan Job) {
	log.Ctx(ctx).Debugf("starting job worker %d on runner %s", workerID, r.instanceID)
	for job := range jobsCh {
		r.processJob(ctx, crashTrackerClient, job)
	}
}

func (r *Runner) processJob(ctx context.Context, crashTrackerClient crashtracker.CrashTrackerClient, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			panicErr := fmt.Errorf("panic: %v", rec)
			crashTrackerClient.LogAndReportErrors(ctx, panicErr, fmt.Sprintf("job handler for %s panicked", job.Kind))
			r.finishJob(ctx, crashTrackerClient, job, panicErr)
		}
	}()

	handler, ok := r.handlers[job.Kind]
	if !ok {
		r.finishJob(ctx, crashTrackerClient, job, fmt.Errorf("no handler registered for job kind %s", job.Kind))
		return
	}

	log.Ctx(ctx).Debugf("processing job %s (%s), attempt %d/%d", job.ID, job.Kind, job.Attempt, job.MaxAttempts)
	r.finishJob(ctx, crashTrackerClient, job, handler.Handle(ctx, &job))
}

// finishJob records the outcome of one attempt: COMPLETED on success, FAILED
// with exponential backoff while the attempt budget lasts, DEAD once it is
// spent.
func (r *Runner) finishJob(ctx context.Context, crashTrackerClient crashtracker.CrashTrackerClient, job Job, handleErr error) {
	if handleErr == nil {
		if err := r.queue.MarkCompleted(ctx, job.ID); err != nil {
			r.logFinishError(ctx, crashTrackerClient, job, "completed", err)
		}
		return
	}

	if job.Attempt >= job.MaxAttempts {
		crashTrackerClient.LogAndReportErrors(ctx, handleErr, fmt.Sprintf("job %s (%s) exhausted its %d attempts", job.ID, job.Kind, job.MaxAttempts))
		if err := r.queue.MarkDead(ctx, job.ID, handleErr.Error()); err != nil {
			r.logFinishError(ctx, crashTrackerClient, job, "dead", err)
		}
		return
	}

	backoffExponent := job.Attempt
	if backoffExponent > maxRetryBackoffExponent {
		backoffExponent = maxRetryBackoffExponent
	}
	backoff, backoffErr := utils.ExponentialBackoffInSeconds(backoffExponent)
	if backoffErr != nil {
		backoff = (1 << maxRetryBackoffExponent) * time.Second
	}

	log.Ctx(ctx).Warnf("job %s (%s) failed on attempt %d/%d, retrying in %s: %v", job.ID, job.Kind, job.Attempt, job.MaxAttempts, backoff, handleErr)
	if err := r.queue.MarkFailed(ctx, job.ID, handleErr.Error(), time.Now().Add(backoff)); err != nil {
		r.logFinishError(ctx, crashTrackerClient, job, "failed", err)
	}
}

func (r *Runner) logFinishError(ctx context.Context, crashTrackerClient crashtracker.CrashTrackerClient, job Job, outcome string, err error) {
	if errors.Is(err, ErrJobNotRunning) {
		log.Ctx(ctx).Warnf("job %s (%s) was already transitioned by another instance, not marking it %s", job.ID, job.Kind, outcome)
		return
	}
	crashTrackerClient.LogAndReportErrors(ctx, err, fmt.Sprintf("marking job %s %s", job.ID, outcome))
}

func (r *Runner) registerPendingJobsGauge(ctx context.Context) {
	if r.monitorService == nil {
		return
	}

	err := r.monitorService.RegisterFunctionMetric(
		monitor.FuncGaugeType,
		monitor.FuncMetricOptions{
			Namespace:  monitor.DefaultNamespace,
			Subservice: string(monitor.JobQueueSubservice),
			Name:       string(monitor.JobQueuePendingJobsTag),
			Help:       "The number of jobs waiting to be claimed (PENDING or FAILED)",
			Function: func() float64 {
				gaugeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				count, countErr := r.queue.CountPending(gaugeCtx)
				if countErr != nil {
					log.Ctx(gaugeCtx).Errorf("counting pending jobs for the queue depth gauge: %v", countErr)
					// -1 keeps a broken gauge distinguishable from an empty queue.
					return -1
				}
				return float64(count)
			},
		})
	if err != nil {
		log.Ctx(ctx).Errorf("Error registering pending jobs gauge: %s", err)
	}
}
