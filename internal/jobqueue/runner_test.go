package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/crashtracker"
)

type testJobHandler struct {
	kind     JobKind
	handleFn func(ctx context.Context, job *Job) error
}

func (h *testJobHandler) Kind() JobKind { return h.kind }

func (h *testJobHandler) Handle(ctx context.Context, job *Job) error {
	if h.handleFn == nil {
		return nil
	}
	return h.handleFn(ctx, job)
}

var _ Handler = (*testJobHandler)(nil)

func Test_NewRunner(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	queue, err := NewQueue(dbConnectionPool)
	require.NoError(t, err)

	t.Run("queue is required", func(t *testing.T) {
		_, err := NewRunner(RunnerOptions{CrashTrackerClient: &crashtracker.MockCrashTrackerClient{}})
		require.ErrorContains(t, err, "queue is required for NewRunner")
	})

	t.Run("crash tracker client is required", func(t *testing.T) {
		_, err := NewRunner(RunnerOptions{Queue: queue})
		require.ErrorContains(t, err, "crash tracker client is required for NewRunner")
	})

	t.Run("🎉 applies defaults", func(t *testing.T) {
		runner, err := NewRunner(RunnerOptions{Queue: queue, CrashTrackerClient: &crashtracker.MockCrashTrackerClient{}})
		require.NoError(t, err)

		assert.NotEmpty(t, runner.instanceID)
		assert.Equal(t, DefaultPollInterval, runner.pollInterval)
		assert.Equal(t, DefaultBatchSize, runner.batchSize)
		assert.Equal(t, DefaultWorkerCount, runner.workerCount)
		assert.Equal(t, DefaultLockTimeout, runner.lockTimeout)
	})
}

func Test_Runner_RegisterHandler(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	queue, err := NewQueue(dbConnectionPool)
	require.NoError(t, err)
	runner, err := NewRunner(RunnerOptions{Queue: queue, CrashTrackerClient: &crashtracker.MockCrashTrackerClient{}})
	require.NoError(t, err)

	t.Run("nil handler", func(t *testing.T) {
		require.ErrorContains(t, runner.RegisterHandler(nil), "handler cannot be nil")
	})

	t.Run("invalid kind", func(t *testing.T) {
		require.ErrorContains(t, runner.RegisterHandler(&testJobHandler{kind: "MINE_BITCOIN"}), `invalid job kind "MINE_BITCOIN"`)
	})

	t.Run("🎉 registers and rejects duplicates", func(t *testing.T) {
		require.NoError(t, runner.RegisterHandler(&testJobHandler{kind: SendNotificationJobKind}))
		require.ErrorContains(t, runner.RegisterHandler(&testJobHandler{kind: SendNotificationJobKind}), "a handler is already registered for job kind SEND_NOTIFICATION")
	})
}

func Test_Runner_processJob(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	queue, err := NewQueue(dbConnectionPool)
	require.NoError(t, err)

	claimOne := func(t *testing.T, kind JobKind) Job {
		t.Helper()
		CreateJobFixture(t, ctx, dbConnectionPool, &Job{Kind: kind, RunAt: time.Now().Add(-time.Minute)})
		claimed, claimErr := queue.ClaimDue(ctx, "runner-test", time.Now(), 1, []JobKind{kind})
		require.NoError(t, claimErr)
		require.Len(t, claimed, 1)
		return claimed[0]
	}

	newRunner := func(t *testing.T, crashTracker crashtracker.CrashTrackerClient, handlers ...Handler) *Runner {
		t.Helper()
		runner, runnerErr := NewRunner(RunnerOptions{Queue: queue, CrashTrackerClient: crashTracker})
		require.NoError(t, runnerErr)
		for _, h := range handlers {
			require.NoError(t, runner.RegisterHandler(h))
		}
		return runner
	}

	t.Run("🎉 success marks the job COMPLETED", func(t *testing.T) {
		mCrashTracker := &crashtracker.MockCrashTrackerClient{}
		handler := &testJobHandler{kind: SendNotificationJobKind}
		runner := newRunner(t, mCrashTracker, handler)

		claimed := claimOne(t, SendNotificationJobKind)
		runner.processJob(ctx, mCrashTracker, claimed)

		job, err := queue.Get(ctx, dbConnectionPool, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, CompletedJobStatus, job.Status)
		mCrashTracker.AssertExpectations(t)
	})

	t.Run("🎉 failure with budget left schedules a retry", func(t *testing.T) {
		mCrashTracker := &crashtracker.MockCrashTrackerClient{}
		handler := &testJobHandler{
			kind: ReconcilePaymentJobKind,
			handleFn: func(ctx context.Context, job *Job) error {
				return errors.New("provider unreachable")
			},
		}
		runner := newRunner(t, mCrashTracker, handler)

		claimed := claimOne(t, ReconcilePaymentJobKind)
		require.Equal(t, 1, claimed.Attempt)
		runner.processJob(ctx, mCrashTracker, claimed)

		job, err := queue.Get(ctx, dbConnectionPool, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedJobStatus, job.Status)
		assert.Equal(t, "provider unreachable", job.LastError)
		// Attempt 1 of 5 retries after 2^1 seconds.
		assert.WithinDuration(t, time.Now().Add(2*time.Second), job.RunAt, time.Second)
		mCrashTracker.AssertExpectations(t)
	})

	t.Run("🎉 failure on the last attempt marks the job DEAD and reports it", func(t *testing.T) {
		handleErr := errors.New("still broken")
		mCrashTracker := &crashtracker.MockCrashTrackerClient{}
		handler := &testJobHandler{
			kind: GenerateCertificateJobKind,
			handleFn: func(ctx context.Context, job *Job) error {
				return handleErr
			},
		}
		runner := newRunner(t, mCrashTracker, handler)

		claimed := claimOne(t, GenerateCertificateJobKind)
		claimed.Attempt = claimed.MaxAttempts
		mCrashTracker.
			On("LogAndReportErrors", ctx, handleErr, "job "+claimed.ID+" (GENERATE_CERTIFICATE) exhausted its 5 attempts").
			Once()

		runner.processJob(ctx, mCrashTracker, claimed)

		job, err := queue.Get(ctx, dbConnectionPool, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, DeadJobStatus, job.Status)
		assert.Equal(t, "still broken", job.LastError)
		mCrashTracker.AssertExpectations(t)
	})

	t.Run("🎉 a panicking handler is reported and consumes an attempt", func(t *testing.T) {
		mCrashTracker := &crashtracker.MockCrashTrackerClient{}
		handler := &testJobHandler{
			kind: SendNotificationJobKind,
			handleFn: func(ctx context.Context, job *Job) error {
				panic("nil template")
			},
		}
		runner := newRunner(t, mCrashTracker, handler)

		claimed := claimOne(t, SendNotificationJobKind)
		mCrashTracker.
			On("LogAndReportErrors", ctx, mock.Anything, "job handler for SEND_NOTIFICATION panicked").
			Once()

		require.NotPanics(t, func() {
			runner.processJob(ctx, mCrashTracker, claimed)
		})

		job, err := queue.Get(ctx, dbConnectionPool, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedJobStatus, job.Status)
		assert.Equal(t, "panic: nil template", job.LastError)
		mCrashTracker.AssertExpectations(t)
	})

	t.Run("a job with no registered handler fails instead of staying locked", func(t *testing.T) {
		mCrashTracker := &crashtracker.MockCrashTrackerClient{}
		runner := newRunner(t, mCrashTracker, &testJobHandler{kind: SendNotificationJobKind})

		claimed := claimOne(t, ReconcilePaymentJobKind)
		runner.processJob(ctx, mCrashTracker, claimed)

		job, err := queue.Get(ctx, dbConnectionPool, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, FailedJobStatus, job.Status)
		assert.Equal(t, "no handler registered for job kind RECONCILE_PAYMENT", job.LastError)
		mCrashTracker.AssertExpectations(t)
	})
}

func Test_Runner_Run(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := NewQueue(dbConnectionPool)
	require.NoError(t, err)

	crashTrackerClient, err := crashtracker.NewDryRunClient()
	require.NoError(t, err)

	var handled atomic.Int32
	handler := &testJobHandler{
		kind: SendNotificationJobKind,
		handleFn: func(ctx context.Context, job *Job) error {
			handled.Add(1)
			return nil
		},
	}

	runner, err := NewRunner(RunnerOptions{
		Queue:              queue,
		CrashTrackerClient: crashTrackerClient,
		InstanceID:         "runner-e2e",
		PollInterval:       50 * time.Millisecond,
		WorkerCount:        2,
	})
	require.NoError(t, err)
	require.NoError(t, runner.RegisterHandler(handler))

	enqueued, err := queue.Enqueue(ctx, dbConnectionPool, JobInsert{
		Kind:    SendNotificationJobKind,
		Payload: SendNotificationPayload{NotificationID: "ntf-1"},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		job, getErr := queue.Get(ctx, dbConnectionPool, enqueued.ID)
		require.NoError(t, getErr)
		return job.Status == CompletedJobStatus
	}, 5*time.Second, 25*time.Millisecond, "job was never completed")
	assert.Equal(t, int32(1), handled.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}
}
