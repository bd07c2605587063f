package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bodasure/bodasure-backend/db"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotRunning is returned when a completion or failure update targets
	// a job that is no longer RUNNING, e.g. after a stale lock was requeued by
	// another instance.
	ErrJobNotRunning = errors.New("job is not running")
)

const jobColumns = `
	id,
	kind,
	payload,
	status,
	run_at,
	attempt,
	max_attempts,
	COALESCE(last_error, '') AS last_error,
	COALESCE(locked_by, '') AS locked_by,
	locked_at,
	created_at,
	updated_at
`

// Queue persists durable jobs. Claiming uses FOR UPDATE SKIP LOCKED so any
// number of runner instances can poll the same table without double-claiming.
type Queue struct {
	dbConnectionPool db.DBConnectionPool
}

func NewQueue(dbConnectionPool db.DBConnectionPool) (*Queue, error) {
	if dbConnectionPool == nil {
		return nil, fmt.Errorf("dbConnectionPool is required for NewQueue")
	}
	return &Queue{dbConnectionPool: dbConnectionPool}, nil
}

type JobInsert struct {
	Kind        JobKind
	Payload     any
	RunAt       *time.Time // nil schedules the job immediately
	MaxAttempts int        // 0 falls back to the table default of 5
}

func (ji *JobInsert) Validate() error {
	if err := ji.Kind.Validate(); err != nil {
		return err
	}
	if ji.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	return nil
}

// Enqueue inserts a PENDING job. It takes a SQLExecuter so callers can
// enqueue inside the same transaction that commits the business state the job
// depends on; the job becomes visible to runners only if that commit lands.
func (q *Queue) Enqueue(ctx context.Context, sqlExec db.SQLExecuter, insert JobInsert) (*Job, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating job insert: %w", err)
	}

	payloadJSON := []byte(`{}`)
	if insert.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(insert.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling payload for %s job: %w", insert.Kind, err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO jobs
			(kind, payload, run_at, max_attempts)
		VALUES
			($1, $2, COALESCE($3, NOW()), COALESCE(NULLIF($4, 0), 5))
		RETURNING %s
	`, jobColumns)

	job := Job{}
	err := sqlExec.GetContext(ctx, &job, query, insert.Kind, payloadJSON, insert.RunAt, insert.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("inserting %s job: %w", insert.Kind, err)
	}

	return &job, nil
}

func (q *Queue) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)

	job := Job{}
	err := sqlExec.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("querying job ID %s: %w", id, err)
	}

	return &job, nil
}

// ClaimDue atomically flips due PENDING and FAILED jobs of the given kinds to
// RUNNING, stamps the claiming instance and bumps the attempt counter, then
// returns them. SKIP LOCKED keeps concurrent pollers from blocking on or
// double-claiming the same rows.
func (q *Queue) ClaimDue(ctx context.Context, instanceID string, now time.Time, limit int, kinds []JobKind) ([]Job, error) {
	if len(kinds) == 0 {
		return nil, nil
	}

	kindStrs := make([]string, 0, len(kinds))
	for _, k := range kinds {
		kindStrs = append(kindStrs, string(k))
	}

	query := fmt.Sprintf(`
		UPDATE jobs
		SET
			status = 'RUNNING',
			locked_by = $1,
			locked_at = NOW(),
			attempt = attempt + 1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('PENDING', 'FAILED') AND run_at <= $2 AND kind = ANY($3)
			ORDER BY run_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, jobColumns)

	jobs := []Job{}
	err := q.dbConnectionPool.SelectContext(ctx, &jobs, query, instanceID, now, pq.Array(kindStrs), limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due jobs: %w", err)
	}

	return jobs, nil
}

// MarkCompleted finishes a RUNNING job and releases its lock.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	const query = `
		UPDATE jobs
		SET status = 'COMPLETED', last_error = NULL, locked_by = NULL, locked_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`

	res, err := q.dbConnectionPool.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking job %s completed: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotRunning
	}

	return nil
}

// MarkFailed schedules a retry of a RUNNING job at runAt, recording the cause.
func (q *Queue) MarkFailed(ctx context.Context, id, cause string, runAt time.Time) error {
	const query = `
		UPDATE jobs
		SET status = 'FAILED', last_error = $2, run_at = $3, locked_by = NULL, locked_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`

	res, err := q.dbConnectionPool.ExecContext(ctx, query, id, cause, runAt)
	if err != nil {
		return fmt.Errorf("marking job %s failed: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotRunning
	}

	return nil
}

// MarkDead parks a RUNNING job that exhausted its attempts. DEAD jobs are
// never claimed again; they surface through the crash tracker and stay on the
// table for manual inspection.
func (q *Queue) MarkDead(ctx context.Context, id, cause string) error {
	const query = `
		UPDATE jobs
		SET status = 'DEAD', last_error = $2, locked_by = NULL, locked_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`

	res, err := q.dbConnectionPool.ExecContext(ctx, query, id, cause)
	if err != nil {
		return fmt.Errorf("marking job %s dead: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotRunning
	}

	return nil
}

// RequeueStale returns RUNNING jobs whose lock is older than olderThan to the
// claimable pool. A crashed worker keeps its attempt on the counter, so a job
// that keeps killing workers still drifts toward DEAD instead of looping
// forever.
func (q *Queue) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		UPDATE jobs
		SET status = 'FAILED', last_error = 'requeued: worker lock expired', run_at = NOW(), locked_by = NULL, locked_at = NULL
		WHERE status = 'RUNNING' AND locked_at < $1
	`

	res, err := q.dbConnectionPool.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading requeued job count: %w", err)
	}

	return rows, nil
}

// CountPending counts jobs still waiting for a successful run, feeding the
// job queue depth gauge.
func (q *Queue) CountPending(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM jobs WHERE status IN ('PENDING', 'FAILED')`

	var count int64
	err := q.dbConnectionPool.GetContext(ctx, &count, query)
	if err != nil {
		return 0, fmt.Errorf("counting pending jobs: %w", err)
	}

	return count, nil
}
