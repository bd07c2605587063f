package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
)

// CreateJobFixture inserts a job row; defaults to a due PENDING
// SEND_NOTIFICATION job with an empty payload.
func CreateJobFixture(t *testing.T, ctx context.Context, sqlExec db.SQLExecuter, j *Job) *Job {
	t.Helper()

	if j.Kind == "" {
		j.Kind = SendNotificationJobKind
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte(`{}`)
	}
	if j.Status == "" {
		j.Status = PendingJobStatus
	}
	if j.RunAt.IsZero() {
		j.RunAt = time.Now()
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}

	const query = `
		INSERT INTO jobs
			(kind, payload, status, run_at, attempt, max_attempts, last_error, locked_by, locked_at)
		VALUES
			($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
		RETURNING
			id, run_at, created_at, updated_at
	`

	err := sqlExec.QueryRowxContext(ctx, query,
		j.Kind, []byte(j.Payload), j.Status, j.RunAt, j.Attempt, j.MaxAttempts, j.LastError, j.LockedBy, j.LockedAt,
	).Scan(&j.ID, &j.RunAt, &j.CreatedAt, &j.UpdatedAt)
	require.NoError(t, err)

	return j
}
