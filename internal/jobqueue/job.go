package jobqueue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobKind names the work a job row carries. Kinds are closed: the jobs table
// CHECK constraint rejects anything else, so new kinds ship with a migration.
type JobKind string

const (
	ReconcilePaymentJobKind    JobKind = "RECONCILE_PAYMENT"
	SendNotificationJobKind    JobKind = "SEND_NOTIFICATION"
	GenerateCertificateJobKind JobKind = "GENERATE_CERTIFICATE"
)

func (k JobKind) Validate() error {
	switch JobKind(strings.ToUpper(string(k))) {
	case ReconcilePaymentJobKind, SendNotificationJobKind, GenerateCertificateJobKind:
		return nil
	default:
		return fmt.Errorf("invalid job kind %q", k)
	}
}

type JobStatus string

const (
	PendingJobStatus   JobStatus = "PENDING"
	RunningJobStatus   JobStatus = "RUNNING"
	CompletedJobStatus JobStatus = "COMPLETED"
	FailedJobStatus    JobStatus = "FAILED"
	DeadJobStatus      JobStatus = "DEAD"
)

type Job struct {
	ID          string          `json:"id" db:"id"`
	Kind        JobKind         `json:"kind" db:"kind"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      JobStatus       `json:"status" db:"status"`
	RunAt       time.Time       `json:"run_at" db:"run_at"`
	Attempt     int             `json:"attempt" db:"attempt"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	LastError   string          `json:"last_error,omitempty" db:"last_error"`
	LockedBy    string          `json:"locked_by,omitempty" db:"locked_by"`
	LockedAt    *time.Time      `json:"locked_at,omitempty" db:"locked_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// UnmarshalPayload decodes the job payload into dst.
func (j *Job) UnmarshalPayload(dst any) error {
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("unmarshalling payload of job %s (%s): %w", j.ID, j.Kind, err)
	}
	return nil
}

// Payload schemas, one per kind. Producers and handlers share these so a
// payload written today can still be decoded by next month's deploy.

type ReconcilePaymentPayload struct {
	PaymentRequestID string `json:"payment_request_id"`
}

type SendNotificationPayload struct {
	NotificationID string `json:"notification_id"`
}

type GenerateCertificatePayload struct {
	PolicyID string `json:"policy_id"`
}
