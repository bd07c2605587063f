package eventhandlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/events"
	"github.com/bodasure/bodasure-backend/internal/events/schemas"
	"github.com/bodasure/bodasure-backend/internal/jobqueue"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// PolicyActivatedEventHandler backstops the activation side effects: if the
// certificate job the batch wrote was lost or never ran, this handler enqueues
// a fresh one. Certificate generation is idempotent on the certificate key, so
// a duplicate job only burns a poll.
type PolicyActivatedEventHandler struct {
	models   *data.Models
	jobQueue *jobqueue.Queue
}

var _ events.EventHandler = (*PolicyActivatedEventHandler)(nil)

func NewPolicyActivatedEventHandler(models *data.Models, jobQueue *jobqueue.Queue) (*PolicyActivatedEventHandler, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewPolicyActivatedEventHandler")
	}
	if jobQueue == nil {
		return nil, fmt.Errorf("job queue is required for NewPolicyActivatedEventHandler")
	}
	return &PolicyActivatedEventHandler{models: models, jobQueue: jobQueue}, nil
}

func (h *PolicyActivatedEventHandler) Name() string {
	return "PolicyActivatedEventHandler"
}

func (h *PolicyActivatedEventHandler) CanHandleMessage(ctx context.Context, message *events.Message) bool {
	return message.Topic == events.PolicyActivatedTopic
}

func (h *PolicyActivatedEventHandler) Handle(ctx context.Context, message *events.Message) error {
	payload, err := utils.ConvertType[any, schemas.EventPolicyActivatedData](message.Data)
	if err != nil {
		return fmt.Errorf("[%s] could not convert data to %T: %w", h.Name(), schemas.EventPolicyActivatedData{}, err)
	}

	policy, err := h.models.Policies.Get(ctx, h.models.DBConnectionPool, payload.PolicyID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			log.Ctx(ctx).Warnf("[%s] policy %s does not exist, dropping the message", h.Name(), payload.PolicyID)
			return nil
		}
		return fmt.Errorf("[%s] getting policy %s: %w", h.Name(), payload.PolicyID, err)
	}
	if policy.CertificateKey != "" {
		return nil
	}
	if policy.PolicyNumber == "" || policy.IssuedAt == nil {
		log.Ctx(ctx).Warnf("[%s] policy %s is not issued yet, nothing to backstop", h.Name(), policy.ID)
		return nil
	}

	if _, err = h.jobQueue.Enqueue(ctx, h.models.DBConnectionPool, jobqueue.JobInsert{
		Kind:    jobqueue.GenerateCertificateJobKind,
		Payload: jobqueue.GenerateCertificatePayload{PolicyID: policy.ID},
	}); err != nil {
		return fmt.Errorf("[%s] enqueueing certificate job for policy %s: %w", h.Name(), policy.ID, err)
	}

	log.Ctx(ctx).Infof("[%s] enqueued a certificate job for policy %s, its certificate was missing", h.Name(), policy.ID)
	return nil
}
