package services

import (
	"context"
	"fmt"

	"github.com/bodasure/bodasure-backend/internal/jobqueue"
)

// GenerateCertificateJobHandler renders and stores the certificate of
// insurance for a freshly activated policy. GenerateCertificate is idempotent
// on the certificate key, so retries and duplicate jobs are safe.
type GenerateCertificateJobHandler struct {
	certificateService CertificateServiceInterface
}

var _ jobqueue.Handler = (*GenerateCertificateJobHandler)(nil)

func NewGenerateCertificateJobHandler(certificateService CertificateServiceInterface) (*GenerateCertificateJobHandler, error) {
	if certificateService == nil {
		return nil, fmt.Errorf("certificate service is required for NewGenerateCertificateJobHandler")
	}
	return &GenerateCertificateJobHandler{certificateService: certificateService}, nil
}

func (h *GenerateCertificateJobHandler) Kind() jobqueue.JobKind {
	return jobqueue.GenerateCertificateJobKind
}

func (h *GenerateCertificateJobHandler) Handle(ctx context.Context, job *jobqueue.Job) error {
	var payload jobqueue.GenerateCertificatePayload
	if err := job.UnmarshalPayload(&payload); err != nil {
		return err
	}
	return h.certificateService.GenerateCertificate(ctx, payload.PolicyID)
}
