package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/htmltemplate"
	"github.com/bodasure/bodasure-backend/internal/storage"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

const (
	// certificateContentType is the content type certificates are stored and
	// served with.
	certificateContentType = "text/html; charset=utf-8"
	// DefaultCertificateURLTTL bounds how long a certificate download link
	// stays valid.
	DefaultCertificateURLTTL = 24 * time.Hour
)

// ErrCertificateNotGenerated is returned when a download URL is requested for
// a policy whose certificate has not been generated yet.
var ErrCertificateNotGenerated = errors.New("certificate has not been generated for this policy")

type CertificateServiceInterface interface {
	GenerateCertificate(ctx context.Context, policyID string) error
	CertificateURL(ctx context.Context, policyID string, ttl time.Duration) (string, error)
}

// CertificateService renders the certificate of insurance for issued policies
// and stores it in object storage.
type CertificateService struct {
	models          *data.Models
	storage         storage.Storage
	underwriterName string
	location        *time.Location
}

var _ CertificateServiceInterface = (*CertificateService)(nil)

func NewCertificateService(models *data.Models, storageClient storage.Storage, underwriterName string, location *time.Location) (*CertificateService, error) {
	if models == nil {
		return nil, fmt.Errorf("models cannot be nil")
	}
	if storageClient == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	underwriterName = strings.TrimSpace(underwriterName)
	if underwriterName == "" {
		return nil, fmt.Errorf("underwriter name cannot be empty")
	}
	if location == nil {
		location = time.UTC
	}

	return &CertificateService{
		models:          models,
		storage:         storageClient,
		underwriterName: underwriterName,
		location:        location,
	}, nil
}

// GenerateCertificate renders and stores the certificate artifact for an
// issued policy and records the object key on the policy. It can be run more
// than once for the same policy: regenerating an existing certificate is a
// no-op.
func (s *CertificateService) GenerateCertificate(ctx context.Context, policyID string) error {
	policy, err := s.models.Policies.Get(ctx, s.models.DBConnectionPool, policyID)
	if err != nil {
		return fmt.Errorf("getting policy %s: %w", policyID, err)
	}

	if policy.CertificateKey != "" {
		log.Ctx(ctx).Infof("certificate for policy %s already exists at %q, skipping", policyID, policy.CertificateKey)
		return nil
	}

	if policy.PolicyNumber == "" || policy.CoverageStart == nil || policy.CoverageEnd == nil || policy.IssuedAt == nil {
		return fmt.Errorf("policy %s has not been issued yet", policyID)
	}

	rider, err := s.models.Riders.Get(ctx, s.models.DBConnectionPool, policy.RiderID)
	if err != nil {
		return fmt.Errorf("getting rider %s: %w", policy.RiderID, err)
	}

	certificateHTML, err := s.renderCertificate(policy, rider)
	if err != nil {
		return err
	}

	key := CertificateKey(policy.PolicyNumber)
	if err = s.storage.Put(ctx, key, []byte(certificateHTML), certificateContentType); err != nil {
		return fmt.Errorf("storing certificate for policy %s: %w", policyID, err)
	}

	err = s.models.Policies.SetCertificateKey(ctx, s.models.DBConnectionPool, policyID, key)
	if errors.Is(err, data.ErrRecordAlreadyExists) {
		log.Ctx(ctx).Infof("certificate key for policy %s was set concurrently, skipping", policyID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recording certificate key on policy %s: %w", policyID, err)
	}

	log.Ctx(ctx).Infof("generated certificate %s for policy %s", key, policyID)
	return nil
}

// CertificateURL returns a time-limited download URL for the certificate of
// the given policy. A non-positive ttl falls back to DefaultCertificateURLTTL.
func (s *CertificateService) CertificateURL(ctx context.Context, policyID string, ttl time.Duration) (string, error) {
	policy, err := s.models.Policies.Get(ctx, s.models.DBConnectionPool, policyID)
	if err != nil {
		return "", fmt.Errorf("getting policy %s: %w", policyID, err)
	}

	if policy.CertificateKey == "" {
		return "", ErrCertificateNotGenerated
	}

	if ttl <= 0 {
		ttl = DefaultCertificateURLTTL
	}

	signedURL, err := s.storage.SignedURL(policy.CertificateKey, ttl)
	if err != nil {
		return "", fmt.Errorf("signing certificate URL for policy %s: %w", policyID, err)
	}

	return signedURL, nil
}

func (s *CertificateService) renderCertificate(policy *data.Policy, rider *data.Rider) (string, error) {
	templateData := htmltemplate.PolicyCertificateTemplate{
		PolicyNumber:    policy.PolicyNumber,
		RiderName:       strings.TrimSpace(rider.FirstName + " " + rider.LastName),
		PhoneNumber:     rider.PhoneNumber,
		PlanName:        policy.Type.DisplayName(),
		CoverageStart:   policy.CoverageStart.In(s.location).Format("2006-01-02"),
		CoverageEnd:     policy.CoverageEnd.In(s.location).Format("2006-01-02"),
		Premium:         policy.PremiumAmount.String(),
		UnderwriterName: s.underwriterName,
		IssuedAt:        policy.IssuedAt.In(s.location).Format("2006-01-02 15:04:05 MST"),
	}

	certificateHTML, err := htmltemplate.ExecuteHTMLTemplateForPolicyCertificate(templateData)
	if err != nil {
		return "", fmt.Errorf("rendering certificate for policy %s: %w", policy.ID, err)
	}

	return certificateHTML, nil
}

// CertificateKey is the object-storage key a policy's certificate is stored
// under.
func CertificateKey(policyNumber string) string {
	return fmt.Sprintf("certificates/%s.html", policyNumber)
}
