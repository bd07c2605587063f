package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// PoliciesHandler reads policies, runs free-look cancellations, and mints
// certificate download URLs.
type PoliciesHandler struct {
	Models             *data.Models
	CancellationService services.PolicyCancellationServiceInterface
	CertificateService services.CertificateServiceInterface
	CertificateURLTTL  time.Duration
}

type CancelPolicyRequest struct {
	RiderID    string `json:"rider_id"`
	Reason     string `json:"reason"`
	NationalID string `json:"national_id"`
}

type CancelPolicyResponse struct {
	Policy *data.Policy `json:"policy"`
	Refund *data.Refund `json:"refund"`
}

type CertificateURLResponse struct {
	URL string `json:"url"`
}

func (h PoliciesHandler) GetPolicy(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	policyID := chi.URLParam(req, "id")

	policy, err := h.Models.Policies.Get(ctx, h.Models.DBConnectionPool, policyID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Policy not found", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot retrieve policy", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, policy, httpjson.JSON)
}

func (h PoliciesHandler) CancelPolicy(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	policyID := chi.URLParam(req, "id")

	var reqBody CancelPolicyRequest
	if err := json.NewDecoder(req.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("decoding the request body: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("", err, nil).Render(rw)
		return
	}

	result, err := h.CancellationService.CancelPolicy(ctx, services.CancelPolicyInput{
		PolicyID:   policyID,
		RiderID:    reqBody.RiderID,
		Reason:     reqBody.Reason,
		NationalID: reqBody.NationalID,
	})
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Policy not found", err, nil).Render(rw)
		case errors.Is(err, services.ErrPolicyNotCancellable):
			httperror.UnprocessableEntity("The policy is not in a cancellable status", err, nil).Render(rw)
		case errors.Is(err, services.ErrFreeLookWindowClosed):
			httperror.UnprocessableEntity("The free-look cancellation window has closed", err, nil).Render(rw)
		case errors.Is(err, services.ErrVerificationMismatch):
			httperror.Forbidden("The national ID does not match our records", err, nil).Render(rw)
		case errors.Is(err, services.ErrVerificationLocked):
			httperror.Forbidden("Identity verification is locked after too many failed attempts", err, nil).Render(rw)
		case errors.Is(err, services.ErrPolicyAlreadyRefunded):
			httperror.Conflict("A refund already exists for this policy", err, nil).Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot cancel the policy", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, CancelPolicyResponse{Policy: result.Policy, Refund: result.Refund}, httpjson.JSON)
}

func (h PoliciesHandler) GetCertificateURL(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	policyID := chi.URLParam(req, "id")

	url, err := h.CertificateService.CertificateURL(ctx, policyID, h.CertificateURLTTL)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Policy not found", err, nil).Render(rw)
		case errors.Is(err, services.ErrCertificateNotGenerated):
			httperror.NotFound("The certificate has not been generated yet", err, nil).Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot build the certificate URL", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, CertificateURLResponse{URL: url}, httpjson.JSON)
}
