package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// PaymentsHandler exposes the STK-push collection surface: deposit and daily
// initiations, request lookup, and the on-demand provider status refresh.
type PaymentsHandler struct {
	Models         *data.Models
	PaymentService services.PaymentServiceInterface
}

// PaymentInitiationResponse is the body of every initiation answer. Code is
// always present so clients never have to parse error messages.
type PaymentInitiationResponse struct {
	Code           services.PaymentInitiationCode `json:"code"`
	PaymentRequest *data.PaymentRequest           `json:"payment_request,omitempty"`
}

func (h PaymentsHandler) PostDeposit(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var input services.InitiateDepositInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		err = fmt.Errorf("decoding the request body: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("", err, nil).Render(rw)
		return
	}

	initiation, err := h.PaymentService.InitiateDeposit(ctx, input)
	if err != nil {
		renderInitiationError(ctx, rw, err)
		return
	}

	renderInitiation(rw, initiation)
}

func (h PaymentsHandler) PostDailyPayment(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var input services.InitiateDailyPaymentInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		err = fmt.Errorf("decoding the request body: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("", err, nil).Render(rw)
		return
	}

	initiation, err := h.PaymentService.InitiateDailyPayment(ctx, input)
	if err != nil {
		renderInitiationError(ctx, rw, err)
		return
	}

	renderInitiation(rw, initiation)
}

func (h PaymentsHandler) GetPayment(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := chi.URLParam(req, "id")

	request, err := h.Models.PaymentRequests.Get(ctx, h.Models.DBConnectionPool, requestID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Payment request not found", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot retrieve payment request", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, request, httpjson.JSON)
}

// RefreshPayment polls the provider for a non-terminal request and returns
// the request as it stands afterwards.
func (h PaymentsHandler) RefreshPayment(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := chi.URLParam(req, "id")

	request, err := h.PaymentService.RefreshPaymentStatus(ctx, requestID, "")
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Payment request not found", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot refresh payment request", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, request, httpjson.JSON)
}

func renderInitiation(rw http.ResponseWriter, initiation *services.PaymentInitiation) {
	statusCode := http.StatusCreated
	if initiation.Code == services.DuplicatePaymentInitiationCode {
		statusCode = http.StatusOK
	}

	httpjson.RenderStatus(rw, statusCode, PaymentInitiationResponse{
		Code:           initiation.Code,
		PaymentRequest: initiation.Request,
	}, httpjson.JSON)
}

// renderInitiationError maps an initiation failure to an HTTP answer that
// carries the structured code in the extras.
func renderInitiationError(ctx context.Context, rw http.ResponseWriter, err error) {
	code := services.InitiationCodeForError(err)
	extras := map[string]interface{}{"code": code}

	switch code {
	case services.TermsNotAcceptedPaymentInitiationCode:
		httperror.BadRequest("The terms and conditions must be accepted", err, extras).Render(rw)
	case services.InvalidPhonePaymentInitiationCode:
		httperror.BadRequest("The phone number is not a valid mobile money number", err, extras).Render(rw)
	case services.RateLimitedPaymentInitiationCode:
		httperror.NewHTTPError(http.StatusTooManyRequests, "The mobile money provider is throttling requests, try again shortly", err, extras).Render(rw)
	default:
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Rider not found", err, extras).Render(rw)
		case errors.Is(err, services.ErrIdempotencyKeyReused):
			httperror.Conflict("The idempotency key was already used for a different payment", err, extras).Render(rw)
		case errors.Is(err, services.ErrKYCNotApproved),
			errors.Is(err, services.ErrRiderNotActive),
			errors.Is(err, services.ErrDepositAlreadyMade),
			errors.Is(err, services.ErrDepositNotCompleted),
			errors.Is(err, services.ErrDailyCapExceeded),
			errors.Is(err, services.ErrWalletNotActive):
			httperror.UnprocessableEntity(err.Error(), err, extras).Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot initiate the payment", err, extras).Render(rw)
		}
	}
}
