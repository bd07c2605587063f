package httphandler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/internal/services"
)

// BatchesHandler triggers and retries policy issuance batches. The scheduler
// covers the fixed slots; this surface exists for operators catching up after
// an incident.
type BatchesHandler struct {
	BatchService services.BatchServiceInterface
	Location     *time.Location
}

func (h BatchesHandler) TriggerBatch(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	location := h.Location
	if location == nil {
		location = time.UTC
	}

	batch, err := h.BatchService.ProcessBatch(ctx, data.ManualSchedule, time.Now().In(location))
	if err != nil {
		if errors.Is(err, services.ErrBatchAlreadyRun) {
			httperror.Conflict("A batch already ran for this slot", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot process the policy batch", err, nil).Render(rw)
		}
		return
	}

	httpjson.RenderStatus(rw, http.StatusCreated, batch, httpjson.JSON)
}

func (h BatchesHandler) RetryBatch(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	batchID := chi.URLParam(req, "id")

	batch, err := h.BatchService.RetryFailed(ctx, batchID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			httperror.NotFound("Policy batch not found", err, nil).Render(rw)
		case errors.Is(err, services.ErrBatchNotRetryable):
			httperror.BadRequest("Only failed batches can be retried", err, nil).Render(rw)
		default:
			httperror.InternalError(ctx, "Cannot retry the policy batch", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, batch, httpjson.JSON)
}
