package httphandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/serve/httperror"
	"github.com/bodasure/bodasure-backend/internal/serve/httpjson"
	"github.com/bodasure/bodasure-backend/internal/services"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// DefaultMaxImportMemory caps how much of an uploaded CSV is held in memory
// before spilling to disk.
const DefaultMaxImportMemory int64 = 2 * 1024 * 1024 // 2MB

// RidersHandler onboards riders one at a time or from a sacco CSV export, and
// moves them through the KYC gate.
type RidersHandler struct {
	Models        *data.Models
	ImportService services.RiderImportServiceInterface
}

type CreateRiderRequest struct {
	PhoneNumber    string `json:"phone_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	NationalID     string `json:"national_id"`
	OrganizationID string `json:"organization_id"`
	Language       string `json:"language"`
}

type PatchRiderKYCRequest struct {
	Status string `json:"status"`
}

func (h RidersHandler) PostRider(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	var reqBody CreateRiderRequest
	if err := json.NewDecoder(req.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("decoding the request body: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("", err, nil).Render(rw)
		return
	}

	rider, outcome, err := h.ImportService.CreateRider(ctx, services.RiderImportRow{
		PhoneNumber:    reqBody.PhoneNumber,
		FirstName:      reqBody.FirstName,
		LastName:       reqBody.LastName,
		Email:          reqBody.Email,
		NationalID:     reqBody.NationalID,
		OrganizationID: reqBody.OrganizationID,
		Language:       reqBody.Language,
	})
	if err != nil {
		if errors.Is(err, utils.ErrInvalidE164PhoneNumber) {
			httperror.BadRequest("The phone number is not a valid mobile number", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot create the rider", err, nil).Render(rw)
		}
		return
	}

	statusCode := http.StatusCreated
	if outcome == services.RiderImportUpdated {
		statusCode = http.StatusOK
	}

	httpjson.RenderStatus(rw, statusCode, rider, httpjson.JSON)
}

// ImportRiders accepts a multipart upload with the CSV under the "file" form
// field and answers with the per-row summary. A 200 answer can still carry
// failed rows; callers must check the summary.
func (h RidersHandler) ImportRiders(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseMultipartForm(DefaultMaxImportMemory); err != nil {
		err = fmt.Errorf("parsing the multipart form: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("The request must be a multipart form with a \"file\" field", err, nil).Render(rw)
		return
	}

	file, _, err := req.FormFile("file")
	if err != nil {
		err = fmt.Errorf("reading the uploaded file: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("The request must carry the CSV under the \"file\" field", err, nil).Render(rw)
		return
	}
	defer file.Close()

	summary, err := h.ImportService.ImportFromCSV(ctx, file)
	if err != nil {
		if errors.Is(err, services.ErrEmptyImportFile) {
			httperror.BadRequest("The import file has no rider rows", err, nil).Render(rw)
		} else {
			httperror.BadRequest("Cannot parse the rider import file", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, summary, httpjson.JSON)
}

func (h RidersHandler) PatchRiderKYC(rw http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	riderID := chi.URLParam(req, "id")

	var reqBody PatchRiderKYCRequest
	if err := json.NewDecoder(req.Body).Decode(&reqBody); err != nil {
		err = fmt.Errorf("decoding the request body: %w", err)
		log.Ctx(ctx).Error(err)
		httperror.BadRequest("", err, nil).Render(rw)
		return
	}

	status, err := data.ToKYCStatus(reqBody.Status)
	if err != nil {
		httperror.BadRequest(fmt.Sprintf("Invalid KYC status %q", reqBody.Status), err, nil).Render(rw)
		return
	}

	rider, err := h.Models.Riders.UpdateKYCStatus(ctx, h.Models.DBConnectionPool, riderID, status)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			httperror.NotFound("Rider not found", err, nil).Render(rw)
		} else {
			httperror.InternalError(ctx, "Cannot update the rider's KYC status", err, nil).Render(rw)
		}
		return
	}

	httpjson.Render(rw, rider, httpjson.JSON)
}
