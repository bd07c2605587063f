package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/gocarina/gocsv"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/utils"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// RiderImportRow is one CSV line of an onboarding file, typically exported
// from a sacco's member register.
type RiderImportRow struct {
	PhoneNumber    string `csv:"phone_number"`
	FirstName      string `csv:"first_name"`
	LastName       string `csv:"last_name"`
	Email          string `csv:"email"`
	NationalID     string `csv:"national_id"`
	OrganizationID string `csv:"organization_id"`
	Language       string `csv:"language"`
}

type RiderImportOutcome string

const (
	RiderImportCreated RiderImportOutcome = "CREATED"
	RiderImportUpdated RiderImportOutcome = "UPDATED"
	RiderImportFailed  RiderImportOutcome = "ERROR"
)

// RiderImportRowResult reports what happened to one CSV line. Line numbers
// match the file as a spreadsheet shows it (header is line 1).
type RiderImportRowResult struct {
	LineNumber  int                `json:"line_number"`
	PhoneNumber string             `json:"phone_number"`
	RiderID     string             `json:"rider_id,omitempty"`
	Outcome     RiderImportOutcome `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
}

type RiderImportSummary struct {
	Created int                    `json:"created"`
	Updated int                    `json:"updated"`
	Failed  int                    `json:"failed"`
	Rows    []RiderImportRowResult `json:"rows"`
}

var ErrEmptyImportFile = errors.New("the import file has no rider rows")

type RiderImportServiceInterface interface {
	ImportFromCSV(ctx context.Context, reader io.Reader) (*RiderImportSummary, error)
	CreateRider(ctx context.Context, row RiderImportRow) (*data.Rider, RiderImportOutcome, error)
}

// RiderImportService onboards riders from CSV files and one-off requests:
// phone normalization, rider upsert keyed on the phone number, wallet
// creation, and the bcrypt national-ID verification value.
type RiderImportService struct {
	models             *data.Models
	defaultPhoneRegion string
}

var _ RiderImportServiceInterface = (*RiderImportService)(nil)

func NewRiderImportService(models *data.Models, defaultPhoneRegion string) (*RiderImportService, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewRiderImportService")
	}
	if defaultPhoneRegion == "" {
		defaultPhoneRegion = utils.DefaultPhoneRegion
	}
	return &RiderImportService{models: models, defaultPhoneRegion: defaultPhoneRegion}, nil
}

// ImportFromCSV parses and applies an onboarding file. Each row commits on its
// own, so one bad line never blocks the rest of the file; the summary carries
// a verdict per line.
func (s *RiderImportService) ImportFromCSV(ctx context.Context, reader io.Reader) (*RiderImportSummary, error) {
	rows := []*RiderImportRow{}
	// Spreadsheet exports routinely lead with a UTF-8 BOM, which would
	// otherwise glue itself onto the first header name.
	if err := gocsv.Unmarshal(utfbom.SkipOnly(reader), &rows); err != nil {
		return nil, fmt.Errorf("parsing the rider import file: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyImportFile
	}

	summary := &RiderImportSummary{Rows: make([]RiderImportRowResult, 0, len(rows))}
	for i, row := range rows {
		lineNumber := i + 2 // +1 for the header row, +1 for the zero index

		rider, outcome, err := s.CreateRider(ctx, *row)
		result := RiderImportRowResult{
			LineNumber:  lineNumber,
			PhoneNumber: strings.TrimSpace(row.PhoneNumber),
			Outcome:     outcome,
		}
		switch {
		case err != nil:
			result.Outcome = RiderImportFailed
			result.Reason = err.Error()
			summary.Failed++
		case outcome == RiderImportCreated:
			result.RiderID = rider.ID
			result.PhoneNumber = rider.PhoneNumber
			summary.Created++
		default:
			result.RiderID = rider.ID
			result.PhoneNumber = rider.PhoneNumber
			summary.Updated++
		}
		summary.Rows = append(summary.Rows, result)
	}

	log.Ctx(ctx).Infof("rider import finished: %d created, %d updated, %d failed of %d rows",
		summary.Created, summary.Updated, summary.Failed, len(rows))
	return summary, nil
}

// CreateRider upserts one rider keyed on the normalized phone number,
// guaranteeing the wallet and, when a national ID is supplied, the
// verification value, all in one transaction.
func (s *RiderImportService) CreateRider(ctx context.Context, row RiderImportRow) (*data.Rider, RiderImportOutcome, error) {
	phoneNumber, err := utils.NormalizePhoneNumber(row.PhoneNumber, s.defaultPhoneRegion)
	if err != nil {
		return nil, RiderImportFailed, fmt.Errorf("normalizing phone number %q: %w", strings.TrimSpace(row.PhoneNumber), err)
	}

	outcome := RiderImportFailed
	rider, err := db.RunInTransactionWithResult(ctx, s.models.DBConnectionPool, nil, func(dbTx db.DBTransaction) (*data.Rider, error) {
		rider, innerErr := s.upsertRider(ctx, dbTx, phoneNumber, row, &outcome)
		if innerErr != nil {
			return nil, innerErr
		}

		if _, innerErr = s.models.Wallets.GetOrInsert(ctx, dbTx, rider.ID); innerErr != nil {
			return nil, fmt.Errorf("ensuring the wallet of rider %s: %w", rider.ID, innerErr)
		}

		if nationalID := strings.TrimSpace(row.NationalID); nationalID != "" {
			innerErr = s.models.RiderVerifications.Upsert(ctx, dbTx, data.RiderVerificationInsert{
				RiderID:           rider.ID,
				VerificationField: data.NationalIDVerificationType,
				VerificationValue: nationalID,
			})
			if innerErr != nil {
				return nil, fmt.Errorf("storing the national ID of rider %s: %w", rider.ID, innerErr)
			}
		}

		return rider, nil
	})
	if err != nil {
		return nil, RiderImportFailed, err
	}
	return rider, outcome, nil
}

func (s *RiderImportService) upsertRider(ctx context.Context, dbTx db.DBTransaction, phoneNumber string, row RiderImportRow, outcome *RiderImportOutcome) (*data.Rider, error) {
	existing, err := s.models.Riders.GetByPhoneNumber(ctx, dbTx, phoneNumber)
	if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		return nil, fmt.Errorf("looking up rider by phone number: %w", err)
	}

	if existing != nil {
		*outcome = RiderImportUpdated
		update := data.RiderUpdate{
			FirstName: strings.TrimSpace(row.FirstName),
			LastName:  strings.TrimSpace(row.LastName),
			Email:     strings.TrimSpace(row.Email),
			Language:  strings.TrimSpace(row.Language),
		}
		if update == (data.RiderUpdate{}) {
			// Nothing new besides the phone number; keep the row as is.
			return existing, nil
		}
		updated, updateErr := s.models.Riders.Update(ctx, dbTx, existing.ID, update)
		if updateErr != nil {
			return nil, fmt.Errorf("updating rider %s: %w", existing.ID, updateErr)
		}
		return updated, nil
	}

	*outcome = RiderImportCreated
	inserted, insertErr := s.models.Riders.Insert(ctx, dbTx, data.RiderInsert{
		PhoneNumber:    phoneNumber,
		FirstName:      strings.TrimSpace(row.FirstName),
		LastName:       strings.TrimSpace(row.LastName),
		Email:          strings.TrimSpace(row.Email),
		OrganizationID: strings.TrimSpace(row.OrganizationID),
		Language:       strings.TrimSpace(row.Language),
	})
	if insertErr != nil {
		if errors.Is(insertErr, data.ErrRecordAlreadyExists) {
			// Lost a concurrent-import race; the row is there now.
			*outcome = RiderImportUpdated
			return s.models.Riders.GetByPhoneNumber(ctx, dbTx, phoneNumber)
		}
		return nil, fmt.Errorf("inserting rider: %w", insertErr)
	}
	return inserted, nil
}
