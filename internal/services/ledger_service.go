package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/money"
	"github.com/bodasure/bodasure-backend/internal/monitor"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

// DefaultPlatformCommissionPercent is the platform's cut of a recognized
// premium. Configuration may override it per deployment.
const DefaultPlatformCommissionPercent = 20

type LedgerServiceInterface interface {
	PostJournalEntry(ctx context.Context, sqlExec db.SQLExecuter, insert data.JournalEntryInsert) (*data.JournalEntry, error)
	PostPremiumCollection(ctx context.Context, sqlExec db.SQLExecuter, transactionID, description string, amount money.Amount) (*data.JournalEntry, error)
	PostPolicyActivation(ctx context.Context, sqlExec db.SQLExecuter, policyID, policyNumber string, premium money.Amount) (*data.JournalEntry, error)
	PostFreeLookCancellation(ctx context.Context, sqlExec db.SQLExecuter, policyID, policyNumber string, premium, refundAmount, reversalFee money.Amount) (*data.JournalEntry, error)
	PostRefundPayout(ctx context.Context, sqlExec db.SQLExecuter, policyID, refundID string, refundAmount money.Amount) (*data.JournalEntry, error)
	PostPartnerSettlement(ctx context.Context, sqlExec db.SQLExecuter, description string, amount money.Amount) (*data.JournalEntry, error)
	TrialBalance(ctx context.Context) (*TrialBalanceReport, error)
}

// LedgerService posts balanced double-entry journal entries and keeps the GL
// running balances in step with them. Every posting happens on the caller's
// SQLExecuter so the entry commits or rolls back with the business write that
// caused it.
type LedgerService struct {
	models                    *data.Models
	monitorService            monitor.MonitorServiceInterface
	platformCommissionPercent decimal.Decimal
}

var _ LedgerServiceInterface = (*LedgerService)(nil)

func NewLedgerService(models *data.Models, monitorService monitor.MonitorServiceInterface, platformCommissionPercent int) (*LedgerService, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required for NewLedgerService")
	}
	if platformCommissionPercent < 0 || platformCommissionPercent > 100 {
		return nil, fmt.Errorf("platform commission percent must be between 0 and 100, got %d", platformCommissionPercent)
	}

	return &LedgerService{
		models:                    models,
		monitorService:            monitorService,
		platformCommissionPercent: decimal.NewFromInt(int64(platformCommissionPercent)),
	}, nil
}

// PostJournalEntry validates and persists the entry, then applies each line to
// its account's running balance. The insert validation already guarantees
// Σdebit = Σcredit and one-sided lines.
func (s *LedgerService) PostJournalEntry(ctx context.Context, sqlExec db.SQLExecuter, insert data.JournalEntryInsert) (*data.JournalEntry, error) {
	entry, err := s.models.JournalEntries.Insert(ctx, sqlExec, insert)
	if err != nil {
		return nil, fmt.Errorf("posting journal entry: %w", err)
	}

	for _, line := range entry.Lines {
		if err = s.models.GLAccounts.ApplyMovement(ctx, sqlExec, line.GLAccountID, line.Debit, line.Credit); err != nil {
			return nil, fmt.Errorf("applying line %d of entry %s to account balances: %w", line.LineNumber, entry.EntryNumber, err)
		}
	}

	if s.monitorService != nil {
		labels := map[string]string{"transaction_type": string(entry.Type)}
		if monitorErr := s.monitorService.MonitorCounters(monitor.LedgerEntriesPostedCounterTag, labels); monitorErr != nil {
			log.Ctx(ctx).Errorf("monitoring posted ledger entries counter: %v", monitorErr)
		}
	}

	log.Ctx(ctx).Infof("posted journal entry %s (%s): %s", entry.EntryNumber, entry.Type, entry.TotalDebit)
	return entry, nil
}

// PostPremiumCollection records a settled deposit or daily payment: cash lands
// in escrow, the same amount becomes payable to the underwriter.
func (s *LedgerService) PostPremiumCollection(ctx context.Context, sqlExec db.SQLExecuter, transactionID, description string, amount money.Amount) (*data.JournalEntry, error) {
	accounts, err := s.models.GLAccounts.GetByCodes(ctx, sqlExec, data.GLCodeCashEscrow, data.GLCodePremiumPayable)
	if err != nil {
		return nil, fmt.Errorf("resolving premium collection accounts: %w", err)
	}

	return s.PostJournalEntry(ctx, sqlExec, data.JournalEntryInsert{
		EntryDate:           time.Now(),
		Type:                data.PremiumCollectionJournalEntryType,
		Description:         description,
		SourceTransactionID: transactionID,
		Lines: []data.JournalLineInput{
			{GLAccountID: accounts[data.GLCodeCashEscrow].ID, Debit: amount},
			{GLAccountID: accounts[data.GLCodePremiumPayable].ID, Credit: amount},
		},
	})
}

// PostPolicyActivation recognizes an issued policy's premium as income, split
// between the underwriter and the platform commission. The split always sums
// back to the premium, so the entry balances to the minor unit.
func (s *LedgerService) PostPolicyActivation(ctx context.Context, sqlExec db.SQLExecuter, policyID, policyNumber string, premium money.Amount) (*data.JournalEntry, error) {
	if !premium.IsPositive() {
		return nil, fmt.Errorf("premium must be positive to recognize policy %s, got %s", policyID, premium)
	}

	accounts, err := s.models.GLAccounts.GetByCodes(ctx, sqlExec,
		data.GLCodePremiumPayable, data.GLCodeUnderwriterIncome, data.GLCodePlatformCommission)
	if err != nil {
		return nil, fmt.Errorf("resolving policy activation accounts: %w", err)
	}

	platformShare, underwriterShare := premium.SplitPercent(s.platformCommissionPercent)

	lines := []data.JournalLineInput{
		{GLAccountID: accounts[data.GLCodePremiumPayable].ID, Debit: premium},
	}
	if underwriterShare.IsPositive() {
		lines = append(lines, data.JournalLineInput{GLAccountID: accounts[data.GLCodeUnderwriterIncome].ID, Credit: underwriterShare})
	}
	if platformShare.IsPositive() {
		lines = append(lines, data.JournalLineInput{GLAccountID: accounts[data.GLCodePlatformCommission].ID, Credit: platformShare})
	}

	return s.PostJournalEntry(ctx, sqlExec, data.JournalEntryInsert{
		EntryDate:      time.Now(),
		Type:           data.PremiumRecognitionJournalEntryType,
		Description:    fmt.Sprintf("Premium recognition for policy %s", policyNumber),
		SourcePolicyID: policyID,
		Lines:          lines,
	})
}

// PostFreeLookCancellation unwinds a policy cancelled inside the free-look
// window: the full premium comes out of premium payable, 90% becomes a refund
// owed to the rider and the reversal fee stays as platform income. Amounts are
// passed in so the refund row and the journal entry are guaranteed to agree.
func (s *LedgerService) PostFreeLookCancellation(ctx context.Context, sqlExec db.SQLExecuter, policyID, policyNumber string, premium, refundAmount, reversalFee money.Amount) (*data.JournalEntry, error) {
	if refundAmount+reversalFee != premium {
		return nil, fmt.Errorf("cancellation split does not add up for policy %s: refund %s + fee %s != premium %s", policyID, refundAmount, reversalFee, premium)
	}

	accounts, err := s.models.GLAccounts.GetByCodes(ctx, sqlExec,
		data.GLCodePremiumPayable, data.GLCodeRefundsPayable, data.GLCodeReversalFeeIncome)
	if err != nil {
		return nil, fmt.Errorf("resolving cancellation accounts: %w", err)
	}

	lines := []data.JournalLineInput{
		{GLAccountID: accounts[data.GLCodePremiumPayable].ID, Debit: premium},
		{GLAccountID: accounts[data.GLCodeRefundsPayable].ID, Credit: refundAmount},
	}
	if reversalFee.IsPositive() {
		lines = append(lines, data.JournalLineInput{GLAccountID: accounts[data.GLCodeReversalFeeIncome].ID, Credit: reversalFee})
	}

	return s.PostJournalEntry(ctx, sqlExec, data.JournalEntryInsert{
		EntryDate:      time.Now(),
		Type:           data.RefundJournalEntryType,
		Description:    fmt.Sprintf("Free-look cancellation of policy %s", policyNumber),
		SourcePolicyID: policyID,
		Lines:          lines,
	})
}

// PostRefundPayout records the cash leaving escrow when a pending refund is
// actually paid to the rider.
func (s *LedgerService) PostRefundPayout(ctx context.Context, sqlExec db.SQLExecuter, policyID, refundID string, refundAmount money.Amount) (*data.JournalEntry, error) {
	accounts, err := s.models.GLAccounts.GetByCodes(ctx, sqlExec, data.GLCodeRefundsPayable, data.GLCodeCashEscrow)
	if err != nil {
		return nil, fmt.Errorf("resolving refund payout accounts: %w", err)
	}

	return s.PostJournalEntry(ctx, sqlExec, data.JournalEntryInsert{
		EntryDate:      time.Now(),
		Type:           data.RefundJournalEntryType,
		Description:    fmt.Sprintf("Refund payout %s", refundID),
		SourcePolicyID: policyID,
		Lines: []data.JournalLineInput{
			{GLAccountID: accounts[data.GLCodeRefundsPayable].ID, Debit: refundAmount},
			{GLAccountID: accounts[data.GLCodeCashEscrow].ID, Credit: refundAmount},
		},
	})
}

// PostPartnerSettlement records the periodic remittance of collected premiums
// to the underwriter out of the operating account.
func (s *LedgerService) PostPartnerSettlement(ctx context.Context, sqlExec db.SQLExecuter, description string, amount money.Amount) (*data.JournalEntry, error) {
	accounts, err := s.models.GLAccounts.GetByCodes(ctx, sqlExec, data.GLCodePremiumPayable, data.GLCodeCashOperating)
	if err != nil {
		return nil, fmt.Errorf("resolving partner settlement accounts: %w", err)
	}

	return s.PostJournalEntry(ctx, sqlExec, data.JournalEntryInsert{
		EntryDate:   time.Now(),
		Type:        data.SettlementJournalEntryType,
		Description: description,
		Lines: []data.JournalLineInput{
			{GLAccountID: accounts[data.GLCodePremiumPayable].ID, Debit: amount},
			{GLAccountID: accounts[data.GLCodeCashOperating].ID, Credit: amount},
		},
	})
}

// TrialBalanceReport aggregates posted journal lines per account with the
// ledger-wide totals. Balanced is the health signal: it must always be true.
type TrialBalanceReport struct {
	Rows         []data.TrialBalanceRow `json:"rows"`
	TotalDebits  money.Amount           `json:"total_debits"`
	TotalCredits money.Amount           `json:"total_credits"`
	Balanced     bool                   `json:"balanced"`
}

func (s *LedgerService) TrialBalance(ctx context.Context) (*TrialBalanceReport, error) {
	rows, err := s.models.JournalEntries.TrialBalance(ctx, s.models.DBConnectionPool)
	if err != nil {
		return nil, fmt.Errorf("building trial balance: %w", err)
	}

	report := TrialBalanceReport{Rows: rows}
	for _, row := range rows {
		report.TotalDebits += row.TotalDebits
		report.TotalCredits += row.TotalCredits
	}
	report.Balanced = report.TotalDebits == report.TotalCredits

	if !report.Balanced {
		log.Ctx(ctx).Errorf("trial balance is out of balance: debits %s != credits %s", report.TotalDebits, report.TotalCredits)
	}

	return &report, nil
}
