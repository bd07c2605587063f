package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/db/dbtest"
	"github.com/bodasure/bodasure-backend/internal/data"
	"github.com/bodasure/bodasure-backend/internal/money"
)

func Test_NewLedgerService(t *testing.T) {
	t.Run("models is required", func(t *testing.T) {
		_, err := NewLedgerService(nil, nil, DefaultPlatformCommissionPercent)
		require.ErrorContains(t, err, "models is required for NewLedgerService")
	})

	t.Run("commission percent is bounded", func(t *testing.T) {
		models := &data.Models{}
		_, err := NewLedgerService(models, nil, -1)
		require.ErrorContains(t, err, "platform commission percent must be between 0 and 100, got -1")

		_, err = NewLedgerService(models, nil, 101)
		require.ErrorContains(t, err, "platform commission percent must be between 0 and 100, got 101")
	})
}

func Test_LedgerService_PostJournalEntry(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	ledgerService, err := NewLedgerService(models, nil, DefaultPlatformCommissionPercent)
	require.NoError(t, err)

	escrow, err := models.GLAccounts.GetByCode(ctx, dbConnectionPool, data.GLCodeCashEscrow)
	require.NoError(t, err)
	premiumPayable, err := models.GLAccounts.GetByCode(ctx, dbConnectionPool, data.GLCodePremiumPayable)
	require.NoError(t, err)

	t.Run("rejects an unbalanced entry", func(t *testing.T) {
		_, err := ledgerService.PostJournalEntry(ctx, dbConnectionPool, data.JournalEntryInsert{
			EntryDate:   time.Now(),
			Type:        data.AdjustmentJournalEntryType,
			Description: "unbalanced",
			Lines: []data.JournalLineInput{
				{GLAccountID: escrow.ID, Debit: 100},
				{GLAccountID: premiumPayable.ID, Credit: 99},
			},
		})
		require.ErrorContains(t, err, "journal entry is unbalanced: debit KES 1.00 != credit KES 0.99")
	})

	t.Run("🎉 posts the entry and moves the running balances", func(t *testing.T) {
		entry, err := ledgerService.PostJournalEntry(ctx, dbConnectionPool, data.JournalEntryInsert{
			EntryDate:   time.Now(),
			Type:        data.AdjustmentJournalEntryType,
			Description: "opening adjustment",
			Lines: []data.JournalLineInput{
				{GLAccountID: escrow.ID, Debit: 5000},
				{GLAccountID: premiumPayable.ID, Credit: 5000},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, data.PostedJournalEntryStatus, entry.Status)
		assert.Regexp(t, `^JE-\d{8}$`, entry.EntryNumber)
		assert.Equal(t, money.Amount(5000), entry.TotalDebit)
		assert.Equal(t, money.Amount(5000), entry.TotalCredit)
		require.Len(t, entry.Lines, 2)

		escrowAfter, err := models.GLAccounts.GetByCode(ctx, dbConnectionPool, data.GLCodeCashEscrow)
		require.NoError(t, err)
		assert.Equal(t, escrow.CurrentBalance+5000, escrowAfter.CurrentBalance)

		payableAfter, err := models.GLAccounts.GetByCode(ctx, dbConnectionPool, data.GLCodePremiumPayable)
		require.NoError(t, err)
		assert.Equal(t, premiumPayable.CurrentBalance+5000, payableAfter.CurrentBalance)
	})
}

func Test_LedgerService_journalContracts(t *testing.T) {
	dbt := dbtest.Open(t)
	defer dbt.Close()

	dbConnectionPool, err := db.OpenDBConnectionPool(dbt.DSN)
	require.NoError(t, err)
	defer dbConnectionPool.Close()

	ctx := context.Background()
	models, err := data.NewModels(dbConnectionPool)
	require.NoError(t, err)
	ledgerService, err := NewLedgerService(models, nil, DefaultPlatformCommissionPercent)
	require.NoError(t, err)

	rider := data.CreateRiderFixture(t, ctx, dbConnectionPool, &data.Rider{})
	wallet := data.CreateWalletFixture(t, ctx, dbConnectionPool, &data.Wallet{RiderID: rider.ID})
	transaction := data.CreateTransactionFixture(t, ctx, dbConnectionPool, &data.Transaction{
		RiderID: rider.ID, WalletID: wallet.ID, Amount: data.DefaultDepositAmount,
	})
	policy := data.CreatePolicyFixture(t, ctx, dbConnectionPool, &data.Policy{
		RiderID:                 rider.ID,
		TriggeringTransactionID: transaction.ID,
		PolicyNumber:            "POL-20250810-B1-000001",
		PremiumAmount:           data.DefaultDepositAmount,
	})

	lineAmounts := func(t *testing.T, entry *data.JournalEntry, code string) (debit, credit money.Amount) {
		t.Helper()
		account, accErr := models.GLAccounts.GetByCode(ctx, dbConnectionPool, code)
		require.NoError(t, accErr)
		for _, line := range entry.Lines {
			if line.GLAccountID == account.ID {
				return line.Debit, line.Credit
			}
		}
		t.Fatalf("entry %s has no line for account %s", entry.EntryNumber, code)
		return 0, 0
	}

	t.Run("🎉 premium collection debits escrow and credits premium payable", func(t *testing.T) {
		entry, err := ledgerService.PostPremiumCollection(ctx, dbConnectionPool, transaction.ID, "Deposit settled, receipt RCPT-001", data.DefaultDepositAmount)
		require.NoError(t, err)

		assert.Equal(t, data.PremiumCollectionJournalEntryType, entry.Type)
		require.NotNil(t, entry.SourceTransactionID)
		assert.Equal(t, transaction.ID, *entry.SourceTransactionID)

		debit, _ := lineAmounts(t, entry, data.GLCodeCashEscrow)
		assert.Equal(t, data.DefaultDepositAmount, debit)
		_, credit := lineAmounts(t, entry, data.GLCodePremiumPayable)
		assert.Equal(t, data.DefaultDepositAmount, credit)
	})

	t.Run("🎉 policy activation splits the premium 80/20", func(t *testing.T) {
		entry, err := ledgerService.PostPolicyActivation(ctx, dbConnectionPool, policy.ID, policy.PolicyNumber, data.DefaultDepositAmount)
		require.NoError(t, err)

		assert.Equal(t, data.PremiumRecognitionJournalEntryType, entry.Type)
		require.NotNil(t, entry.SourcePolicyID)
		assert.Equal(t, policy.ID, *entry.SourcePolicyID)

		debit, _ := lineAmounts(t, entry, data.GLCodePremiumPayable)
		assert.Equal(t, money.Amount(104800), debit)
		_, underwriterShare := lineAmounts(t, entry, data.GLCodeUnderwriterIncome)
		assert.Equal(t, money.Amount(83840), underwriterShare)
		_, platformShare := lineAmounts(t, entry, data.GLCodePlatformCommission)
		assert.Equal(t, money.Amount(20960), platformShare)
		assert.Equal(t, debit, underwriterShare+platformShare)
	})

	t.Run("🎉 free-look cancellation books the 90/10 split", func(t *testing.T) {
		premium := data.DefaultDepositAmount
		reversalFee, refundAmount := premium.SplitPercent(decimal.NewFromInt(10))

		entry, err := ledgerService.PostFreeLookCancellation(ctx, dbConnectionPool, policy.ID, policy.PolicyNumber, premium, refundAmount, reversalFee)
		require.NoError(t, err)

		assert.Equal(t, data.RefundJournalEntryType, entry.Type)
		debit, _ := lineAmounts(t, entry, data.GLCodePremiumPayable)
		assert.Equal(t, money.Amount(104800), debit)
		_, refundCredit := lineAmounts(t, entry, data.GLCodeRefundsPayable)
		assert.Equal(t, money.Amount(94320), refundCredit)
		_, feeCredit := lineAmounts(t, entry, data.GLCodeReversalFeeIncome)
		assert.Equal(t, money.Amount(10480), feeCredit)
	})

	t.Run("free-look cancellation rejects a split that does not add up", func(t *testing.T) {
		_, err := ledgerService.PostFreeLookCancellation(ctx, dbConnectionPool, policy.ID, policy.PolicyNumber, 104800, 90000, 10480)
		require.ErrorContains(t, err, "cancellation split does not add up")
	})

	t.Run("🎉 refund payout moves cash out of escrow", func(t *testing.T) {
		entry, err := ledgerService.PostRefundPayout(ctx, dbConnectionPool, policy.ID, "refund-1", 94320)
		require.NoError(t, err)

		debit, _ := lineAmounts(t, entry, data.GLCodeRefundsPayable)
		assert.Equal(t, money.Amount(94320), debit)
		_, credit := lineAmounts(t, entry, data.GLCodeCashEscrow)
		assert.Equal(t, money.Amount(94320), credit)
	})

	t.Run("🎉 partner settlement pays the underwriter from operating cash", func(t *testing.T) {
		entry, err := ledgerService.PostPartnerSettlement(ctx, dbConnectionPool, "June underwriter settlement", 500000)
		require.NoError(t, err)

		assert.Equal(t, data.SettlementJournalEntryType, entry.Type)
		debit, _ := lineAmounts(t, entry, data.GLCodePremiumPayable)
		assert.Equal(t, money.Amount(500000), debit)
		_, credit := lineAmounts(t, entry, data.GLCodeCashOperating)
		assert.Equal(t, money.Amount(500000), credit)
	})

	t.Run("🎉 the trial balance stays balanced through it all", func(t *testing.T) {
		report, err := ledgerService.TrialBalance(ctx)
		require.NoError(t, err)

		assert.True(t, report.Balanced)
		assert.Equal(t, report.TotalDebits, report.TotalCredits)
		assert.NotZero(t, report.TotalDebits)
		assert.Len(t, report.Rows, 7)
	})
}
