package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
)

type JournalEntryType string

const (
	PremiumCollectionJournalEntryType  JournalEntryType = "PREMIUM_COLLECTION"
	PremiumRecognitionJournalEntryType JournalEntryType = "PREMIUM_RECOGNITION"
	RefundJournalEntryType             JournalEntryType = "REFUND"
	SettlementJournalEntryType         JournalEntryType = "SETTLEMENT"
	AdjustmentJournalEntryType         JournalEntryType = "ADJUSTMENT"
)

func (t JournalEntryType) Validate() error {
	switch JournalEntryType(strings.ToUpper(string(t))) {
	case PremiumCollectionJournalEntryType, PremiumRecognitionJournalEntryType,
		RefundJournalEntryType, SettlementJournalEntryType, AdjustmentJournalEntryType:
		return nil
	default:
		return fmt.Errorf("invalid journal entry type: %s", t)
	}
}

type JournalEntryStatus string

const (
	DraftJournalEntryStatus    JournalEntryStatus = "DRAFT"
	PostedJournalEntryStatus   JournalEntryStatus = "POSTED"
	ReversedJournalEntryStatus JournalEntryStatus = "REVERSED"
)

// JournalEntry is one balanced double-entry posting. Entries are immutable
// once POSTED; corrections are new entries.
type JournalEntry struct {
	ID                  string             `json:"id" db:"id"`
	EntryNumber         string             `json:"entry_number" db:"entry_number"`
	EntryDate           time.Time          `json:"entry_date" db:"entry_date"`
	Type                JournalEntryType   `json:"type" db:"type"`
	Status              JournalEntryStatus `json:"status" db:"status"`
	Description         string             `json:"description" db:"description"`
	TotalDebit          money.Amount       `json:"total_debit" db:"total_debit"`
	TotalCredit         money.Amount       `json:"total_credit" db:"total_credit"`
	SourceTransactionID *string            `json:"source_transaction_id,omitempty" db:"source_transaction_id"`
	SourcePolicyID      *string            `json:"source_policy_id,omitempty" db:"source_policy_id"`
	PostedAt            *time.Time         `json:"posted_at" db:"posted_at"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`

	Lines []JournalLine `json:"lines,omitempty" db:"-"`
}

type JournalLine struct {
	ID             string       `json:"id" db:"id"`
	JournalEntryID string       `json:"journal_entry_id" db:"journal_entry_id"`
	GLAccountID    string       `json:"gl_account_id" db:"gl_account_id"`
	Debit          money.Amount `json:"debit" db:"debit"`
	Credit         money.Amount `json:"credit" db:"credit"`
	LineNumber     int          `json:"line_number" db:"line_number"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

type JournalEntryModel struct {
	dbConnectionPool db.DBConnectionPool
}

type JournalLineInput struct {
	GLAccountID string
	Debit       money.Amount
	Credit      money.Amount
}

func (jli JournalLineInput) Validate() error {
	if strings.TrimSpace(jli.GLAccountID) == "" {
		return fmt.Errorf("gl_account_id is required")
	}
	debitSet := jli.Debit.IsPositive()
	creditSet := jli.Credit.IsPositive()
	if debitSet == creditSet {
		return fmt.Errorf("line must carry exactly one of debit or credit")
	}
	if jli.Debit.IsNegative() || jli.Credit.IsNegative() {
		return fmt.Errorf("line amounts cannot be negative")
	}
	return nil
}

type JournalEntryInsert struct {
	EntryDate           time.Time
	Type                JournalEntryType
	Description         string
	SourceTransactionID string
	SourcePolicyID      string
	Lines               []JournalLineInput
}

// Validate enforces the double-entry shape before the database CHECKs get a
// say: at least two one-sided lines and equal debit and credit totals.
func (jei *JournalEntryInsert) Validate() error {
	if err := jei.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(jei.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if jei.EntryDate.IsZero() {
		return fmt.Errorf("entry_date is required")
	}
	if len(jei.Lines) < 2 {
		return fmt.Errorf("journal entry requires at least two lines, got %d", len(jei.Lines))
	}

	var totalDebit, totalCredit money.Amount
	for i, line := range jei.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		totalDebit += line.Debit
		totalCredit += line.Credit
	}
	if totalDebit != totalCredit {
		return fmt.Errorf("journal entry is unbalanced: debit %s != credit %s", totalDebit, totalCredit)
	}

	return nil
}

// Totals returns the entry's debit and credit sums. Valid entries have them
// equal.
func (jei *JournalEntryInsert) Totals() (debit, credit money.Amount) {
	for _, line := range jei.Lines {
		debit += line.Debit
		credit += line.Credit
	}
	return debit, credit
}

const journalEntryColumns = `
	id,
	entry_number,
	entry_date,
	type,
	status,
	description,
	total_debit,
	total_credit,
	source_transaction_id,
	source_policy_id,
	posted_at,
	created_at,
	updated_at
`

const journalLineColumns = `
	id,
	journal_entry_id,
	gl_account_id,
	debit,
	credit,
	line_number,
	created_at
`

// Insert writes the entry and its lines. Entry numbers come from a database
// sequence so they are gapless-ish and unique across instances.
func (m *JournalEntryModel) Insert(ctx context.Context, sqlExec db.SQLExecuter, insert JournalEntryInsert) (*JournalEntry, error) {
	if err := insert.Validate(); err != nil {
		return nil, fmt.Errorf("validating journal entry insert: %w", err)
	}

	totalDebit, totalCredit := insert.Totals()

	entryQuery := fmt.Sprintf(`
		INSERT INTO journal_entries
			(entry_number, entry_date, type, status, description, total_debit, total_credit, source_transaction_id, source_policy_id, posted_at)
		VALUES
			('JE-' || LPAD(nextval('journal_entry_number_seq')::text, 8, '0'), $1, $2, 'POSTED', $3, $4, $5, $6, $7, NOW())
		RETURNING %s
	`, journalEntryColumns)

	var sourceTransactionID, sourcePolicyID interface{}
	if insert.SourceTransactionID != "" {
		sourceTransactionID = insert.SourceTransactionID
	}
	if insert.SourcePolicyID != "" {
		sourcePolicyID = insert.SourcePolicyID
	}

	entry := JournalEntry{}
	err := sqlExec.GetContext(ctx, &entry, entryQuery,
		insert.EntryDate, insert.Type, insert.Description,
		totalDebit, totalCredit, sourceTransactionID, sourcePolicyID,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting journal entry: %w", err)
	}

	lineQuery := fmt.Sprintf(`
		INSERT INTO journal_lines
			(journal_entry_id, gl_account_id, debit, credit, line_number)
		VALUES
			($1, $2, $3, $4, $5)
		RETURNING %s
	`, journalLineColumns)

	entry.Lines = make([]JournalLine, 0, len(insert.Lines))
	for i, lineInput := range insert.Lines {
		line := JournalLine{}
		err = sqlExec.GetContext(ctx, &line, lineQuery,
			entry.ID, lineInput.GLAccountID, lineInput.Debit, lineInput.Credit, i+1,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting journal line %d for entry %s: %w", i+1, entry.ID, err)
		}
		entry.Lines = append(entry.Lines, line)
	}

	return &entry, nil
}

func (m *JournalEntryModel) Get(ctx context.Context, sqlExec db.SQLExecuter, id string) (*JournalEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM journal_entries WHERE id = $1`, journalEntryColumns)

	entry := JournalEntry{}
	err := sqlExec.GetContext(ctx, &entry, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying journal entry ID %s: %w", id, err)
	}

	if err = m.loadLines(ctx, sqlExec, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

func (m *JournalEntryModel) GetByEntryNumber(ctx context.Context, sqlExec db.SQLExecuter, entryNumber string) (*JournalEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM journal_entries WHERE entry_number = $1`, journalEntryColumns)

	entry := JournalEntry{}
	err := sqlExec.GetContext(ctx, &entry, query, entryNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying journal entry number %s: %w", entryNumber, err)
	}

	if err = m.loadLines(ctx, sqlExec, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

func (m *JournalEntryModel) loadLines(ctx context.Context, sqlExec db.SQLExecuter, entry *JournalEntry) error {
	query := fmt.Sprintf(`
		SELECT %s FROM journal_lines
		WHERE journal_entry_id = $1
		ORDER BY line_number ASC
	`, journalLineColumns)

	err := sqlExec.SelectContext(ctx, &entry.Lines, query, entry.ID)
	if err != nil {
		return fmt.Errorf("querying lines for journal entry %s: %w", entry.ID, err)
	}

	return nil
}

// GetAllBySourceTransactionID returns the entries a settlement produced,
// oldest first.
func (m *JournalEntryModel) GetAllBySourceTransactionID(ctx context.Context, sqlExec db.SQLExecuter, transactionID string) ([]JournalEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM journal_entries
		WHERE source_transaction_id = $1
		ORDER BY created_at ASC
	`, journalEntryColumns)

	entries := []JournalEntry{}
	err := sqlExec.SelectContext(ctx, &entries, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries for transaction %s: %w", transactionID, err)
	}

	return entries, nil
}

func (m *JournalEntryModel) GetAllBySourcePolicyID(ctx context.Context, sqlExec db.SQLExecuter, policyID string) ([]JournalEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM journal_entries
		WHERE source_policy_id = $1
		ORDER BY created_at ASC
	`, journalEntryColumns)

	entries := []JournalEntry{}
	err := sqlExec.SelectContext(ctx, &entries, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries for policy %s: %w", policyID, err)
	}

	return entries, nil
}

// TrialBalanceRow is one account's contribution to the trial balance.
type TrialBalanceRow struct {
	AccountCode   string        `json:"account_code" db:"account_code"`
	AccountName   string        `json:"account_name" db:"account_name"`
	NormalBalance NormalBalance `json:"normal_balance" db:"normal_balance"`
	TotalDebits   money.Amount  `json:"total_debits" db:"total_debits"`
	TotalCredits  money.Amount  `json:"total_credits" db:"total_credits"`
}

// TrialBalance sums posted journal lines per account. A healthy ledger has
// grand total debits equal to grand total credits.
func (m *JournalEntryModel) TrialBalance(ctx context.Context, sqlExec db.SQLExecuter) ([]TrialBalanceRow, error) {
	const query = `
		SELECT
			a.code AS account_code,
			a.name AS account_name,
			a.normal_balance,
			COALESCE(SUM(l.debit), 0) AS total_debits,
			COALESCE(SUM(l.credit), 0) AS total_credits
		FROM gl_accounts a
		LEFT JOIN (
			SELECT jl.gl_account_id, jl.debit, jl.credit
			FROM journal_lines jl
			JOIN journal_entries je ON je.id = jl.journal_entry_id
			WHERE je.status = 'POSTED'
		) l ON l.gl_account_id = a.id
		WHERE a.active = TRUE
		GROUP BY a.code, a.name, a.normal_balance
		ORDER BY a.code ASC
	`

	rows := []TrialBalanceRow{}
	err := sqlExec.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, fmt.Errorf("querying trial balance: %w", err)
	}

	return rows, nil
}
