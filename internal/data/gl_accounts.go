package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bodasure/bodasure-backend/db"
	"github.com/bodasure/bodasure-backend/internal/money"
)

type GLAccountType string

const (
	AssetGLAccountType     GLAccountType = "ASSET"
	LiabilityGLAccountType GLAccountType = "LIABILITY"
	EquityGLAccountType    GLAccountType = "EQUITY"
	RevenueGLAccountType   GLAccountType = "REVENUE"
	ExpenseGLAccountType   GLAccountType = "EXPENSE"
)

type NormalBalance string

const (
	DebitNormalBalance  NormalBalance = "DEBIT"
	CreditNormalBalance NormalBalance = "CREDIT"
)

// Chart of accounts codes seeded by the migrations. Journal contracts refer
// to accounts by code, never by id.
const (
	GLCodeCashEscrow         = "1001"
	GLCodeCashOperating      = "1002"
	GLCodePremiumPayable     = "2001"
	GLCodeRefundsPayable     = "2002"
	GLCodeUnderwriterIncome  = "4001"
	GLCodePlatformCommission = "4002"
	GLCodeReversalFeeIncome  = "4003"
)

// GLAccount is one chart-of-accounts row. current_balance is a running total
// on the account's normal side, maintained by the ledger poster in the same
// transaction as the journal lines.
type GLAccount struct {
	ID             string        `json:"id" db:"id"`
	Code           string        `json:"code" db:"code"`
	Name           string        `json:"name" db:"name"`
	AccountType    GLAccountType `json:"account_type" db:"account_type"`
	NormalBalance  NormalBalance `json:"normal_balance" db:"normal_balance"`
	CurrentBalance money.Amount  `json:"current_balance" db:"current_balance"`
	Active         bool          `json:"active" db:"active"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

type GLAccountModel struct {
	dbConnectionPool db.DBConnectionPool
}

const glAccountColumns = `
	id,
	code,
	name,
	account_type,
	normal_balance,
	current_balance,
	active,
	created_at,
	updated_at
`

func (m *GLAccountModel) GetByCode(ctx context.Context, sqlExec db.SQLExecuter, code string) (*GLAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM gl_accounts WHERE code = $1 AND active = TRUE`, glAccountColumns)

	account := GLAccount{}
	err := sqlExec.GetContext(ctx, &account, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying GL account %s: %w", code, err)
	}

	return &account, nil
}

// GetByCodes resolves several accounts in one round trip, keyed by code.
// Missing or inactive codes surface as ErrRecordNotFound naming the code.
func (m *GLAccountModel) GetByCodes(ctx context.Context, sqlExec db.SQLExecuter, codes ...string) (map[string]*GLAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM gl_accounts WHERE code = ANY($1) AND active = TRUE`, glAccountColumns)

	accounts := []GLAccount{}
	err := sqlExec.SelectContext(ctx, &accounts, query, pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("querying GL accounts %v: %w", codes, err)
	}

	byCode := make(map[string]*GLAccount, len(accounts))
	for i := range accounts {
		byCode[accounts[i].Code] = &accounts[i]
	}
	for _, code := range codes {
		if _, ok := byCode[code]; !ok {
			return nil, fmt.Errorf("GL account %s: %w", code, ErrRecordNotFound)
		}
	}

	return byCode, nil
}

func (m *GLAccountModel) GetAll(ctx context.Context, sqlExec db.SQLExecuter) ([]GLAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM gl_accounts ORDER BY code ASC`, glAccountColumns)

	accounts := []GLAccount{}
	err := sqlExec.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("querying GL accounts: %w", err)
	}

	return accounts, nil
}

// ApplyMovement shifts the running balance by the signed line impact: debits
// increase DEBIT-normal accounts and decrease CREDIT-normal ones, credits the
// reverse.
func (m *GLAccountModel) ApplyMovement(ctx context.Context, sqlExec db.SQLExecuter, accountID string, debit, credit money.Amount) error {
	const query = `
		UPDATE gl_accounts
		SET current_balance = current_balance + CASE WHEN normal_balance = 'DEBIT' THEN $2 - $3 ELSE $3 - $2 END
		WHERE id = $1 AND active = TRUE
	`

	res, err := sqlExec.ExecContext(ctx, query, accountID, debit, credit)
	if err != nil {
		return fmt.Errorf("applying movement to GL account %s: %w", accountID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}
