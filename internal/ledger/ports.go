package ledger

import (
	"context"

	"ledgercache/internal/core"
)

// Ports for read-only upstream adapters. No writer port exists: nothing in
// this module can create, update or delete ledger data.
type (
	CategoryReader interface {
		FetchCategories(ctx context.Context) ([]core.Category, error)
	}

	AccountReader interface {
		FetchAccounts(ctx context.Context) ([]core.Account, error)
	}

	PayeeReader interface {
		FetchPayees(ctx context.Context) ([]core.Payee, error)
	}

	// TransactionReader returns transactions dated within [start, end], inclusive.
	TransactionReader interface {
		FetchTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error)
	}

	// BudgetReader returns every budget entry of the given month.
	BudgetReader interface {
		FetchBudget(ctx context.Context, month core.Month) ([]core.BudgetEntry, error)
	}

	// Reader is the full read-only surface of a ledger.
	Reader interface {
		CategoryReader
		AccountReader
		PayeeReader
		TransactionReader
		BudgetReader
	}
)
