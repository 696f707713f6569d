package actual

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

var _ ledger.Reader = (*Client)(nil)

type apiCategory struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupID  string `json:"group_id"`
	IsIncome bool   `json:"is_income"`
	Hidden   bool   `json:"hidden"`
}

type apiAccount struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"offbudget"`
	Closed    bool   `json:"closed"`
}

type apiPayee struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TransferAcct string `json:"transfer_acct"`
}

// Amounts are integer minor units.
type apiTransaction struct {
	ID              string           `json:"id"`
	Account         string           `json:"account"`
	Date            string           `json:"date"`
	Amount          int64            `json:"amount"`
	Payee           string           `json:"payee"`
	Category        string           `json:"category"`
	Notes           string           `json:"notes"`
	IsParent        bool             `json:"is_parent"`
	Subtransactions []apiTransaction `json:"subtransactions"`
}

type apiMonth struct {
	Month          string `json:"month"`
	CategoryGroups []struct {
		Categories []apiMonthCategory `json:"categories"`
	} `json:"categoryGroups"`
}

type apiMonthCategory struct {
	ID       string `json:"id"`
	Budgeted int64  `json:"budgeted"`
	Spent    *int64 `json:"spent"`
}

func (c *Client) FetchCategories(ctx context.Context) ([]core.Category, error) {
	var raw []apiCategory
	if err := c.getJSON(ctx, c.budgetPath("categories"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]core.Category, 0, len(raw))
	for _, r := range raw {
		out = append(out, core.Category{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c *Client) FetchAccounts(ctx context.Context) ([]core.Account, error) {
	var raw []apiAccount
	if err := c.getJSON(ctx, c.budgetPath("accounts"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]core.Account, 0, len(raw))
	for _, r := range raw {
		out = append(out, core.Account{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c *Client) FetchPayees(ctx context.Context) ([]core.Payee, error) {
	var raw []apiPayee
	if err := c.getJSON(ctx, c.budgetPath("payees"), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]core.Payee, 0, len(raw))
	for _, r := range raw {
		out = append(out, core.Payee{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

// FetchTransactions lists accounts and then pulls each account's
// transactions concurrently. Any account failing fails the whole call.
func (c *Client) FetchTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error) {
	accounts, err := c.FetchAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	query := url.Values{}
	query.Set("since_date", start.String())
	query.Set("until_date", end.String())
	window := core.DateRange{Start: start, End: end}

	var (
		mu  sync.Mutex
		out []core.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, acc := range accounts {
		g.Go(func() error {
			var raw []apiTransaction
			if err := c.getJSON(gctx, c.budgetPath("accounts", acc.ID, "transactions"), query, &raw); err != nil {
				return fmt.Errorf("account %s: %w", acc.ID, err)
			}
			txs, err := convertTransactions(raw, acc.ID)
			if err != nil {
				return fmt.Errorf("account %s: %w", acc.ID, err)
			}
			mu.Lock()
			for _, t := range txs {
				if window.Contains(t.Date) {
					out = append(out, t)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// convertTransactions flattens split transactions into their children, which
// carry the category and amount of each split.
func convertTransactions(raw []apiTransaction, accountID string) ([]core.Transaction, error) {
	out := make([]core.Transaction, 0, len(raw))
	for _, r := range raw {
		if r.Account == "" {
			r.Account = accountID
		}
		if r.IsParent && len(r.Subtransactions) > 0 {
			for _, sub := range r.Subtransactions {
				if sub.Date == "" {
					sub.Date = r.Date
				}
				if sub.Account == "" {
					sub.Account = r.Account
				}
				if sub.Payee == "" {
					sub.Payee = r.Payee
				}
				t, err := convertTransaction(sub)
				if err != nil {
					return nil, err
				}
				out = append(out, t)
			}
			continue
		}
		t, err := convertTransaction(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func convertTransaction(r apiTransaction) (core.Transaction, error) {
	date, err := core.ParseDate(r.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", r.ID, err)
	}
	return core.Transaction{
		ID:         r.ID,
		Date:       date,
		Amount:     core.Money{Cents: r.Amount},
		AccountID:  r.Account,
		CategoryID: r.Category,
		PayeeID:    r.Payee,
		Notes:      r.Notes,
	}, nil
}

// FetchBudget reads /months/{YYYY-MM}. Spent is reported by the API as a
// negative outflow and is returned as a positive amount.
func (c *Client) FetchBudget(ctx context.Context, month core.Month) ([]core.BudgetEntry, error) {
	var raw apiMonth
	if err := c.getJSON(ctx, c.budgetPath("months", month.Key()), nil, &raw); err != nil {
		return nil, err
	}
	var out []core.BudgetEntry
	for _, g := range raw.CategoryGroups {
		for _, cat := range g.Categories {
			e := core.BudgetEntry{
				CategoryID: cat.ID,
				Month:      month,
				Budgeted:   core.Money{Cents: cat.Budgeted},
			}
			if cat.Spent != nil {
				e.Spent = core.Money{Cents: *cat.Spent}.Abs()
				e.HasSpent = true
			}
			out = append(out, e)
		}
	}
	return out, nil
}
