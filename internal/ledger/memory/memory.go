// Package memory is an in-process ledger seeded from a YAML fixture. It
// backs local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ledgercache/internal/core"
)

// Fixture is the YAML document layout.
//
//	categories:
//	  - {id: c1, name: Food}
//	transactions:
//	  - {id: t1, date: 2024-05-03, amount: "-120.00", account: a1, category: c1}
//	budgets:
//	  - {category: c1, month: 2024-05, budgeted: "500.00", spent: "120.00"}
type Fixture struct {
	Categories   []namedRecord  `yaml:"categories"`
	Accounts     []namedRecord  `yaml:"accounts"`
	Payees       []namedRecord  `yaml:"payees"`
	Transactions []txRecord     `yaml:"transactions"`
	Budgets      []budgetRecord `yaml:"budgets"`
}

type namedRecord struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type txRecord struct {
	ID       string `yaml:"id"`
	Date     string `yaml:"date"`
	Amount   amount `yaml:"amount"`
	Account  string `yaml:"account"`
	Category string `yaml:"category"`
	Payee    string `yaml:"payee"`
	Notes    string `yaml:"notes"`
}

type budgetRecord struct {
	Category string  `yaml:"category"`
	Month    string  `yaml:"month"`
	Budgeted amount  `yaml:"budgeted"`
	Spent    *amount `yaml:"spent"`
}

// amount decodes quoted or bare decimal scalars.
type amount struct {
	core.Money
}

func (a *amount) UnmarshalYAML(node *yaml.Node) error {
	m, err := core.ParseAmount(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w: %q", node.Line, err, node.Value)
	}
	a.Money = m
	return nil
}

// Data is the decoded content of a fixture.
type Data struct {
	Categories   []core.Category
	Accounts     []core.Account
	Payees       []core.Payee
	Transactions []core.Transaction
	Budgets      []core.BudgetEntry
}

// Store serves Data through the read-only ledger ports.
type Store struct {
	mu   sync.RWMutex
	data Data
}

func New(d Data) *Store {
	s := &Store{}
	s.Replace(d)
	return s
}

// NewFromFile loads a YAML fixture. A missing file yields the built-in
// defaults; a malformed one is an error.
func NewFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) || path == "" {
		return New(Defaults()), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("memory ledger %s: %w", path, err)
	}
	return New(d), nil
}

// Decode parses a YAML fixture.
func Decode(r io.Reader) (Data, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return Data{}, err
	}
	var d Data
	for _, c := range fx.Categories {
		d.Categories = append(d.Categories, core.Category{ID: c.ID, Name: c.Name})
	}
	for _, a := range fx.Accounts {
		d.Accounts = append(d.Accounts, core.Account{ID: a.ID, Name: a.Name})
	}
	for _, p := range fx.Payees {
		d.Payees = append(d.Payees, core.Payee{ID: p.ID, Name: p.Name})
	}
	for i, t := range fx.Transactions {
		date, err := core.ParseDate(t.Date)
		if err != nil {
			return Data{}, fmt.Errorf("transaction %d: %w", i, err)
		}
		d.Transactions = append(d.Transactions, core.Transaction{
			ID:         t.ID,
			Date:       date,
			Amount:     t.Amount.Money,
			AccountID:  t.Account,
			CategoryID: t.Category,
			PayeeID:    t.Payee,
			Notes:      t.Notes,
		})
	}
	for i, b := range fx.Budgets {
		month, err := core.ParseMonth(b.Month)
		if err != nil {
			return Data{}, fmt.Errorf("budget %d: %w", i, err)
		}
		e := core.BudgetEntry{CategoryID: b.Category, Month: month, Budgeted: b.Budgeted.Money}
		if b.Spent != nil {
			e.Spent = b.Spent.Money
			e.HasSpent = true
		}
		d.Budgets = append(d.Budgets, e)
	}
	return d, nil
}

// Defaults is a tiny ledger used when no fixture is configured.
func Defaults() Data {
	return Data{
		Categories: []core.Category{
			{ID: "cat-groceries", Name: "Groceries"},
			{ID: "cat-rent", Name: "Rent"},
			{ID: "cat-transport", Name: "Transport"},
		},
		Accounts: []core.Account{{ID: "acc-checking", Name: "Checking"}},
		Payees: []core.Payee{
			{ID: "pay-market", Name: "Market"},
			{ID: "pay-landlord", Name: "Landlord"},
		},
	}
}

// Replace swaps the whole ledger content, simulating upstream edits.
func (s *Store) Replace(d Data) {
	cp := Data{
		Categories:   append([]core.Category(nil), d.Categories...),
		Accounts:     append([]core.Account(nil), d.Accounts...),
		Payees:       append([]core.Payee(nil), d.Payees...),
		Transactions: append([]core.Transaction(nil), d.Transactions...),
		Budgets:      append([]core.BudgetEntry(nil), d.Budgets...),
	}
	sort.SliceStable(cp.Transactions, func(i, j int) bool {
		return cp.Transactions[i].Date.Before(cp.Transactions[j].Date.Time)
	})
	s.mu.Lock()
	s.data = cp
	s.mu.Unlock()
}

func (s *Store) FetchCategories(ctx context.Context) ([]core.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Category(nil), s.data.Categories...), nil
}

func (s *Store) FetchAccounts(ctx context.Context) ([]core.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Account(nil), s.data.Accounts...), nil
}

func (s *Store) FetchPayees(ctx context.Context) ([]core.Payee, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Payee(nil), s.data.Payees...), nil
}

func (s *Store) FetchTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := core.DateRange{Start: start, End: end}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, t := range s.data.Transactions {
		if r.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) FetchBudget(ctx context.Context, month core.Month) ([]core.BudgetEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.BudgetEntry
	for _, b := range s.data.Budgets {
		if b.Month == month {
			out = append(out, b)
		}
	}
	return out, nil
}

// Summary is a short human description, e.g. for startup logs.
func (s *Store) Summary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := []string{
		fmt.Sprintf("categories=%d", len(s.data.Categories)),
		fmt.Sprintf("accounts=%d", len(s.data.Accounts)),
		fmt.Sprintf("payees=%d", len(s.data.Payees)),
		fmt.Sprintf("transactions=%d", len(s.data.Transactions)),
		fmt.Sprintf("budgets=%d", len(s.data.Budgets)),
	}
	return strings.Join(parts, " ")
}
