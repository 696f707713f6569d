// Package sheets reads a ledger mirrored into a Google Spreadsheet. Each
// entity class lives in its own tab with a header row:
//
//	Categories:   ID | Name
//	Accounts:     ID | Name
//	Payees:       ID | Name
//	Transactions: ID | Date | Amount | Account | Category | Payee | Notes
//	Budgets:      Category | Month | Budgeted | Spent
//
// Only Values.Get is used; the spreadsheet is never written.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

const (
	TabCategories   = "Categories"
	TabAccounts     = "Accounts"
	TabPayees       = "Payees"
	TabTransactions = "Transactions"
	TabBudgets      = "Budgets"
)

var _ ledger.Reader = (*Client)(nil)

// valueSource returns the cell matrix of an A1 range.
type valueSource interface {
	Values(ctx context.Context, rng string) ([][]interface{}, error)
}

// DefaultTabCacheTTL bounds how long a tab read is reused.
const DefaultTabCacheTTL = 30 * time.Second

type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	// TabCacheTTL of zero selects DefaultTabCacheTTL; negative disables it.
	TabCacheTTL time.Duration
	Logger      *log.Logger
}

type Client struct {
	src    valueSource
	tabs   *tabCache
	logger *log.Logger
}

// New creates a client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentLedger)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	c := &Client{
		src:    &serviceSource{svc: svc, spreadsheetID: cfg.SpreadsheetID},
		logger: logger,
	}
	switch {
	case cfg.TabCacheTTL == 0:
		c.tabs = newTabCache(8, DefaultTabCacheTTL)
	case cfg.TabCacheTTL > 0:
		c.tabs = newTabCache(8, cfg.TabCacheTTL)
	}
	return c, nil
}

func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	file := strings.TrimSpace(cfg.CredentialsFile)
	if len(credentialsJSON) == 0 && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if len(credentialsJSON) == 0 {
		if file == "" {
			return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
		}
		var err error
		credentialsJSON, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	}

	logger.InfoContext(ctx, "Creating Google Sheets service",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsReadonlyScope)

	return gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
}

type serviceSource struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (s *serviceSource) Values(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) read(ctx context.Context, tab string) ([][]interface{}, error) {
	if c.tabs != nil {
		if values, ok := c.tabs.get(tab); ok {
			return values, nil
		}
	}
	values, err := c.src.Values(ctx, tab+"!A:Z")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	c.logger.DebugContext(ctx, "Read sheet tab", "tab", tab, "rows", len(values))
	if c.tabs != nil {
		c.tabs.set(tab, values)
	}
	return values, nil
}

// Invalidate drops cached tab reads.
func (c *Client) Invalidate() {
	if c.tabs != nil {
		c.tabs.purge()
	}
}

func (c *Client) FetchCategories(ctx context.Context) ([]core.Category, error) {
	values, err := c.read(ctx, TabCategories)
	if err != nil {
		return nil, err
	}
	rows, err := parseNamed(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TabCategories, err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Category{ID: r[0], Name: r[1]})
	}
	return out, nil
}

func (c *Client) FetchAccounts(ctx context.Context) ([]core.Account, error) {
	values, err := c.read(ctx, TabAccounts)
	if err != nil {
		return nil, err
	}
	rows, err := parseNamed(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TabAccounts, err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Account{ID: r[0], Name: r[1]})
	}
	return out, nil
}

func (c *Client) FetchPayees(ctx context.Context) ([]core.Payee, error) {
	values, err := c.read(ctx, TabPayees)
	if err != nil {
		return nil, err
	}
	rows, err := parseNamed(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TabPayees, err)
	}
	out := make([]core.Payee, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.Payee{ID: r[0], Name: r[1]})
	}
	return out, nil
}

func (c *Client) FetchTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error) {
	values, err := c.read(ctx, TabTransactions)
	if err != nil {
		return nil, err
	}
	all, err := parseTransactions(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TabTransactions, err)
	}
	window := core.DateRange{Start: start, End: end}
	out := all[:0]
	for _, t := range all {
		if window.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *Client) FetchBudget(ctx context.Context, month core.Month) ([]core.BudgetEntry, error) {
	values, err := c.read(ctx, TabBudgets)
	if err != nil {
		return nil, err
	}
	all, err := parseBudgets(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", TabBudgets, err)
	}
	var out []core.BudgetEntry
	for _, b := range all {
		if b.Month == month {
			out = append(out, b)
		}
	}
	return out, nil
}
