package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

// Source tells where an answer came from.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceUpstream Source = "upstream"
)

// UncategorizedName labels spending without a known category.
const UncategorizedName = "Uncategorized"

// Answer wraps a query result with its provenance.
type Answer[T any] struct {
	Value  T
	Source Source
	// Stale is set when a snapshot past its staleness threshold answered
	// because the direct fetch failed.
	Stale bool
	// RefreshedAt is the snapshot time for snapshot answers.
	RefreshedAt time.Time
}

// Accessor answers read queries from the current snapshot, falling back to
// direct read-only upstream calls when the snapshot cannot answer. Direct
// results are never written into the cache.
type Accessor struct {
	engine *Engine
	reader ledger.Reader
	logger *log.Logger
}

func NewAccessor(engine *Engine) *Accessor {
	return &Accessor{
		engine: engine,
		reader: engine.reader,
		logger: engine.logger.WithComponent(log.ComponentAccessor),
	}
}

// query describes one lookup for resolve.
type query[T any] struct {
	class ledger.EntityClass
	key   string
	// cached answers from a snapshot; ok=false means the snapshot cannot.
	cached func(*Snapshot) (T, bool)
	// authoritative reports whether a cached miss proves the key unknown.
	authoritative func(*Snapshot) bool
	// direct fetches the answer upstream; found=false means unknown.
	direct func(context.Context) (v T, found bool, err error)
}

// resolve is the single read policy shared by every query.
func resolve[T any](ctx context.Context, a *Accessor, q query[T]) (Answer[T], error) {
	var zero Answer[T]
	snap := a.engine.store.Current()
	now := a.engine.now()

	if !a.engine.IsStale(snap, now) {
		if v, ok := q.cached(snap); ok {
			return Answer[T]{Value: v, Source: SourceSnapshot, RefreshedAt: snap.RefreshedAt}, nil
		}
		if q.authoritative != nil && q.authoritative(snap) {
			return zero, fmt.Errorf("%w: %s %q", ErrUnknownReference, q.class, q.key)
		}
	} else {
		a.engine.TriggerAsync()
	}

	v, found, err := q.direct(ctx)
	if err != nil {
		err = ledger.NewFetchError(q.class, err)
		if cv, ok := q.cached(snap); ok && snap.Populated() {
			a.logger.WarnContext(ctx, "Upstream unavailable, serving stale snapshot",
				log.FieldClass, q.class.String(),
				log.FieldKey, q.key,
				log.FieldAgeSeconds, int64(snap.Age(now)/time.Second),
				log.FieldError, err.Error())
			return Answer[T]{Value: cv, Source: SourceSnapshot, Stale: true, RefreshedAt: snap.RefreshedAt}, nil
		}
		return zero, err
	}
	if !found {
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownReference, q.class, q.key)
	}
	a.logger.DebugContext(ctx, "Answered from upstream", log.FieldClass, q.class.String(), log.FieldKey, q.key)
	return Answer[T]{Value: v, Source: SourceUpstream}, nil
}

// hasData reports whether class has any data in snap, fresh or carried.
func hasData(snap *Snapshot, class ledger.EntityClass) bool {
	info, ok := snap.Classes[class]
	return ok && !info.Missing
}

func (a *Accessor) CategoryIDByName(ctx context.Context, name string) (Answer[string], error) {
	return resolve(ctx, a, query[string]{
		class:         ledger.Categories,
		key:           name,
		cached:        func(s *Snapshot) (string, bool) { return s.CategoryID(name) },
		authoritative: func(s *Snapshot) bool { return s.Fresh(ledger.Categories) },
		direct: func(ctx context.Context) (string, bool, error) {
			idx, err := a.fetchCategoryIndex(ctx)
			if err != nil {
				return "", false, err
			}
			id, ok := idx.id(name)
			return id, ok, nil
		},
	})
}

func (a *Accessor) CategoryNameByID(ctx context.Context, id string) (Answer[string], error) {
	return resolve(ctx, a, query[string]{
		class:         ledger.Categories,
		key:           id,
		cached:        func(s *Snapshot) (string, bool) { return s.CategoryName(id) },
		authoritative: func(s *Snapshot) bool { return s.Fresh(ledger.Categories) },
		direct: func(ctx context.Context) (string, bool, error) {
			idx, err := a.fetchCategoryIndex(ctx)
			if err != nil {
				return "", false, err
			}
			n, ok := idx.name(id)
			return n, ok, nil
		},
	})
}

func (a *Accessor) AccountNameByID(ctx context.Context, id string) (Answer[string], error) {
	return resolve(ctx, a, query[string]{
		class:         ledger.Accounts,
		key:           id,
		cached:        func(s *Snapshot) (string, bool) { return s.AccountName(id) },
		authoritative: func(s *Snapshot) bool { return s.Fresh(ledger.Accounts) },
		direct: func(ctx context.Context) (string, bool, error) {
			accs, err := a.reader.FetchAccounts(ctx)
			if err != nil {
				return "", false, err
			}
			for _, acc := range accs {
				if acc.ID == id {
					return acc.Name, true, nil
				}
			}
			return "", false, nil
		},
	})
}

func (a *Accessor) PayeeIDByName(ctx context.Context, name string) (Answer[string], error) {
	return resolve(ctx, a, query[string]{
		class:         ledger.Payees,
		key:           name,
		cached:        func(s *Snapshot) (string, bool) { return s.PayeeID(name) },
		authoritative: func(s *Snapshot) bool { return s.Fresh(ledger.Payees) },
		direct: func(ctx context.Context) (string, bool, error) {
			idx, err := a.fetchPayeeIndex(ctx)
			if err != nil {
				return "", false, err
			}
			id, ok := idx.id(name)
			return id, ok, nil
		},
	})
}

func (a *Accessor) PayeeNameByID(ctx context.Context, id string) (Answer[string], error) {
	return resolve(ctx, a, query[string]{
		class:         ledger.Payees,
		key:           id,
		cached:        func(s *Snapshot) (string, bool) { return s.PayeeName(id) },
		authoritative: func(s *Snapshot) bool { return s.Fresh(ledger.Payees) },
		direct: func(ctx context.Context) (string, bool, error) {
			idx, err := a.fetchPayeeIndex(ctx)
			if err != nil {
				return "", false, err
			}
			n, ok := idx.name(id)
			return n, ok, nil
		},
	})
}

// TransactionsInRange answers from the snapshot when its window covers
// [start, end]. Otherwise one direct fetch covers the whole range; the
// cached window is never extended.
func (a *Accessor) TransactionsInRange(ctx context.Context, start, end core.Date) (Answer[[]core.Transaction], error) {
	r, err := core.NewDateRange(start, end)
	if err != nil {
		return Answer[[]core.Transaction]{}, err
	}
	return resolve(ctx, a, query[[]core.Transaction]{
		class: ledger.Transactions,
		key:   r.String(),
		cached: func(s *Snapshot) ([]core.Transaction, bool) {
			if !hasData(s, ledger.Transactions) || !s.Window.Covers(r) {
				return nil, false
			}
			return s.TransactionsIn(r), true
		},
		direct: func(ctx context.Context) ([]core.Transaction, bool, error) {
			txs, err := a.reader.FetchTransactions(ctx, r.Start, r.End)
			if err != nil {
				return nil, false, err
			}
			out := make([]core.Transaction, 0, len(txs))
			for _, t := range txs {
				if t.Validate() == nil && r.Contains(t.Date) {
					out = append(out, t)
				}
			}
			sortTransactions(out)
			return out, true, nil
		},
	})
}

// BudgetFor returns the budget of a category for a month. Months outside
// the cached budget span are fetched directly.
func (a *Accessor) BudgetFor(ctx context.Context, categoryID string, month core.Month) (Answer[core.BudgetEntry], error) {
	return resolve(ctx, a, query[core.BudgetEntry]{
		class:  ledger.Budgets,
		key:    categoryID + "@" + month.Key(),
		cached: func(s *Snapshot) (core.BudgetEntry, bool) { return s.Budget(categoryID, month) },
		authoritative: func(s *Snapshot) bool {
			return s.Fresh(ledger.Budgets) && s.BudgetCovers(month)
		},
		direct: func(ctx context.Context) (core.BudgetEntry, bool, error) {
			entries, err := a.reader.FetchBudget(ctx, month)
			if err != nil {
				return core.BudgetEntry{}, false, err
			}
			for _, e := range entries {
				if e.CategoryID == categoryID {
					return e, true, nil
				}
			}
			return core.BudgetEntry{}, false, nil
		},
	})
}

// Categories lists every category sorted by name.
func (a *Accessor) Categories(ctx context.Context) (Answer[[]core.Category], error) {
	return resolve(ctx, a, query[[]core.Category]{
		class: ledger.Categories,
		key:   "*",
		cached: func(s *Snapshot) ([]core.Category, bool) {
			if !hasData(s, ledger.Categories) {
				return nil, false
			}
			return s.Categories(), true
		},
		direct: func(ctx context.Context) ([]core.Category, bool, error) {
			cats, err := a.reader.FetchCategories(ctx)
			if err != nil {
				return nil, false, err
			}
			cats, _ = keepValid(cats)
			sortCategories(cats)
			return cats, true, nil
		},
	})
}

// UncategorizedTransactions returns the transactions in range without a
// category.
func (a *Accessor) UncategorizedTransactions(ctx context.Context, start, end core.Date) (Answer[[]core.Transaction], error) {
	ans, err := a.TransactionsInRange(ctx, start, end)
	if err != nil {
		return ans, err
	}
	out := make([]core.Transaction, 0)
	for _, t := range ans.Value {
		if t.CategoryID == "" {
			out = append(out, t)
		}
	}
	ans.Value = out
	return ans, nil
}

// SpendingByCategory totals expenses in range per category name, sorted by
// name. Category names come from the current snapshot, or from a direct
// category fetch when the snapshot holds none; ids neither knows are
// reported as Uncategorized.
func (a *Accessor) SpendingByCategory(ctx context.Context, start, end core.Date) (Answer[core.SpendingSummary], error) {
	txs, err := a.TransactionsInRange(ctx, start, end)
	if err != nil {
		return Answer[core.SpendingSummary]{}, err
	}
	snap := a.engine.store.Current()
	categoryName := snap.CategoryName
	if !hasData(snap, ledger.Categories) {
		idx, err := a.fetchCategoryIndex(ctx)
		if err != nil {
			return Answer[core.SpendingSummary]{}, ledger.NewFetchError(ledger.Categories, err)
		}
		categoryName = idx.name
		txs.Source = SourceUpstream
	}

	totals := map[string]int64{}
	var total int64
	for _, t := range txs.Value {
		if !t.IsExpense() {
			continue
		}
		name, ok := categoryName(t.CategoryID)
		if t.CategoryID == "" || !ok {
			name = UncategorizedName
		}
		totals[name] += -t.Amount.Cents
		total += -t.Amount.Cents
	}

	summary := core.SpendingSummary{
		Range: core.DateRange{Start: start, End: end},
		Total: core.Money{Cents: total},
	}
	for name, cents := range totals {
		summary.ByCategory = append(summary.ByCategory, core.CategoryAmount{Name: name, Amount: core.Money{Cents: cents}})
	}
	sort.Slice(summary.ByCategory, func(i, j int) bool {
		return summary.ByCategory[i].Name < summary.ByCategory[j].Name
	})
	return Answer[core.SpendingSummary]{
		Value:       summary,
		Source:      txs.Source,
		Stale:       txs.Stale,
		RefreshedAt: txs.RefreshedAt,
	}, nil
}

// ForceRefresh runs a refresh pass now, joining one in flight.
func (a *Accessor) ForceRefresh(ctx context.Context) RefreshResult {
	return a.engine.Refresh(ctx)
}

// TriggerRefresh starts a background pass unless one is running or a
// failed attempt is still inside the retry backoff.
func (a *Accessor) TriggerRefresh() bool {
	return a.engine.TriggerAsync()
}

// CacheHealth reports the cache state at now.
func (a *Accessor) CacheHealth(now time.Time) Health {
	return a.engine.Health(now)
}

// Snapshot exposes the current snapshot for read-only inspection.
func (a *Accessor) Snapshot() *Snapshot {
	return a.engine.store.Current()
}

func (a *Accessor) fetchCategoryIndex(ctx context.Context) (*namedIndex, error) {
	cats, err := a.reader.FetchCategories(ctx)
	if err != nil {
		return nil, err
	}
	cats, _ = keepValid(cats)
	ids, names := make([]string, len(cats)), make([]string, len(cats))
	for i, c := range cats {
		ids[i], names[i] = c.ID, c.Name
	}
	return newNamedIndex(ledger.Categories, ids, names), nil
}

func (a *Accessor) fetchPayeeIndex(ctx context.Context) (*namedIndex, error) {
	payees, err := a.reader.FetchPayees(ctx)
	if err != nil {
		return nil, err
	}
	payees, _ = keepValid(payees)
	ids, names := make([]string, len(payees)), make([]string, len(payees))
	for i, p := range payees {
		ids[i], names[i] = p.ID, p.Name
	}
	return newNamedIndex(ledger.Payees, ids, names), nil
}
