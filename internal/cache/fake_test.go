package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

// fakeLedger is an in-memory upstream with per-class failure injection and
// call counting.
type fakeLedger struct {
	mu    sync.Mutex
	cats  []core.Category
	accs  []core.Account
	pays  []core.Payee
	txs   []core.Transaction
	buds  []core.BudgetEntry
	fail  map[ledger.EntityClass]error
	calls map[ledger.EntityClass]int

	// gate, when set, blocks FetchCategories until closed.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		cats: []core.Category{
			{ID: "c1", Name: "Food"},
			{ID: "c2", Name: "Rent"},
			{ID: "c3", Name: "Transport"},
		},
		accs: []core.Account{{ID: "a1", Name: "Checking"}},
		pays: []core.Payee{{ID: "p1", Name: "Market"}, {ID: "p2", Name: "Landlord"}},
		txs: []core.Transaction{
			{ID: "t1", Date: core.NewDate(2024, 5, 2), Amount: core.Money{Cents: -12000}, AccountID: "a1", CategoryID: "c1", PayeeID: "p1"},
			{ID: "t2", Date: core.NewDate(2024, 5, 3), Amount: core.Money{Cents: -100000}, AccountID: "a1", CategoryID: "c2", PayeeID: "p2"},
			{ID: "t3", Date: core.NewDate(2024, 5, 4), Amount: core.Money{Cents: -2500}, AccountID: "a1", CategoryID: "c3"},
			{ID: "t4", Date: core.NewDate(2024, 5, 5), Amount: core.Money{Cents: -700}, AccountID: "a1"},
			{ID: "t5", Date: core.NewDate(2024, 5, 6), Amount: core.Money{Cents: 250000}, AccountID: "a1", Notes: "salary"},
			{ID: "t6", Date: core.NewDate(2024, 4, 20), Amount: core.Money{Cents: -4000}, AccountID: "a1", CategoryID: "c1"},
		},
		buds: []core.BudgetEntry{
			{CategoryID: "c1", Month: core.NewMonth(2024, 5), Budgeted: core.Money{Cents: 50000}, Spent: core.Money{Cents: 12000}, HasSpent: true},
			{CategoryID: "c3", Month: core.NewMonth(2024, 5), Budgeted: core.Money{Cents: 10000}},
		},
		fail:  map[ledger.EntityClass]error{},
		calls: map[ledger.EntityClass]int{},
	}
}

func (f *fakeLedger) enter(class ledger.EntityClass) error {
	f.mu.Lock()
	f.calls[class]++
	err := f.fail[class]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if class == ledger.Categories && gate != nil {
		if entered != nil {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
		<-gate
	}
	return err
}

func (f *fakeLedger) setFail(class ledger.EntityClass, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, class)
		return
	}
	f.fail[class] = err
}

func (f *fakeLedger) count(class ledger.EntityClass) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[class]
}

func (f *fakeLedger) update(fn func(f *fakeLedger)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeLedger) FetchCategories(ctx context.Context) ([]core.Category, error) {
	if err := f.enter(ledger.Categories); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Category(nil), f.cats...), nil
}

func (f *fakeLedger) FetchAccounts(ctx context.Context) ([]core.Account, error) {
	if err := f.enter(ledger.Accounts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Account(nil), f.accs...), nil
}

func (f *fakeLedger) FetchPayees(ctx context.Context) ([]core.Payee, error) {
	if err := f.enter(ledger.Payees); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Payee(nil), f.pays...), nil
}

func (f *fakeLedger) FetchTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error) {
	if err := f.enter(ledger.Transactions); err != nil {
		return nil, err
	}
	r := core.DateRange{Start: start, End: end}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Transaction
	for _, t := range f.txs {
		if r.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeLedger) FetchBudget(ctx context.Context, month core.Month) ([]core.BudgetEntry, error) {
	if err := f.enter(ledger.Budgets); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.BudgetEntry
	for _, b := range f.buds {
		if b.Month == month {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	up     *fakeLedger
	clock  *fakeClock
	engine *Engine
	acc    *Accessor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := newFakeLedger()
	clock := newFakeClock()
	engine := NewEngine(up, NewStore(), Options{Now: clock.Now})
	t.Cleanup(engine.Close)
	return &fixture{up: up, clock: clock, engine: engine, acc: NewAccessor(engine)}
}

func (fx *fixture) refresh(t *testing.T) RefreshResult {
	t.Helper()
	return fx.engine.Refresh(context.Background())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
