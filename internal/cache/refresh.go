package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
)

const (
	DefaultTransactionMonths = 24
	DefaultBudgetMonths      = 24
	defaultBudgetConcurrency = 4
	DefaultPassTimeout       = 5 * time.Minute

	refreshKey = "refresh"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Policy            Policy
	TransactionMonths int
	BudgetMonths      int
	BudgetConcurrency int
	// PassTimeout bounds one refresh pass regardless of who waits on it.
	PassTimeout time.Duration
	Now         func() time.Time
	Logger      *log.Logger
}

// Observer is notified after every refresh pass, published or not.
type Observer interface {
	RefreshCompleted(ctx context.Context, res RefreshResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res RefreshResult)

func (f ObserverFunc) RefreshCompleted(ctx context.Context, res RefreshResult) {
	f(ctx, res)
}

// RefreshResult describes the outcome of one refresh pass.
type RefreshResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Published  bool
	Complete   bool
	// Joined is set when the caller waited on a pass started by someone else.
	Joined  bool
	Version uint64
	Window  core.DateRange
	Failed  map[ledger.EntityClass]error
	Carried []ledger.EntityClass
	Counts  map[ledger.EntityClass]int
	// Dropped counts upstream records rejected by validation.
	Dropped map[ledger.EntityClass]int
	// Cause is set when the pass was abandoned before publishing for a
	// reason other than fetch failures, e.g. cancellation.
	Cause error
}

// Err joins every failure of the pass, in fetch order. It is nil for a
// complete, published pass.
func (r RefreshResult) Err() error {
	var errs []error
	for _, c := range ledger.AllClasses() {
		if err, ok := r.Failed[c]; ok {
			errs = append(errs, err)
		}
	}
	if r.Cause != nil {
		errs = append(errs, r.Cause)
	}
	return errors.Join(errs...)
}

// FailedClasses lists the classes that failed, in fetch order.
func (r RefreshResult) FailedClasses() []ledger.EntityClass {
	var out []ledger.EntityClass
	for _, c := range ledger.AllClasses() {
		if _, ok := r.Failed[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r RefreshResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Engine fetches the upstream ledger and publishes snapshots to a Store.
// At most one pass runs at a time; concurrent callers join it.
type Engine struct {
	reader       ledger.Reader
	store        *Store
	policy       Policy
	txMonths     int
	budgetMonths int
	budgetConc   int
	passTimeout  time.Duration
	now          func() time.Time
	logger       *log.Logger

	group    singleflight.Group
	inFlight atomic.Bool
	claimed  atomic.Bool // held by TryRefresh until its pass returns
	pending  atomic.Bool

	mu           sync.Mutex
	lastAttempt  time.Time
	lastResult   *RefreshResult
	lastComplete *Snapshot
	observers    []Observer
	closed       bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewEngine(reader ledger.Reader, store *Store, opts Options) *Engine {
	if store == nil {
		store = NewStore()
	}
	e := &Engine{
		reader:       reader,
		store:        store,
		policy:       opts.Policy.withDefaults(),
		txMonths:     opts.TransactionMonths,
		budgetMonths: opts.BudgetMonths,
		budgetConc:   opts.BudgetConcurrency,
		passTimeout:  opts.PassTimeout,
		now:          opts.Now,
		logger:       opts.Logger,
	}
	if e.txMonths <= 0 {
		e.txMonths = DefaultTransactionMonths
	}
	if e.budgetMonths <= 0 {
		e.budgetMonths = DefaultBudgetMonths
	}
	if e.budgetConc <= 0 {
		e.budgetConc = defaultBudgetConcurrency
	}
	if e.passTimeout <= 0 {
		e.passTimeout = DefaultPassTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = log.Nop()
	}
	e.logger = e.logger.WithComponent(log.ComponentCache)
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	return e
}

func (e *Engine) Store() *Store {
	return e.store
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// AddObserver registers o for every subsequent pass.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Refresh runs a refresh pass, or joins the one in flight. It never panics
// on upstream failure; failures are reported in the result.
//
// The pass runs detached from ctx: a caller whose ctx ends stops waiting,
// but the pass continues for the other callers. Only Close or the pass
// timeout cancel it.
func (e *Engine) Refresh(ctx context.Context) RefreshResult {
	if err := ctx.Err(); err != nil {
		now := e.now()
		return RefreshResult{StartedAt: now, FinishedAt: now, Cause: err}
	}

	var leader atomic.Bool
	ch := e.group.DoChan(refreshKey, func() (any, error) {
		leader.Store(true)
		passCtx, cancel := e.passContext(ctx)
		defer cancel()
		return e.run(passCtx), nil
	})
	select {
	case r := <-ch:
		res := r.Val.(RefreshResult)
		res.Joined = !leader.Load()
		return res
	case <-ctx.Done():
		now := e.now()
		return RefreshResult{StartedAt: now, FinishedAt: now, Joined: !leader.Load(), Cause: ctx.Err()}
	}
}

// passContext keeps the values of ctx but takes its cancellation from the
// engine lifetime and the pass timeout.
func (e *Engine) passContext(ctx context.Context) (context.Context, context.CancelFunc) {
	passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.passTimeout)
	stop := context.AfterFunc(e.bgCtx, cancel)
	return passCtx, func() {
		stop()
		cancel()
	}
}

// TryRefresh is the reject-mode variant of Refresh: it returns
// ErrRefreshInProgress instead of joining a running pass.
func (e *Engine) TryRefresh(ctx context.Context) (RefreshResult, error) {
	if e.inFlight.Load() || !e.claimed.CompareAndSwap(false, true) {
		return RefreshResult{}, ErrRefreshInProgress
	}
	defer e.claimed.Store(false)
	return e.Refresh(ctx), nil
}

// TriggerAsync starts a background pass unless one is already running, the
// engine is closed, or the last attempt is more recent than RetryBackoff.
// It reports whether a pass was started.
func (e *Engine) TriggerAsync() bool {
	if e.inFlight.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if !e.lastAttempt.IsZero() && e.now().Sub(e.lastAttempt) < e.policy.RetryBackoff {
		return false
	}
	if !e.pending.CompareAndSwap(false, true) {
		return false
	}
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		defer e.pending.Store(false)
		e.Refresh(e.bgCtx)
	}()
	return true
}

// Close cancels background passes and waits for them to return.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bgCancel()
	e.bgWG.Wait()
}

// Refreshing reports whether a pass is running.
func (e *Engine) Refreshing() bool {
	return e.inFlight.Load() || e.pending.Load()
}

// IsStale applies the engine's policy to snap.
func (e *Engine) IsStale(snap *Snapshot, now time.Time) bool {
	return e.policy.IsStale(snap, now, e.LastAttempt())
}

func (e *Engine) LastAttempt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAttempt
}

// LastResult returns the result of the most recent pass, if any.
func (e *Engine) LastResult() (RefreshResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return RefreshResult{}, false
	}
	return *e.lastResult, true
}

type fetched struct {
	categories   []core.Category
	accounts     []core.Account
	payees       []core.Payee
	transactions []core.Transaction
	budgets      []core.BudgetEntry
	errs         map[ledger.EntityClass]error
}

func (e *Engine) run(ctx context.Context) RefreshResult {
	e.inFlight.Store(true)
	defer e.inFlight.Store(false)

	started := e.now()
	e.mu.Lock()
	e.lastAttempt = started
	base := e.lastComplete
	e.mu.Unlock()

	res := RefreshResult{
		RunID:     uuid.NewString(),
		StartedAt: started,
		Window:    transactionWindow(started, e.txMonths),
		Failed:    map[ledger.EntityClass]error{},
		Counts:    map[ledger.EntityClass]int{},
		Dropped:   map[ledger.EntityClass]int{},
	}
	logger := e.logger.With(log.FieldRunID, res.RunID)
	logger.DebugContext(ctx, "Refresh started", log.FieldRange, res.Window.String())

	months := budgetMonths(started, e.budgetMonths)
	f := e.fetchAll(ctx, res.Window, months)
	for class, err := range f.errs {
		res.Failed[class] = ledger.NewFetchError(class, err)
	}

	if err := ctx.Err(); err != nil {
		res.Cause = err
		return e.finish(ctx, logger, res)
	}
	if len(res.Failed) == len(ledger.AllClasses()) {
		return e.finish(ctx, logger, res)
	}

	snap := newSnapshot()
	snap.RunID = res.RunID
	snap.RefreshedAt = started
	for _, class := range ledger.AllClasses() {
		if _, failed := res.Failed[class]; failed {
			info := ClassInfo{Missing: true}
			if base != nil {
				snap.carry(base, class)
				prev := base.Classes[class]
				info = ClassInfo{RunID: prev.RunID, FetchedAt: prev.FetchedAt, Carried: true}
				res.Carried = append(res.Carried, class)
			}
			snap.Classes[class] = info
			continue
		}
		switch class {
		case ledger.Categories:
			cats, dropped := keepValid(f.categories)
			res.Dropped[class] = dropped
			snap.setCategories(cats)
		case ledger.Accounts:
			accs, dropped := keepValid(f.accounts)
			res.Dropped[class] = dropped
			snap.setAccounts(accs)
		case ledger.Payees:
			payees, dropped := keepValid(f.payees)
			res.Dropped[class] = dropped
			snap.setPayees(payees)
		case ledger.Transactions:
			txs, dropped := keepValid(f.transactions)
			res.Dropped[class] = dropped
			snap.setTransactions(res.Window, txs)
		case ledger.Budgets:
			entries, dropped := keepValid(f.budgets)
			res.Dropped[class] = dropped
			snap.setBudgets(months, entries)
		}
		snap.Classes[class] = ClassInfo{RunID: res.RunID, FetchedAt: started}
	}
	snap.Complete = len(res.Failed) == 0
	snap.finalize()

	res.Counts = snap.Counts()
	for class, info := range snap.Classes {
		info.Count = res.Counts[class]
		snap.Classes[class] = info
	}

	published, err := e.store.Publish(snap)
	if err != nil {
		res.Cause = fmt.Errorf("publish: %w", err)
		return e.finish(ctx, logger, res)
	}
	res.Published = true
	res.Complete = published.Complete
	res.Version = published.Version
	if published.Complete {
		e.mu.Lock()
		e.lastComplete = published
		e.mu.Unlock()
	}
	for _, c := range published.Collisions {
		logger.WarnContext(ctx, "Name shared by several ids, last one wins",
			log.FieldClass, c.Class.String(),
			log.FieldKey, c.Name,
			"ids", c.IDs)
	}
	return e.finish(ctx, logger, res)
}

// finish records res, logs it and notifies observers.
func (e *Engine) finish(ctx context.Context, logger *log.Logger, res RefreshResult) RefreshResult {
	res.FinishedAt = e.now()

	e.mu.Lock()
	e.lastResult = &res
	observers := append([]Observer(nil), e.observers...)
	e.mu.Unlock()

	fields := log.NewFields().
		WithRefresh(res.RunID, res.Version, res.Complete, res.Duration()).
		WithOperation(log.OpRefresh)
	switch {
	case res.Published && res.Complete:
		logger.InfoContext(ctx, "Snapshot published", fields.ToSlice()...)
	case res.Published:
		fields[log.FieldFailed] = classNames(res.FailedClasses())
		fields[log.FieldCarried] = classNames(res.Carried)
		logger.WarnContext(ctx, "Partial snapshot published", fields.WithError(res.Err()).ToSlice()...)
	default:
		fields[log.FieldFailed] = classNames(res.FailedClasses())
		logger.ErrorContext(ctx, "Refresh failed, previous snapshot kept", fields.WithError(res.Err()).ToSlice()...)
	}

	notifyCtx := context.WithoutCancel(ctx)
	for _, o := range observers {
		o.RefreshCompleted(notifyCtx, res)
	}
	return res
}

// fetchAll reads every class concurrently. A failing class does not cancel
// the others.
func (e *Engine) fetchAll(ctx context.Context, window core.DateRange, months []core.Month) fetched {
	var (
		f    fetched
		errs [5]error
		g    errgroup.Group
	)
	g.Go(func() error {
		f.categories, errs[0] = e.reader.FetchCategories(ctx)
		return nil
	})
	g.Go(func() error {
		f.accounts, errs[1] = e.reader.FetchAccounts(ctx)
		return nil
	})
	g.Go(func() error {
		f.payees, errs[2] = e.reader.FetchPayees(ctx)
		return nil
	})
	g.Go(func() error {
		f.transactions, errs[3] = e.reader.FetchTransactions(ctx, window.Start, window.End)
		return nil
	})
	g.Go(func() error {
		f.budgets, errs[4] = e.fetchBudgets(ctx, months)
		return nil
	})
	_ = g.Wait()

	f.errs = map[ledger.EntityClass]error{}
	for i, class := range ledger.AllClasses() {
		if errs[i] != nil {
			f.errs[class] = errs[i]
		}
	}
	return f
}

// fetchBudgets reads every month; one failing month fails the class.
func (e *Engine) fetchBudgets(ctx context.Context, months []core.Month) ([]core.BudgetEntry, error) {
	results := make([][]core.BudgetEntry, len(months))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.budgetConc)
	for i, m := range months {
		g.Go(func() error {
			entries, err := e.reader.FetchBudget(gctx, m)
			if err != nil {
				return fmt.Errorf("month %s: %w", m.Key(), err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []core.BudgetEntry
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

type validatable interface {
	Validate() error
}

func keepValid[T validatable](items []T) ([]T, int) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.Validate() == nil {
			out = append(out, it)
		}
	}
	return out, len(items) - len(out)
}

// transactionWindow covers the current month and the months-1 before it.
func transactionWindow(now time.Time, months int) core.DateRange {
	cur := core.MonthOf(now)
	return core.DateRange{Start: cur.AddMonths(-(months - 1)).First(), End: cur.Last()}
}

// budgetMonths lists the current month and the n-1 before it, oldest first.
func budgetMonths(now time.Time, n int) []core.Month {
	cur := core.MonthOf(now)
	out := make([]core.Month, n)
	for i := 0; i < n; i++ {
		out[i] = cur.AddMonths(i - (n - 1))
	}
	return out
}

func classNames(classes []ledger.EntityClass) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = c.String()
	}
	return out
}
