package cache

import (
	"errors"
	"sort"
	"strings"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
)

// ClassInfo records where the data of one entity class in a snapshot came from.
type ClassInfo struct {
	RunID     string    `json:"run_id,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	// Carried is set when the class failed in this pass and its data was
	// retained from the last complete snapshot.
	Carried bool `json:"carried,omitempty"`
	// Missing is set when the class failed and there was nothing to retain.
	Missing bool `json:"missing,omitempty"`
	Count   int  `json:"count"`
}

// NameCollision reports several ids sharing one normalized name. The last id
// wins the name lookup; every id remains resolvable by id.
type NameCollision struct {
	Class ledger.EntityClass `json:"class"`
	Name  string             `json:"name"`
	IDs   []string           `json:"ids"`
}

type budgetKey struct {
	categoryID string
	month      core.Month
}

// namedIndex is a bidirectional id/name index. Names are matched
// case-insensitively.
type namedIndex struct {
	nameByID   map[string]string
	idByName   map[string]string
	order      []string // ids in source order
	collisions []NameCollision
}

// normalizeName is the lookup key for names.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func emptyNamedIndex() *namedIndex {
	return &namedIndex{nameByID: map[string]string{}, idByName: map[string]string{}}
}

func newNamedIndex(class ledger.EntityClass, ids, names []string) *namedIndex {
	idx := &namedIndex{
		nameByID: make(map[string]string, len(ids)),
		idByName: make(map[string]string, len(ids)),
	}
	seen := map[string][]string{}
	for i, id := range ids {
		if _, dup := idx.nameByID[id]; !dup {
			idx.order = append(idx.order, id)
		}
		idx.nameByID[id] = names[i]
		key := normalizeName(names[i])
		if key == "" {
			continue
		}
		idx.idByName[key] = id
		if !contains(seen[key], id) {
			seen[key] = append(seen[key], id)
		}
	}
	keys := make([]string, 0)
	for k, v := range seen {
		if len(v) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		idx.collisions = append(idx.collisions, NameCollision{Class: class, Name: k, IDs: seen[k]})
	}
	return idx
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (x *namedIndex) id(name string) (string, bool) {
	id, ok := x.idByName[normalizeName(name)]
	return id, ok
}

func (x *namedIndex) name(id string) (string, bool) {
	n, ok := x.nameByID[id]
	return n, ok
}

// Snapshot is an immutable, internally consistent view of the upstream
// ledger. Once published it is never modified; readers may hold on to it
// for as long as they like.
type Snapshot struct {
	Version     uint64
	RunID       string
	RefreshedAt time.Time
	Complete    bool
	// Window is the date range the transaction index covers.
	Window     core.DateRange
	Classes    map[ledger.EntityClass]ClassInfo
	Collisions []NameCollision

	categories *namedIndex
	accounts   *namedIndex
	payees     *namedIndex

	txByID   map[string]core.Transaction
	txByDate []core.Transaction // sorted by date, then id

	budgetFrom core.Month
	budgetTo   core.Month
	rawBudgets []core.BudgetEntry
	budgets    map[budgetKey]core.BudgetEntry
}

var errIncompleteSnapshot = errors.New("snapshot is missing an index")

func newSnapshot() *Snapshot {
	return &Snapshot{
		Classes:    map[ledger.EntityClass]ClassInfo{},
		categories: emptyNamedIndex(),
		accounts:   emptyNamedIndex(),
		payees:     emptyNamedIndex(),
		txByID:     map[string]core.Transaction{},
		budgets:    map[budgetKey]core.BudgetEntry{},
	}
}

func (s *Snapshot) setCategories(cats []core.Category) {
	ids, names := make([]string, len(cats)), make([]string, len(cats))
	for i, c := range cats {
		ids[i], names[i] = c.ID, c.Name
	}
	s.categories = newNamedIndex(ledger.Categories, ids, names)
}

func (s *Snapshot) setAccounts(accs []core.Account) {
	ids, names := make([]string, len(accs)), make([]string, len(accs))
	for i, a := range accs {
		ids[i], names[i] = a.ID, a.Name
	}
	s.accounts = newNamedIndex(ledger.Accounts, ids, names)
}

func (s *Snapshot) setPayees(payees []core.Payee) {
	ids, names := make([]string, len(payees)), make([]string, len(payees))
	for i, p := range payees {
		ids[i], names[i] = p.ID, p.Name
	}
	s.payees = newNamedIndex(ledger.Payees, ids, names)
}

func (s *Snapshot) setTransactions(window core.DateRange, txs []core.Transaction) {
	s.Window = window
	s.txByID = make(map[string]core.Transaction, len(txs))
	for _, t := range txs {
		s.txByID[t.ID] = t
	}
	s.txByDate = make([]core.Transaction, 0, len(s.txByID))
	for _, t := range s.txByID {
		s.txByDate = append(s.txByDate, t)
	}
	sortTransactions(s.txByDate)
}

func (s *Snapshot) setBudgets(months []core.Month, entries []core.BudgetEntry) {
	if len(months) > 0 {
		s.budgetFrom, s.budgetTo = months[0], months[len(months)-1]
	}
	s.rawBudgets = entries
}

// carry shares the data of class from prev. prev is immutable, so the
// indexes are shared rather than copied.
func (s *Snapshot) carry(prev *Snapshot, class ledger.EntityClass) {
	switch class {
	case ledger.Categories:
		s.categories = prev.categories
	case ledger.Accounts:
		s.accounts = prev.accounts
	case ledger.Payees:
		s.payees = prev.payees
	case ledger.Transactions:
		s.Window = prev.Window
		s.txByID = prev.txByID
		s.txByDate = prev.txByDate
	case ledger.Budgets:
		s.budgetFrom, s.budgetTo = prev.budgetFrom, prev.budgetTo
		s.rawBudgets = prev.rawBudgets
	}
}

// finalize builds the budget index and derives Spent where the source did
// not report it: the sum of expenses for the category in that month, when
// the transaction window covers the whole month.
func (s *Snapshot) finalize() {
	spent := map[budgetKey]int64{}
	for _, t := range s.txByDate {
		if !t.IsExpense() || t.CategoryID == "" {
			continue
		}
		spent[budgetKey{t.CategoryID, t.Date.Month()}] += -t.Amount.Cents
	}

	s.budgets = make(map[budgetKey]core.BudgetEntry, len(s.rawBudgets))
	for _, b := range s.rawBudgets {
		k := budgetKey{b.CategoryID, b.Month}
		if !b.HasSpent && s.Window.Covers(b.Month.Range()) {
			b.Spent = core.Money{Cents: spent[k]}
			b.HasSpent = true
		}
		s.budgets[k] = b
	}

	s.Collisions = nil
	for _, x := range []*namedIndex{s.categories, s.accounts, s.payees} {
		s.Collisions = append(s.Collisions, x.collisions...)
	}
}

func (s *Snapshot) validate() error {
	if s == nil || s.Classes == nil || s.categories == nil || s.accounts == nil || s.payees == nil ||
		s.txByID == nil || s.budgets == nil {
		return errIncompleteSnapshot
	}
	return nil
}

func sortTransactions(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date.Time) {
			return txs[i].Date.Before(txs[j].Date.Time)
		}
		return txs[i].ID < txs[j].ID
	})
}

// Populated reports whether any refresh pass has been published.
func (s *Snapshot) Populated() bool {
	return s.Version > 0
}

// Age is the time elapsed since the snapshot was refreshed.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if !s.Populated() {
		return 0
	}
	return now.Sub(s.RefreshedAt)
}

// Fresh reports whether class was fetched by the pass that produced s.
func (s *Snapshot) Fresh(class ledger.EntityClass) bool {
	info, ok := s.Classes[class]
	return ok && !info.Carried && !info.Missing
}

// CarriedClasses lists classes retained from an earlier pass, in fetch order.
func (s *Snapshot) CarriedClasses() []ledger.EntityClass {
	var out []ledger.EntityClass
	for _, c := range ledger.AllClasses() {
		if info, ok := s.Classes[c]; ok && (info.Carried || info.Missing) {
			out = append(out, c)
		}
	}
	return out
}

// CategoryID resolves a category name, case-insensitively.
func (s *Snapshot) CategoryID(name string) (string, bool) {
	return s.categories.id(name)
}

func (s *Snapshot) CategoryName(id string) (string, bool) {
	return s.categories.name(id)
}

func (s *Snapshot) AccountName(id string) (string, bool) {
	return s.accounts.name(id)
}

// PayeeID resolves a payee name, case-insensitively.
func (s *Snapshot) PayeeID(name string) (string, bool) {
	return s.payees.id(name)
}

func (s *Snapshot) PayeeName(id string) (string, bool) {
	return s.payees.name(id)
}

func (s *Snapshot) Transaction(id string) (core.Transaction, bool) {
	t, ok := s.txByID[id]
	return t, ok
}

// TransactionsIn returns the cached transactions dated inside r, ordered by
// date. The caller owns the returned slice.
func (s *Snapshot) TransactionsIn(r core.DateRange) []core.Transaction {
	lo := sort.Search(len(s.txByDate), func(i int) bool {
		return !s.txByDate[i].Date.Before(r.Start.Time)
	})
	hi := sort.Search(len(s.txByDate), func(i int) bool {
		return s.txByDate[i].Date.After(r.End.Time)
	})
	if hi <= lo {
		return []core.Transaction{}
	}
	return append([]core.Transaction(nil), s.txByDate[lo:hi]...)
}

// Budget returns the budget entry of a category for a month.
func (s *Snapshot) Budget(categoryID string, month core.Month) (core.BudgetEntry, bool) {
	b, ok := s.budgets[budgetKey{categoryID, month}]
	return b, ok
}

// BudgetCovers reports whether the budget index was filled for month.
func (s *Snapshot) BudgetCovers(month core.Month) bool {
	if s.budgetFrom.IsZero() {
		return false
	}
	return core.DateRange{Start: s.budgetFrom.First(), End: s.budgetTo.Last()}.Covers(month.Range())
}

// Categories returns every cached category, sorted by name.
func (s *Snapshot) Categories() []core.Category {
	out := make([]core.Category, 0, len(s.categories.order))
	for _, id := range s.categories.order {
		out = append(out, core.Category{ID: id, Name: s.categories.nameByID[id]})
	}
	sortCategories(out)
	return out
}

func sortCategories(cats []core.Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		return normalizeName(cats[i].Name) < normalizeName(cats[j].Name)
	})
}

// Counts returns the number of cached entities per class.
func (s *Snapshot) Counts() map[ledger.EntityClass]int {
	return map[ledger.EntityClass]int{
		ledger.Categories:   len(s.categories.nameByID),
		ledger.Accounts:     len(s.accounts.nameByID),
		ledger.Payees:       len(s.payees.nameByID),
		ledger.Transactions: len(s.txByID),
		ledger.Budgets:      len(s.budgets),
	}
}
