package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

type (
	// Date is a calendar day, always normalized to midnight UTC.
	Date struct {
		time.Time
	}

	// Month identifies a calendar month. Its canonical date is the first day.
	Month struct {
		Year  int
		Month time.Month
	}

	// DateRange is an inclusive range of calendar days.
	DateRange struct {
		Start Date
		End   Date
	}

	Money struct {
		Cents int64
	}

	Category struct {
		ID   string
		Name string
	}

	Account struct {
		ID   string
		Name string
	}

	Payee struct {
		ID   string
		Name string
	}

	// Transaction references accounts, categories and payees by id only.
	Transaction struct {
		ID         string
		Date       Date
		Amount     Money // signed: negative for expenses
		AccountID  string
		CategoryID string // optional
		PayeeID    string // optional
		Notes      string // optional
	}

	// BudgetEntry is the budget of one category for one month.
	BudgetEntry struct {
		CategoryID string
		Month      Month
		Budgeted   Money
		Spent      Money
		HasSpent   bool // false when the source did not report a spent amount
	}
)

var (
	ErrMissingID      = errors.New("missing source id")
	ErrMissingAccount = errors.New("missing account id")
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidMonth   = errors.New("invalid month")
	ErrInvalidRange   = errors.New("range end before start")
	ErrEmptyName      = errors.New("empty name")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Month returns the month containing d.
func (d Date) Month() Month {
	return Month{Year: d.Year(), Month: d.Time.Month()}
}

// NewMonth creates a Month from year and month index (1-12).
func NewMonth(year, month int) Month {
	return MonthOf(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth accepts "YYYY-MM" or any "YYYY-MM-DD" inside the month.
func ParseMonth(s string) (Month, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(monthLayout, s); err == nil {
		return MonthOf(t), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return MonthOf(t), nil
	}
	return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// First returns the first day of the month.
func (m Month) First() Date {
	return NewDate(m.Year, int(m.Month), 1)
}

// Last returns the last day of the month.
func (m Month) Last() Date {
	return m.AddMonths(1).First().AddDays(-1)
}

// AddMonths returns the month n months after m (n may be negative).
func (m Month) AddMonths(n int) Month {
	return MonthOf(m.First().AddDate(0, n, 0))
}

// Range returns the inclusive day range covered by m.
func (m Month) Range() DateRange {
	return DateRange{Start: m.First(), End: m.Last()}
}

// Key is the short YYYY-MM form used by upstream APIs.
func (m Month) Key() string {
	return m.First().Format(monthLayout)
}

func (m Month) String() string {
	return m.First().String()
}

// NewDateRange validates and builds an inclusive range.
func NewDateRange(start, end Date) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, ErrInvalidDate
	}
	if end.Before(start.Time) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: start, End: end}, nil
}

// Contains reports whether d falls inside r.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start.Time) && !d.After(r.End.Time)
}

// Covers reports whether other lies entirely inside r.
func (r DateRange) Covers(other DateRange) bool {
	return r.Contains(other.Start) && r.Contains(other.End)
}

// Overlaps reports whether r and other share at least one day.
func (r DateRange) Overlaps(other DateRange) bool {
	return !other.End.Before(r.Start.Time) && !other.Start.After(r.End.Time)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrMissingID
	}
	return nil
}

func (p Payee) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrMissingID
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrMissingID
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrMissingAccount
	}
	return nil
}

// IsExpense reports whether the transaction moves money out.
func (t Transaction) IsExpense() bool {
	return t.Amount.Cents < 0
}

func (b BudgetEntry) Validate() error {
	if strings.TrimSpace(b.CategoryID) == "" {
		return ErrMissingID
	}
	if b.Month.IsZero() || b.Month.Month < time.January || b.Month.Month > time.December {
		return ErrInvalidMonth
	}
	return nil
}

// MarshalJSON renders the date as "YYYY-MM-DD".
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// MarshalJSON renders the month as "YYYY-MM".
func (m Month) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Key() + `"`), nil
}
