package ledger

import (
	"errors"
	"fmt"
)

// EntityClass names one kind of upstream entity fetched during a refresh.
type EntityClass string

const (
	Categories   EntityClass = "categories"
	Accounts     EntityClass = "accounts"
	Payees       EntityClass = "payees"
	Transactions EntityClass = "transactions"
	Budgets      EntityClass = "budgets"
)

// AllClasses lists every entity class in fetch order.
func AllClasses() []EntityClass {
	return []EntityClass{Categories, Accounts, Payees, Transactions, Budgets}
}

func (c EntityClass) String() string {
	return string(c)
}

// IsValid returns true if the entity class is known
func (c EntityClass) IsValid() bool {
	switch c {
	case Categories, Accounts, Payees, Transactions, Budgets:
		return true
	default:
		return false
	}
}

// FetchError reports a failed upstream read for one entity class.
// Transport, auth and rate-limit failures are all reported the same way.
type FetchError struct {
	Class EntityClass
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Class, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a FetchError unless it already is one.
func NewFetchError(class EntityClass, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Class == class {
		return err
	}
	return &FetchError{Class: class, Err: err}
}

// FailedClass extracts the entity class from a FetchError, if any.
func FailedClass(err error) (EntityClass, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return "", false
}
