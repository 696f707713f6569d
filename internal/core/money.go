// Package core provides money parsing and handling utilities.
//
// Amounts are stored as signed integer minor units (cents). Decimal strings
// coming from upstream sources are converted with shopspring/decimal so that
// no float arithmetic is involved.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a signed decimal string to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, an
// optional leading sign and rounds half away from zero on the third decimal.
//
// Examples:
//
//	ParseAmount("12.34")   -> 1234
//	ParseAmount("-12,34")  -> -1234
//	ParseAmount("12.345")  -> 1235
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: d.Round(2).Mul(hundred).IntPart()}, nil
}

// MoneyFromUnits converts a major-unit decimal (e.g. 50.00) to Money.
func MoneyFromUnits(d decimal.Decimal) Money {
	return Money{Cents: d.Round(2).Mul(hundred).IntPart()}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two decimals, e.g. "-12.34".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}
