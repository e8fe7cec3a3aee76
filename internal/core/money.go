// Package core provides money parsing and handling utilities.
//
// Amounts are exact decimals with two fractional digits. Conversion to and
// from integer cents is provided for storage layers that persist integers.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount with cent precision.
type Money struct {
	decimal.Decimal
}

// NewMoney rounds d half away from zero to two decimal places.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d.Round(2)}
}

// MoneyFromCents builds an amount from integer cents.
func MoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -2)}
}

// ParseMoney converts a decimal string to a positive amount with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Signs are rejected, as are zero
// amounts.
//
// Examples:
//
//	ParseMoney("12.34")  -> 12.34
//	ParseMoney("12,34")  -> 12.34
//	ParseMoney("12.344") -> 12.34
//	ParseMoney("12.345") -> 12.35
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m := NewMoney(d)
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Validate requires a strictly positive amount of at most two decimal places.
func (m Money) Validate() error {
	if !m.IsPositive() {
		return ErrInvalidAmount
	}
	if !m.Equal(m.Round(2)) {
		return ErrInvalidAmount
	}
	return nil
}

// Cents returns the amount in integer cents.
func (m Money) Cents() int64 {
	return m.Shift(2).Round(0).IntPart()
}

func (m Money) Negated() Money {
	return Money{Decimal: m.Neg()}
}

func (m Money) Plus(o Money) Money {
	return Money{Decimal: m.Add(o.Decimal)}
}

func (m Money) String() string {
	return m.StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}
