package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount    = errors.New("invalid monetary amount")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// Money is an exact decimal amount in a single ISO 4217 currency. The zero
// value is "no money" and unusable; construct values with NewMoney or
// MustMoney. Amounts are persisted as decimal strings, never floats.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney parses a decimal-string amount and a three-letter ISO 4217
// currency code.
//
// Returns:
//   - Money: the parsed value.
//   - error: domain.ErrInvalidAmount if the amount does not parse or is
//     negative.
//   - error: domain.ErrInvalidCurrency if the code is not three ASCII
//     uppercase letters.
func NewMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	if d.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, amount)
	}

	if !validCurrency(currency) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	return Money{Amount: canonical(d), Currency: currency}, nil
}

// canonical strips trailing zeros so that equal amounts share one
// representation and store round-trips reproduce the value exactly.
func canonical(d decimal.Decimal) decimal.Decimal {
	c, err := decimal.NewFromString(d.String())
	if err != nil {
		return d
	}
	return c
}

// MustMoney is NewMoney that panics on error. Intended for constants and
// tests only.
func MustMoney(amount, currency string) Money {
	m, err := NewMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// MulInt returns m multiplied by a non-negative integer quantity.
func (m Money) MulInt(n int) Money {
	return Money{
		Amount:   canonical(m.Amount.Mul(decimal.NewFromInt(int64(n)))),
		Currency: m.Currency,
	}
}

// Add returns m+o.
//
// Returns:
//   - error: domain.ErrCurrencyMismatch when the operands carry different
//     currencies.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{Amount: canonical(m.Amount.Add(o.Amount)), Currency: m.Currency}, nil
}

// Equal reports numeric equality in the same currency; "150" equals "150.00".
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount.Equal(o.Amount)
}

func (m Money) IsZero() bool {
	return m.Currency == "" && m.Amount.IsZero()
}

// AmountString is the canonical wire representation of the amount.
func (m Money) AmountString() string {
	return m.Amount.String()
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
