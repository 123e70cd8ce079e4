/*
Package generic provides the domain-agnostic primitives of the bill engine.

PURPOSE:
  Calendar dates, money and error types shared by the billing core, the
  storage backends and the HTTP layer. Nothing here knows about bills.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A fixed-point currency amount (never float64)
  - Split: Cent-accurate division of a total across installments

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Rounding: Installments round DOWN to the cent, the first one absorbs the rest
  3. Exactness: Sum of a split always equals the total

USAGE:
  total := generic.MustMoney("100.00")
  parts := total.Split(3) // 33.34, 33.33, 33.33

SEE ALSO:
  - time.go: Date arithmetic and business days
  - errors.go: Error taxonomy
*/
package generic

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed point currency amount
// =============================================================================

// Money is a decimal currency amount. It carries no currency code; the owning
// record does.
type Money struct {
	decimal.Decimal
}

var ZeroMoney = Money{Decimal: decimal.Zero}

var hundred = decimal.NewFromInt(100)

func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

// NewMoneyFromCents builds an amount from an integer number of cents.
func NewMoneyFromCents(cents int64) Money {
	return Money{Decimal: decimal.New(cents, -2)}
}

// ParseMoney parses a decimal string such as "1250.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	return Money{Decimal: d}, nil
}

// MustMoney is ParseMoney for literals.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money     { return Money{Decimal: m.Decimal.Add(o.Decimal)} }
func (m Money) Sub(o Money) Money     { return Money{Decimal: m.Decimal.Sub(o.Decimal)} }
func (m Money) Equal(o Money) bool    { return m.Decimal.Equal(o.Decimal) }
func (m Money) IsPositive() bool      { return m.Decimal.IsPositive() }
func (m Money) MulInt(n int64) Money  { return Money{Decimal: m.Decimal.Mul(decimal.NewFromInt(n))} }
func (m Money) String() string        { return m.Decimal.StringFixed(2) }
func (m Money) Cents() int64          { return m.Decimal.Mul(hundred).Round(0).IntPart() }
func (m Money) Float64() float64      { f, _ := m.Decimal.Float64(); return f }

// FloorCents rounds down to a whole cent.
func (m Money) FloorCents() Money {
	return Money{Decimal: m.Decimal.Mul(hundred).Floor().Div(hundred)}
}

// Split divides m into n installments.
//
//	base      = floor(total * 100 / n) / 100
//	remainder = total - base * n
//	parts[0]  = base + remainder, parts[1:] = base
//
// The parts always sum to m exactly. n < 1 yields nil.
func (m Money) Split(n int) []Money {
	if n < 1 {
		return nil
	}
	count := decimal.NewFromInt(int64(n))
	base := Money{Decimal: m.Decimal.Mul(hundred).Div(count).Floor().Div(hundred)}
	remainder := m.Sub(base.MulInt(int64(n)))

	parts := make([]Money, n)
	for i := range parts {
		parts[i] = base
	}
	parts[0] = base.Add(remainder)
	return parts
}

// Sum adds up amounts.
func Sum(amounts ...Money) Money {
	total := ZeroMoney
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// ENCODING - JSON as a string ("33.34"), SQL as text
// =============================================================================

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: invalid amount %s", ErrValidation, string(b))
	}
	m.Decimal = d
	return nil
}

func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

func (m *Money) Scan(value any) error {
	return m.Decimal.Scan(value)
}
