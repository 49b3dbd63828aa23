// README: Common money value object used across modules.
package types

import (
	"fmt"
	"math"
)

const DefaultCurrency = "BRL"

// MaxCents is the largest amount the engine stores. Amounts up to it are
// exact as float64 and their sums cannot overflow int64.
const MaxCents int64 = 1 << 53

// Money is an amount in the currency's smallest unit (cents).
type Money struct {
	Amount   int64  `json:"amount_cents"`
	Currency string `json:"currency"`
}

func Cents(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}

// FromDecimal rounds v half-up to two decimal places.
func FromDecimal(v float64) Money {
	return Cents(RoundHalfUpCents(v))
}

// RoundHalfUpCents converts a decimal amount to cents rounding half-up. The
// small epsilon absorbs binary representation error on values like 0.125.
// Results saturate at ±MaxCents and NaN maps to zero.
func RoundHalfUpCents(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return -RoundHalfUpCents(-v)
	}
	c := math.Floor(v*100 + 0.5 + 1e-9)
	if c >= float64(MaxCents) {
		return MaxCents
	}
	return int64(c)
}

func (m Money) Decimal() float64 {
	return float64(m.Amount) / 100
}

func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount + o.Amount, Currency: m.currencyOr(o)}
}

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount - o.Amount, Currency: m.currencyOr(o)}
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Decimal(), m.Currency)
}

func (m Money) currencyOr(o Money) string {
	if m.Currency != "" {
		return m.Currency
	}
	return o.Currency
}
