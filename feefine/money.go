package feefine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Two-decimal currency amount
// =============================================================================

// moneyScale is the number of fractional digits kept by Money.
const moneyScale = 2

// Money is an exact currency amount rounded to two decimal places with
// round-half-even. The zero value is 0.00.
//
// Every constructor and every arithmetic result is rounded, so repeated
// partial settlements never accumulate sub-cent drift.
type Money struct {
	value decimal.Decimal
}

// Zero is 0.00.
var Zero = Money{}

func newMoney(d decimal.Decimal) Money {
	return Money{value: d.RoundBank(moneyScale)}
}

// NewMoney rounds a raw float to two decimals (half-even).
func NewMoney(v float64) Money { return newMoney(decimal.NewFromFloat(v)) }

// NewMoneyFromCents builds an exact amount from minor units.
func NewMoneyFromCents(cents int64) Money { return Money{value: decimal.New(cents, -moneyScale)} }

// ParseMoney parses a decimal string ("3", "3.1", "-5.0", "2.675").
// Non-numeric input returns ErrInvalidAmount.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return newMoney(d), nil
}

// MustParseMoney is ParseMoney for literals in tests and scenario data.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return newMoney(m.value.Add(o.value)) }

// Sub may return a negative amount; call sites decide whether that is an
// error (eligibility) or should be clamped (SubFloorZero).
func (m Money) Sub(o Money) Money { return newMoney(m.value.Sub(o.value)) }

// SubFloorZero subtracts and clamps the result at 0.00.
func (m Money) SubFloorZero(o Money) Money {
	r := m.Sub(o)
	if r.IsNegative() {
		return Zero
	}
	return r
}

// Half divides by two with half-even rounding.
func (m Money) Half() Money { return newMoney(m.value.Div(decimal.NewFromInt(2))) }

func (m Money) Cmp(o Money) int           { return m.value.Cmp(o.value) }
func (m Money) Equal(o Money) bool        { return m.value.Equal(o.value) }
func (m Money) LessThan(o Money) bool     { return m.value.LessThan(o.value) }
func (m Money) GreaterThan(o Money) bool  { return m.value.GreaterThan(o.value) }
func (m Money) LessOrEqual(o Money) bool  { return m.value.LessThanOrEqual(o.value) }
func (m Money) IsZero() bool              { return m.value.IsZero() }
func (m Money) IsNegative() bool          { return m.value.IsNegative() }
func (m Money) IsPositive() bool          { return m.value.IsPositive() }
func (m Money) Decimal() decimal.Decimal  { return m.value }
func (m Money) Cents() int64              { return m.value.Shift(moneyScale).IntPart() }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if o.LessThan(m) {
		return o
	}
	return m
}

// String renders a fixed two-decimal, locale-independent value with no
// currency symbol, e.g. "3.00".
func (m Money) String() string { return m.value.StringFixed(moneyScale) }

// MarshalJSON encodes as a two-decimal JSON string.
func (m Money) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// UnmarshalJSON accepts a JSON string or number.
func (m *Money) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
