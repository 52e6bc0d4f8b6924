package money

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// MaxDigits is the largest minor-unit count a Currency may declare.
const MaxDigits = 8

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

var (
	// ErrCurrencyMismatch is returned when two amounts in different currencies are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrScaleMismatch is returned when two amounts share a code but not a minor-unit scale.
	ErrScaleMismatch = errors.New("scale mismatch")
	// ErrOverflow is returned when an amount does not fit in the minor-unit range.
	ErrOverflow = errors.New("amount out of range")
	// ErrDivisionByZero is returned by Divide with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
)

// CurrencyID identifies a currency row in the reference data.
type CurrencyID int64

// Currency is an ISO 4217 currency together with its minor-unit precision.
type Currency struct {
	id     CurrencyID
	code   string
	digits uint8
}

// NewCurrency creates a Currency after validating the code is exactly 3 uppercase letters
// and the precision is within [0, MaxDigits].
func NewCurrency(id CurrencyID, code string, digits uint8) (Currency, error) {
	if !currencyCodeRe.MatchString(code) {
		return Currency{}, fmt.Errorf("invalid currency code %q: must be exactly 3 uppercase letters", code)
	}
	if digits > MaxDigits {
		return Currency{}, fmt.Errorf("invalid minor unit digits %d for %s: must be at most %d", digits, code, MaxDigits)
	}
	return Currency{id: id, code: code, digits: digits}, nil
}

// MustCurrency creates a Currency and panics on error. Intended for package-level variable
// initialization only.
func MustCurrency(id CurrencyID, code string, digits uint8) Currency {
	c, err := NewCurrency(id, code, digits)
	if err != nil {
		panic(err)
	}
	return c
}

// ID returns the reference-data identifier.
func (c Currency) ID() CurrencyID {
	return c.id
}

// Code returns the ISO 4217 currency code.
func (c Currency) Code() string {
	return c.code
}

// Digits returns the number of minor-unit digits (digitAfterComma).
func (c Currency) Digits() uint8 {
	return c.digits
}

// MinorUnit returns the value of one minor unit as a decimal, e.g. 0.01 for two digits.
func (c Currency) MinorUnit() decimal.Decimal {
	return decimal.New(1, -int32(c.digits))
}

// IsZero returns true if the currency is uninitialized.
func (c Currency) IsZero() bool {
	return c.code == ""
}

// String returns the currency code.
func (c Currency) String() string {
	return c.code
}

// Common currencies, matching the default registry seed.
var (
	USD = MustCurrency(1, "USD", 2)
	EUR = MustCurrency(2, "EUR", 2)
	TND = MustCurrency(3, "TND", 3)
	JPY = MustCurrency(4, "JPY", 0)
)

// Money is an immutable amount held as an integer count of minor units.
// The scale travels with the currency, so two values can only be combined
// when they share the same Currency.
type Money struct {
	minor    int64
	currency Currency
}

// FromMinor creates a Money value from a count of minor units.
func FromMinor(minor int64, currency Currency) Money {
	return Money{minor: minor, currency: currency}
}

// FromDecimal rounds d half away from zero to the currency's minor unit.
func FromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	scaled := d.Round(int32(currency.digits)).Shift(int32(currency.digits))
	minor := scaled.IntPart()
	if !decimal.NewFromInt(minor).Equal(scaled) {
		return Money{}, fmt.Errorf("%w: %s %s", ErrOverflow, d.String(), currency.code)
	}
	return Money{minor: minor, currency: currency}, nil
}

// FromFloat rounds f to the nearest minor unit. Floats are accepted at the
// boundary only; the value is converted through its shortest decimal form.
func FromFloat(f float64, currency Currency) (Money, error) {
	return FromDecimal(decimal.NewFromFloat(f), currency)
}

// Parse parses an amount string into a Money value in the given currency.
func Parse(amount string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return FromDecimal(d, currency)
}

// Zero returns a Money value of zero in the given currency.
func Zero(currency Currency) Money {
	return Money{currency: currency}
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 {
	return m.minor
}

// Decimal returns the amount as a display decimal (toDecimal).
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.minor, -int32(m.currency.digits))
}

// Currency returns the currency.
func (m Money) Currency() Currency {
	return m.currency
}

// Scale returns the number of minor-unit digits of the amount.
func (m Money) Scale() uint8 {
	return m.currency.digits
}

// Tolerance returns one minor unit in the amount's currency.
func (m Money) Tolerance() Money {
	return Money{minor: 1, currency: m.currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool {
	return m.minor == 0
}

// IsPositive returns true if the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.minor > 0
}

// IsNegative returns true if the amount is strictly less than zero.
func (m Money) IsNegative() bool {
	return m.minor < 0
}

func (m Money) compatible(other Money) error {
	if m.currency == other.currency {
		return nil
	}
	if m.currency.code == other.currency.code && m.currency.digits != other.currency.digits {
		return fmt.Errorf("%w: %s has %d digits, other has %d", ErrScaleMismatch, m.currency.code, m.currency.digits, other.currency.digits)
	}
	return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.currency, other.currency)
}

// Add returns the sum of m and other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.compatible(other); err != nil {
		return Money{}, fmt.Errorf("cannot add: %w", err)
	}
	sum := m.minor + other.minor
	if (other.minor > 0 && sum < m.minor) || (other.minor < 0 && sum > m.minor) {
		return Money{}, fmt.Errorf("cannot add: %w", ErrOverflow)
	}
	return Money{minor: sum, currency: m.currency}, nil
}

// Subtract returns the difference of m minus other.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.compatible(other); err != nil {
		return Money{}, fmt.Errorf("cannot subtract: %w", err)
	}
	diff := m.minor - other.minor
	if (other.minor < 0 && diff < m.minor) || (other.minor > 0 && diff > m.minor) {
		return Money{}, fmt.Errorf("cannot subtract: %w", ErrOverflow)
	}
	return Money{minor: diff, currency: m.currency}, nil
}

// Multiply returns m multiplied by factor, rounded to the nearest minor unit.
func (m Money) Multiply(factor decimal.Decimal) (Money, error) {
	return FromDecimal(m.Decimal().Mul(factor), m.currency)
}

// Divide returns m divided by divisor, rounded to the nearest minor unit.
func (m Money) Divide(divisor decimal.Decimal) (Money, error) {
	if divisor.IsZero() {
		return Money{}, ErrDivisionByZero
	}
	return FromDecimal(m.Decimal().Div(divisor), m.currency)
}

// Convert returns m multiplied by rate and expressed in target, rounded to the
// target's minor unit. It is the only way to move an amount between scales.
func (m Money) Convert(rate decimal.Decimal, target Currency) (Money, error) {
	return FromDecimal(m.Decimal().Mul(rate), target)
}

// Rescale re-expresses m in target without changing its value beyond rounding.
func (m Money) Rescale(target Currency) (Money, error) {
	return FromDecimal(m.Decimal(), target)
}

// Negate returns m with the sign of the amount flipped.
func (m Money) Negate() Money {
	return Money{minor: -m.minor, currency: m.currency}
}

// Abs returns m with the absolute value of the amount.
func (m Money) Abs() Money {
	if m.minor < 0 {
		return m.Negate()
	}
	return m
}

// Cmp compares m and other exactly: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.compatible(other); err != nil {
		return 0, fmt.Errorf("cannot compare: %w", err)
	}
	switch {
	case m.minor < other.minor:
		return -1, nil
	case m.minor > other.minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// LessThan reports whether m is below other by more than tolerance.
func (m Money) LessThan(other, tolerance Money) (bool, error) {
	d, err := m.distance(other, tolerance)
	if err != nil {
		return false, err
	}
	return d < -tolerance.minor, nil
}

// GreaterThan reports whether m exceeds other by more than tolerance.
func (m Money) GreaterThan(other, tolerance Money) (bool, error) {
	d, err := m.distance(other, tolerance)
	if err != nil {
		return false, err
	}
	return d > tolerance.minor, nil
}

// EqualTo reports whether m and other differ by at most tolerance.
func (m Money) EqualTo(other, tolerance Money) (bool, error) {
	d, err := m.distance(other, tolerance)
	if err != nil {
		return false, err
	}
	return d >= -tolerance.minor && d <= tolerance.minor, nil
}

func (m Money) distance(other, tolerance Money) (int64, error) {
	if err := m.compatible(other); err != nil {
		return 0, fmt.Errorf("cannot compare: %w", err)
	}
	if err := m.compatible(tolerance); err != nil {
		return 0, fmt.Errorf("invalid tolerance: %w", err)
	}
	if tolerance.minor < 0 {
		return 0, fmt.Errorf("invalid tolerance: must not be negative")
	}
	return m.minor - other.minor, nil
}

// Equal returns true if both the amount and currency of m and other are equal.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.minor == other.minor
}

// String formats the Money value as "<amount> <currency>", for example "100.00 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(int32(m.currency.digits)), m.currency.Code())
}
